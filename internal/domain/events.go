package domain

// EventType identifies a realtime event on a room's channel.
type EventType string

const (
	EventTypeMessageAppended EventType = "message_appended"
	EventTypeRoomUpdated     EventType = "room_updated"
)

// Event is one realtime update delivered to room subscribers. Exactly
// one of Message/Room is set, matching Type. Delivery is at-least-once;
// consumers de-duplicate by Message.Seq and Room.Version.
type Event struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"room_id"`
	Message *Message  `json:"message,omitempty"`
	Room    *Room     `json:"room,omitempty"`
}

// NewMessageAppended builds the event for a committed append.
func NewMessageAppended(msg *Message) Event {
	return Event{
		Type:    EventTypeMessageAppended,
		RoomID:  msg.RoomID,
		Message: msg,
	}
}

// NewRoomUpdated builds the event for a committed room mutation.
func NewRoomUpdated(room *Room) Event {
	return Event{
		Type:   EventTypeRoomUpdated,
		RoomID: room.ID,
		Room:   room,
	}
}
