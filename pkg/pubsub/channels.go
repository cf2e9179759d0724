package pubsub

import "fmt"

// Channel naming convention: one logical channel per chat room.
const (
	ChannelRoomEvents = "support:room:%s:events"
)

// Event types carried on room channels.
const (
	EventMessageAppended = "message_appended"
	EventRoomUpdated     = "room_updated"
)

// RoomEventsChannel returns the channel name for a room's event stream.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}
