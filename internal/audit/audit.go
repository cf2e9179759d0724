package audit

import (
	"context"

	"github.com/Cyril666325/Bitfoniz-sub002/pkg/log"
)

// Audit actions for the support chat core.
const (
	ActionCreateRoom = "support.create_room"
	ActionClaim      = "support.claim"
	ActionResolve    = "support.resolve"
	ActionRelease    = "support.release"
	ActionReassign   = "support.reassign"
	ActionReopen     = "support.reopen"
	ActionAppend     = "support.append_message"
	ActionMarkRead   = "support.mark_read"
	ActionSubscribe  = "support.subscribe"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, userID, roomID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}

// LogWithDetail emits an audit entry with an extra detail field.
func LogWithDetail(ctx context.Context, action, userID, roomID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldRoomID, roomID).
		Str(FieldDetail, detail).
		Msg(msg)
}
