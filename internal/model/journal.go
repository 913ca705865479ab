package model

import "time"

// ActionEvent is one journaled transition of a pending action.
type ActionEvent struct {
	ID        int64      `json:"id"`
	ActionID  string     `json:"action_id"`
	ItemID    string     `json:"item_id"`
	Kind      ActionKind `json:"kind"`
	Phase     Phase      `json:"phase"`
	Event     string     `json:"event"`
	Reason    string     `json:"reason,omitempty"`
	Handle    string     `json:"handle,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Journal event names.
const (
	EventStarted     = "started"
	EventRefused     = "refused"
	EventDispatched  = "dispatched"
	EventSubmitted   = "submitted"
	EventConfirmed   = "confirmed"
	EventRolledBack  = "rolled_back"
	EventCancelled   = "cancelled"
	EventSucceeded   = "succeeded"
	EventGaveUp      = "gave_up"
	EventLateHandle  = "late_handle"
	EventRollbackErr = "rollback_failed"
)
