package model

import "time"

// Status is the authoritative lifecycle status of an item, as reported by the backend.
type Status string

const (
	StatusCollecting  Status = "Collecting"
	StatusEligible    Status = "Eligible"
	StatusConvertible Status = "Convertible"
	StatusConverted   Status = "Converted"
	StatusReclaimable Status = "Reclaimable"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCollecting, StatusEligible, StatusConvertible, StatusConverted, StatusReclaimable:
		return true
	}
	return false
}

// Item represents one collectible entity tracked by the backend.
type Item struct {
	ID             string    `json:"id"`
	CollectedUnits int64     `json:"collected_units"`
	TotalUnits     int64     `json:"total_units"`
	Status         Status    `json:"status"`
	LedgerRef      string    `json:"ledger_ref,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`

	// Owned is false once a full snapshot stops listing the item.
	// The item is kept as last-known state, never deleted locally.
	Owned bool `json:"owned"`
}

// Complete returns true when every unit has been collected.
func (i Item) Complete() bool {
	return i.TotalUnits > 0 && i.CollectedUnits >= i.TotalUnits
}

// Snapshot is an authoritative view of items received from a poll or a push.
// A partial snapshot only speaks for the items it lists.
type Snapshot struct {
	Holder  string    `json:"holder"`
	Items   []Item    `json:"items"`
	Partial bool      `json:"partial"`
	Source  string    `json:"source"`
	TakenAt time.Time `json:"taken_at"`
}

// Snapshot sources.
const (
	SourcePoll  = "poll"
	SourcePush  = "push"
	SourceCache = "cache"
)
