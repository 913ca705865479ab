package model

import (
	"encoding/json"
	"time"
)

// ConnectionState of the realtime push channel.
type ConnectionState string

const (
	ConnConnecting ConnectionState = "Connecting"
	ConnOpen       ConnectionState = "Open"
	ConnClosed     ConnectionState = "Closed"
	ConnFailed     ConnectionState = "Failed"
)

// ChannelStatus is the connectivity indicator exposed to the UI.
type ChannelStatus struct {
	State      ConnectionState `json:"state"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// Envelope is a push message. Unrecognized types are dropped by consumers.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Recognized envelope types.
const (
	EnvelopeItemsUpdate       = "items_update"
	EnvelopeRecentConversions = "recent_conversions"
)

// ItemsUpdate is the payload of an items_update envelope: a full snapshot for one holder.
type ItemsUpdate struct {
	Holder string `json:"holder"`
	Items  []Item `json:"items"`
}

// RecentConversions is the payload of a recent_conversions broadcast.
type RecentConversions struct {
	Items []ConvertedItem `json:"items"`
}

// ConvertedItem is one entry of the recent conversions broadcast.
type ConvertedItem struct {
	ID        string    `json:"id"`
	LedgerRef string    `json:"ledger_ref"`
	At        time.Time `json:"at,omitempty"`
}
