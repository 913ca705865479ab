package model

import (
	"math/big"
	"time"
)

// ActionKind is the kind of transition a user can request on an item.
type ActionKind string

const (
	ActionAuthorize ActionKind = "Authorize"
	ActionConvert   ActionKind = "Convert"
	ActionReclaim   ActionKind = "Reclaim"
)

// ParseActionKind accepts the canonical name or its lowercase form.
func ParseActionKind(s string) (ActionKind, bool) {
	switch s {
	case "Authorize", "authorize":
		return ActionAuthorize, true
	case "Convert", "convert":
		return ActionConvert, true
	case "Reclaim", "reclaim":
		return ActionReclaim, true
	}
	return "", false
}

// AllowedFrom reports whether the action may start from the given authoritative status.
func (k ActionKind) AllowedFrom(s Status) bool {
	switch k {
	case ActionAuthorize:
		return s == StatusEligible
	case ActionConvert:
		return s == StatusEligible || s == StatusConvertible
	case ActionReclaim:
		return s == StatusReclaimable
	}
	return false
}

// ExpectedStatus is the authoritative status the backend converges on after
// the action is confirmed by the ledger.
func (k ActionKind) ExpectedStatus() Status {
	switch k {
	case ActionConvert:
		return StatusConverted
	case ActionReclaim:
		return StatusCollecting
	default:
		return StatusEligible
	}
}

// Phase is the per-item sub-state layered on top of Item.Status.
type Phase string

const (
	PhaseIdle              Phase = "Idle"
	PhaseVerifying         Phase = "Verifying"
	PhaseAwaitingSignature Phase = "AwaitingSignature"
	PhaseSubmitted         Phase = "Submitted"
	PhaseConfirming        Phase = "Confirming"
	PhaseReconciling       Phase = "Reconciling"
)

// Cancellable reports whether the user may still abort the action.
// Once a ledger handle exists the action is irrevocable.
func (p Phase) Cancellable() bool {
	return p == PhaseVerifying || p == PhaseAwaitingSignature
}

// Tx is a ledger transaction exactly as the backend prescribed it.
type Tx struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value,omitempty"`
}

// ConversionParams are the parameters a ledger call must carry.
// Only the backend produces them; the client never computes or adjusts them.
type ConversionParams struct {
	Tx      Tx     `json:"tx"`
	Token   string `json:"token,omitempty"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// AmountInt parses Amount as a base-10 integer. ok is false when absent or malformed.
func (p ConversionParams) AmountInt() (*big.Int, bool) {
	if p.Amount == "" {
		return nil, false
	}
	return new(big.Int).SetString(p.Amount, 10)
}

// PendingAction is the single in-flight action of an item.
// Deadline bounds the wait for a signature; AttemptsLeft bounds reconciliation.
type PendingAction struct {
	ID           string           `json:"id"`
	ItemID       string           `json:"item_id"`
	Kind         ActionKind       `json:"kind"`
	Phase        Phase            `json:"phase"`
	SubmittedAt  time.Time        `json:"submitted_at"`
	Deadline     time.Time        `json:"deadline,omitempty"`
	Handle       string           `json:"handle,omitempty"`
	AttemptsLeft int              `json:"attempts_left"`
	Params       ConversionParams `json:"params"`
}

// Result classifies how an action ended.
type Result string

const (
	ResultSucceeded   Result = "succeeded"
	ResultIneligible  Result = "ineligible"
	ResultUnavailable Result = "unavailable"
	ResultRolledBack  Result = "rolled_back"
	ResultCancelled   Result = "cancelled"
	ResultUnknown     Result = "unknown"
)

// Outcome is the final, human-readable result of an action that reaches the UI.
type Outcome struct {
	ActionID string     `json:"action_id,omitempty"`
	ItemID   string     `json:"item_id"`
	Kind     ActionKind `json:"kind"`
	Result   Result     `json:"result"`
	Reason   string     `json:"reason,omitempty"`
	Message  string     `json:"message"`
	Handle   string     `json:"handle,omitempty"`
	At       time.Time  `json:"at"`
}
