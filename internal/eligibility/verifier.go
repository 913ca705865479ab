// Package eligibility validates action preconditions with the backend, which
// is the only party allowed to produce the parameters a ledger call carries.
package eligibility

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"collectord/internal/backend"
	"collectord/internal/logging"
	"collectord/internal/model"

	"github.com/rs/zerolog"
)

// Backend is the eligibility endpoint.
type Backend interface {
	VerifyEligibility(ctx context.Context, in backend.EligibilityRequest) (*backend.EligibilityResponse, error)
}

// LedgerReader is the subset of ledger reads used for local sanity checks.
type LedgerReader interface {
	Allowance(ctx context.Context, token, holder, spender string) (*big.Int, error)
	BalanceOf(ctx context.Context, token, holder string) (*big.Int, error)
}

// Result is the verdict for one item and action.
type Result struct {
	Eligible bool
	Message  string
	Params   model.ConversionParams
}

// Verifier checks eligibility before a signature is requested.
type Verifier struct {
	backend Backend
	ledger  LedgerReader
	log     zerolog.Logger
}

// New creates a verifier. ledger may be nil to skip local sanity checks.
func New(b Backend, ledger LedgerReader, log zerolog.Logger) *Verifier {
	return &Verifier{
		backend: b,
		ledger:  ledger,
		log:     logging.WithComponent(log, "eligibility"),
	}
}

// Verify asks the backend whether holder may perform kind on itemID.
//
// Transport failures return an error wrapping model.ErrVerificationUnavailable.
// A backend "no" is a Result with Eligible=false and a nil error.
func (v *Verifier) Verify(ctx context.Context, itemID, holder string, kind model.ActionKind) (Result, error) {
	resp, err := v.backend.VerifyEligibility(ctx, backend.EligibilityRequest{
		ItemID: itemID,
		Holder: holder,
		Action: kind,
	})
	if err != nil {
		var he *backend.HTTPError
		if errors.As(err, &he) && deniesEligibility(he.StatusCode) {
			return Result{Eligible: false, Message: backendMessage(he)}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", model.ErrVerificationUnavailable, err)
	}
	if !resp.Eligible {
		msg := resp.Message
		if msg == "" {
			msg = "item is not eligible for this action"
		}
		return Result{Eligible: false, Message: msg}, nil
	}
	if resp.ConversionParams == nil || resp.ConversionParams.Tx.To == "" {
		return Result{}, fmt.Errorf("%w: backend returned no conversion parameters", model.ErrVerificationUnavailable)
	}

	res := Result{Eligible: true, Message: resp.Message, Params: *resp.ConversionParams}
	if err := v.sanityCheck(ctx, holder, kind, &res); err != nil {
		return Result{}, err
	}
	return res, nil
}

// sanityCheck compares backend parameters against ledger state. Unreadable
// values are never treated as sufficient.
func (v *Verifier) sanityCheck(ctx context.Context, holder string, kind model.ActionKind, res *Result) error {
	p := res.Params
	if v.ledger == nil || p.Token == "" || kind == model.ActionReclaim {
		return nil
	}
	amount, ok := p.AmountInt()
	if !ok {
		return nil
	}

	balance, err := v.ledger.BalanceOf(ctx, p.Token, holder)
	if err != nil {
		return fmt.Errorf("%w: balance unknown: %v", model.ErrVerificationUnavailable, err)
	}
	if balance.Cmp(amount) < 0 {
		v.log.Info().Str("holder", holder).Str("balance", balance.String()).Str("amount", amount.String()).Msg("insufficient balance")
		res.Eligible = false
		res.Message = "insufficient balance"
		return nil
	}

	if kind != model.ActionConvert || p.Spender == "" {
		return nil
	}
	allowance, err := v.ledger.Allowance(ctx, p.Token, holder, p.Spender)
	if err != nil {
		return fmt.Errorf("%w: allowance unknown: %v", model.ErrVerificationUnavailable, err)
	}
	if allowance.Cmp(amount) < 0 {
		res.Eligible = false
		res.Message = "authorization required before converting"
	}
	return nil
}

// deniesEligibility reports whether a backend status is an answer about the
// item rather than a failure to reach a verdict.
func deniesEligibility(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

func backendMessage(he *backend.HTTPError) string {
	if msg, ok := he.Body["message"].(string); ok && msg != "" {
		return msg
	}
	if e, ok := he.Body["error"].(map[string]any); ok {
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("backend refused the request (http %d)", he.StatusCode)
}
