package eligibility

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"collectord/internal/backend"
	"collectord/internal/ledger"
	"collectord/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	resp *backend.EligibilityResponse
	err  error
	got  backend.EligibilityRequest
}

func (s *stubBackend) VerifyEligibility(_ context.Context, in backend.EligibilityRequest) (*backend.EligibilityResponse, error) {
	s.got = in
	return s.resp, s.err
}

type stubLedger struct {
	balance, allowance       *big.Int
	balanceErr, allowanceErr error
}

func (s *stubLedger) Allowance(context.Context, string, string, string) (*big.Int, error) {
	return s.allowance, s.allowanceErr
}

func (s *stubLedger) BalanceOf(context.Context, string, string) (*big.Int, error) {
	return s.balance, s.balanceErr
}

func eligibleResponse() *backend.EligibilityResponse {
	return &backend.EligibilityResponse{
		Eligible: true,
		ConversionParams: &model.ConversionParams{
			Tx:      model.Tx{To: "0xconv", Data: "0x01"},
			Token:   "0xtoken",
			Spender: "0xconv",
			Amount:  "100",
		},
	}
}

func TestVerifier_Eligible(t *testing.T) {
	b := &stubBackend{resp: eligibleResponse()}
	l := &stubLedger{balance: big.NewInt(500), allowance: big.NewInt(100)}
	v := New(b, l, zerolog.Nop())

	res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionConvert)
	require.NoError(t, err)
	assert.True(t, res.Eligible)
	assert.Equal(t, "0x01", res.Params.Tx.Data, "params come verbatim from the backend")
	assert.Equal(t, model.ActionConvert, b.got.Action)
}

func TestVerifier_BackendSaysNo(t *testing.T) {
	b := &stubBackend{resp: &backend.EligibilityResponse{Eligible: false, Message: "still collecting"}}
	v := New(b, nil, zerolog.Nop())

	res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.Equal(t, "still collecting", res.Message)
}

func TestVerifier_TransportFailureIsNotIneligible(t *testing.T) {
	b := &stubBackend{err: errors.Join(backend.ErrUnavailable, errors.New("dial tcp: refused"))}
	v := New(b, nil, zerolog.Nop())

	_, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrVerificationUnavailable)
}

func TestVerifier_ClientErrorIsIneligible(t *testing.T) {
	for _, code := range []int{400, 409, 422} {
		b := &stubBackend{err: &backend.HTTPError{StatusCode: code, Body: map[string]any{"message": "already converted"}}}
		v := New(b, nil, zerolog.Nop())

		res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
		require.NoError(t, err, "status %d", code)
		assert.False(t, res.Eligible, "status %d", code)
		assert.Equal(t, "already converted", res.Message)
	}
}

func TestVerifier_OtherStatusesAreUnavailable(t *testing.T) {
	for _, code := range []int{401, 403, 404, 408, 429, 500, 502} {
		b := &stubBackend{err: &backend.HTTPError{StatusCode: code, Body: map[string]any{"message": "nope"}}}
		v := New(b, nil, zerolog.Nop())

		_, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
		assert.ErrorIs(t, err, model.ErrVerificationUnavailable, "status %d", code)
	}
}

func TestVerifier_MissingParamsIsUnavailable(t *testing.T) {
	b := &stubBackend{resp: &backend.EligibilityResponse{Eligible: true}}
	v := New(b, nil, zerolog.Nop())

	_, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionConvert)
	assert.ErrorIs(t, err, model.ErrVerificationUnavailable)
}

func TestVerifier_UnreadableAllowanceIsNeverSufficient(t *testing.T) {
	b := &stubBackend{resp: eligibleResponse()}
	l := &stubLedger{balance: big.NewInt(500), allowanceErr: ledger.ErrUnknown}
	v := New(b, l, zerolog.Nop())

	_, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionConvert)
	assert.ErrorIs(t, err, model.ErrVerificationUnavailable)
}

func TestVerifier_InsufficientAllowance(t *testing.T) {
	b := &stubBackend{resp: eligibleResponse()}
	l := &stubLedger{balance: big.NewInt(500), allowance: big.NewInt(99)}
	v := New(b, l, zerolog.Nop())

	res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionConvert)
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.Contains(t, res.Message, "authorization required")
}

func TestVerifier_InsufficientBalance(t *testing.T) {
	b := &stubBackend{resp: eligibleResponse()}
	l := &stubLedger{balance: big.NewInt(10)}
	v := New(b, l, zerolog.Nop())

	res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
	require.NoError(t, err)
	assert.False(t, res.Eligible)
	assert.Equal(t, "insufficient balance", res.Message)
}

func TestVerifier_AuthorizeSkipsAllowanceCheck(t *testing.T) {
	b := &stubBackend{resp: eligibleResponse()}
	l := &stubLedger{balance: big.NewInt(500), allowanceErr: ledger.ErrUnknown}
	v := New(b, l, zerolog.Nop())

	res, err := v.Verify(context.Background(), "item-1", "0xh", model.ActionAuthorize)
	require.NoError(t, err)
	assert.True(t, res.Eligible)
}
