package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"collectord/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("item X: %w", model.ErrUnknownItem), http.StatusNotFound, "UNKNOWN_ITEM"},
		{model.ErrActionPending, http.StatusConflict, "ACTION_PENDING"},
		{model.ErrNotCancellable, http.StatusConflict, "NOT_CANCELLABLE"},
		{model.ErrWrongChain, http.StatusPreconditionFailed, "WRONG_CHAIN"},
		{model.ErrVerificationUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{model.ErrIneligible, http.StatusUnprocessableEntity, "INELIGIBLE"},
		{BadRequest("bad kind"), http.StatusBadRequest, "BAD_REQUEST"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestToJSON(t *testing.T) {
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string       `json:"code"`
			Message string       `json:"message"`
			Details []FieldError `json:"details"`
		} `json:"error"`
	}
	err := ValidationError("invalid", FieldError{Field: "kind", Message: "unknown"})
	require.NoError(t, json.Unmarshal(err.ToJSON(), &body))

	assert.False(t, body.Success)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, []FieldError{{Field: "kind", Message: "unknown"}}, body.Error.Details)
}
