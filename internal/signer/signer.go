// Package signer dispatches transactions to the external signing agent.
//
// The agent is user controlled: it may approve, reject, or never answer.
// No cancellation primitive exists on the agent side; cancelling ctx only
// abandons the wait.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"collectord/internal/model"
)

// Signer requests a signature and submission for tx and returns the ledger
// transaction handle.
type Signer interface {
	Request(ctx context.Context, tx Request) (string, error)
}

// Request is what the agent is asked to sign and submit.
type Request struct {
	ChainID uint64   `json:"chain_id"`
	From    string   `json:"from"`
	Tx      model.Tx `json:"tx"`
	// Reference ties the request to a pending action for the agent's own logs.
	Reference string `json:"reference,omitempty"`
}

// AgentError is a structured refusal or failure reported by the agent.
type AgentError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("signing agent error %d: %s", e.Code, e.Message)
}

// codeUserRejected is the conventional wallet code for a user refusal.
const codeUserRejected = 4001

// Revert reason selectors of common token errors.
const (
	selectorInsufficientAllowance = "0xfb8f41b2" // ERC20InsufficientAllowance(address,uint256,uint256)
	selectorInsufficientBalance   = "0xe450d38c" // ERC20InsufficientBalance(address,uint256,uint256)
)

// Decode classifies a signer error into a revert category.
func Decode(err error) model.RevertCategory {
	if err == nil {
		return ""
	}
	var ae *AgentError
	if !errors.As(err, &ae) {
		return model.RevertUnrecognized
	}
	if ae.Code == codeUserRejected {
		return model.RevertUserRejected
	}

	data := strings.ToLower(ae.Data)
	msg := strings.ToLower(ae.Message)
	switch {
	case strings.HasPrefix(data, selectorInsufficientAllowance),
		strings.Contains(msg, "insufficient allowance"),
		strings.Contains(msg, "exceeds allowance"):
		return model.RevertInsufficientAuthorization
	case strings.HasPrefix(data, selectorInsufficientBalance),
		strings.Contains(msg, "insufficient balance"),
		strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "exceeds balance"):
		return model.RevertInsufficientBalance
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"):
		return model.RevertUserRejected
	case strings.Contains(msg, "revert"):
		return model.RevertGeneric
	}
	return model.RevertUnrecognized
}

// HTTPAgent is a signing agent reachable over HTTP.
type HTTPAgent struct {
	URL        string
	HTTPClient *http.Client
}

// NewHTTPAgent creates an agent client. The HTTP client carries no timeout:
// the coordinator owns the signature deadline.
func NewHTTPAgent(url string) *HTTPAgent {
	return &HTTPAgent{URL: strings.TrimRight(url, "/"), HTTPClient: &http.Client{}}
}

type signResponse struct {
	Handle string      `json:"handle"`
	Error  *AgentError `json:"error,omitempty"`
}

// Request posts tx to the agent and waits for the handle.
func (a *HTTPAgent) Request(ctx context.Context, in Request) (string, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode agent response (http %d): %w", resp.StatusCode, err)
	}
	if out.Error != nil {
		return "", out.Error
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("signing agent http %d", resp.StatusCode)
	}
	if out.Handle == "" {
		return "", errors.New("signing agent returned no handle")
	}
	return out.Handle, nil
}
