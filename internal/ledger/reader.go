// Package ledger provides read-only access to ledger state and transaction
// confirmation over a JSON-RPC node.
//
// A read that fails is reported as ErrUnknown. Callers must treat unknown as
// unknown: never as zero and never as a cached value.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"collectord/internal/logging"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// ErrUnknown is returned when a ledger value could not be read.
var ErrUnknown = errors.New("ledger value unknown")

// ABI selectors of the read calls.
const (
	selectorAllowance = "0xdd62ed3e" // allowance(address,address)
	selectorBalanceOf = "0x70a08231" // balanceOf(address)
	selectorDecimals  = "0x313ce567" // decimals()
)

// Config holds reader settings.
type Config struct {
	URL         string
	Retries     int
	ReadTimeout time.Duration
	HTTPClient  *http.Client
}

// Reader is a side-effect-free accessor over ledger state.
type Reader struct {
	rpc     *rpcClient
	retries uint
	timeout time.Duration
	log     zerolog.Logger
}

// NewReader creates a ledger reader.
func NewReader(cfg Config, log zerolog.Logger) *Reader {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Reader{
		rpc:     &rpcClient{url: cfg.URL, http: hc},
		retries: uint(cfg.Retries),
		timeout: cfg.ReadTimeout,
		log:     logging.WithComponent(log, "ledger"),
	}
}

// Allowance returns the delegated-authority amount holder granted to spender on token.
func (r *Reader) Allowance(ctx context.Context, token, holder, spender string) (*big.Int, error) {
	data, err := callData(selectorAllowance, holder, spender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	return r.readUint(ctx, "allowance", token, data)
}

// BalanceOf returns holder's balance of token.
func (r *Reader) BalanceOf(ctx context.Context, token, holder string) (*big.Int, error) {
	data, err := callData(selectorBalanceOf, holder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknown, err)
	}
	return r.readUint(ctx, "balanceOf", token, data)
}

// Decimals returns the precision metadata of token.
func (r *Reader) Decimals(ctx context.Context, token string) (uint8, error) {
	v, err := r.readUint(ctx, "decimals", token, selectorDecimals)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("%w: decimals out of range: %s", ErrUnknown, v)
	}
	return uint8(v.Uint64()), nil
}

// ChainID returns the chain id reported by the node.
func (r *Reader) ChainID(ctx context.Context) (uint64, error) {
	v, err := r.retry(ctx, "eth_chainId", func(ctx context.Context) (*big.Int, error) {
		var out string
		if err := r.rpc.call(ctx, "eth_chainId", nil, &out); err != nil {
			return nil, err
		}
		return decodeQuantity(out)
	})
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: chain id out of range", ErrUnknown)
	}
	return v.Uint64(), nil
}

func (r *Reader) readUint(ctx context.Context, name, to, data string) (*big.Int, error) {
	return r.retry(ctx, name, func(ctx context.Context) (*big.Int, error) {
		var out string
		call := map[string]string{"to": to, "data": data}
		if err := r.rpc.call(ctx, "eth_call", []any{call, "latest"}, &out); err != nil {
			return nil, err
		}
		return decodeQuantity(out)
	})
}

// retry runs a read with bounded retries. Every failure surfaces as ErrUnknown.
func (r *Reader) retry(ctx context.Context, name string, read func(context.Context) (*big.Int, error)) (*big.Int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second

	v, err := backoff.Retry(ctx, func() (*big.Int, error) {
		rctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return read(rctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.retries+1))
	if err != nil {
		r.log.Warn().Err(err).Str("read", name).Msg("ledger read failed")
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknown, name, err)
	}
	return v, nil
}
