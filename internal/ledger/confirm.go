package ledger

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"collectord/internal/logging"
	"collectord/internal/model"

	"github.com/rs/zerolog"
)

// Receipt is the confirmation record of a ledger transaction.
type Receipt struct {
	Hash        string `json:"transactionHash"`
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// Confirmer waits for ledger confirmation of submitted transactions.
type Confirmer struct {
	rpc      *rpcClient
	interval time.Duration
	log      zerolog.Logger
}

// NewConfirmer creates a confirmer polling receipts at interval.
func NewConfirmer(url string, interval time.Duration, hc *http.Client, log zerolog.Logger) *Confirmer {
	if hc == nil {
		hc = &http.Client{}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Confirmer{
		rpc:      &rpcClient{url: url, http: hc},
		interval: interval,
		log:      logging.WithComponent(log, "confirmer"),
	}
}

// Wait blocks until the transaction identified by handle has a receipt.
// There is no deadline besides ctx: confirmation has no client-enforceable bound.
// A reverted receipt is returned together with a *model.RevertError.
func (c *Confirmer) Wait(ctx context.Context, handle string) (Receipt, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		var rc *Receipt
		err := c.rpc.call(ctx, "eth_getTransactionReceipt", []any{handle}, &rc)
		switch {
		case err != nil:
			c.log.Debug().Err(err).Str("handle", handle).Msg("receipt lookup failed, retrying")
		case rc != nil:
			if !rc.Succeeded() {
				return *rc, &model.RevertError{
					Category: model.RevertGeneric,
					Cause:    fmt.Errorf("transaction %s reverted in block %s", handle, rc.BlockNumber),
				}
			}
			return *rc, nil
		}

		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
