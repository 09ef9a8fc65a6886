package agentpay

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchPay executes payments concurrently, bounded by the configured
// batch concurrency. One payment failing never stops the others; every
// request gets a slot in Results, in input order, and the returned error
// is always nil unless the context is canceled before work starts.
func (c *Client) BatchPay(ctx context.Context, reqs []PaymentRequest) (BatchResult, error) {
	out := BatchResult{
		TotalCount: len(reqs),
		Results:    make([]PaymentResult, len(reqs)),
	}
	if len(reqs) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchSize)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := c.Pay(gctx, req)
			if err != nil && res.EntryID == "" {
				// Failures before a ledger entry exists still get a result.
				res = PaymentResult{
					Status:    StatusFailed,
					Amount:    req.Amount,
					Recipient: req.Recipient,
					Error:     err.Error(),
				}
			}
			out.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	for _, res := range out.Results {
		if res.Status == StatusCompleted {
			out.SuccessCount++
			if res.TransactionID != "" {
				out.TransactionIDs = append(out.TransactionIDs, res.TransactionID)
			}
		} else {
			out.FailedCount++
		}
	}
	return out, nil
}
