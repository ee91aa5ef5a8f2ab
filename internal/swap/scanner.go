package swap

import (
	"context"
	"errors"
	"time"

	"github.com/crossmesh/ferry/pkg/model"
	"github.com/sirupsen/logrus"
)

// scan periodically refunds swaps whose lock expired without a claim.
// Each expiry takes the same per-transfer lock as lock/claim, so the
// scanner can never race a concurrent claim into a double release.
func (e *Engine) scan() {
	interval := e.config.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.expireDue()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) expireDue() {
	due, err := e.st.ExpiredNonTerminal(time.Now())
	if err != nil {
		e.logger.WithField("error", err).Error("Scan for expired swaps")
		return
	}

	if len(due) == 0 {
		return
	}

	workers := e.config.Workers
	if workers <= 0 {
		workers = 8
	}

	// chain RPC latency dominates, so expiries for different
	// transfers run in parallel under a bounded pool
	sem := make(chan struct{}, workers)
	for _, state := range due {
		select {
		case sem <- struct{}{}:
		case <-e.ctx.Done():
			return
		}

		go func(transferID string) {
			defer func() { <-sem }()

			if err := e.Expire(e.ctx, transferID); err != nil && !errors.Is(err, ErrNotExpired) {
				e.logger.WithFields(logrus.Fields{
					"transfer": transferID,
					"error":    err,
				}).Warn("Expire swap")
			}
		}(state.TransferID)
	}
}

// recover re-drives transfers that were mid-flight when the process
// stopped. Persisted phases are authoritative: anything non-terminal is
// either re-attested or left for the expiry scanner.
func (e *Engine) recover() error {
	for _, status := range []model.TransferStatus{
		model.TransferPending,
		model.TransferLocked,
		model.TransferSecretRevealed,
		model.TransferExpired,
	} {
		transfers, err := e.st.TransfersByStatus(status)
		if err != nil {
			return err
		}

		for _, transfer := range transfers {
			e.logger.WithFields(logrus.Fields{
				"transfer": transfer.ID,
				"status":   transfer.Status,
			}).Info("Recovered in-flight transfer")

			if transfer.Status == model.TransferPending && e.attestor != nil {
				go e.attestor.RequestSignatures(transfer)
			}

			if transfer.Status == model.TransferSecretRevealed {
				go func(id string) {
					ctx, cancel := context.WithTimeout(e.ctx, 10*time.Minute)
					defer cancel()

					if err := e.Claim(ctx, id); err != nil && !errors.Is(err, ErrQuorumNotMet) {
						e.logger.WithFields(logrus.Fields{
							"transfer": id,
							"error":    err,
						}).Warn("Re-drive claim")
					}
				}(transfer.ID)
			}
		}
	}

	return nil
}
