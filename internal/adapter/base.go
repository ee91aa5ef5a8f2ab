package adapter

import (
	"context"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/crossmesh/ferry/internal/repo"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const (
	defaultTimeout = 5 * time.Second
	defaultRetries = 3

	statusCacheSize = 256
)

// Base implements the retry/timeout policy of the ChainAdapter contract
// once. Family adapters embed it and supply only the request/response
// translation for their chain family.
type Base struct {
	config *repo.Chain
	family Family
	logger logrus.FieldLogger

	// terminal tx statuses never change, so repeated polls skip the wire
	statusCache *lru.Cache
}

func NewBase(config *repo.Chain, family Family, logger logrus.FieldLogger) (*Base, error) {
	cache, err := lru.New(statusCacheSize)
	if err != nil {
		return nil, err
	}

	return &Base{
		config:      config,
		family:      family,
		logger:      logger,
		statusCache: cache,
	}, nil
}

func (b *Base) ChainID() string {
	return b.config.ChainID
}

func (b *Base) Family() Family {
	return b.family
}

func (b *Base) FinalityDepth() uint64 {
	return b.config.FinalityDepth
}

func (b *Base) Config() *repo.Chain {
	return b.config
}

func (b *Base) Logger() logrus.FieldLogger {
	return b.logger
}

func (b *Base) timeout() time.Duration {
	if b.config.Timeout > 0 {
		return b.config.Timeout
	}
	return defaultTimeout
}

func (b *Base) retries() uint {
	if b.config.Retries > 0 {
		return b.config.Retries
	}
	return defaultRetries
}

// Call runs fn under the per-call timeout, retrying transport failures
// up to the configured attempt limit with fibonacci backoff. Exhausted
// retries surface as ChainUnavailable, never as raw transport errors.
func (b *Base) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, b.timeout())
		defer cancel()

		if err := fn(callCtx); err != nil {
			b.logger.WithFields(logrus.Fields{
				"chain":   b.config.ChainID,
				"op":      op,
				"attempt": attempt,
				"error":   err,
			}).Warn("Chain call failed")
			return err
		}

		return nil
	}, strategy.Limit(b.retries()), strategy.Backoff(backoff.Fibonacci(100*time.Millisecond)))

	if err != nil {
		return ErrChainUnavailable(b.config.ChainID, err)
	}

	return nil
}

// CachedStatus returns a previously observed terminal status for txRef.
func (b *Base) CachedStatus(txRef string) (TxStatus, bool) {
	v, ok := b.statusCache.Get(txRef)
	if !ok {
		return TxUnknown, false
	}
	return v.(TxStatus), true
}

// CacheStatus remembers a status if it can no longer change.
func (b *Base) CacheStatus(txRef string, status TxStatus) {
	if status == TxFinalized || status == TxFailed {
		b.statusCache.Add(txRef, status)
	}
}
