package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// RATE-LIMITED CHAIN CLIENT
// ============================================================================

// RateLimitStats tracks throttling behavior of a rate-limited chain handle.
type RateLimitStats struct {
	Submissions   int           `json:"submissions"`
	Throttles     int           `json:"throttles"`
	TotalWaitTime time.Duration `json:"totalWaitTime"`
	Retries       int           `json:"retries"`
	RetrySuccess  int           `json:"retrySuccess"`
}

// RateLimitedChain wraps a ChainClient with a minimum interval between
// submissions and bounded retries on transient transport errors. Public
// RPC endpoints throttle aggressively; scenario runs that fund accounts
// and co-sign multisigs in quick succession hit those limits otherwise.
//
// Rate limiting is best-effort: the interval is enforced locally, the
// endpoint's own limits are discovered only through errors.
type RateLimitedChain struct {
	wrapped     ChainClient
	minInterval time.Duration
	maxRetries  int

	mu         sync.Mutex
	lastSubmit time.Time
	stats      RateLimitStats
}

func NewRateLimitedChain(wrapped ChainClient, minInterval time.Duration, maxRetries int) *RateLimitedChain {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RateLimitedChain{
		wrapped:     wrapped,
		minInterval: minInterval,
		maxRetries:  maxRetries,
	}
}

func (rc *RateLimitedChain) Stats() RateLimitStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stats
}

// throttle blocks until the minimum submission interval has elapsed.
func (rc *RateLimitedChain) throttle(ctx context.Context) error {
	rc.mu.Lock()
	wait := rc.minInterval - time.Since(rc.lastSubmit)
	if wait > 0 {
		rc.stats.Throttles++
		rc.stats.TotalWaitTime += wait
	}
	rc.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "429", "timeout", "connection reset", "temporarily"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retry runs op with exponential backoff on transient errors.
func (rc *RateLimitedChain) retry(ctx context.Context, op func() error) error {
	backoff := time.Second
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			if attempt > 0 {
				rc.mu.Lock()
				rc.stats.RetrySuccess++
				rc.mu.Unlock()
			}
			return nil
		}
		if attempt >= rc.maxRetries || !isTransient(err) {
			return err
		}

		rc.mu.Lock()
		rc.stats.Retries++
		rc.mu.Unlock()

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
}

func (rc *RateLimitedChain) QueryBalance(ctx context.Context, address string) (AccountBalance, error) {
	var bal AccountBalance
	err := rc.retry(ctx, func() error {
		var e error
		bal, e = rc.wrapped.QueryBalance(ctx, address)
		return e
	})
	return bal, err
}

func (rc *RateLimitedChain) QueryState(ctx context.Context, pallet, storage string, args []any) (any, error) {
	var value any
	err := rc.retry(ctx, func() error {
		var e error
		value, e = rc.wrapped.QueryState(ctx, pallet, storage, args)
		return e
	})
	return value, err
}

func (rc *RateLimitedChain) BlockHeight(ctx context.Context) (uint64, error) {
	var h uint64
	err := rc.retry(ctx, func() error {
		var e error
		h, e = rc.wrapped.BlockHeight(ctx)
		return e
	})
	return h, err
}

func (rc *RateLimitedChain) Submit(ctx context.Context, ext Extrinsic, signer Keypair) (Submission, error) {
	if err := rc.throttle(ctx); err != nil {
		return Submission{}, err
	}

	var sub Submission
	err := rc.retry(ctx, func() error {
		var e error
		sub, e = rc.wrapped.Submit(ctx, ext, signer)
		return e
	})

	rc.mu.Lock()
	rc.lastSubmit = time.Now()
	rc.stats.Submissions++
	rc.mu.Unlock()

	return sub, err
}

func (rc *RateLimitedChain) WaitForInclusion(ctx context.Context, hash string, minHeight uint64) error {
	return rc.wrapped.WaitForInclusion(ctx, hash, minHeight)
}

// HasRateLimiting reports whether the suite settings ask for submission
// throttling.
func HasRateLimiting(interval string) bool {
	d, err := time.ParseDuration(interval)
	return err == nil && d > 0
}
