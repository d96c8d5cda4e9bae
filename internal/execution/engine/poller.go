package engine

import (
	"context"
	"fmt"
	"time"

	appErr "arenaoj/pkg/errors"
	"arenaoj/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 2500 * time.Millisecond
	defaultMaxAttempts  = 120
	defaultMaxWait      = 5 * time.Minute
)

// ResultFetcher fetches the current state of a token batch.
type ResultFetcher interface {
	FetchResults(ctx context.Context, tokens []string) ([]Result, error)
}

// PollerConfig holds polling bounds.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"maxAttempts"`
	MaxWait     time.Duration `yaml:"maxWait"`
}

// Poller repeatedly queries the engine until every submission in a batch
// reaches a terminal state. The wait is bounded by both an attempt count and
// a wall-clock deadline, and honors context cancellation between iterations.
type Poller struct {
	fetcher     ResultFetcher
	interval    time.Duration
	maxAttempts int
	maxWait     time.Duration
}

// NewPoller creates a poller over the given fetcher.
func NewPoller(fetcher ResultFetcher, cfg PollerConfig) (*Poller, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("result fetcher is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	return &Poller{
		fetcher:     fetcher,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		maxWait:     cfg.MaxWait,
	}, nil
}

// WaitForResults blocks until every token's run is terminal and returns one
// result per token in submitted order. Order is the correlation mechanism;
// no result field is used to re-match entries.
func (p *Poller) WaitForResults(ctx context.Context, tokens []string) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, appErr.New(appErr.ValidationFailed).WithMessage("token list is empty")
	}

	deadline := time.Now().Add(p.maxWait)
	for attempt := 1; ; attempt++ {
		results, err := p.fetcher.FetchResults(ctx, tokens)
		if err != nil {
			return nil, err
		}
		if len(results) != len(tokens) {
			return nil, appErr.Newf(appErr.EngineBadResponse,
				"engine returned %d results for %d tokens", len(results), len(tokens))
		}

		pending := countPending(results)
		if pending == 0 {
			return results, nil
		}

		if attempt >= p.maxAttempts || time.Now().After(deadline) {
			return nil, appErr.Newf(appErr.ExecutionTimeout,
				"%d of %d runs still pending after %d polls", pending, len(tokens), attempt)
		}

		logger.Debug(ctx, "waiting for engine results",
			zap.Int("attempt", attempt),
			zap.Int("pending", pending),
			zap.Int("total", len(tokens)),
		)

		select {
		case <-ctx.Done():
			return nil, appErr.Wrapf(ctx.Err(), appErr.ExecutionTimeout, "result wait cancelled")
		case <-time.After(p.interval):
		}
	}
}

func countPending(results []Result) int {
	pending := 0
	for _, result := range results {
		if !result.IsTerminal() {
			pending++
		}
	}
	return pending
}
