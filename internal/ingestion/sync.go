package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dhxmo/CultureQ/internal/apperrors"
	"github.com/dhxmo/CultureQ/internal/metrics"
	"github.com/dhxmo/CultureQ/internal/models"
	"github.com/dhxmo/CultureQ/internal/plaid"
	"go.uber.org/zap"
)

// SyncConfig bounds the cursor sync loop.
type SyncConfig struct {
	// MaxAttempts caps the polls that come back without a cursor.
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// MaxPolls caps every poll, cursor or not.
	MaxPolls int
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		MaxAttempts: 10,
		MaxPolls:    500,
		Timeout:     30 * time.Second,
		Backoff:     250 * time.Millisecond,
		MaxBackoff:  2 * time.Second,
	}
}

// SyncResult accumulates every page of one full sync.
type SyncResult struct {
	Added    []models.RawTransaction
	Modified []models.RawTransaction
	Removed  []string
	Cursor   string
	Polls    int
}

// Syncer drives the bank provider's cursor-based sync to completion.
type Syncer struct {
	provider plaid.Provider
	cfg      SyncConfig
}

func NewSyncer(provider plaid.Provider, cfg SyncConfig) *Syncer {
	def := DefaultSyncConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = def.MaxPolls
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	return &Syncer{provider: provider, cfg: cfg}
}

// SyncAll pages through all transaction updates starting from an empty cursor.
// A page without a cursor means the provider has not prepared data yet; the
// loop waits with exponential backoff and polls again. It returns
// ErrSyncTimeout once MaxAttempts such polls or MaxPolls polls in total were
// made, or Timeout elapsed.
func (s *Syncer) SyncAll(ctx context.Context, accessToken string) (SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var (
		result     SyncResult
		cursor     string
		emptyPolls int
		backoff    = s.cfg.Backoff
	)
	defer func() { metrics.SyncAttempts.Observe(float64(result.Polls)) }()

	for hasMore := true; hasMore; {
		if err := syncCtx.Err(); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("sync exceeded %s: %w", s.cfg.Timeout, apperrors.ErrSyncTimeout)
		}
		if result.Polls >= s.cfg.MaxPolls {
			return result, fmt.Errorf("sync still paging after %d polls: %w", result.Polls, apperrors.ErrSyncTimeout)
		}

		result.Polls++
		page, err := s.provider.SyncTransactions(syncCtx, accessToken, cursor)
		if err != nil {
			if ctx.Err() == nil && errors.Is(syncCtx.Err(), context.DeadlineExceeded) {
				return result, fmt.Errorf("sync exceeded %s: %w", s.cfg.Timeout, apperrors.ErrSyncTimeout)
			}
			return result, err
		}

		if page.NextCursor == "" {
			emptyPolls++
			if emptyPolls >= s.cfg.MaxAttempts {
				return result, fmt.Errorf("no cursor after %d polls: %w", emptyPolls, apperrors.ErrSyncTimeout)
			}

			zap.L().Debug("transactions not ready, polling again",
				zap.Int("attempt", emptyPolls),
				zap.Duration("backoff", backoff))

			select {
			case <-syncCtx.Done():
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				return result, fmt.Errorf("sync exceeded %s: %w", s.cfg.Timeout, apperrors.ErrSyncTimeout)
			case <-time.After(backoff):
				backoff *= 2
				if backoff > s.cfg.MaxBackoff {
					backoff = s.cfg.MaxBackoff
				}
			}
			continue
		}

		result.Added = append(result.Added, page.Added...)
		result.Modified = append(result.Modified, page.Modified...)
		result.Removed = append(result.Removed, page.Removed...)
		cursor = page.NextCursor
		hasMore = page.HasMore
	}

	result.Cursor = cursor
	return result, nil
}
