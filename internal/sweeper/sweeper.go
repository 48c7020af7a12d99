// Package sweeper runs the periodic typing-flag sweep. Typing nodes are
// normally removed by the client-side expiry timer or a disconnect hook,
// but a crashed process can leave them behind; the sweep deletes any
// flag older than the typing TTL.
package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"eventsnap/pkg/logger"
	"eventsnap/pkg/models"
	"eventsnap/pkg/telemetry"
	"eventsnap/pkg/tree"
)

// Options configures the sweep schedule and cutoff.
type Options struct {
	Cron      string
	TypingTTL time.Duration
}

// Start launches the sweep scheduler. Returns a cancel func; the
// scheduler stops when either the cancel func is called or ctx is done.
func Start(ctx context.Context, store *tree.Store, opt Options) (context.CancelFunc, error) {
	cronExpr := opt.Cron
	if cronExpr == "" {
		cronExpr = "* * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("sweep_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid sweep cron expression: %s", cronExpr)
	}
	ttl := opt.TypingTTL
	if ttl <= 0 {
		ttl = 3 * time.Second
	}

	logger.Info("sweep_enabled", "cron", cronExpr, "typing_ttl", ttl.String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, store, cronExpr, ttl)
	return cancel, nil
}

// RunOnce performs a single sweep pass: scan every typing node, delete
// those whose timestamp is older than ttl. Returns the number removed.
func RunOnce(ctx context.Context, store *tree.Store, ttl time.Duration) (int, error) {
	nodes, err := store.ScanPrefix(ctx, "chats/", "/typing/")
	if err != nil {
		return 0, err
	}
	cutoff := store.Now() - ttl.Nanoseconds()
	stale := map[string]any{}
	for path, raw := range nodes {
		var ts models.TypingStatus
		if err := json.Unmarshal(raw, &ts); err != nil {
			// an unreadable node is stale by definition
			stale[path] = nil
			continue
		}
		if ts.TS < cutoff {
			stale[path] = nil
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := store.Update(ctx, stale); err != nil {
		return 0, err
	}
	telemetry.TypingSwept.Add(float64(len(stale)))
	logger.Info("typing_swept", "count", len(stale))
	return len(stale), nil
}

func runScheduler(ctx context.Context, store *tree.Store, cronExpr string, ttl time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("sweep_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := RunOnce(ctx, store, ttl); err != nil {
				logger.Error("sweep_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("sweep_scheduler_stopping")
			return
		}
	}
}
