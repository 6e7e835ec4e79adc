package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/convertfi/bondd/internal/blob/s3"
	"github.com/convertfi/bondd/internal/domain"
	"github.com/convertfi/bondd/internal/notify"
	"github.com/convertfi/bondd/internal/service"
)

// MaturityWatcher periodically scans the bond registry and reacts to
// lifecycle transitions: when a bond crosses its maturity date it alerts the
// operators and, for fully paid bonds, exports the journal to object
// storage.
type MaturityWatcher struct {
	svc      *service.BondService
	notifier *notify.Notifier
	archiver *s3blob.Archiver
	interval time.Duration
	logger   *slog.Logger

	seen     map[string]domain.BondStatus
	archived map[string]bool
}

// NewMaturityWatcher creates a watcher. notifier and archiver may be nil.
func NewMaturityWatcher(
	svc *service.BondService,
	notifier *notify.Notifier,
	archiver *s3blob.Archiver,
	interval time.Duration,
	logger *slog.Logger,
) *MaturityWatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MaturityWatcher{
		svc:      svc,
		notifier: notifier,
		archiver: archiver,
		interval: interval,
		logger:   logger.With(slog.String("component", "maturity_watcher")),
		seen:     make(map[string]domain.BondStatus),
		archived: make(map[string]bool),
	}
}

// Run scans on the configured interval until the context is cancelled. Call
// in a goroutine.
func (w *MaturityWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				w.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (w *MaturityWatcher) scan(ctx context.Context) error {
	bonds, err := w.svc.ListBonds(ctx, domain.ListOpts{Limit: 500})
	if err != nil {
		return fmt.Errorf("watcher: list bonds: %w", err)
	}

	for _, bond := range bonds {
		status, err := w.svc.Status(ctx, bond.ID)
		if err != nil {
			w.logger.DebugContext(ctx, "status check failed",
				slog.String("bond", bond.ID), slog.String("error", err.Error()))
			continue
		}

		prev, known := w.seen[bond.ID]
		w.seen[bond.ID] = status
		if !known || prev == status {
			// A defaulted bond may still become matured once the issuer
			// pays, so keep watching until it settles.
			if status != domain.BondMatured || w.archived[bond.ID] {
				continue
			}
		}

		w.onTransition(ctx, bond, prev, status)
	}
	return nil
}

func (w *MaturityWatcher) onTransition(ctx context.Context, bond domain.Bond, from, to domain.BondStatus) {
	w.logger.InfoContext(ctx, "bond status changed",
		slog.String("bond", bond.ID),
		slog.String("symbol", bond.Config.Symbol),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)

	if w.notifier != nil {
		title := fmt.Sprintf("Bond %s is now %s", bond.Config.Symbol, to)
		msg := fmt.Sprintf("bond %s\nmaturity %s", bond.ID, bond.Config.MaturityDate.Format(time.RFC3339))
		if err := w.notifier.NotifyAll(ctx, title, msg); err != nil {
			w.logger.WarnContext(ctx, "transition notify failed",
				slog.String("bond", bond.ID), slog.String("error", err.Error()))
		}
	}

	// Settled bonds have a frozen journal; export it once.
	if to == domain.BondMatured && w.archiver != nil && !w.archived[bond.ID] {
		count, err := w.archiver.ArchiveBond(ctx, bond.ID, time.Now().UTC())
		if err != nil {
			w.logger.ErrorContext(ctx, "journal archive failed",
				slog.String("bond", bond.ID), slog.String("error", err.Error()))
			return
		}
		w.archived[bond.ID] = true
		w.logger.InfoContext(ctx, "journal archived",
			slog.String("bond", bond.ID), slog.Int64("records", count))
	}
}
