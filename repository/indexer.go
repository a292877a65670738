package repository

import (
	"context"
	"errors"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/flightsurety/ledger"
)

// Indexer keeps a Repository in step with the ledger.
type Indexer struct {
	repo   *Repository
	ledger ledger.Ledger
	logger cmtlog.Logger
}

func NewIndexer(repo *Repository, l ledger.Ledger, logger cmtlog.Logger) *Indexer {
	return &Indexer{repo: repo, ledger: l, logger: logger}
}

// Run projects events until ctx is done. A notification that cannot be
// applied is logged and skipped.
func (i *Indexer) Run(ctx context.Context) error {
	notifications, err := i.ledger.Subscribe(ctx, ProjectedEvents...)
	if err != nil {
		return err
	}
	i.logger.Info("Indexer started", "events", len(ProjectedEvents))
	i.Follow(notifications)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Follow applies notifications until the channel closes.
func (i *Indexer) Follow(notifications <-chan ledger.Notification) {
	for n := range notifications {
		if rerr := i.repo.Apply(n); rerr != nil {
			i.logger.Error("Failed to project event",
				"type", n.Event.Type,
				"tx", n.TxHash,
				"height", n.Height,
				"code", rerr.Code,
				"err", rerr.Message,
				"detail", rerr.Detail,
			)
		}
	}
}
