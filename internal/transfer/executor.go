package transfer

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// Executor moves a single record to the remote store and applies the
// store's disposition to the local copy.
type Executor struct {
	repo      domain.Repository
	authority domain.Authority
	stats     domain.StatsRecorder
	logger    *slog.Logger
}

func NewExecutor(repo domain.Repository, authority domain.Authority, stats domain.StatsRecorder, logger *slog.Logger) *Executor {
	return &Executor{
		repo:      repo,
		authority: authority,
		stats:     stats,
		logger:    logger,
	}
}

// Transfer sends record id of instance. left is the number of records still
// queued behind it. The local record is deleted only when the store answers
// with a delete disposition, whether or not the send succeeded.
func (e *Executor) Transfer(ctx context.Context, instance domain.Instance, id domain.EvidenceID, left int) error {
	record, err := e.repo.Evidence(ctx, id, instance)
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrMissingEvidence{Instance: instance, ID: id}
	}

	res := e.authority.SendEvidence(ctx, instance, record)

	if res.Success {
		e.logger.Info("evidence sent",
			"instance", instance,
			"evidence_id", id,
			"size", humanize.Bytes(uint64(record.Size)),
			"left", left,
		)
		e.stats.Record(domain.TransferStats{OutputCount: 1, OutputBytes: record.Size})
	} else {
		e.logger.Error("evidence NOT sent",
			"instance", instance,
			"evidence_id", id,
			"err", res.Error,
			"action", res.Action,
		)
	}

	if res.Action == domain.DispositionDelete {
		if err := e.repo.DeleteEvidence(ctx, id, instance); err != nil {
			return err
		}
	}
	return nil
}
