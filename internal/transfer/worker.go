package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// Worker runs one transfer cycle for an instance.
type Worker struct {
	repo      domain.Repository
	authority domain.Authority
	resolver  *StatusResolver
	executor  *Executor
	logger    *slog.Logger
}

func NewWorker(repo domain.Repository, authority domain.Authority, stats domain.StatsRecorder, logger *slog.Logger) *Worker {
	return &Worker{
		repo:      repo,
		authority: authority,
		resolver:  NewStatusResolver(authority),
		executor:  NewExecutor(repo, authority, stats, logger),
		logger:    logger,
	}
}

// Process reconciles the instance with the authority and, for an active
// agent, transfers its queue in id order. The returned error only describes
// this cycle; the next cycle starts over from the repository contents.
func (w *Worker) Process(ctx context.Context, instance domain.Instance) error {
	meta, err := w.repo.Metadata(ctx, instance)
	if err != nil {
		return fmt.Errorf("read instance info: %w", err)
	}
	if meta == nil {
		if err := w.repo.Purge(ctx, instance, domain.PurgeOptions{Force: true}); err != nil {
			w.logger.Error("failed to purge invalid repository", "instance", instance, "err", err)
		}
		return domain.ErrCorruptRepository{Instance: instance}
	}

	ids, err := w.repo.EvidenceIDs(ctx, instance)
	if err != nil {
		return fmt.Errorf("list evidence: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	status, session, err := w.resolver.Resolve(ctx, meta)
	if err != nil {
		return fmt.Errorf("resolve agent status: %w", err)
	}

	switch status {
	case domain.AgentDeleted, domain.AgentNoSuchAgent, domain.AgentClosed:
		w.logger.Info("agent disowned, deleting repository", "instance", instance, "status", status)
		return w.repo.Purge(ctx, instance, domain.PurgeOptions{Force: true})

	case domain.AgentQueued, domain.AgentUnknown:
		w.logger.Warn("agent not active, not transferring evidence",
			"instance", instance,
			"status", status,
			"pending", len(ids),
		)
		return nil

	case domain.AgentActive:
		if session.AgentID == 0 {
			return domain.ErrZeroAgentID{Instance: instance}
		}

		err := w.authority.SyncMetadata(ctx, domain.SyncRequest{
			Session:  session,
			Version:  meta.Version,
			User:     meta.User,
			Device:   meta.Device,
			Source:   meta.Source,
			SyncTime: meta.SyncTime,
		})
		if err != nil {
			return fmt.Errorf("sync agent metadata: %w", err)
		}
		return w.drain(ctx, instance, ids)

	default:
		return domain.ErrUnknownStatus{Status: string(status)}
	}
}

func (w *Worker) drain(ctx context.Context, instance domain.Instance, ids []domain.EvidenceID) error {
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		if err := w.executor.Transfer(ctx, instance, id, len(ids)); err != nil {
			return fmt.Errorf("transfer evidence %d: %w", id, err)
		}
	}
	return nil
}
