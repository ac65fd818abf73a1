package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// Sink receives periodic stats snapshots.
type Sink interface {
	SendStats(ctx context.Context, snap domain.StatsSnapshot) error
}

// Source provides the current snapshot.
type Source interface {
	Snapshot() domain.StatsSnapshot
}

type Publisher struct {
	source   Source
	sinks    []Sink
	logger   *slog.Logger
	interval time.Duration
}

func NewPublisher(source Source, sinks []Sink, logger *slog.Logger, interval time.Duration) *Publisher {
	return &Publisher{
		source:   source,
		sinks:    sinks,
		logger:   logger,
		interval: interval,
	}
}

func (p *Publisher) Start(ctx context.Context) {
	go p.loop(ctx)
}

func (p *Publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	counter := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := p.source.Snapshot()

			if counter%20 == 0 {
				p.logger.Info("stats",
					"evidence_sent", snap.OutputCount,
					"bytes_sent", humanize.Bytes(uint64(snap.OutputBytes)),
					"active_workers", snap.ActiveWorkers,
				)
			}
			counter++

			p.publish(ctx, snap)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, snap domain.StatsSnapshot) {
	for _, sink := range p.sinks {
		if err := sink.SendStats(ctx, snap); err != nil {
			p.logger.Warn("failed to send stats", "err", err)
		}
	}
}
