package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// MessagePublisher is the part of *nats.Conn the sink needs.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

type statsEvent struct {
	Type        string               `json:"type"`
	CollectorID string               `json:"collector_id"`
	Timestamp   string               `json:"timestamp"`
	Data        domain.StatsSnapshot `json:"data"`
}

// NATSSink publishes snapshots as JSON on a NATS subject.
type NATSSink struct {
	conn        MessagePublisher
	subject     string
	collectorID string
}

func NewNATSSink(conn MessagePublisher, subject, collectorID string) *NATSSink {
	return &NATSSink{conn: conn, subject: subject, collectorID: collectorID}
}

func (s *NATSSink) SendStats(ctx context.Context, snap domain.StatsSnapshot) error {
	data, err := json.Marshal(statsEvent{
		Type:        "collector_stats",
		CollectorID: s.collectorID,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Data:        snap,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal stats event: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish stats event: %w", err)
	}
	return nil
}
