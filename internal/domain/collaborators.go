package domain

import "context"

// Repository is the local evidence store, one queue per instance.
type Repository interface {
	Instances(ctx context.Context) ([]Instance, error)
	Metadata(ctx context.Context, instance Instance) (*InstanceMetadata, error)
	EvidenceIDs(ctx context.Context, instance Instance) ([]EvidenceID, error)
	Evidence(ctx context.Context, id EvidenceID, instance Instance) (*EvidenceRecord, error)
	DeleteEvidence(ctx context.Context, id EvidenceID, instance Instance) error
	Purge(ctx context.Context, instance Instance, opts PurgeOptions) error
}

// Authority is the remote side: agent registry and central evidence store.
type Authority interface {
	Connected() bool
	AgentStatus(ctx context.Context, req StatusRequest) (AgentStatus, AgentID, error)
	SyncMetadata(ctx context.Context, req SyncRequest) error
	SendEvidence(ctx context.Context, instance Instance, record *EvidenceRecord) TransferResult
}

// StatsRecorder receives transfer counters.
type StatsRecorder interface {
	Record(delta TransferStats)
}
