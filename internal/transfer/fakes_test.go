package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// journal records collaborator calls across fakes in call order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type fakeRepo struct {
	mu       sync.Mutex
	journal  *journal
	meta     map[domain.Instance]*domain.InstanceMetadata
	queues   map[domain.Instance][]domain.EvidenceID
	payloads map[domain.EvidenceID][]byte
	missing  map[domain.EvidenceID]bool
	purged   map[domain.Instance][]domain.PurgeOptions
	listErr  error
	// blockIDs, when set, holds EvidenceIDs until the channel is closed.
	blockIDs chan struct{}
	inIDs    chan domain.Instance
}

func newFakeRepo(j *journal) *fakeRepo {
	return &fakeRepo{
		journal:  j,
		meta:     make(map[domain.Instance]*domain.InstanceMetadata),
		queues:   make(map[domain.Instance][]domain.EvidenceID),
		payloads: make(map[domain.EvidenceID][]byte),
		missing:  make(map[domain.EvidenceID]bool),
		purged:   make(map[domain.Instance][]domain.PurgeOptions),
	}
}

func (r *fakeRepo) add(instance domain.Instance, meta *domain.InstanceMetadata, payloads map[domain.EvidenceID]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta[instance] = meta
	ids := make([]domain.EvidenceID, 0, len(payloads))
	for id, p := range payloads {
		ids = append(ids, id)
		r.payloads[id] = []byte(p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r.queues[instance] = ids
}

func (r *fakeRepo) queue(instance domain.Instance) []domain.EvidenceID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EvidenceID(nil), r.queues[instance]...)
}

func (r *fakeRepo) purges(instance domain.Instance) []domain.PurgeOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PurgeOptions(nil), r.purged[instance]...)
}

func (r *fakeRepo) Instances(ctx context.Context) ([]domain.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.Instance, 0, len(r.queues))
	for inst := range r.queues {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *fakeRepo) Metadata(ctx context.Context, instance domain.Instance) (*domain.InstanceMetadata, error) {
	r.journal.add("metadata %s", instance)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta[instance], nil
}

func (r *fakeRepo) EvidenceIDs(ctx context.Context, instance domain.Instance) ([]domain.EvidenceID, error) {
	r.journal.add("ids %s", instance)
	if r.inIDs != nil {
		r.inIDs <- instance
	}
	if r.blockIDs != nil {
		<-r.blockIDs
	}
	return r.queue(instance), nil
}

func (r *fakeRepo) Evidence(ctx context.Context, id domain.EvidenceID, instance domain.Instance) (*domain.EvidenceRecord, error) {
	r.journal.add("get %s %d", instance, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payloads[id]
	if !ok || r.missing[id] {
		return nil, nil
	}
	return &domain.EvidenceRecord{ID: id, Payload: p, Size: int64(len(p))}, nil
}

func (r *fakeRepo) DeleteEvidence(ctx context.Context, id domain.EvidenceID, instance domain.Instance) error {
	r.journal.add("delete %s %d", instance, id)
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[instance]
	for i, cur := range q {
		if cur == id {
			r.queues[instance] = append(q[:i:i], q[i+1:]...)
			return nil
		}
	}
	return errors.New("no such evidence")
}

func (r *fakeRepo) Purge(ctx context.Context, instance domain.Instance, opts domain.PurgeOptions) error {
	r.journal.add("purge %s force=%t", instance, opts.Force)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged[instance] = append(r.purged[instance], opts)
	if opts.Force {
		delete(r.queues, instance)
		delete(r.meta, instance)
	}
	return nil
}

type fakeAuthority struct {
	mu        sync.Mutex
	journal   *journal
	connected bool
	status    domain.AgentStatus
	agentID   domain.AgentID
	statusErr error
	results   map[domain.EvidenceID]domain.TransferResult
	requests  []domain.StatusRequest
	syncs     []domain.SyncRequest
}

func newFakeAuthority(j *journal) *fakeAuthority {
	return &fakeAuthority{
		journal:   j,
		connected: true,
		status:    domain.AgentActive,
		agentID:   7,
		results:   make(map[domain.EvidenceID]domain.TransferResult),
	}
}

func (a *fakeAuthority) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *fakeAuthority) AgentStatus(ctx context.Context, req domain.StatusRequest) (domain.AgentStatus, domain.AgentID, error) {
	a.journal.add("status %s", req.Instance)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.status, a.agentID, a.statusErr
}

func (a *fakeAuthority) SyncMetadata(ctx context.Context, req domain.SyncRequest) error {
	a.journal.add("sync %s", req.Instance)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncs = append(a.syncs, req)
	return nil
}

func (a *fakeAuthority) SendEvidence(ctx context.Context, instance domain.Instance, record *domain.EvidenceRecord) domain.TransferResult {
	a.journal.add("send %s %d", instance, record.ID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if res, ok := a.results[record.ID]; ok {
		return res
	}
	return domain.TransferResult{Success: true, Action: domain.DispositionDelete}
}

type fakeStats struct {
	mu     sync.Mutex
	total  domain.TransferStats
	active int
}

func (s *fakeStats) Record(delta domain.TransferStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.OutputCount += delta.OutputCount
	s.total.OutputBytes += delta.OutputBytes
}

func (s *fakeStats) SetActiveWorkers(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = n
}

func (s *fakeStats) snapshot() domain.TransferStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func activeMeta(instance string) *domain.InstanceMetadata {
	return &domain.InstanceMetadata{
		Ident:    "RCS_0000000001",
		Instance: instance,
		Platform: "windows",
		Demo:     0,
		Scout:    1,
		Version:  2024010101,
		User:     "alice",
		Device:   "WORKSTATION",
		Source:   "10.0.0.5",
	}
}
