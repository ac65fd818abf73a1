package transfer

import (
	"context"

	"github.com/magicaleks/evidence-collector/internal/domain"
)

// StatusResolver asks the authority for the lifecycle state of the agent that
// owns a repository.
type StatusResolver struct {
	authority domain.Authority
}

func NewStatusResolver(authority domain.Authority) *StatusResolver {
	return &StatusResolver{authority: authority}
}

// Resolve returns the agent status together with the session to use for the
// metadata sync.
func (r *StatusResolver) Resolve(ctx context.Context, meta *domain.InstanceMetadata) (domain.AgentStatus, domain.Session, error) {
	req, err := statusRequest(meta)
	if err != nil {
		return "", domain.Session{}, err
	}

	status, agentID, err := r.authority.AgentStatus(ctx, req)
	if err != nil {
		return "", domain.Session{}, err
	}
	return status, domain.Session{AgentID: agentID, StatusRequest: req}, nil
}

func statusRequest(meta *domain.InstanceMetadata) (domain.StatusRequest, error) {
	demo, err := domain.FlagBool("demo", meta.Demo)
	if err != nil {
		return domain.StatusRequest{}, err
	}
	scout, err := domain.FlagBool("scout", meta.Scout)
	if err != nil {
		return domain.StatusRequest{}, err
	}
	return domain.StatusRequest{
		Ident:    meta.Ident,
		Instance: meta.Instance,
		Platform: meta.Platform,
		Demo:     demo,
		Scout:    scout,
	}, nil
}
