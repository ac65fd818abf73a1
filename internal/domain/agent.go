package domain

import "time"

// AgentStatus is the lifecycle state of an agent as known by the authority.
type AgentStatus string

const (
	AgentActive      AgentStatus = "active"
	AgentQueued      AgentStatus = "queued"
	AgentUnknown     AgentStatus = "unknown"
	AgentDeleted     AgentStatus = "deleted"
	AgentNoSuchAgent AgentStatus = "no_such_agent"
	AgentClosed      AgentStatus = "closed"
)

// ParseAgentStatus validates a status string received from the authority.
func ParseAgentStatus(s string) (AgentStatus, error) {
	switch st := AgentStatus(s); st {
	case AgentActive, AgentQueued, AgentUnknown, AgentDeleted, AgentNoSuchAgent, AgentClosed:
		return st, nil
	default:
		return "", ErrUnknownStatus{Status: s}
	}
}

// AgentID is the authority's numeric agent identifier. Zero is never valid
// for an active agent.
type AgentID uint64

// StatusRequest asks the authority for the state of an agent.
type StatusRequest struct {
	Ident    string `json:"ident"`
	Instance string `json:"instance"`
	Platform string `json:"platform"`
	Demo     bool   `json:"demo"`
	Scout    bool   `json:"scout"`
}

// Session is the resolved identity of an agent, used when syncing metadata.
type Session struct {
	AgentID AgentID `json:"agent_id"`
	StatusRequest
}

// SyncRequest pushes the last known agent details to the authority.
type SyncRequest struct {
	Session
	Version  int       `json:"version"`
	User     string    `json:"user"`
	Device   string    `json:"device"`
	Source   string    `json:"source"`
	SyncTime time.Time `json:"sync_time"`
}
