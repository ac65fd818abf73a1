package domain

import "time"

// Instance identifies the local evidence repository of one monitored endpoint.
type Instance string

// EvidenceID is the ordered, per-instance identifier of a queued record.
type EvidenceID int64

// InstanceMetadata is the info stored alongside an instance's evidence queue.
// Demo and Scout keep the integer encoding of the repository; use FlagBool to
// read them.
type InstanceMetadata struct {
	Ident    string    `json:"ident"`
	Instance string    `json:"instance"`
	Platform string    `json:"platform"`
	Demo     int       `json:"demo"`
	Scout    int       `json:"scout"`
	Version  int       `json:"version"`
	User     string    `json:"user"`
	Device   string    `json:"device"`
	Source   string    `json:"source"`
	SyncTime time.Time `json:"sync_time"`
}

// EvidenceRecord is an opaque queued payload.
type EvidenceRecord struct {
	ID      EvidenceID
	Payload []byte
	Size    int64
}

// PurgeOptions controls Repository.Purge. Without Force a repository is only
// removed when it has no pending evidence.
type PurgeOptions struct {
	Force bool
}

// FlagBool converts a 0/1 flag from the repository into a bool.
func FlagBool(field string, value int) (bool, error) {
	switch value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrInvalidFlag{Field: field, Value: value}
	}
}
