package domain

// Disposition is the remote store's directive for the local copy of a record.
type Disposition string

const (
	DispositionKeep   Disposition = "keep"
	DispositionDelete Disposition = "delete"
)

// ParseDisposition maps the remote action to a Disposition. Anything other
// than an explicit delete keeps the local record.
func ParseDisposition(action string) (Disposition, bool) {
	switch Disposition(action) {
	case DispositionDelete:
		return DispositionDelete, true
	case DispositionKeep:
		return DispositionKeep, true
	default:
		return DispositionKeep, false
	}
}

// TransferResult is the remote store's answer to a send. Success and Action
// are independent: a failed send may still ask for deletion.
type TransferResult struct {
	Success bool
	Error   string
	Action  Disposition
}
