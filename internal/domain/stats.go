package domain

// TransferStats is a counter increment reported after a successful transfer.
type TransferStats struct {
	OutputCount int64
	OutputBytes int64
}

// StatsSnapshot is the cumulative view of transfer counters.
type StatsSnapshot struct {
	OutputCount   int64 `json:"output_count"`
	OutputBytes   int64 `json:"output_bytes"`
	ActiveWorkers int   `json:"active_workers"`
}
