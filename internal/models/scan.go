package models

// ScanSummary is the result of a single pass over a log file.
// Immutable once built; owned by the caller.
type ScanSummary struct {
	FileID         string   `json:"fileId"`
	TotalEntries   int      `json:"totalEntries"`
	ValidEntries   int      `json:"validEntries"`
	InvalidEntries int      `json:"invalidEntries"`
	Gateways       []string `json:"gateways"`
	DevAddrs       []string `json:"devAddrs"`
	TimeRangeStart float64  `json:"timeRangeStart"`
	TimeRangeEnd   float64  `json:"timeRangeEnd"`

	// Errors holds one message per rejected line, capped by the scanner
	Errors []string `json:"errors,omitempty"`
}
