package models

// ReplayStatus is the lifecycle state of a replay job
type ReplayStatus string

const (
	ReplayCreated   ReplayStatus = "created"
	ReplayRunning   ReplayStatus = "running"
	ReplayCompleted ReplayStatus = "completed"
	ReplayCancelled ReplayStatus = "cancelled"
	ReplayFailed    ReplayStatus = "failed"
)

// ReplayProgress is emitted after each sent packet
type ReplayProgress struct {
	JobID      string  `json:"jobId"`
	Index      int     `json:"index"`
	Total      int     `json:"total"`
	GatewayEUI string  `json:"gatewayEui"`
	Timestamp  float64 `json:"timestamp"`
}

// ReplayLogLine records the outcome of one send attempt
type ReplayLogLine struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	SendTimeMs int64  `json:"sendTimeMs,omitempty"`
	GatewayEUI string `json:"gateway"`
	Message    string `json:"message,omitempty"`
}

// ReplayResult is the observable state of a replay job
type ReplayResult struct {
	JobID   string          `json:"jobId"`
	Status  ReplayStatus    `json:"status"`
	Total   int             `json:"total"`
	Sent    int             `json:"sent"`
	Errors  int             `json:"errors"`
	Cursor  int             `json:"cursor"`
	Target  string          `json:"target"`
	Log     []ReplayLogLine `json:"log,omitempty"`
	Failure string          `json:"failure,omitempty"`
}
