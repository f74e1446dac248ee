package models

// Direction of a recorded packet
type Direction string

const (
	DirectionUplink Direction = "uplink"
)

// LogEntry is one parsed line of a recorded traffic log. RawPacket
// holds the complete Semtech UDP PUSH_DATA datagram, byte-exact, so
// replay can forward it unmodified.
type LogEntry struct {
	Timestamp     float64   `json:"timestamp"`
	GatewayEUI    string    `json:"gatewayEui"`
	RawPacket     []byte    `json:"-"`
	Direction     Direction `json:"direction"`
	SequenceIndex int       `json:"sequenceIndex"`

	// Line is the 1-based line number in the source file
	Line int `json:"line"`

	// Err is set on malformed lines; the entry then carries no packet
	Err error `json:"-"`
}

// Valid reports whether the entry parsed cleanly
func (e *LogEntry) Valid() bool {
	return e.Err == nil
}

// StoredLog describes an uploaded log file kept on disk
type StoredLog struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	UploadedAt float64 `json:"uploadedAt"`
}
