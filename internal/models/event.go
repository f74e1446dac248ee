package models

import "time"

// EventKind classifies audit events
type EventKind string

const (
	EventScan          EventKind = "scan"
	EventReplay        EventKind = "replay"
	EventDecode        EventKind = "decode"
	EventDecoderUpload EventKind = "decoder_upload"
	EventKeyChange     EventKind = "key_change"
)

// AuditEvent is a fire-and-forget record of a user-triggered action
type AuditEvent struct {
	Kind    EventKind      `json:"kind"`
	Actor   string         `json:"actor"`
	Details map[string]any `json:"details,omitempty"`
	Time    time.Time      `json:"time"`
}
