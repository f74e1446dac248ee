package gate

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/models"
)

// Auditor records user-triggered actions. Fire and forget: auditing
// never blocks or fails the operation it describes.
type Auditor interface {
	Record(kind models.EventKind, actor string, details map[string]any)
}

// LogAuditor writes audit events to the structured log
type LogAuditor struct{}

// Record implements Auditor
func (LogAuditor) Record(kind models.EventKind, actor string, details map[string]any) {
	log.Info().
		Str("kind", string(kind)).
		Str("actor", actor).
		Fields(details).
		Msg("audit")
}

// NATSAuditor publishes audit events on audit.<kind>
type NATSAuditor struct {
	conn *nats.Conn
}

// NewNATSAuditor creates a NATSAuditor over an open connection
func NewNATSAuditor(conn *nats.Conn) *NATSAuditor {
	return &NATSAuditor{conn: conn}
}

// Record implements Auditor
func (a *NATSAuditor) Record(kind models.EventKind, actor string, details map[string]any) {
	event := models.AuditEvent{
		Kind:    kind,
		Actor:   actor,
		Details: details,
		Time:    time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("marshal audit event")
		return
	}
	if err := a.conn.Publish("audit."+string(kind), data); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("publish audit event")
	}
}
