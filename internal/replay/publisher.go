package replay

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/models"
)

// Publisher receives a progress event after every sent packet
type Publisher interface {
	PublishProgress(progress models.ReplayProgress)
}

// NopPublisher drops all events
type NopPublisher struct{}

// PublishProgress implements Publisher
func (NopPublisher) PublishProgress(models.ReplayProgress) {}

// NATSPublisher publishes progress on replay.<jobID>.progress
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher creates a NATSPublisher over an open connection
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{conn: conn}
}

// PublishProgress implements Publisher. Publishing is best effort:
// failures are logged, never fed back into the replay loop.
func (p *NATSPublisher) PublishProgress(progress models.ReplayProgress) {
	data, err := json.Marshal(progress)
	if err != nil {
		log.Error().Err(err).Msg("marshal replay progress")
		return
	}
	subject := fmt.Sprintf("replay.%s.progress", progress.JobID)
	if err := p.conn.Publish(subject, data); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("publish replay progress")
	}
}
