// Package pipeline chains log parsing, MAC-layer decryption and
// payload decoding into one decode run.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/engine"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

// Pipeline decodes recorded traffic end to end
type Pipeline struct {
	crypto   *engine.CryptoEngine
	decoders *sandbox.Registry
}

// New creates a Pipeline
func New(crypto *engine.CryptoEngine, decoders *sandbox.Registry) *Pipeline {
	return &Pipeline{crypto: crypto, decoders: decoders}
}

// Run decodes every entry and returns exactly one record per entry,
// in input order. Failures never abort the run; they land in the
// record's Error field so partial results stay usable.
func (p *Pipeline) Run(ctx context.Context, entries []*models.LogEntry, decoderName string) []models.DecodedRecord {
	records := make([]models.DecodedRecord, 0, len(entries))
	for i, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		records = append(records, p.decodeEntry(ctx, i, entry, decoderName))
	}
	return records
}

func (p *Pipeline) decodeEntry(ctx context.Context, index int, entry *models.LogEntry, decoderName string) models.DecodedRecord {
	record := models.DecodedRecord{
		Index:       index,
		GatewayEUI:  entry.GatewayEUI,
		Timestamp:   entry.Timestamp,
		FPort:       -1,
		DecoderName: decoderName,
	}
	if record.DecoderName == "" {
		record.DecoderName = sandbox.BuiltinRaw
	}

	if !entry.Valid() {
		record.Error = entry.Err.Error()
		return record
	}

	phy, err := uplinkPHY(entry.RawPacket)
	if err != nil {
		record.Error = err.Error()
		return record
	}
	if phy == nil {
		record.Error = "no uplink data frame in entry"
		return record
	}

	frame, err := p.crypto.DecryptPHY(ctx, phy)
	if err != nil {
		record.Error = err.Error()
		return record
	}

	record.DevAddr = frame.DevAddr
	record.FCnt = frame.FCnt
	record.FPort = frame.FPort
	record.MICValid = frame.MICValid
	record.DecryptedPayload = frame.DecryptedPayload
	record.PayloadHex = hex.EncodeToString(frame.DecryptedPayload)

	output, err := p.decoders.Decode(ctx, decoderName, frame.DecryptedPayload, frame.FPort)
	if err != nil {
		log.Debug().Err(err).
			Int("index", index).
			Str("decoder", record.DecoderName).
			Msg("decoder failed")
		record.Error = err.Error()
		return record
	}
	record.DecoderOutput = output
	return record
}

// uplinkPHY pulls the first uplink data PHYPayload out of a PUSH_DATA
// datagram. Nil with no error means the entry carries no uplink data
// frame.
func uplinkPHY(raw []byte) ([]byte, error) {
	packet, err := semtech.ParsePushData(raw)
	if err != nil {
		return nil, err
	}
	for _, rxpk := range packet.RXPackets {
		phy, err := base64.StdEncoding.DecodeString(rxpk.Data)
		if err != nil || len(phy) == 0 {
			continue
		}
		if lorawan.MType((phy[0] >> 5) & 0x07).IsUplinkData() {
			return phy, nil
		}
	}
	return nil, nil
}
