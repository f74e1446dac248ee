// Package engine performs LoRaWAN 1.0.x MAC-layer decryption and MIC
// verification against stored device sessions.
package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

// ErrUnknownDevice marks a frame whose DevAddr has no stored session
var ErrUnknownDevice = errors.New("unknown device")

// CryptoEngine decrypts uplink frames using session keys from a
// SessionStore. Stateless apart from the store; safe for concurrent
// use.
type CryptoEngine struct {
	sessions storage.SessionStore
}

// New creates a CryptoEngine backed by the given session store
func New(sessions storage.SessionStore) *CryptoEngine {
	return &CryptoEngine{sessions: sessions}
}

// DecryptPHY parses and decrypts a single PHYPayload. An unknown
// DevAddr returns ErrUnknownDevice. A MIC mismatch is NOT an error:
// the frame comes back with MICValid false so callers can surface it
// per-frame. The device's frame counter is advanced either way, but
// only forward.
func (e *CryptoEngine) DecryptPHY(ctx context.Context, phy []byte) (*models.DecodedFrame, error) {
	frame, err := lorawan.ParseUplink(phy)
	if err != nil {
		return nil, fmt.Errorf("parse uplink: %w", err)
	}

	session, err := e.sessions.GetSession(ctx, frame.DevAddr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, frame.DevAddr)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	fullFCnt := lorawan.ResolveFCnt(session.LastFCnt, frame.FCnt)

	micValid, err := frame.VerifyMIC(session.NwkSKey, fullFCnt)
	if err != nil {
		return nil, fmt.Errorf("verify MIC: %w", err)
	}
	if !micValid {
		log.Debug().
			Str("dev_addr", frame.DevAddr.String()).
			Uint32("fcnt", fullFCnt).
			Msg("MIC mismatch")
	}

	decoded := &models.DecodedFrame{
		DevAddr:  frame.DevAddr.String(),
		FCnt:     fullFCnt,
		FPort:    -1,
		MICValid: micValid,
	}

	if frame.FPort != nil {
		decoded.FPort = int(*frame.FPort)
		key := session.AppSKey
		if *frame.FPort == 0 {
			key = session.NwkSKey
		}
		decoded.DecryptedPayload, err = lorawan.EncryptFRMPayload(
			key, frame.DevAddr, fullFCnt, true, frame.FRMPayload)
		if err != nil {
			return nil, fmt.Errorf("decrypt FRMPayload: %w", err)
		}
	}

	if err := e.sessions.AdvanceFrameCounter(ctx, frame.DevAddr, fullFCnt); err != nil {
		log.Warn().Err(err).
			Str("dev_addr", frame.DevAddr.String()).
			Msg("cannot advance frame counter")
	}

	return decoded, nil
}

// DecryptPacket decrypts every uplink data frame inside a PUSH_DATA
// datagram. One DecodedFrame per rxpk that carries an uplink data
// PHYPayload; other frame types are skipped.
func (e *CryptoEngine) DecryptPacket(ctx context.Context, raw []byte) ([]*models.DecodedFrame, error) {
	packet, err := semtech.ParsePushData(raw)
	if err != nil {
		return nil, err
	}

	var frames []*models.DecodedFrame
	for _, rxpk := range packet.RXPackets {
		phy, err := base64.StdEncoding.DecodeString(rxpk.Data)
		if err != nil {
			return nil, fmt.Errorf("rxpk.data is not valid base64: %w", err)
		}
		if len(phy) == 0 || !lorawan.MType((phy[0]>>5)&0x07).IsUplinkData() {
			continue
		}
		frame, err := e.DecryptPHY(ctx, phy)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
