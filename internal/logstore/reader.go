// Package logstore parses newline-delimited JSON traffic logs and
// manages uploaded log files on disk.
package logstore

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseError marks a malformed log line. The line is reported, not
// silently dropped, so scans can account for partial success.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// record is the wire shape of one log line. Two forms are accepted:
// a rawPacket (base64 of a complete PUSH_DATA datagram) or the
// gatewayEui+rxpk pair, which is normalized into a PUSH_DATA.
type record struct {
	Timestamp     *float64      `json:"timestamp"`
	GatewayEUI    string        `json:"gatewayEui"`
	GatewayEUIAlt string        `json:"gateway_eui"`
	RawPacket     string        `json:"rawPacket"`
	RXPK          *semtech.RXPK `json:"rxpk"`
	Direction     string        `json:"direction"`
	SequenceIndex *int          `json:"sequenceIndex"`
}

// Reader yields one LogEntry per non-blank line. It is lazy and
// finite; restart by calling Parse again on a fresh handle.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	ordinal int
	now     func() time.Time
}

// Parse wraps a log stream in a Reader
func Parse(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: sc, now: time.Now}
}

// Next returns the next entry, or io.EOF when the stream is done.
// Malformed lines come back as entries with Err set.
func (r *Reader) Next() (*models.LogEntry, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		return r.parseLine(line), nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// All drains the reader into a slice
func (r *Reader) All() ([]*models.LogEntry, error) {
	var entries []*models.LogEntry
	for {
		entry, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}

func (r *Reader) parseLine(line string) *models.LogEntry {
	entry := &models.LogEntry{
		Line:      r.line,
		Direction: models.DirectionUplink,
	}

	var rec record
	if err := json.UnmarshalFromString(line, &rec); err != nil {
		entry.Err = &ParseError{Line: r.line, Reason: fmt.Sprintf("JSON decode error: %v", err)}
		return entry
	}

	if rec.GatewayEUI == "" {
		rec.GatewayEUI = rec.GatewayEUIAlt
	}

	raw, gatewayEUI, err := r.normalize(&rec)
	if err != nil {
		entry.Err = &ParseError{Line: r.line, Reason: err.Error()}
		return entry
	}

	entry.RawPacket = raw
	entry.GatewayEUI = gatewayEUI

	if rec.Timestamp != nil {
		entry.Timestamp = *rec.Timestamp
	} else if rec.RXPK != nil && rec.RXPK.Time != "" {
		if t, perr := time.Parse(time.RFC3339, rec.RXPK.Time); perr == nil {
			entry.Timestamp = float64(t.Unix())
		}
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = float64(r.now().Unix())
	}

	if rec.SequenceIndex != nil {
		entry.SequenceIndex = *rec.SequenceIndex
	} else {
		entry.SequenceIndex = r.ordinal
	}
	r.ordinal++

	return entry
}

// normalize produces the byte-exact PUSH_DATA datagram for the line.
// A rawPacket is validated but never re-encoded; a gatewayEui+rxpk
// pair is assembled into a fresh datagram once, here.
func (r *Reader) normalize(rec *record) ([]byte, string, error) {
	if rec.RawPacket != "" {
		raw, err := base64.StdEncoding.DecodeString(rec.RawPacket)
		if err != nil {
			return nil, "", fmt.Errorf("rawPacket is not valid base64")
		}
		packet, err := semtech.ParsePushData(raw)
		if err != nil {
			return nil, "", err
		}
		if len(packet.RXPackets) == 0 {
			return nil, "", fmt.Errorf("PUSH_DATA carries no rxpk")
		}
		return raw, packet.GatewayEUI.String(), nil
	}

	if rec.GatewayEUI == "" || rec.RXPK == nil {
		return nil, "", fmt.Errorf("missing gatewayEui or rxpk")
	}

	eui, err := lorawan.ParseEUI64(rec.GatewayEUI)
	if err != nil {
		return nil, "", err
	}
	if rec.RXPK.Data == "" {
		return nil, "", fmt.Errorf("missing rxpk.data payload")
	}
	if _, err := base64.StdEncoding.DecodeString(rec.RXPK.Data); err != nil {
		return nil, "", fmt.Errorf("rxpk.data is not valid base64")
	}

	raw, err := semtech.BuildPushData(eui, *rec.RXPK)
	if err != nil {
		return nil, "", err
	}
	return raw, eui.String(), nil
}
