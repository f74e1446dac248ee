package logstore

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

const validLine = `{"gatewayEui":"0102030405060708","rxpk":{"time":"2025-01-01T12:00:00Z","tmst":1000000,"freq":868.3,"rfch":0,"stat":1,"modu":"LORA","datr":"SF7BW125","codr":"4/5","rssi":-60,"lsnr":5.5,"size":21,"data":"QNobASYAKgAB9vlG/dY0Zbo="}}`

func TestParseValidAndInvalidLines(t *testing.T) {
	input := strings.Join([]string{
		validLine,
		"not json at all",
		`{"gatewayEui":"0102030405060708"}`, // missing rxpk
		"",
		validLine,
		"",
		"",
	}, "\n")

	entries, err := Parse(strings.NewReader(input)).All()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// blank lines skipped, malformed lines kept as error entries
	if len(entries) != 4 {
		t.Fatalf("entries: got %d, want 4", len(entries))
	}

	valid, invalid := 0, 0
	for _, e := range entries {
		if e.Valid() {
			valid++
		} else {
			invalid++
			var perr *ParseError
			if !asParseError(e.Err, &perr) {
				t.Fatalf("entry error is %T, want *ParseError", e.Err)
			}
		}
	}
	if valid != 2 || invalid != 2 {
		t.Fatalf("valid/invalid: got %d/%d, want 2/2", valid, invalid)
	}
}

func asParseError(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}

func TestParseNormalizesRXPKForm(t *testing.T) {
	entries, err := Parse(strings.NewReader(validLine)).All()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := entries[0]
	if !e.Valid() {
		t.Fatalf("entry invalid: %v", e.Err)
	}
	if e.GatewayEUI != "0102030405060708" {
		t.Fatalf("gateway eui: got %q", e.GatewayEUI)
	}
	if e.Timestamp != 1735732800 { // 2025-01-01T12:00:00Z
		t.Fatalf("timestamp: got %f", e.Timestamp)
	}

	packet, err := semtech.ParsePushData(e.RawPacket)
	if err != nil {
		t.Fatalf("raw packet not a PUSH_DATA: %v", err)
	}
	if len(packet.RXPackets) != 1 {
		t.Fatalf("rxpk count: got %d", len(packet.RXPackets))
	}
}

func TestParsePreservesRawPacketBytes(t *testing.T) {
	eui, _ := lorawan.ParseEUI64("aabbccddeeff0011")
	raw, err := semtech.BuildPushData(eui, semtech.RXPK{
		Tmst: 1, Freq: 868.1, Stat: 1, Modu: "LORA", Datr: "SF9BW125",
		Codr: "4/5", Size: 5, Data: base64.StdEncoding.EncodeToString([]byte{0x40, 1, 2, 3, 4}),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	line := `{"timestamp": 1700000000, "rawPacket": "` + base64.StdEncoding.EncodeToString(raw) + `", "sequenceIndex": 9}`
	entries, err := Parse(strings.NewReader(line)).All()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := entries[0]
	if !e.Valid() {
		t.Fatalf("entry invalid: %v", e.Err)
	}
	if !bytes.Equal(e.RawPacket, raw) {
		t.Fatal("rawPacket was re-encoded; bytes differ")
	}
	if e.GatewayEUI != "aabbccddeeff0011" {
		t.Fatalf("gateway eui: got %q", e.GatewayEUI)
	}
	if e.SequenceIndex != 9 {
		t.Fatalf("sequence index: got %d, want 9", e.SequenceIndex)
	}
	if e.Timestamp != 1700000000 {
		t.Fatalf("timestamp: got %f", e.Timestamp)
	}
}

func TestParseFillsDefaults(t *testing.T) {
	input := validLine + "\n" + validLine
	entries, err := Parse(strings.NewReader(input)).All()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if entries[0].SequenceIndex != 0 || entries[1].SequenceIndex != 1 {
		t.Fatalf("sequence defaults: got %d, %d", entries[0].SequenceIndex, entries[1].SequenceIndex)
	}
	for _, e := range entries {
		if e.Timestamp == 0 {
			t.Fatal("timestamp default not applied")
		}
	}
}
