package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/lorawan-replay/replay-server/internal/engine"
	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/internal/sandbox"
	"github.com/lorawan-replay/replay-server/internal/storage"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

func testPipeline(t *testing.T) (*Pipeline, *storage.MemoryStore, *models.DeviceSession) {
	t.Helper()

	devAddr, err := lorawan.ParseDevAddr("26011BDA")
	if err != nil {
		t.Fatalf("parse devaddr: %v", err)
	}
	nwk, err := lorawan.ParseAES128Key("000102030405060708090A0B0C0D0E0F")
	if err != nil {
		t.Fatalf("parse nwk: %v", err)
	}
	app, err := lorawan.ParseAES128Key("F0E0D0C0B0A090807060504030201000")
	if err != nil {
		t.Fatalf("parse app: %v", err)
	}

	session := &models.DeviceSession{DevAddr: devAddr, NwkSKey: nwk, AppSKey: app}
	store := storage.NewMemoryStore()
	if err := store.PutSession(context.Background(), session); err != nil {
		t.Fatalf("put session: %v", err)
	}

	sb := sandbox.New(sandbox.Options{})
	return New(engine.New(store), sandbox.NewRegistry(store, sb)), store, session
}

func uplinkEntry(t *testing.T, session *models.DeviceSession, fCnt uint32, fPort uint8, payload []byte) *models.LogEntry {
	t.Helper()

	phy, err := lorawan.BuildUplink(session.DevAddr, session.NwkSKey, session.AppSKey, fCnt, fPort, payload, false)
	if err != nil {
		t.Fatalf("build uplink: %v", err)
	}
	var eui lorawan.EUI64
	copy(eui[:], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	raw, err := semtech.BuildPushData(eui, semtech.RXPK{
		Tmst: 1, Freq: 868.1, Stat: 1, Modu: "LORA",
		Datr: "SF7BW125", Codr: "4/5", Size: len(phy),
		Data: base64.StdEncoding.EncodeToString(phy),
	})
	if err != nil {
		t.Fatalf("build push data: %v", err)
	}
	return &models.LogEntry{
		Timestamp:  1700000000,
		GatewayEUI: eui.String(),
		RawPacket:  raw,
		Direction:  models.DirectionUplink,
	}
}

func TestRunDecodesWithRawBuiltin(t *testing.T) {
	p, _, session := testPipeline(t)

	entries := []*models.LogEntry{
		uplinkEntry(t, session, 1, 2, []byte{0xCA, 0xFE}),
	}
	records := p.Run(context.Background(), entries, "raw")

	if len(records) != 1 {
		t.Fatalf("records: got %d, want 1", len(records))
	}
	r := records[0]
	if r.Error != "" {
		t.Fatalf("unexpected error: %s", r.Error)
	}
	if r.DevAddr != "26011BDA" || r.FCnt != 1 || r.FPort != 2 || !r.MICValid {
		t.Fatalf("record: %+v", r)
	}
	if r.PayloadHex != "cafe" {
		t.Fatalf("payload hex: got %s", r.PayloadHex)
	}
	out := r.DecoderOutput.(map[string]any)
	if out["payload_hex"] != "cafe" {
		t.Fatalf("decoder output: %v", out)
	}
}

func TestRunOneRecordPerEntryWithErrors(t *testing.T) {
	p, _, session := testPipeline(t)

	// second entry targets a DevAddr with no session
	stranger := *session
	addr, _ := lorawan.ParseDevAddr("DEADBEEF")
	stranger.DevAddr = addr

	entries := []*models.LogEntry{
		uplinkEntry(t, session, 1, 1, []byte{1}),
		uplinkEntry(t, &stranger, 1, 1, []byte{2}),
		uplinkEntry(t, session, 2, 1, []byte{3}),
	}
	records := p.Run(context.Background(), entries, "")

	if len(records) != len(entries) {
		t.Fatalf("records: got %d, want %d", len(records), len(entries))
	}
	if records[0].Error != "" || records[2].Error != "" {
		t.Fatalf("known-device entries failed: %+v", records)
	}
	if records[1].Error == "" || !strings.Contains(records[1].Error, "unknown device") {
		t.Fatalf("unknown device not reported: %+v", records[1])
	}
	if records[1].Index != 1 {
		t.Fatalf("index: got %d, want 1", records[1].Index)
	}
}

func TestRunInvalidEntryProducesErrorRecord(t *testing.T) {
	p, _, session := testPipeline(t)

	lines := "not json at all\n"
	entries, err := logstore.Parse(strings.NewReader(lines)).All()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	entries = append(entries, uplinkEntry(t, session, 1, 1, []byte{7}))

	records := p.Run(context.Background(), entries, "raw")
	if len(records) != 2 {
		t.Fatalf("records: got %d, want 2", len(records))
	}
	if records[0].Error == "" {
		t.Fatal("malformed line should carry an error")
	}
	if records[1].Error != "" {
		t.Fatalf("valid entry failed: %s", records[1].Error)
	}
}

func TestRunUploadedDecoder(t *testing.T) {
	p, store, session := testPipeline(t)

	err := store.CreateDecoder(context.Background(), &models.Decoder{
		Name:   "temp",
		Source: models.DecoderUpload,
		Script: `function decodeUplink(input) { return { data: { t: input.bytes[0] } }; }`,
	})
	if err != nil {
		t.Fatalf("create decoder: %v", err)
	}

	entries := []*models.LogEntry{uplinkEntry(t, session, 1, 1, []byte{21})}
	records := p.Run(context.Background(), entries, "temp")

	out, ok := records[0].DecoderOutput.(map[string]any)
	if !ok {
		t.Fatalf("output: %+v", records[0])
	}
	if v, _ := out["t"].(int64); v != 21 {
		t.Fatalf("decoded value: got %v, want 21", out["t"])
	}
}
