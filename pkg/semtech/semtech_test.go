package semtech

import (
	"testing"

	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

func TestBuildParsePushData(t *testing.T) {
	eui, err := lorawan.ParseEUI64("0102030405060708")
	if err != nil {
		t.Fatalf("parse eui: %v", err)
	}

	rxpk := RXPK{
		Tmst: 1000000,
		Freq: 868.3,
		RFCh: 0,
		Stat: 1,
		Modu: "LORA",
		Datr: "SF7BW125",
		Codr: "4/5",
		RSSI: -62,
		LSNR: 5.5,
		Size: 21,
		Data: "QNobASYAKgAB9vlG/dY0Zbo=",
	}

	raw, err := BuildPushData(eui, rxpk)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if raw[0] != ProtocolVersion {
		t.Fatalf("version byte: got %d, want %d", raw[0], ProtocolVersion)
	}
	if raw[3] != PushData {
		t.Fatalf("identifier: got 0x%02x, want 0x00", raw[3])
	}

	p, err := ParsePushData(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.GatewayEUI != eui {
		t.Fatalf("gateway eui: got %s, want %s", p.GatewayEUI, eui)
	}
	if len(p.RXPackets) != 1 {
		t.Fatalf("rxpk count: got %d, want 1", len(p.RXPackets))
	}
	if p.RXPackets[0].Data != rxpk.Data {
		t.Fatalf("data: got %q, want %q", p.RXPackets[0].Data, rxpk.Data)
	}
	if p.RXPackets[0].Datr != "SF7BW125" {
		t.Fatalf("datr: got %q", p.RXPackets[0].Datr)
	}
}

func TestParsePushDataRejectsGarbage(t *testing.T) {
	if _, err := ParsePushData([]byte{0x02, 0x00}); err == nil {
		t.Fatal("expected error for short datagram")
	}

	bad := make([]byte, 12)
	bad[0] = 0x01 // wrong protocol version
	if _, err := ParsePushData(bad); err == nil {
		t.Fatal("expected error for wrong protocol version")
	}

	notPush := make([]byte, 12)
	notPush[0] = ProtocolVersion
	notPush[3] = PullData
	if _, err := ParsePushData(notPush); err == nil {
		t.Fatal("expected error for non-PUSH_DATA identifier")
	}
}
