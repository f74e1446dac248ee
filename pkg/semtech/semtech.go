// Package semtech implements the subset of the Semtech UDP packet
// forwarder protocol needed to record and replay gateway uplinks.
package semtech

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// Protocol constants
const (
	ProtocolVersion = 2

	PushData = 0x00
	PushAck  = 0x01
	PullData = 0x02
	PullResp = 0x03
	PullAck  = 0x04
	TxAck    = 0x05

	headerLen = 12
)

// RXPK is one received radio packet as reported by a gateway
type RXPK struct {
	Time string  `json:"time,omitempty"`
	Tmst uint32  `json:"tmst"`
	Freq float64 `json:"freq"`
	Chan *int    `json:"chan,omitempty"`
	RFCh int     `json:"rfch"`
	Stat int     `json:"stat"`
	Modu string  `json:"modu"`
	Datr string  `json:"datr"`
	Codr string  `json:"codr"`
	RSSI float64 `json:"rssi"`
	LSNR float64 `json:"lsnr"`
	Size int     `json:"size"`
	Data string  `json:"data"` // base64 PHYPayload
}

// PushDataPacket is a parsed PUSH_DATA datagram
type PushDataPacket struct {
	Token      uint16
	GatewayEUI lorawan.EUI64
	RXPackets  []RXPK
}

// ParsePushData parses a raw PUSH_DATA datagram: 1-byte protocol
// version, 2-byte token, 1-byte identifier, 8-byte gateway EUI and a
// JSON body carrying an rxpk array.
func ParsePushData(data []byte) (*PushDataPacket, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("datagram too short: %d bytes", len(data))
	}
	if data[0] != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", data[0])
	}
	if data[3] != PushData {
		return nil, fmt.Errorf("not a PUSH_DATA packet: identifier 0x%02x", data[3])
	}

	p := &PushDataPacket{
		Token: binary.BigEndian.Uint16(data[1:3]),
	}
	copy(p.GatewayEUI[:], data[4:12])

	if len(data) > headerLen {
		var body struct {
			RXPK []RXPK `json:"rxpk"`
		}
		if err := json.Unmarshal(data[headerLen:], &body); err != nil {
			return nil, fmt.Errorf("parse PUSH_DATA body: %w", err)
		}
		p.RXPackets = body.RXPK
	}

	return p, nil
}

// BuildPushData assembles a PUSH_DATA datagram for one rxpk with a
// fresh random token.
func BuildPushData(gatewayEUI lorawan.EUI64, rxpk RXPK) ([]byte, error) {
	body, err := json.Marshal(struct {
		RXPK []RXPK `json:"rxpk"`
	}{RXPK: []RXPK{rxpk}})
	if err != nil {
		return nil, fmt.Errorf("marshal rxpk: %w", err)
	}

	packet := make([]byte, headerLen, headerLen+len(body))
	packet[0] = ProtocolVersion
	if _, err := rand.Read(packet[1:3]); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	packet[3] = PushData
	copy(packet[4:12], gatewayEUI[:])

	return append(packet, body...), nil
}
