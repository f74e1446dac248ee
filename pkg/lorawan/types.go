package lorawan

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EUI64 represents an 8-byte Extended Unique Identifier
type EUI64 [8]byte

// String returns hex string representation
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalJSON implements json.Marshaler
func (e EUI64) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (e *EUI64) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseEUI64(s)
	if err != nil {
		return err
	}

	*e = parsed
	return nil
}

// ParseEUI64 parses a hex string into an EUI64
func ParseEUI64(s string) (EUI64, error) {
	var e EUI64

	b, err := hex.DecodeString(cleanHex(s))
	if err != nil {
		return e, fmt.Errorf("invalid EUI64 hex: %w", err)
	}
	if len(b) != 8 {
		return e, fmt.Errorf("invalid EUI64 length: %d", len(b))
	}

	copy(e[:], b)
	return e, nil
}

// DevAddr represents a 4-byte device address, stored most significant
// byte first (the order network servers display it in). The LoRaWAN
// frame carries it little-endian; see LEBytes.
type DevAddr [4]byte

// String returns the uppercase hex representation
func (d DevAddr) String() string {
	return strings.ToUpper(hex.EncodeToString(d[:]))
}

// LEBytes returns the address in the byte order used on the wire
func (d DevAddr) LEBytes() []byte {
	return []byte{d[3], d[2], d[1], d[0]}
}

// MarshalJSON implements json.Marshaler
func (d DevAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DevAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseDevAddr(s)
	if err != nil {
		return err
	}

	*d = parsed
	return nil
}

// ParseDevAddr parses a big-endian hex string into a DevAddr
func ParseDevAddr(s string) (DevAddr, error) {
	var d DevAddr

	b, err := hex.DecodeString(cleanHex(s))
	if err != nil {
		return d, fmt.Errorf("invalid DevAddr hex: %w", err)
	}
	if len(b) != 4 {
		return d, fmt.Errorf("invalid DevAddr length: %d", len(b))
	}

	copy(d[:], b)
	return d, nil
}

// DevAddrFromLE builds a DevAddr from the 4 wire-order bytes of a frame
func DevAddrFromLE(b []byte) DevAddr {
	return DevAddr{b[3], b[2], b[1], b[0]}
}

// AES128Key represents a 128-bit AES key
type AES128Key [16]byte

// String returns hex string representation
func (k AES128Key) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalJSON implements json.Marshaler
func (k AES128Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (k *AES128Key) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseAES128Key(s)
	if err != nil {
		return err
	}

	*k = parsed
	return nil
}

// ParseAES128Key parses a 32-char hex string into an AES128Key
func ParseAES128Key(s string) (AES128Key, error) {
	var k AES128Key

	b, err := hex.DecodeString(cleanHex(s))
	if err != nil {
		return k, fmt.Errorf("invalid key hex: %w", err)
	}
	if len(b) != 16 {
		return k, fmt.Errorf("invalid key length: %d bytes, want 16", len(b))
	}

	copy(k[:], b)
	return k, nil
}

// cleanHex strips the separators people paste along with hex keys
func cleanHex(s string) string {
	r := strings.NewReplacer(" ", "", ":", "", "-", "")
	return r.Replace(strings.TrimSpace(s))
}

// MType represents the message type
type MType byte

const (
	JoinRequest MType = iota
	JoinAccept
	UnconfirmedDataUp
	UnconfirmedDataDown
	ConfirmedDataUp
	ConfirmedDataDown
	RFU
	Proprietary
)

// IsUplinkData reports whether the type is an uplink data frame
func (m MType) IsUplinkData() bool {
	return m == UnconfirmedDataUp || m == ConfirmedDataUp
}

// Major represents the LoRaWAN major version
type Major byte

const (
	LoRaWAN1_0 Major = 0
	LoRaWAN1_1 Major = 1
)
