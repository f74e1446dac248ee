package models

// DecodedFrame is the output of a successful MAC-layer decrypt
type DecodedFrame struct {
	DevAddr          string `json:"devAddr"`
	FCnt             uint32 `json:"frameCounter"`
	FPort            int    `json:"fPort"` // -1 when absent
	DecryptedPayload []byte `json:"-"`
	MICValid         bool   `json:"micValid"`
}

// DecodedRecord is one row of a decode run: exactly one per input
// uplink, errors included. Immutable once produced.
type DecodedRecord struct {
	Index            int     `json:"index"`
	GatewayEUI       string  `json:"gatewayEui"`
	Timestamp        float64 `json:"timestamp"`
	DevAddr          string  `json:"devAddr,omitempty"`
	FCnt             uint32  `json:"frameCounter"`
	FPort            int     `json:"fPort"`
	DecryptedPayload []byte  `json:"decryptedPayload,omitempty"`
	PayloadHex       string  `json:"payloadHex,omitempty"`
	DecoderName      string  `json:"decoderName"`
	DecoderOutput    any     `json:"decoderOutput,omitempty"`
	MICValid         bool    `json:"micValid"`
	Error            string  `json:"error,omitempty"`
}

// DecoderSource tells where a decoder's code comes from
type DecoderSource string

const (
	DecoderBuiltin DecoderSource = "builtin"
	DecoderUpload  DecoderSource = "upload"
)

// Decoder maps a name to either a built-in identifier or an uploaded
// JavaScript source.
type Decoder struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Source    DecoderSource `json:"source"`
	Script    string        `json:"script,omitempty"`
	CreatedAt float64       `json:"createdAt"`
	UpdatedAt float64       `json:"updatedAt"`
}
