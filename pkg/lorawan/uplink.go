package lorawan

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// UplinkFrame is a parsed LoRaWAN 1.0.x uplink data frame
// (MHDR | FHDR | FPort | FRMPayload | MIC).
type UplinkFrame struct {
	MType      MType
	Major      Major
	DevAddr    DevAddr
	FCtrl      byte
	FCnt       uint16
	FOpts      []byte
	FPort      *uint8
	FRMPayload []byte
	MIC        [4]byte

	// MHDR | MACPayload, retained for MIC computation
	micMessage []byte
}

// ParseUplink parses a PHYPayload into an uplink data frame. Frames
// that are not uplink data (joins, downlinks, proprietary) are
// rejected.
func ParseUplink(phy []byte) (*UplinkFrame, error) {
	if len(phy) < 12 {
		return nil, fmt.Errorf("PHYPayload too short: %d bytes", len(phy))
	}

	f := &UplinkFrame{
		MType: MType((phy[0] >> 5) & 0x07),
		Major: Major(phy[0] & 0x03),
	}
	if !f.MType.IsUplinkData() {
		return nil, fmt.Errorf("not an uplink data frame: mtype %d", f.MType)
	}

	macPayload := phy[1 : len(phy)-4]
	copy(f.MIC[:], phy[len(phy)-4:])

	if len(macPayload) < 7 {
		return nil, fmt.Errorf("MACPayload too short: %d bytes", len(macPayload))
	}

	f.DevAddr = DevAddrFromLE(macPayload[0:4])
	f.FCtrl = macPayload[4]
	f.FCnt = binary.LittleEndian.Uint16(macPayload[5:7])

	foptsLen := int(f.FCtrl & 0x0F)
	pos := 7
	if pos+foptsLen > len(macPayload) {
		return nil, fmt.Errorf("invalid FOpts length: %d", foptsLen)
	}
	if foptsLen > 0 {
		f.FOpts = macPayload[pos : pos+foptsLen]
		pos += foptsLen
	}

	if pos < len(macPayload) {
		fport := macPayload[pos]
		f.FPort = &fport
		pos++
		if pos < len(macPayload) {
			f.FRMPayload = macPayload[pos:]
		}
	}

	f.micMessage = phy[:len(phy)-4]
	return f, nil
}

// ComputeMIC computes the 4-byte uplink MIC over the full frame using
// the network session key, with the resolved 32-bit frame counter.
func (f *UplinkFrame) ComputeMIC(nwkSKey AES128Key, fullFCnt uint32) ([4]byte, error) {
	var mic [4]byte

	// B0 block per LoRaWAN 1.0.x
	b0 := make([]byte, 16)
	b0[0] = 0x49
	b0[5] = 0x00 // Dir = 0 for uplink
	copy(b0[6:10], f.DevAddr.LEBytes())
	binary.LittleEndian.PutUint32(b0[10:14], fullFCnt)
	b0[15] = byte(len(f.micMessage))

	msg := make([]byte, 0, 16+len(f.micMessage))
	msg = append(msg, b0...)
	msg = append(msg, f.micMessage...)

	hash, err := aesCMAC(nwkSKey[:], msg)
	if err != nil {
		return mic, fmt.Errorf("compute MIC: %w", err)
	}

	copy(mic[:], hash[0:4])
	return mic, nil
}

// VerifyMIC reports whether the frame's MIC matches the one computed
// with the given key and resolved counter.
func (f *UplinkFrame) VerifyMIC(nwkSKey AES128Key, fullFCnt uint32) (bool, error) {
	expected, err := f.ComputeMIC(nwkSKey, fullFCnt)
	if err != nil {
		return false, err
	}
	return expected == f.MIC, nil
}

// ResolveFCnt extends a received 16-bit frame counter to 32 bits using
// the last known counter. The smallest candidate >= last wins, so the
// result never moves backward across a 16-bit rollover.
func ResolveFCnt(last uint32, fCnt uint16) uint32 {
	candidate := last&0xFFFF0000 | uint32(fCnt)
	if candidate < last {
		candidate += 0x10000
	}
	return candidate
}

// EncryptFRMPayload encrypts or decrypts an FRMPayload (the operation
// is symmetric) with AES-128 in the LoRaWAN counter mode: keystream
// blocks keyed by direction, DevAddr and frame counter, block index
// starting at 1.
func EncryptFRMPayload(key AES128Key, devAddr DevAddr, fCnt uint32, uplink bool, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ai := make([]byte, 16)
	ai[0] = 0x01
	if !uplink {
		ai[5] = 0x01
	}
	copy(ai[6:10], devAddr.LEBytes())
	binary.LittleEndian.PutUint32(ai[10:14], fCnt)

	k := (len(payload) + 15) / 16
	s := make([]byte, 16*k)
	for i := 0; i < k; i++ {
		ai[15] = byte(i + 1)
		block.Encrypt(s[i*16:(i+1)*16], ai)
	}

	out := make([]byte, len(payload))
	for i := range payload {
		out[i] = payload[i] ^ s[i]
	}
	return out, nil
}

// BuildUplink assembles an ABP uplink PHYPayload with an encrypted
// payload and a valid MIC. Used by the traffic generator and tests.
func BuildUplink(devAddr DevAddr, nwkSKey, appSKey AES128Key, fCnt uint32, fPort uint8, payload []byte, confirmed bool) ([]byte, error) {
	mhdr := byte(UnconfirmedDataUp) << 5
	if confirmed {
		mhdr = byte(ConfirmedDataUp) << 5
	}

	key := appSKey
	if fPort == 0 {
		key = nwkSKey
	}
	enc, err := EncryptFRMPayload(key, devAddr, fCnt, true, payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt FRMPayload: %w", err)
	}

	phy := make([]byte, 0, 13+len(enc))
	phy = append(phy, mhdr)
	phy = append(phy, devAddr.LEBytes()...)
	phy = append(phy, 0x00) // FCtrl, no FOpts
	phy = append(phy, byte(fCnt), byte(fCnt>>8))
	phy = append(phy, fPort)
	phy = append(phy, enc...)

	// MIC is computed over MHDR | MACPayload
	frame := &UplinkFrame{DevAddr: devAddr, micMessage: phy}
	mic, err := frame.ComputeMIC(nwkSKey, fCnt)
	if err != nil {
		return nil, err
	}

	return append(phy, mic[:]...), nil
}
