package models

import (
	"time"

	"github.com/lorawan-replay/replay-server/pkg/lorawan"
)

// DeviceSession holds the ABP session material for one DevAddr.
// DevAddr is the unique key; the last write wins.
type DeviceSession struct {
	DevAddr lorawan.DevAddr   `json:"devAddr"`
	Name    string            `json:"name,omitempty"`
	NwkSKey lorawan.AES128Key `json:"nwkSKey"`
	AppSKey lorawan.AES128Key `json:"appSKey"`

	// LastFCnt is the highest 32-bit frame counter seen; it only
	// advances, and drives 16-to-32 bit counter extension.
	LastFCnt uint32 `json:"lastFrameCounter"`

	UpdatedAt time.Time `json:"updatedAt"`
}
