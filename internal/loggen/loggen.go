// Package loggen synthesizes traffic logs with valid ABP uplinks, for
// demos and end-to-end testing without a radio.
package loggen

import (
	"encoding/base64"
	"fmt"
	"io"
	"math/rand"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EU868 uplink channels used round-robin
var channels = []float64{868.1, 868.3, 868.5}

// Device is one simulated ABP end device
type Device struct {
	DevAddr lorawan.DevAddr
	NwkSKey lorawan.AES128Key
	AppSKey lorawan.AES128Key
	FPort   uint8
	FCnt    uint32
}

// Options shapes a generated log
type Options struct {
	GatewayEUI lorawan.EUI64
	Devices    []*Device
	Entries    int
	Start      time.Time
	Interval   time.Duration

	// Payload builds the cleartext application payload for entry i;
	// nil means a two-byte counter.
	Payload func(i int) []byte

	// Seed fixes the radio-metadata randomness; zero means random
	Seed int64
}

// Generate writes one JSON line per entry, devices round-robin. Frame
// counters advance on the devices as a side effect so repeated calls
// continue the sequence.
func Generate(w io.Writer, opts Options) error {
	if len(opts.Devices) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	if opts.Entries <= 0 {
		return fmt.Errorf("entry count must be positive")
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().UTC()
	}
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	payload := opts.Payload
	if payload == nil {
		payload = func(i int) []byte { return []byte{byte(i >> 8), byte(i)} }
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	for i := 0; i < opts.Entries; i++ {
		device := opts.Devices[i%len(opts.Devices)]
		phy, err := lorawan.BuildUplink(device.DevAddr, device.NwkSKey, device.AppSKey,
			device.FCnt, device.FPort, payload(i), false)
		if err != nil {
			return fmt.Errorf("build uplink %d: %w", i, err)
		}
		device.FCnt++

		at := opts.Start.Add(time.Duration(i) * opts.Interval)
		rxpk := semtech.RXPK{
			Time: at.Format(time.RFC3339),
			Tmst: uint32(at.UnixMicro()),
			Freq: channels[i%len(channels)],
			Stat: 1,
			Modu: "LORA",
			Datr: "SF7BW125",
			Codr: "4/5",
			RSSI: float64(-110 + rng.Intn(40)),
			LSNR: float64(rng.Intn(13)) - 2.5,
			Size: len(phy),
			Data: base64.StdEncoding.EncodeToString(phy),
		}

		line, err := json.Marshal(struct {
			GatewayEUI string       `json:"gatewayEui"`
			RXPK       semtech.RXPK `json:"rxpk"`
		}{GatewayEUI: opts.GatewayEUI.String(), RXPK: rxpk})
		if err != nil {
			return fmt.Errorf("marshal entry %d: %w", i, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write entry %d: %w", i, err)
		}
	}
	return nil
}
