// Package scanner builds per-file summaries of recorded traffic.
package scanner

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/lorawan-replay/replay-server/internal/logstore"
	"github.com/lorawan-replay/replay-server/internal/models"
	"github.com/lorawan-replay/replay-server/pkg/lorawan"
	"github.com/lorawan-replay/replay-server/pkg/semtech"
)

// maxReportedErrors caps the per-line error list in a summary
const maxReportedErrors = 50

// Summarize consumes a log entry sequence in one forward pass and
// returns an immutable summary. DevAddr extraction needs only the MAC
// header, never a session key; frames whose header cannot be read
// still count as valid entries but stay out of the DevAddr set.
func Summarize(fileID string, r *logstore.Reader) (*models.ScanSummary, error) {
	summary := &models.ScanSummary{FileID: fileID}
	gateways := make(map[string]struct{})
	devAddrs := make(map[string]struct{})

	for {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}

		summary.TotalEntries++
		if !entry.Valid() {
			summary.InvalidEntries++
			if len(summary.Errors) < maxReportedErrors {
				summary.Errors = append(summary.Errors, entry.Err.Error())
			}
			continue
		}
		summary.ValidEntries++
		gateways[entry.GatewayEUI] = struct{}{}

		if summary.TimeRangeStart == 0 || entry.Timestamp < summary.TimeRangeStart {
			summary.TimeRangeStart = entry.Timestamp
		}
		if entry.Timestamp > summary.TimeRangeEnd {
			summary.TimeRangeEnd = entry.Timestamp
		}

		for _, addr := range entryDevAddrs(entry) {
			devAddrs[addr.String()] = struct{}{}
		}
	}

	summary.Gateways = sortedKeys(gateways)
	summary.DevAddrs = sortedKeys(devAddrs)
	return summary, nil
}

// entryDevAddrs pulls DevAddrs out of the entry's uplink frames
// without decrypting anything.
func entryDevAddrs(entry *models.LogEntry) []lorawan.DevAddr {
	packet, err := semtech.ParsePushData(entry.RawPacket)
	if err != nil {
		return nil
	}

	var addrs []lorawan.DevAddr
	for _, rxpk := range packet.RXPackets {
		phy, err := base64.StdEncoding.DecodeString(rxpk.Data)
		if err != nil || len(phy) < 5 {
			continue
		}
		mtype := lorawan.MType((phy[0] >> 5) & 0x07)
		if !mtype.IsUplinkData() {
			continue
		}
		addrs = append(addrs, lorawan.DevAddrFromLE(phy[1:5]))
	}
	return addrs
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
