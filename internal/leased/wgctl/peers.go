package wgctl

import (
	"strconv"
	"strings"
	"time"
)

// Peer is one line of `wg show <iface> dump`.
type Peer struct {
	PublicKey           string
	Endpoint            string
	AllowedIPs          []string
	LatestHandshake     *time.Time
	TransferRx          int64
	TransferTx          int64
	PersistentKeepalive int
}

// parseDump parses `wg show <iface> dump`. The first line describes the
// interface (4 fields); every following line is a peer (8 fields).
func parseDump(output string) []Peer {
	var peers []Peer

	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) <= 4 {
			continue
		}

		peer := Peer{PublicKey: parts[0]}

		if parts[2] != "(none)" {
			peer.Endpoint = parts[2]
		}
		if parts[3] != "(none)" {
			peer.AllowedIPs = strings.Split(parts[3], ",")
		}

		if len(parts) > 4 && parts[4] != "0" {
			if ts, err := strconv.ParseInt(parts[4], 10, 64); err == nil {
				tm := time.Unix(ts, 0)
				peer.LatestHandshake = &tm
			}
		}
		if len(parts) > 5 {
			peer.TransferRx, _ = strconv.ParseInt(parts[5], 10, 64)
		}
		if len(parts) > 6 {
			peer.TransferTx, _ = strconv.ParseInt(parts[6], 10, 64)
		}
		if len(parts) > 7 {
			peer.PersistentKeepalive, _ = strconv.Atoi(parts[7])
		}

		peers = append(peers, peer)
	}

	return peers
}
