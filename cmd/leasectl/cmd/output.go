package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/chiquitav2/vpn-leased/pkg/api"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// remaining renders time left relative to now, e.g. "3 minutes from now",
// "expired 2 hours ago" or "overdue since 5 minutes ago".
func remaining(l api.LeaseInfo, now time.Time) string {
	switch {
	case l.Status == "expired" && l.ExpiredAt != nil:
		return "expired " + humanize.RelTime(*l.ExpiredAt, now, "ago", "from now")
	case l.Overdue:
		return "overdue since " + humanize.RelTime(l.ExpiresAt, now, "ago", "from now")
	default:
		return humanize.RelTime(l.ExpiresAt, now, "ago", "from now")
	}
}

func keyColumn(l api.LeaseInfo) string {
	if !l.KeyResolved {
		return "(unresolved)"
	}
	return l.PeerKey
}

func writeLeaseTable(w io.Writer, leases []api.LeaseInfo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LEASE\tTIER\tSTATUS\tEXPIRES\tKEY\tATTEMPTS")
	for _, l := range leases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			l.LeaseID, l.Tier, l.Status, remaining(l, now), keyColumn(l), l.Attempts)
	}
	return tw.Flush()
}

func writeLeaseDetail(w io.Writer, l api.LeaseInfo, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Lease:\t%s\n", l.LeaseID)
	fmt.Fprintf(tw, "Tier:\t%s\n", l.Tier)
	fmt.Fprintf(tw, "Status:\t%s\n", l.Status)
	fmt.Fprintf(tw, "Duration:\t%d minutes\n", l.DurationMinutes)
	fmt.Fprintf(tw, "Created:\t%s\n", l.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(tw, "Expires:\t%s (%s)\n", l.ExpiresAt.Format(time.RFC3339), remaining(l, now))
	fmt.Fprintf(tw, "Peer key:\t%s\n", keyColumn(l))
	if l.Hint != "" {
		fmt.Fprintf(tw, "Hint:\t%s\n", l.Hint)
	}
	if l.Attempts > 0 {
		fmt.Fprintf(tw, "Attempts:\t%s\n", humanize.Comma(int64(l.Attempts)))
		fmt.Fprintf(tw, "Last error:\t%s\n", l.LastError)
	}
	return tw.Flush()
}

func writeStatus(w io.Writer, st api.StatusResponse, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Interface:\t%s\n", st.Interface)
	if st.Version != "" {
		fmt.Fprintf(tw, "Version:\t%s\n", st.Version)
	}
	fmt.Fprintf(tw, "Active:\t%d\n", st.Active)
	fmt.Fprintf(tw, "Expired:\t%d\n", st.Expired)
	fmt.Fprintf(tw, "Overdue:\t%d\n", st.Overdue)
	fmt.Fprintf(tw, "Unresolved keys:\t%d\n", st.Unresolved)
	if st.LivePeers < 0 {
		fmt.Fprintf(tw, "Live peers:\tunavailable\n")
	} else {
		fmt.Fprintf(tw, "Live peers:\t%d\n", st.LivePeers)
	}
	if st.LastReconcileAt != nil {
		fmt.Fprintf(tw, "Last reconcile:\t%s\n", humanize.RelTime(*st.LastReconcileAt, now, "ago", "from now"))
	} else {
		fmt.Fprintf(tw, "Last reconcile:\tnever\n")
	}
	for tier, n := range st.ProfilesByTier {
		fmt.Fprintf(tw, "Profiles (%s):\t%d\n", tier, n)
	}
	return tw.Flush()
}
