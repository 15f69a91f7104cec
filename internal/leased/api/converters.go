package api

import (
	"math"
	"time"

	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	pkgapi "github.com/chiquitav2/vpn-leased/pkg/api"
	"github.com/chiquitav2/vpn-leased/pkg/crypto"
)

const keyDisplayLen = 16

// ConvertToLeaseInfo builds the external view of a lease at now.
func ConvertToLeaseInfo(l store.Lease, now time.Time) pkgapi.LeaseInfo {
	return pkgapi.LeaseInfo{
		LeaseID:          l.LeaseID,
		Tier:             l.Tier,
		Status:           string(l.Status),
		DurationMinutes:  l.DurationMinutes,
		CreatedAt:        l.CreatedAt,
		ExpiresAt:        l.ExpiresAt,
		ExpiredAt:        l.ExpiredAt,
		PeerKey:          crypto.Truncate(l.PeerKey, keyDisplayLen),
		KeyResolved:      l.PeerKey != "",
		Hint:             l.Hint,
		RemainingSeconds: int64(l.Remaining(now) / time.Second),
		Overdue:          l.IsDue(now),
		Attempts:         l.Attempts,
		LastError:        l.LastError,
	}
}

// ConvertToLeaseList builds the list payload.
func ConvertToLeaseList(leases []store.Lease, now time.Time) pkgapi.LeaseListResponse {
	out := pkgapi.LeaseListResponse{Leases: make([]pkgapi.LeaseInfo, 0, len(leases))}
	for _, l := range leases {
		out.Leases = append(out.Leases, ConvertToLeaseInfo(l, now))
		if l.IsActive() {
			out.ActiveCount++
		}
	}
	out.TotalCount = len(out.Leases)
	return out
}

// ConvertToStatusResponse maps the manager status onto the API payload.
func ConvertToStatusResponse(st leasemanager.Status, version string, now time.Time) pkgapi.StatusResponse {
	return pkgapi.StatusResponse{
		Version:         version,
		Interface:       st.Interface,
		Active:          st.Active,
		Expired:         st.Expired,
		Total:           st.Total,
		Overdue:         st.Overdue,
		Unresolved:      st.Unresolved,
		LivePeers:       st.LivePeers,
		LastReconcileAt: st.LastReconcileAt,
		ProfilesByTier:  st.ProfilesByTier,
		Timestamp:       now,
	}
}

// ConvertToTimerSummary maps a lease onto the storefront's timer row.
func ConvertToTimerSummary(l store.Lease, now time.Time) pkgapi.TimerSummary {
	return pkgapi.TimerSummary{
		OrderNumber:          l.LeaseID,
		Tier:                 l.Tier,
		ConfigID:             l.Hint,
		Status:               string(l.Status),
		ExpiresAt:            l.ExpiresAt,
		TimeRemainingMinutes: roundTenth(l.Remaining(now).Minutes()),
		AddedAt:              l.CreatedAt,
	}
}

// ConvertToCheckTimer maps a lease onto the storefront's status payload.
func ConvertToCheckTimer(l store.Lease, now time.Time) pkgapi.CheckTimerResponse {
	remaining := l.Remaining(now)
	key := "unknown"
	if l.PeerKey != "" {
		key = crypto.Truncate(l.PeerKey, keyDisplayLen)
	}
	return pkgapi.CheckTimerResponse{
		OrderNumber:          l.LeaseID,
		Tier:                 l.Tier,
		ConfigID:             l.Hint,
		Status:               string(l.Status),
		ExpiresAt:            l.ExpiresAt,
		TimeRemainingSeconds: remaining.Seconds(),
		TimeRemainingMinutes: remaining.Minutes(),
		PublicKey:            key,
	}
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
