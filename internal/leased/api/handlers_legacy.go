package api

import (
	"fmt"
	"net/http"

	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/pkg/api"
)

// The storefront calls these routes and reads flat payloads.

func (s *Server) startTimerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var legacy api.StartTimerRequest
		if err := parseLegacyRequest(r, &legacy); err != nil {
			writeLegacyError(w, r, asValidation(err))
			return
		}
		req := legacy.ToCreateLease()
		if err := ValidateCreateLeaseRequest(&req); err != nil {
			writeLegacyError(w, r, asValidation(err))
			return
		}

		res, err := s.leases.Create(ctx, leasemanager.CreateParams{
			LeaseID:         req.LeaseID,
			Tier:            req.Tier,
			DurationMinutes: req.DurationMinutes.IntPtr(),
			Hint:            req.Hint,
		})
		if err != nil {
			writeLegacyError(w, r, err)
			return
		}

		msg := fmt.Sprintf("Timer started for order %s", res.Lease.LeaseID)
		if res.Existing {
			msg = fmt.Sprintf("Timer already exists for order %s", res.Lease.LeaseID)
		}

		_ = WriteJSON(w, http.StatusOK, api.StartTimerResponse{
			Success:         true,
			Existing:        res.Existing,
			OrderNumber:     res.Lease.LeaseID,
			Tier:            res.Lease.Tier,
			ConfigID:        res.Lease.Hint,
			DurationMinutes: res.Lease.DurationMinutes,
			Message:         msg,
		})
	}
}

func (s *Server) checkTimerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := s.leases.Get(r.Context(), r.PathValue("orderNumber"))
		if err != nil {
			writeLegacyError(w, r, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, ConvertToCheckTimer(l, s.now()))
	}
}

func (s *Server) forceExpireHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderNumber := r.PathValue("orderNumber")

		res, err := s.leases.ForceExpire(r.Context(), orderNumber)
		if err != nil {
			writeLegacyError(w, r, err)
			return
		}

		msg := fmt.Sprintf("Order %s expired", orderNumber)
		if res.AlreadyExpired {
			msg = fmt.Sprintf("Order %s was already expired", orderNumber)
		}
		_ = WriteJSON(w, http.StatusOK, api.ForceExpireResponse{
			Success:     true,
			OrderNumber: orderNumber,
			Message:     msg,
		})
	}
}

func (s *Server) listTimersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leases, err := s.leases.List(r.Context(), leasemanager.ListFilter{})
		if err != nil {
			writeLegacyError(w, r, err)
			return
		}

		now := s.now()
		resp := api.ListTimersResponse{Timers: make([]api.TimerSummary, 0, len(leases))}
		for _, l := range leases {
			resp.Timers = append(resp.Timers, ConvertToTimerSummary(l, now))
			if l.IsActive() {
				resp.ActiveCount++
			}
		}
		resp.TotalCount = len(resp.Timers)

		_ = WriteJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) legacyHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = WriteJSON(w, http.StatusOK, api.LegacyHealthResponse{
			Status:    "healthy",
			Version:   s.version,
			Timestamp: s.now(),
		})
	}
}

func (s *Server) legacyStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := s.now()
		st := s.leases.Status(r.Context())

		wg := api.LegacyWireGuardStatus{Status: "active", ActivePeers: st.LivePeers}
		if st.LivePeers < 0 {
			wg = api.LegacyWireGuardStatus{Status: "error", ActivePeers: 0}
		}

		_ = WriteJSON(w, http.StatusOK, api.LegacyStatusResponse{
			Daemon:    "running",
			Version:   s.version,
			Timestamp: now,
			Timers:    ConvertToStatusResponse(st, s.version, now),
			Configs:   st.ProfilesByTier,
			WireGuard: wg,
		})
	}
}
