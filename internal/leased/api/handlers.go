package api

import (
	"log/slog"
	"net/http"

	"github.com/chiquitav2/vpn-leased/internal/leased/leasemanager"
	"github.com/chiquitav2/vpn-leased/pkg/api"
)

// healthHandler reports liveness with a summary of enforcement state.
func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := s.leases.Status(r.Context())

		status := "healthy"
		if st.Overdue > 0 || st.LivePeers < 0 {
			status = "degraded"
		}

		response := api.HealthResponse{
			Status:    status,
			Version:   s.version,
			Active:    st.Active,
			Overdue:   st.Overdue,
			LivePeers: st.LivePeers,
		}

		if err := WriteSuccess(w, response); err != nil {
			GetLogger(r.Context()).ErrorCtx(r.Context(), "failed to encode health response", err)
		}
	}
}

// createLeaseHandler registers a lease. Repeating a create returns the
// stored lease with existing=true and status 200 instead of 201.
func (s *Server) createLeaseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req api.CreateLeaseRequest
		if err := ParseJSONRequest(r, &req); err != nil {
			WriteErrorResponse(w, r, asValidation(err))
			return
		}
		if err := ValidateCreateLeaseRequest(&req); err != nil {
			WriteErrorResponse(w, r, asValidation(err))
			return
		}

		res, err := s.leases.Create(ctx, leasemanager.CreateParams{
			LeaseID:         req.LeaseID,
			Tier:            req.Tier,
			DurationMinutes: req.DurationMinutes.IntPtr(),
			Hint:            req.Hint,
		})
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		response := api.CreateLeaseResponse{
			Lease:    ConvertToLeaseInfo(res.Lease, s.now()),
			Existing: res.Existing,
		}

		write := WriteCreated[api.CreateLeaseResponse]
		if res.Existing {
			write = WriteSuccess[api.CreateLeaseResponse]
		}
		if err := write(w, response); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode create response", err)
		}
	}
}

// getLeaseHandler returns one lease
func (s *Server) getLeaseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		l, err := s.leases.Get(ctx, r.PathValue("leaseID"))
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		if err := WriteSuccess(w, ConvertToLeaseInfo(l, s.now())); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode lease response", err)
		}
	}
}

// listLeasesHandler returns leases sorted by expiry
func (s *Server) listLeasesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		params, err := ValidateLeaseListParams(r)
		if err != nil {
			WriteErrorResponse(w, r, asValidation(err))
			return
		}

		leases, err := s.leases.List(ctx, leasemanager.ListFilter{Status: params.Status, Tier: params.Tier})
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}

		if err := WriteSuccess(w, ConvertToLeaseList(leases, s.now())); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode lease list", err)
		}
	}
}

// expireLeaseHandler revokes a lease synchronously.
func (s *Server) expireLeaseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		leaseID := r.PathValue("leaseID")
		op := GetLogger(ctx).StartOp(ctx, "force_expire", slog.String("lease_id", leaseID))

		res, err := s.leases.ForceExpire(ctx, leaseID)
		if err != nil {
			WriteErrorResponse(w, r, err)
			return
		}
		op.Complete("force expire handled", slog.Bool("already_expired", res.AlreadyExpired))

		response := api.ExpireResponse{
			Lease:          ConvertToLeaseInfo(res.Lease, s.now()),
			AlreadyExpired: res.AlreadyExpired,
		}
		if err := WriteSuccess(w, response); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode expire response", err)
		}
	}
}

// statusHandler returns daemon counters
func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		st := s.leases.Status(ctx)

		if err := WriteSuccess(w, ConvertToStatusResponse(st, s.version, s.now())); err != nil {
			GetLogger(ctx).ErrorCtx(ctx, "failed to encode status response", err)
		}
	}
}
