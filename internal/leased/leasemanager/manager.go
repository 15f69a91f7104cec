// Package leasemanager owns lease state transitions. It is the only writer
// of the lease store and is shared by the control API and the
// reconciliation loop.
package leasemanager

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chiquitav2/vpn-leased/internal/leased/events"
	"github.com/chiquitav2/vpn-leased/internal/leased/resolver"
	"github.com/chiquitav2/vpn-leased/internal/leased/revoker"
	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Ids end up as comment tokens in the interface config, so they use the
// same alphabet the config parser splits on.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Manager applies lease operations
type Manager interface {
	Create(ctx context.Context, p CreateParams) (CreateResult, error)
	Get(ctx context.Context, leaseID string) (store.Lease, error)
	List(ctx context.Context, f ListFilter) ([]store.Lease, error)
	ForceExpire(ctx context.Context, leaseID string) (ExpireResult, error)
	ExpireDue(ctx context.Context) (CycleReport, error)
	SyncPeerCache(ctx context.Context) (int, error)
	Status(ctx context.Context) Status
}

// Deps are the collaborators a manager drives
type Deps struct {
	Store       *store.Store
	Resolver    *resolver.Resolver
	Revoker     *revoker.Revoker
	Peers       LivePeers
	Bus         *events.Bus
	Interface   string
	ProfilesDir string
	// Now defaults to time.Now.
	Now func() time.Time
}

type manager struct {
	store       *store.Store
	resolver    *resolver.Resolver
	revoker     *revoker.Revoker
	peers       LivePeers
	bus         *events.Bus
	iface       string
	profilesDir string
	now         func() time.Time
	logger      *logger.Logger

	mu            sync.RWMutex
	lastReconcile *time.Time
}

// New creates a lease manager
func New(deps Deps, log *logger.Logger) Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &manager{
		store:       deps.Store,
		resolver:    deps.Resolver,
		revoker:     deps.Revoker,
		peers:       deps.Peers,
		bus:         deps.Bus,
		iface:       deps.Interface,
		profilesDir: deps.ProfilesDir,
		now:         now,
		logger:      log.WithComponent("leasemanager"),
	}
}

// Create registers a new lease. An existing id returns the stored lease
// untouched. Key resolution is best effort: an unresolved lease is still
// created and resolved again when it falls due.
func (m *manager) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	leaseID := strings.TrimSpace(p.LeaseID)
	hint := strings.TrimSpace(p.Hint)
	tier := strings.ToLower(strings.TrimSpace(p.Tier))

	if !idPattern.MatchString(leaseID) {
		return CreateResult{}, validationError("lease_id must be 1-128 characters of letters, digits, '.', '_' or '-'").
			WithMetadata("lease_id", leaseID)
	}
	if hint != "" && !idPattern.MatchString(hint) {
		return CreateResult{}, validationError("hint must use letters, digits, '.', '_' or '-'").
			WithMetadata("hint", hint)
	}
	if tier == "" {
		return CreateResult{}, validationError("tier is required")
	}

	if cur, ok := m.store.Get(leaseID); ok {
		m.logger.WithContext(ctx).Info("lease already exists",
			slog.String("lease_id", leaseID),
			slog.String("status", string(cur.Status)))
		m.publishLease(ctx, events.TypeLeaseCreated, cur, func(e *events.LeaseEvent) { e.Existing = true })
		return CreateResult{Lease: cur, Existing: true}, nil
	}

	duration, err := durationFor(tier, p.DurationMinutes)
	if err != nil {
		return CreateResult{}, err
	}

	lease := store.NewLease(leaseID, tier, duration, hint, m.now())

	var peer *store.PeerRecord
	res, rerr := m.resolver.Resolve(ctx, m.store, lease)
	if rerr == nil {
		lease.PeerKey = res.PeerKey
		peer = &store.PeerRecord{PeerKey: res.PeerKey, Tier: tier}
	} else {
		m.logger.WarnErr(ctx, "peer key not resolved at creation, will retry at expiry", rerr,
			slog.String("lease_id", leaseID))
	}

	stored, existing, err := m.store.Create(lease, peer)
	if err != nil {
		m.logger.ErrorCtx(ctx, "failed to persist lease", err, slog.String("lease_id", leaseID))
		return CreateResult{}, err
	}

	if !existing {
		m.logger.WithContext(ctx).Info("lease created",
			slog.String("lease_id", stored.LeaseID),
			slog.String("tier", stored.Tier),
			slog.Int("duration_minutes", stored.DurationMinutes),
			slog.Time("expires_at", stored.ExpiresAt),
			slog.Bool("key_resolved", stored.PeerKey != ""))
		if rerr == nil {
			m.publishLease(ctx, events.TypeKeyResolved, stored, func(e *events.LeaseEvent) { e.Strategy = res.Strategy })
		}
	}
	m.publishLease(ctx, events.TypeLeaseCreated, stored, func(e *events.LeaseEvent) { e.Existing = existing })

	return CreateResult{Lease: stored, Existing: existing}, nil
}

func durationFor(tier string, explicit *int) (int, error) {
	if explicit != nil {
		if *explicit < 0 {
			return 0, validationError("duration_minutes must be >= 0").WithMetadata("duration_minutes", *explicit)
		}
		return *explicit, nil
	}
	d, ok := store.DefaultDuration(tier)
	if !ok {
		return 0, apperrors.DomainErrInvalidTier.
			WithMetadata("tier", tier).
			WithMetadata("known_tiers", store.KnownTiers())
	}
	return d, nil
}

// Get returns one lease
func (m *manager) Get(_ context.Context, leaseID string) (store.Lease, error) {
	l, ok := m.store.Get(strings.TrimSpace(leaseID))
	if !ok {
		return store.Lease{}, notFound(leaseID)
	}
	return l, nil
}

// List returns leases sorted by expiry
func (m *manager) List(_ context.Context, f ListFilter) ([]store.Lease, error) {
	status := strings.ToLower(strings.TrimSpace(f.Status))
	if status != "" && status != string(store.StatusActive) && status != string(store.StatusExpired) {
		return nil, validationError("status must be active or expired").WithMetadata("status", f.Status)
	}
	tier := strings.ToLower(strings.TrimSpace(f.Tier))

	all := m.store.List()
	out := all[:0]
	for _, l := range all {
		if status != "" && string(l.Status) != status {
			continue
		}
		if tier != "" && l.Tier != tier {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ForceExpire revokes a lease now, regardless of its expiry. On failure the
// lease stays active and the error is returned.
func (m *manager) ForceExpire(ctx context.Context, leaseID string) (ExpireResult, error) {
	leaseID = strings.TrimSpace(leaseID)
	ctx = logger.WithLeaseID(ctx, leaseID)

	var (
		result  ExpireResult
		pending []events.Event
	)
	err := m.store.Update(func(tx *store.Tx) error {
		l, ok := tx.Get(leaseID)
		if !ok {
			return notFound(leaseID)
		}
		if !l.IsActive() {
			result = ExpireResult{Lease: l, AlreadyExpired: true}
			return nil
		}

		var err error
		result.Lease, pending, err = m.enforce(ctx, tx, l)
		return err
	})
	m.publish(ctx, pending...)

	if err != nil {
		if !apperrors.IsErrorCode(err, apperrors.ErrCodeLeaseNotFound) {
			m.logger.ErrorCtx(ctx, "force expire failed, lease stays active", err)
		}
		return ExpireResult{}, err
	}

	if result.AlreadyExpired {
		m.logger.WithContext(ctx).Info("lease already expired", slog.String("lease_id", leaseID))
	} else {
		m.logger.WithContext(ctx).Info("lease force-expired", slog.String("lease_id", leaseID))
	}
	return result, nil
}

// ExpireDue drives every active lease past its expiry through revocation.
// Each lease gets its own store transaction so API calls interleave with a
// long pass. Failures are recorded on the lease and retried next pass.
func (m *manager) ExpireDue(ctx context.Context) (CycleReport, error) {
	ctx = logger.WithCycleID(ctx, uuid.New().String()[:8])
	op := m.logger.StartOp(ctx, "expire_due")

	var report CycleReport
	start := m.now()

	for _, l := range m.store.ListActive() {
		if !l.IsDue(start) {
			// sorted by expiry
			break
		}
		if err := ctx.Err(); err != nil {
			op.Fail(err, "reconcile pass interrupted")
			return report, err
		}
		report.Due++

		leaseCtx := logger.WithLeaseID(ctx, l.LeaseID)
		var (
			pending []events.Event
			skipped bool
		)
		err := m.store.Update(func(tx *store.Tx) error {
			cur, ok := tx.Get(l.LeaseID)
			if !ok || !cur.IsDue(start) {
				skipped = true
				return nil
			}
			var err error
			_, pending, err = m.enforce(leaseCtx, tx, cur)
			return err
		})
		m.publish(leaseCtx, pending...)

		switch {
		case skipped:
			report.Skipped++
		case err != nil:
			report.Failed++
			m.logger.WarnErr(leaseCtx, "lease not enforced, will retry next pass", err,
				slog.Int("attempts", l.Attempts+1))
		default:
			report.Expired++
		}
	}

	report.Duration = m.now().Sub(start)
	m.markReconciled(start)

	m.publish(ctx, events.NewReconcileEvent(report.Due, report.Expired, report.Failed, report.Failed, report.Duration))

	if report.Due > 0 {
		op.Complete("reconcile pass finished",
			slog.Int("due", report.Due),
			slog.Int("expired", report.Expired),
			slog.Int("failed", report.Failed))
	} else {
		op.Progress("nothing due")
	}
	return report, nil
}

// enforce resolves, revokes and marks one lease inside a transaction. On
// failure the attempt is recorded and kept even though the closure fails.
func (m *manager) enforce(ctx context.Context, tx *store.Tx, l store.Lease) (store.Lease, []events.Event, error) {
	var pending []events.Event

	if l.PeerKey == "" {
		res, err := m.resolver.Resolve(ctx, tx, l)
		if err != nil {
			return m.recordFailure(tx, l, apperrors.NewRevocationError(l.LeaseID, apperrors.PhaseResolve, err), pending)
		}
		l.PeerKey = res.PeerKey
		tx.PutPeer(l.LeaseID, store.PeerRecord{PeerKey: res.PeerKey, Tier: l.Tier})
		pending = append(pending, leaseEvent(events.TypeKeyResolved, l, func(e *events.LeaseEvent) { e.Strategy = res.Strategy }))
	}

	target := revoker.Target{LeaseID: l.LeaseID, PublicKey: l.PeerKey}
	if l.Hint != "" && l.Hint != l.LeaseID {
		target.Aliases = []string{l.Hint}
	}

	if _, err := m.revoker.Revoke(ctx, target); err != nil {
		return m.recordFailure(tx, l, err, pending)
	}

	now := m.now()
	expired := tx.MarkExpired(l, now)
	pending = append(pending, leaseEvent(events.TypeLeaseExpired, expired, func(e *events.LeaseEvent) {
		e.Lateness = now.Sub(l.ExpiresAt)
	}))
	return expired, pending, nil
}

func (m *manager) recordFailure(tx *store.Tx, l store.Lease, err error, pending []events.Event) (store.Lease, []events.Event, error) {
	l.Attempts++
	l.LastError = err.Error()
	tx.Put(l)
	tx.KeepOnError()

	phase := ""
	var re *apperrors.RevocationError
	if errors.As(err, &re) {
		phase = re.Phase
	}
	pending = append(pending, leaseEvent(events.TypeRevocationFailed, l, func(e *events.LeaseEvent) {
		e.Phase = phase
		e.Err = err.Error()
	}))
	return l, pending, err
}

// SyncPeerCache scrapes lease comments from the interface config into the
// peer cache for every known lease and returns how many records changed.
func (m *manager) SyncPeerCache(ctx context.Context) (int, error) {
	cfg, err := m.resolver.Scrape()
	if err != nil {
		m.logger.WarnErr(ctx, "cannot scrape interface config", err)
		return 0, err
	}

	changed := 0
	err = m.store.Update(func(tx *store.Tx) error {
		for _, l := range tx.List() {
			key := resolver.LookupConfig(cfg, l.ProfileIDs())
			if key == "" {
				continue
			}
			if cur, ok := tx.Peer(l.LeaseID); ok && cur.PeerKey == key {
				continue
			}
			tx.PutPeer(l.LeaseID, store.PeerRecord{PeerKey: key, Tier: l.Tier})
			changed++
		}
		tx.RewritePeers()
		return nil
	})
	if err != nil {
		m.logger.ErrorCtx(ctx, "failed to persist peer cache", err)
		return 0, err
	}

	annotated := len(cfg.Annotations())
	m.logger.WithContext(ctx).Info("peer cache synced from interface config",
		slog.Int("annotated_peers", annotated),
		slog.Int("updated", changed))
	m.publish(ctx, events.NewRescanEvent(annotated, changed))
	return changed, nil
}

func (m *manager) markReconciled(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := at
	m.lastReconcile = &t
}

func (m *manager) lastReconciled() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastReconcile == nil {
		return nil
	}
	t := *m.lastReconcile
	return &t
}

func (m *manager) publishLease(ctx context.Context, eventType string, l store.Lease, fill func(*events.LeaseEvent)) {
	m.publish(ctx, leaseEvent(eventType, l, fill))
}

func (m *manager) publish(ctx context.Context, evs ...events.Event) {
	if m.bus == nil {
		return
	}
	for _, e := range evs {
		m.bus.Publish(ctx, e)
	}
}

func leaseEvent(eventType string, l store.Lease, fill func(*events.LeaseEvent)) *events.LeaseEvent {
	e := events.NewLeaseEvent(eventType, l.LeaseID, l.Tier)
	if fill != nil {
		fill(e)
	}
	return e
}

func notFound(leaseID string) apperrors.DomainError {
	return apperrors.DomainErrLeaseNotFound.WithMetadata("lease_id", leaseID)
}

func validationError(msg string) apperrors.DomainError {
	return apperrors.NewLeaseError(apperrors.ErrCodeValidation, msg, false, nil)
}
