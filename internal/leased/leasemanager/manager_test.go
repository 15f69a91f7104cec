package leasemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/vpn-leased/internal/leased/events"
	"github.com/chiquitav2/vpn-leased/internal/leased/resolver"
	"github.com/chiquitav2/vpn-leased/internal/leased/revoker"
	"github.com/chiquitav2/vpn-leased/internal/leased/store"
	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/crypto"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

type fakeTunnel struct {
	mu        sync.Mutex
	live      map[string]bool
	removeErr error
	countErr  error
	removes   int
	reloads   int
}

func (f *fakeTunnel) RemovePeer(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removes++
	delete(f.live, key)
	return nil
}

func (f *fakeTunnel) Reload(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeTunnel) PeerCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.live), nil
}

func (f *fakeTunnel) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[key]
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type env struct {
	dir         string
	configPath  string
	profilesDir string
	keys        map[string]string
	tunnel      *fakeTunnel
	clock       *fakeClock
	store       *store.Store
	mgr         Manager
}

// newEnv writes an interface config with one commented peer per id.
func newEnv(t *testing.T, ids ...string) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:         dir,
		configPath:  filepath.Join(dir, "wg0.conf"),
		profilesDir: filepath.Join(dir, "profiles"),
		keys:        make(map[string]string),
		tunnel:      &fakeTunnel{live: make(map[string]bool)},
		clock:       &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, os.MkdirAll(filepath.Join(e.profilesDir, "monthly"), 0o755))

	var b strings.Builder
	b.WriteString("[Interface]\nPrivateKey = SERVERKEY\nListenPort = 51820\n")
	for i, id := range ids {
		kp, err := crypto.GenerateKeyPair()
		require.NoError(t, err)
		e.keys[id] = kp.PublicKey
		e.tunnel.live[kp.PublicKey] = true
		fmt.Fprintf(&b, "\n# Order %s\n[Peer]\nPublicKey = %s\nAllowedIPs = 10.66.0.%d/32\n", id, kp.PublicKey, i+2)
	}
	require.NoError(t, os.WriteFile(e.configPath, []byte(b.String()), 0o600))

	e.open(t)
	return e
}

func (e *env) open(t *testing.T) {
	t.Helper()
	log := logger.NewDiscard()
	st, err := store.Open(filepath.Join(e.dir, "state", "leases.json"), filepath.Join(e.dir, "state", "peers.json"), log)
	require.NoError(t, err)
	e.store = st
	e.mgr = New(Deps{
		Store:       st,
		Resolver:    resolver.New(e.configPath, e.profilesDir, log),
		Revoker:     revoker.New(e.tunnel, e.configPath, log),
		Peers:       e.tunnel,
		Bus:         events.NewBus(log),
		Interface:   "wg0",
		ProfilesDir: e.profilesDir,
		Now:         e.clock.Now,
	}, log)
}

func (e *env) config(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(e.configPath)
	require.NoError(t, err)
	return string(data)
}

func minutes(n int) *int { return &n }

func TestCreate_RoundTrip(t *testing.T) {
	e := newEnv(t, "A1")
	ctx := context.Background()

	res, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "monthly", DurationMinutes: minutes(90)})
	require.NoError(t, err)
	assert.False(t, res.Existing)
	assert.Equal(t, e.keys["A1"], res.Lease.PeerKey)

	got, err := e.mgr.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, 90*time.Minute, got.Remaining(e.clock.Now()))

	rec, ok := e.store.Peer("A1")
	require.True(t, ok)
	assert.Equal(t, e.keys["A1"], rec.PeerKey)
}

func TestCreate_TierDefaultsAndValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.mgr.Create(ctx, CreateParams{LeaseID: "T1", Tier: "Trial"})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Lease.DurationMinutes)
	assert.Equal(t, "trial", res.Lease.Tier)

	res, err = e.mgr.Create(ctx, CreateParams{LeaseID: "Z0", Tier: "custom", DurationMinutes: minutes(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Lease.DurationMinutes)

	tests := []struct {
		name string
		p    CreateParams
		code string
	}{
		{"unknown tier without duration", CreateParams{LeaseID: "X1", Tier: "weekly"}, apperrors.ErrCodeInvalidTier},
		{"negative duration", CreateParams{LeaseID: "X2", Tier: "monthly", DurationMinutes: minutes(-1)}, apperrors.ErrCodeValidation},
		{"empty id", CreateParams{LeaseID: "  ", Tier: "monthly"}, apperrors.ErrCodeValidation},
		{"id with slash", CreateParams{LeaseID: "../x", Tier: "monthly"}, apperrors.ErrCodeValidation},
		{"missing tier", CreateParams{LeaseID: "X3"}, apperrors.ErrCodeValidation},
		{"bad hint", CreateParams{LeaseID: "X4", Tier: "monthly", Hint: "a b"}, apperrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.mgr.Create(ctx, tt.p)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetErrorCode(err))
		})
	}
	assert.Len(t, e.store.List(), 2)
}

func TestCreate_DuplicateReturnsExisting(t *testing.T) {
	e := newEnv(t, "A1")
	ctx := context.Background()

	first, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "monthly"})
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	second, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "trial", DurationMinutes: minutes(5)})
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.Lease.ExpiresAt, second.Lease.ExpiresAt)
	assert.Equal(t, "monthly", second.Lease.Tier)
}

func TestCreate_UnresolvedKeyStillCreated(t *testing.T) {
	e := newEnv(t)

	res, err := e.mgr.Create(context.Background(), CreateParams{LeaseID: "GHOST", Tier: "monthly"})
	require.NoError(t, err)
	assert.Empty(t, res.Lease.PeerKey)
	assert.Equal(t, store.StatusActive, res.Lease.Status)
}

func TestExpireDue_ZeroDurationExpiresOnNextPass(t *testing.T) {
	e := newEnv(t, "Z1")
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "Z1", Tier: "test", DurationMinutes: minutes(0)})
	require.NoError(t, err)

	report, err := e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Expired)

	got, err := e.mgr.Get(ctx, "Z1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)

	assert.False(t, e.tunnel.has(e.keys["Z1"]))
	assert.NotContains(t, e.config(t), e.keys["Z1"])
	assert.Equal(t, 1, e.tunnel.reloads)
}

func TestExpireDue_ConcurrentWithControlCalls(t *testing.T) {
	const n = 30
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("C%02d", i)
	}
	e := newEnv(t, ids...)
	ctx := context.Background()

	errs := make(chan error, 3*n)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if _, err := e.mgr.Create(ctx, CreateParams{LeaseID: id, Tier: "test", DurationMinutes: minutes(0)}); err != nil {
				errs <- fmt.Errorf("create %s: %w", id, err)
			}
		}(id)
		go func() {
			defer wg.Done()
			report, err := e.mgr.ExpireDue(ctx)
			if err != nil {
				errs <- err
				return
			}
			if report.Failed > 0 {
				errs <- fmt.Errorf("%d leases failed enforcement", report.Failed)
			}
			if st := e.mgr.Status(ctx); st.Active+st.Expired != st.Total {
				errs <- fmt.Errorf("inconsistent status: %+v", st)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	report, err := e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Failed)

	st := e.mgr.Status(ctx)
	assert.Equal(t, n, st.Total)
	assert.Equal(t, n, st.Expired)
	assert.Zero(t, st.Active)

	conf := e.config(t)
	for _, id := range ids {
		assert.False(t, e.tunnel.has(e.keys[id]), "peer %s still live", id)
		assert.NotContains(t, conf, e.keys[id])
	}

	e.open(t)
	assert.Equal(t, n, e.mgr.Status(ctx).Expired)
}

func TestExpireDue_NeverBeforeExpiry(t *testing.T) {
	e := newEnv(t, "A1")
	ctx := context.Background()

	res, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "trial"})
	require.NoError(t, err)

	e.clock.Advance(15*time.Minute - time.Second)
	report, err := e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Due)
	assert.True(t, e.tunnel.has(e.keys["A1"]))

	e.clock.Advance(time.Second)
	_, err = e.mgr.ExpireDue(ctx)
	require.NoError(t, err)

	got, err := e.mgr.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)
	assert.False(t, got.ExpiredAt.Before(res.Lease.ExpiresAt))
}

func TestExpireDue_LiveFailureKeepsLeaseActive(t *testing.T) {
	e := newEnv(t, "A1")
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "test", DurationMinutes: minutes(0)})
	require.NoError(t, err)
	before := e.config(t)

	e.tunnel.removeErr = apperrors.NewTunnelError(apperrors.ErrCodeWireGuardTimeout, "wg set timed out", true, nil)
	report, err := e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got, _ := e.mgr.Get(ctx, "A1")
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.LastError, "live_remove")
	assert.Equal(t, before, e.config(t), "config must not be edited while the live peer remains")

	e.tunnel.removeErr = nil
	report, err = e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	got, _ = e.mgr.Get(ctx, "A1")
	assert.Equal(t, store.StatusExpired, got.Status)
	assert.Empty(t, got.LastError)
}

func TestExpireDue_IndependentLeases(t *testing.T) {
	e := newEnv(t, "A1", "B2")
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "test", DurationMinutes: minutes(0)})
	require.NoError(t, err)
	_, err = e.mgr.Create(ctx, CreateParams{LeaseID: "B2", Tier: "monthly"})
	require.NoError(t, err)

	_, err = e.mgr.ExpireDue(ctx)
	require.NoError(t, err)

	b, err := e.mgr.Get(ctx, "B2")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, b.Status)
	assert.Equal(t, e.keys["B2"], b.PeerKey)
	assert.True(t, e.tunnel.has(e.keys["B2"]))

	cfg := e.config(t)
	assert.Contains(t, cfg, e.keys["B2"])
	assert.Contains(t, cfg, "# Order B2")
	assert.NotContains(t, cfg, "# Order A1")
}

func TestForceExpire_Idempotent(t *testing.T) {
	e := newEnv(t, "A1", "B2")
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "monthly"})
	require.NoError(t, err)

	first, err := e.mgr.ForceExpire(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyExpired)
	assert.Equal(t, store.StatusExpired, first.Lease.Status)
	afterFirst := e.config(t)

	second, err := e.mgr.ForceExpire(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyExpired)
	assert.Equal(t, first.Lease.ExpiredAt, second.Lease.ExpiredAt)

	// a restart followed by another pass must not touch the file again
	e.open(t)
	_, err = e.mgr.ExpireDue(ctx)
	require.NoError(t, err)
	third, err := e.mgr.ForceExpire(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, third.AlreadyExpired)

	assert.Equal(t, afterFirst, e.config(t))
	assert.Equal(t, 1, e.tunnel.removes)
	assert.Equal(t, 1, e.tunnel.reloads)
}

func TestForceExpire_UnresolvedKeyFails(t *testing.T) {
	e := newEnv(t, "A1")
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "GHOST", Tier: "monthly"})
	require.NoError(t, err)

	_, err = e.mgr.ForceExpire(ctx, "GHOST")
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeKeyNotFound))

	var re *apperrors.RevocationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, apperrors.PhaseResolve, re.Phase)

	got, err := e.mgr.Get(ctx, "GHOST")
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 0, e.tunnel.removes)
}

func TestForceExpire_NotFound(t *testing.T) {
	e := newEnv(t)

	_, err := e.mgr.ForceExpire(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.DomainErrLeaseNotFound))
}

func TestForceExpire_ResolvesLateKey(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "LATE", Tier: "monthly"})
	require.NoError(t, err)

	// the peer is added to the interface after the lease was sold
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	e.tunnel.live[kp.PublicKey] = true
	f, err := os.OpenFile(e.configPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, "\n# LATE\n[Peer]\nPublicKey = %s\nAllowedIPs = 10.66.0.50/32\n", kp.PublicKey)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := e.mgr.ForceExpire(ctx, "LATE")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, res.Lease.PeerKey)
	assert.False(t, e.tunnel.has(kp.PublicKey))
	assert.NotContains(t, e.config(t), kp.PublicKey)

	rec, ok := e.store.Peer("LATE")
	require.True(t, ok)
	assert.Equal(t, kp.PublicKey, rec.PeerKey)
}

func TestRestartDurability(t *testing.T) {
	e := newEnv(t, "A1", "B2", "C3")
	ctx := context.Background()

	for _, id := range []string{"A1", "B2", "C3", "GHOST"} {
		_, err := e.mgr.Create(ctx, CreateParams{LeaseID: id, Tier: "monthly", Hint: "cfg-" + id})
		require.NoError(t, err)
	}
	_, err := e.mgr.ForceExpire(ctx, "B2")
	require.NoError(t, err)

	leases := e.store.List()
	peers := map[string]store.PeerRecord{}
	for _, id := range []string{"A1", "B2", "C3"} {
		p, ok := e.store.Peer(id)
		require.True(t, ok)
		peers[id] = p
	}

	e.open(t)

	reloaded := e.store.List()
	require.Len(t, reloaded, len(leases))
	for i := range leases {
		assert.Equal(t, leases[i].LeaseID, reloaded[i].LeaseID)
		assert.Equal(t, leases[i].Status, reloaded[i].Status)
		assert.True(t, leases[i].ExpiresAt.Equal(reloaded[i].ExpiresAt))
		assert.Equal(t, leases[i].PeerKey, reloaded[i].PeerKey)
		assert.Equal(t, leases[i].Hint, reloaded[i].Hint)
	}
	for id, want := range peers {
		got, ok := e.store.Peer(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	assert.False(t, e.store.NeedsPeerRebuild())
}

func TestSyncPeerCache(t *testing.T) {
	e := newEnv(t, "A1", "B2")
	ctx := context.Background()

	// leases created before their peers were known, then the cache file lost
	for _, id := range []string{"A1", "B2"} {
		_, _, err := e.store.Create(store.NewLease(id, "monthly", 60, "", e.clock.Now()), nil)
		require.NoError(t, err)
	}

	n, err := e.mgr.SyncPeerCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, ok := e.store.Peer("B2")
	require.True(t, ok)
	assert.Equal(t, e.keys["B2"], rec.PeerKey)

	n, err = e.mgr.SyncPeerCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStatus(t *testing.T) {
	e := newEnv(t, "A1", "B2")
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(e.profilesDir, "monthly", "A1.conf"), []byte("[Interface]\n"), 0o600))

	_, err := e.mgr.Create(ctx, CreateParams{LeaseID: "A1", Tier: "monthly"})
	require.NoError(t, err)
	_, err = e.mgr.Create(ctx, CreateParams{LeaseID: "B2", Tier: "test", DurationMinutes: minutes(0)})
	require.NoError(t, err)
	_, err = e.mgr.Create(ctx, CreateParams{LeaseID: "GHOST", Tier: "test", DurationMinutes: minutes(0)})
	require.NoError(t, err)

	st := e.mgr.Status(ctx)
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 2, st.Overdue)
	assert.Equal(t, 1, st.Unresolved)
	assert.Equal(t, 2, st.LivePeers)
	assert.Nil(t, st.LastReconcileAt)
	assert.Equal(t, 1, st.ProfilesByTier["monthly"])
	assert.Equal(t, 0, st.ProfilesByTier["annual"])

	_, err = e.mgr.ExpireDue(ctx)
	require.NoError(t, err)

	e.tunnel.countErr = errors.New("wg show failed")
	st = e.mgr.Status(ctx)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 1, st.Overdue, "the unresolved lease stays active past expiry")
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, -1, st.LivePeers)
	assert.NotNil(t, st.LastReconcileAt)
}

func TestList_Filters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i, tier := range []string{"monthly", "annual", "monthly"} {
		_, err := e.mgr.Create(ctx, CreateParams{LeaseID: fmt.Sprintf("L%d", i), Tier: tier})
		require.NoError(t, err)
	}

	all, err := e.mgr.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	monthly, err := e.mgr.List(ctx, ListFilter{Tier: "Monthly", Status: "active"})
	require.NoError(t, err)
	assert.Len(t, monthly, 2)

	_, err = e.mgr.List(ctx, ListFilter{Status: "revoking"})
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetErrorCode(err))
}
