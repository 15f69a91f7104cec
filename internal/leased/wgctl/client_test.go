package wgctl

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

const (
	keyA = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
	keyB = "HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw="
)

type response struct {
	out []byte
	err error
}

type fakeRunner struct {
	mu        sync.Mutex
	calls     []string
	responses map[string][]response
	onCall    func(ctx context.Context, cmd string) ([]byte, error)
	syncFile  string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string][]response)}
}

// queue registers responses for a command prefix, consumed in order;
// the last one repeats.
func (f *fakeRunner) queue(prefix string, rs ...response) {
	f.responses[prefix] = append(f.responses[prefix], rs...)
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, cmd)

	if name == "wg" && len(args) > 0 && args[0] == "syncconf" {
		data, _ := os.ReadFile(args[2])
		f.syncFile = string(data)
	}

	if f.onCall != nil {
		return f.onCall(ctx, cmd)
	}

	for prefix, rs := range f.responses {
		if strings.HasPrefix(cmd, prefix) {
			r := rs[0]
			if len(rs) > 1 {
				f.responses[prefix] = rs[1:]
			}
			return r.out, r.err
		}
	}
	return nil, nil
}

func (f *fakeRunner) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func newTestClient(r Runner, attempts int) *Client {
	return NewWithRunner(Options{
		Interface:      "wg0",
		CommandTimeout: 50 * time.Millisecond,
		RetryAttempts:  attempts,
		RetryBackoff:   time.Millisecond,
	}, r, logger.NewDiscard())
}

const dump = "PRIVKEY\tSERVERPUB\t51820\toff\n" +
	keyA + "\t(none)\t203.0.113.5:40000\t10.66.0.2/32\t1700000000\t1024\t2048\t25\n" +
	keyB + "\t(none)\t(none)\t10.66.0.3/32,fd00::3/128\t0\t0\t0\toff\n"

func TestPeers_ParsesDump(t *testing.T) {
	fr := newFakeRunner()
	fr.queue("wg show wg0 dump", response{out: []byte(dump)})
	c := newTestClient(fr, 0)

	peers, err := c.Peers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 2)

	assert.Equal(t, keyA, peers[0].PublicKey)
	assert.Equal(t, "203.0.113.5:40000", peers[0].Endpoint)
	assert.Equal(t, []string{"10.66.0.2/32"}, peers[0].AllowedIPs)
	require.NotNil(t, peers[0].LatestHandshake)
	assert.Equal(t, int64(1024), peers[0].TransferRx)
	assert.Equal(t, 25, peers[0].PersistentKeepalive)

	assert.Equal(t, "", peers[1].Endpoint)
	assert.Nil(t, peers[1].LatestHandshake)
	assert.Equal(t, []string{"10.66.0.3/32", "fd00::3/128"}, peers[1].AllowedIPs)

	n, err := c.PeerCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRemovePeer_Success(t *testing.T) {
	fr := newFakeRunner()
	c := newTestClient(fr, 0)

	require.NoError(t, c.RemovePeer(context.Background(), keyA))
	assert.Equal(t, []string{"wg set wg0 peer " + keyA + " remove"}, fr.calls)
}

func TestRemovePeer_AbsentPeerIsSuccess(t *testing.T) {
	fr := newFakeRunner()
	fr.queue("wg set", response{err: errors.New("exit status 1")})
	fr.queue("wg show wg0 dump", response{out: []byte("PRIVKEY\tSERVERPUB\t51820\toff\n" + keyB + "\t(none)\t(none)\t10.66.0.3/32\t0\t0\t0\toff\n")})
	c := newTestClient(fr, 0)

	assert.NoError(t, c.RemovePeer(context.Background(), keyA))
}

func TestRemovePeer_FailureWhilePresent(t *testing.T) {
	fr := newFakeRunner()
	fr.queue("wg set", response{err: errors.New("exit status 1")})
	fr.queue("wg show wg0 dump", response{out: []byte(dump)})
	c := newTestClient(fr, 2)

	err := c.RemovePeer(context.Background(), keyA)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeWireGuardError))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 3, fr.count("wg set"), "one attempt plus two retries")
}

func TestRemovePeer_RetrySucceeds(t *testing.T) {
	fr := newFakeRunner()
	fr.queue("wg set", response{err: errors.New("busy")}, response{})
	c := newTestClient(fr, 2)

	require.NoError(t, c.RemovePeer(context.Background(), keyA))
	assert.Equal(t, 2, fr.count("wg set"))
}

func TestRun_Timeout(t *testing.T) {
	fr := newFakeRunner()
	fr.onCall = func(ctx context.Context, cmd string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newTestClient(fr, 0)

	_, err := c.Peers(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeWireGuardTimeout))
}

func TestRun_ParentContextCancelled(t *testing.T) {
	fr := newFakeRunner()
	c := newTestClient(fr, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Peers(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fr.count("wg"))
}

func TestReload_StripThenSyncconf(t *testing.T) {
	fr := newFakeRunner()
	stripped := "[Interface]\nPrivateKey = X\nListenPort = 51820\n"
	fr.queue("wg-quick strip", response{out: []byte(stripped)})
	c := newTestClient(fr, 0)

	require.NoError(t, c.Reload(context.Background(), "/etc/wireguard/wg0.conf"))

	require.Len(t, fr.calls, 2)
	assert.Equal(t, "wg-quick strip /etc/wireguard/wg0.conf", fr.calls[0])
	assert.True(t, strings.HasPrefix(fr.calls[1], "wg syncconf wg0 "))
	assert.Equal(t, stripped, fr.syncFile)
}

func TestReload_StripFailureSkipsSyncconf(t *testing.T) {
	fr := newFakeRunner()
	fr.queue("wg-quick strip", response{err: errors.New("parse error")})
	c := newTestClient(fr, 0)

	require.Error(t, c.Reload(context.Background(), "/etc/wireguard/wg0.conf"))
	assert.Equal(t, 0, fr.count("wg syncconf"))
}
