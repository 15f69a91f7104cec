package wgconf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
)

const (
	keyA = "xTIBA5rboUvnH4htodjb6e697QjLERt1NAB4mZqp8Dg="
	keyB = "HIgo9xNzJMWLKASShiTqIybxZ0U3wGLiUeJ1PKf8ykw="
	keyC = "TrMvSoP4jYQlY6RIzBgbssQqY3vxI2Pi+y71lOWWXX0="
)

const sample = `[Interface]
# server side
PrivateKey = SERVERKEY
Address = 10.66.0.1/24
ListenPort = 51820

# Order: 42ABCDEF tier=monthly
[Peer]
PublicKey = ` + keyA + `
AllowedIPs = 10.66.0.2/32

# monthly_007

[Peer]
PublicKey = ` + keyB + `
AllowedIPs = 10.66.0.3/32

[Peer]
# 42ZZZZZZ inline comment
PublicKey = ` + keyC + `
AllowedIPs = 10.66.0.4/32
`

func TestParse_RoundTrip(t *testing.T) {
	inputs := []string{
		sample,
		"",
		"\n",
		"[Interface]\nPrivateKey = x",
		"# only a comment\n",
		"[Interface]\r\nAddress = 10.0.0.1/24\r\n",
	}
	for _, in := range inputs {
		assert.Equal(t, in, string(Parse([]byte(in)).Bytes()))
	}
}

func TestParse_Index(t *testing.T) {
	cfg := Parse([]byte(sample))

	require.Len(t, cfg.Peers(), 3)

	s, ok := cfg.PeerByLease("42ABCDEF")
	require.True(t, ok)
	assert.Equal(t, keyA, s.PublicKey())

	s, ok = cfg.PeerByLease("monthly_007")
	require.True(t, ok, "comment separated from header by a blank line still belongs to the block")
	assert.Equal(t, keyB, s.PublicKey())

	s, ok = cfg.PeerByLease("42ZZZZZZ")
	require.True(t, ok)
	assert.Equal(t, keyC, s.PublicKey())

	_, ok = cfg.PeerByLease("42ABC")
	assert.False(t, ok, "partial ids must not match")

	_, ok = cfg.PeerByLease("server")
	assert.False(t, ok, "interface comments are not indexed")

	s, ok = cfg.PeerByKey(keyB)
	require.True(t, ok)
	assert.Contains(t, s.Tokens(), "monthly_007")
}

const profileComments = `[Interface]
ListenPort = 51820

[Peer]
# client monthly_001.conf (order ORD42)
PublicKey = ` + keyA + `
AllowedIPs = 10.66.0.2/32

[Peer]
# issued for ORD43.
PublicKey = ` + keyB + `
AllowedIPs = 10.66.0.3/32
`

func TestPeerByLease_ProfileFileNameInComment(t *testing.T) {
	cfg := Parse([]byte(profileComments))

	s, ok := cfg.PeerByLease("monthly_001")
	require.True(t, ok)
	assert.Equal(t, keyA, s.PublicKey())

	s, ok = cfg.PeerByLease("monthly_001.conf")
	require.True(t, ok)
	assert.Equal(t, keyA, s.PublicKey())

	s, ok = cfg.PeerByLease("ORD42")
	require.True(t, ok)
	assert.Equal(t, keyA, s.PublicKey())

	s, ok = cfg.PeerByLease("ORD43")
	require.True(t, ok, "trailing period is not part of the id")
	assert.Equal(t, keyB, s.PublicKey())

	_, ok = cfg.PeerByLease("monthly_00")
	assert.False(t, ok, "partial ids must not match")
}

func TestRemovePeer_ByProfileFileNameComment(t *testing.T) {
	cfg := Parse([]byte(profileComments))

	require.True(t, cfg.RemovePeer("", "monthly_001", "ORD99"))
	out := string(cfg.Bytes())
	assert.NotContains(t, out, keyA)
	assert.NotContains(t, out, "monthly_001.conf")
	assert.Contains(t, out, keyB)
}

func TestRemovePeer_ByLeaseComment(t *testing.T) {
	cfg := Parse([]byte(sample))

	require.True(t, cfg.RemovePeer("", "42ABCDEF"))

	out := string(cfg.Bytes())
	assert.NotContains(t, out, keyA)
	assert.NotContains(t, out, "42ABCDEF")
	assert.Contains(t, out, keyB)
	assert.Contains(t, out, keyC)
	assert.Contains(t, out, "ListenPort = 51820\n\n# monthly_007")

	_, ok := cfg.PeerByLease("42ABCDEF")
	assert.False(t, ok)
	require.Len(t, cfg.Peers(), 2)
}

func TestRemovePeer_ByKeyFallback(t *testing.T) {
	cfg := Parse([]byte(sample))

	require.True(t, cfg.RemovePeer(keyC, "UNKNOWN"))
	assert.NotContains(t, string(cfg.Bytes()), keyC)
	assert.NotContains(t, string(cfg.Bytes()), "42ZZZZZZ")
}

func TestRemovePeer_NoMatchIsNoop(t *testing.T) {
	cfg := Parse([]byte(sample))

	assert.False(t, cfg.RemovePeer("", "NOPE"))
	assert.Equal(t, sample, string(cfg.Bytes()))
}

func TestRemovePeer_CommentKeyMismatchPrefersKey(t *testing.T) {
	cfg := Parse([]byte(sample))

	// comment points at keyA's block but the lease's key is keyB
	require.True(t, cfg.RemovePeer(keyB, "42ABCDEF"))
	out := string(cfg.Bytes())
	assert.Contains(t, out, keyA)
	assert.NotContains(t, out, keyB)
}

func TestRemovePeer_Idempotent(t *testing.T) {
	cfg := Parse([]byte(sample))
	require.True(t, cfg.RemovePeer(keyA, "42ABCDEF"))
	first := string(cfg.Bytes())

	assert.False(t, cfg.RemovePeer(keyA, "42ABCDEF"))
	assert.Equal(t, first, string(cfg.Bytes()))
}

func TestAnnotations(t *testing.T) {
	cfg := Parse([]byte(sample))
	anns := cfg.Annotations()
	require.Len(t, anns, 3)
	assert.Equal(t, keyA, anns[0].PublicKey)
	assert.Contains(t, anns[0].Tokens, "42ABCDEF")
}

func TestFile_SaveDetectsConcurrentEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg0.conf")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.True(t, f.Config.RemovePeer(keyA, "42ABCDEF"))

	// operator edit between read and rewrite
	require.NoError(t, os.WriteFile(path, []byte(sample+"\n# edited\n"), 0o600))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	err = f.Save()
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeConfigFileChanged))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), keyA, "changed file must be left untouched")
}

func TestFile_SaveRewritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wg0.conf")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	require.True(t, f.Config.RemovePeer(keyB, "monthly_007"))
	require.NoError(t, f.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), keyB)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a second save after our own write is not a conflict
	assert.NoError(t, f.Save())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeConfigFileError))
}
