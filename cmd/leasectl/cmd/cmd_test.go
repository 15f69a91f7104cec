package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiquitav2/vpn-leased/pkg/api"
)

func TestRemaining(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	expiredAt := now.Add(-2 * time.Hour)

	tests := []struct {
		name  string
		lease api.LeaseInfo
		want  string
	}{
		{"active", api.LeaseInfo{Status: "active", ExpiresAt: now.Add(3 * time.Minute)}, "3 minutes from now"},
		{"overdue", api.LeaseInfo{Status: "active", Overdue: true, ExpiresAt: now.Add(-5 * time.Minute)}, "overdue since 5 minutes ago"},
		{"expired", api.LeaseInfo{Status: "expired", ExpiredAt: &expiredAt}, "expired 2 hours ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, remaining(tt.lease, now))
		})
	}
}

func TestWriteLeaseTable(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	err := writeLeaseTable(&buf, []api.LeaseInfo{
		{LeaseID: "L1", Tier: "basic", Status: "active", ExpiresAt: now.Add(time.Hour), KeyResolved: true, PeerKey: "abcdefgh..."},
		{LeaseID: "L2", Tier: "premium", Status: "active", ExpiresAt: now.Add(2 * time.Hour)},
	}, now)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "LEASE")
	assert.Contains(t, out, "abcdefgh...")
	assert.Contains(t, out, "(unresolved)")
}

func TestGetCommand_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/leases/L1", r.URL.Path)
		json.NewEncoder(w).Encode(api.Response[api.LeaseInfo]{
			Success: true,
			Data:    api.LeaseInfo{LeaseID: "L1", Tier: "basic", Status: "active"},
		})
	}))
	defer server.Close()

	viper.Set("server", server.URL)
	viper.Set("output", "json")
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"get", "L1"})
	require.NoError(t, rootCmd.Execute())

	var got api.LeaseInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "L1", got.LeaseID)
}

func TestOutputFormat_RejectsUnknown(t *testing.T) {
	viper.Set("output", "yaml")
	t.Cleanup(viper.Reset)

	_, err := outputFormat()
	assert.Error(t, err)
}
