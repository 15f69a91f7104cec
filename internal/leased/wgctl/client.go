// Package wgctl drives the local WireGuard interface through wg(8) and
// wg-quick(8). Every invocation runs under its own timeout and is retried
// a bounded number of times.
package wgctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
	"github.com/chiquitav2/vpn-leased/pkg/logger"
)

// Options configures a Client.
type Options struct {
	Interface      string
	CommandTimeout time.Duration
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// Client runs wg commands against one interface.
type Client struct {
	runner Runner
	opts   Options
	logger *logger.Logger
}

// New returns a Client backed by os/exec.
func New(opts Options, log *logger.Logger) *Client {
	return NewWithRunner(opts, execRunner{}, log)
}

// NewWithRunner returns a Client using the given Runner.
func NewWithRunner(opts Options, runner Runner, log *logger.Logger) *Client {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Second
	}
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	return &Client{
		runner: runner,
		opts:   opts,
		logger: log.WithComponent("wgctl"),
	}
}

// Interface returns the managed interface name.
func (c *Client) Interface() string {
	return c.opts.Interface
}

// RemovePeer removes a peer from the live interface. A peer that is
// already absent counts as removed.
func (c *Client) RemovePeer(ctx context.Context, publicKey string) error {
	_, err := c.run(ctx, "wg", "set", c.opts.Interface, "peer", publicKey, "remove")
	if err == nil {
		c.logger.Debug("peer removed from interface",
			slog.String("interface", c.opts.Interface),
			slog.String("public_key", logger.KeyPrefix(publicKey)))
		return nil
	}

	present, checkErr := c.HasPeer(ctx, publicKey)
	if checkErr == nil && !present {
		c.logger.Debug("peer already absent from interface",
			slog.String("interface", c.opts.Interface),
			slog.String("public_key", logger.KeyPrefix(publicKey)))
		return nil
	}

	return err
}

// Peers lists the peers currently configured on the interface.
func (c *Client) Peers(ctx context.Context) ([]Peer, error) {
	out, err := c.run(ctx, "wg", "show", c.opts.Interface, "dump")
	if err != nil {
		return nil, err
	}
	return parseDump(string(out)), nil
}

// PeerCount returns the number of live peers.
func (c *Client) PeerCount(ctx context.Context) (int, error) {
	peers, err := c.Peers(ctx)
	if err != nil {
		return 0, err
	}
	return len(peers), nil
}

// HasPeer reports whether publicKey is configured on the interface.
func (c *Client) HasPeer(ctx context.Context, publicKey string) (bool, error) {
	peers, err := c.Peers(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range peers {
		if p.PublicKey == publicKey {
			return true, nil
		}
	}
	return false, nil
}

// Reload applies the on-disk config to the running interface without
// disturbing unchanged peers: wg-quick strip, then wg syncconf.
func (c *Client) Reload(ctx context.Context, configPath string) error {
	stripped, err := c.run(ctx, "wg-quick", "strip", configPath)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp("", "leased-syncconf-*.conf")
	if err != nil {
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError, "cannot create syncconf file", false, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(stripped); err != nil {
		tmp.Close()
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError, "cannot write syncconf file", false, err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError, "cannot close syncconf file", false, err)
	}

	if _, err := c.run(ctx, "wg", "syncconf", c.opts.Interface, tmp.Name()); err != nil {
		return err
	}

	c.logger.Debug("interface reloaded", slog.String("interface", c.opts.Interface))
	return nil
}

// run executes one command with a per-attempt timeout and bounded retries.
func (c *Client) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out []byte

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.RetryBackoff
	policy.MaxInterval = 4 * c.opts.RetryBackoff
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.RetryAttempts)), ctx)

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		cmdCtx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()

		var err error
		out, err = c.runner.Output(cmdCtx, name, args...)
		if err == nil {
			return nil
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return apperrors.NewTunnelError(apperrors.ErrCodeWireGuardTimeout,
				fmt.Sprintf("%s timed out after %s", name, c.opts.CommandTimeout), true, err)
		}
		return apperrors.NewTunnelError(apperrors.ErrCodeWireGuardError,
			fmt.Sprintf("%s %s failed", name, args[0]), true, err)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug("command failed, retrying",
			slog.String("command", name),
			slog.Any("args", redact(args)),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// redact shortens public keys in argument lists before logging.
func redact(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if len(a) == 44 {
			out[i] = logger.KeyPrefix(a)
			continue
		}
		out[i] = a
	}
	return out
}
