// SPDX-License-Identifier: MIT

// Package resolver turns a videoID into a currently valid upstream audio URL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ytmpd/ytmpd/internal/log"
	"github.com/ytmpd/ytmpd/internal/procgroup"
)

// ErrUnavailable indicates the resolver backend cannot run at all (the
// yt-dlp binary is missing). Construction fails fast on it.
var ErrUnavailable = errors.New("resolver: yt-dlp not available")

// Resolver resolves a videoID to an upstream audio URL. Returned URLs are
// ephemeral and expire after a few hours.
type Resolver interface {
	Resolve(ctx context.Context, videoID string) (string, error)
}

// Func adapts a closure to the Resolver interface.
type Func func(ctx context.Context, videoID string) (string, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, videoID string) (string, error) {
	return f(ctx, videoID)
}

// Config holds YTDLP construction parameters.
type Config struct {
	BinPath string        // binary name or path, defaults to "yt-dlp"
	Timeout time.Duration // per-call timeout, defaults to 30s
	Rate    float64       // spawns per second, defaults to 5
	Burst   int           // burst size, defaults to 10
}

// YTDLP resolves URLs by invoking the yt-dlp binary. Calls are paced by a
// token bucket so that a large sync batch does not fork-bomb the host or
// hammer the remote endpoint.
type YTDLP struct {
	bin     string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewYTDLP locates the yt-dlp binary and builds the resolver. Returns
// ErrUnavailable when the binary cannot be found.
func NewYTDLP(cfg Config) (*YTDLP, error) {
	bin := cfg.BinPath
	if bin == "" {
		bin = "yt-dlp"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %q not found in PATH", ErrUnavailable, bin)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := cfg.Rate
	if r <= 0 {
		r = 5
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 10
	}

	return &YTDLP{
		bin:     resolved,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Limit(r), burst),
	}, nil
}

// UpdateRate retunes the pacing bucket; rate.Limiter supports this while
// Resolve calls are in flight. Non-positive values leave the current
// setting untouched.
func (y *YTDLP) UpdateRate(perSecond float64, burst int) {
	if perSecond > 0 {
		y.limiter.SetLimit(rate.Limit(perSecond))
	}
	if burst >= 1 {
		y.limiter.SetBurst(burst)
	}
}

// Resolve runs yt-dlp to obtain the current audio URL for videoID.
func (y *YTDLP) Resolve(ctx context.Context, videoID string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "resolver")

	if err := y.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("resolve %s: %w", videoID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, y.timeout)
	defer cancel()

	watchURL := "https://www.youtube.com/watch?v=" + url.QueryEscape(videoID)
	// #nosec G204 -- binary path is operator-configured, videoID is validated upstream
	cmd := exec.CommandContext(ctx, y.bin,
		"--no-playlist",
		"--format", "bestaudio",
		"--get-url",
		watchURL,
	)
	// On timeout the whole group must go away, not just the direct child.
	procgroup.Set(cmd)
	cmd.Cancel = func() error { return procgroup.Terminate(cmd) }
	cmd.WaitDelay = 3 * time.Second

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			msg := firstLine(string(exitErr.Stderr))
			logger.Debug().
				Str(log.FieldVideoID, videoID).
				Str("stderr", msg).
				Msg("yt-dlp failed")
			return "", fmt.Errorf("resolve %s: yt-dlp: %s: %w", videoID, msg, err)
		}
		return "", fmt.Errorf("resolve %s: %w", videoID, err)
	}

	resolved := firstLine(string(output))
	if resolved == "" {
		return "", fmt.Errorf("resolve %s: yt-dlp produced no URL", videoID)
	}
	u, err := url.Parse(resolved)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("resolve %s: yt-dlp output is not an http(s) URL: %q", videoID, resolved)
	}

	return resolved, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
