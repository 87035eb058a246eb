// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ytmpd/ytmpd/internal/config"
	"github.com/ytmpd/ytmpd/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before
// the daemon starts. Configuration syntax is already covered by
// config.Validate; these checks probe the filesystem and binaries.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkDataDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	for _, p := range []string{cfg.TrackDBPath, cfg.StateFilePath, cfg.CommandSocketPath} {
		if err := ensureParentDir(p); err != nil {
			return fmt.Errorf("path check failed for %s: %w", p, err)
		}
	}

	if err := checkResolver(logger, cfg.YTDLPPath); err != nil {
		return err
	}

	checkMPDSocket(logger, cfg.MPDSocketPath)

	if cfg.CatalogBaseURL == "" {
		logger.Warn().Msg("catalog baseURL not configured; sync will fail until one is set")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; track cache may be lost on reboot")
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create directory %s: %w", path, err)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("✓ Data directory is writable")
	return nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("cannot create parent directory %s: %w", dir, err)
	}
	return nil
}

func checkResolver(logger zerolog.Logger, bin string) error {
	if bin == "" {
		bin = "yt-dlp"
	}
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("yt-dlp binary not found (%s): %w", bin, err)
	}
	logger.Info().Str("path", resolved).Msg("✓ yt-dlp binary available")
	return nil
}

// checkMPDSocket warns when a unix socket path does not exist yet. MPD may
// legitimately start after ytmpd, so this is never fatal.
func checkMPDSocket(logger zerolog.Logger, addr string) {
	if !strings.HasPrefix(addr, "/") {
		logger.Info().Str("addr", addr).Msg("✓ MPD address configured (tcp)")
		return
	}
	if _, err := os.Stat(addr); err != nil {
		logger.Warn().
			Str(log.FieldSocketPath, addr).
			Msg("MPD socket not present yet; playlist sync will retry on each run")
		return
	}
	logger.Info().Str(log.FieldSocketPath, addr).Msg("✓ MPD socket present")
}
