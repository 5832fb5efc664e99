// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tickd/internal/config"
	"github.com/ManuGH/tickd/internal/log"
)

// PerformStartupChecks validates the environment and dependencies before
// starting the server.
func PerformStartupChecks(_ context.Context, cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkDBDir(logger, cfg.DBPath); err != nil {
		return fmt.Errorf("database directory check failed: %w", err)
	}
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

// checkDBDir verifies the SQLite database directory exists and is writable.
func checkDBDir(logger zerolog.Logger, dbPath string) error {
	dir := filepath.Dir(dbPath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", dir, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", dir).Msg("✓ Database directory is writable")
	return nil
}

// checkTargetedValidations performs runtime-critical validations.
func checkTargetedValidations(logger zerolog.Logger, cfg config.Config) error {
	// a. Listen Address (Parseable)
	if cfg.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", cfg.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, cfg.ListenAddr)
		}
		logger.Info().Str("addr", cfg.ListenAddr).Msg("✓ Listen address is valid")
	}

	// b. Upstream Base URL (Syntax + Scheme)
	if err := checkHTTPURL("TICKD_UPSTREAM_URL", cfg.UpstreamBaseURL); err != nil {
		return err
	}
	logger.Info().Str("url", cfg.UpstreamBaseURL).Msg("✓ Upstream base URL is valid")

	// c. Notifier URL (optional; dispatch disabled when empty)
	if cfg.NotifyURL == "" {
		logger.Warn().Msg("notifier URL not configured; notification dispatch disabled")
	} else {
		if err := checkHTTPURL("TICKD_NOTIFY_URL", cfg.NotifyURL); err != nil {
			return err
		}
		logger.Info().Str("url", cfg.NotifyURL).Msg("✓ Notifier URL is valid")
	}

	// d. Redis Address (host:port)
	if _, _, err := net.SplitHostPort(cfg.RedisAddr); err != nil {
		return fmt.Errorf("invalid redis address %q: %w", cfg.RedisAddr, err)
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("✓ Redis address is valid")

	return nil
}

func checkHTTPURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", key, raw)
	}
	return nil
}
