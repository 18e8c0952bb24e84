package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/reflib/libraryd/internal/config"
)

// Device is the pluggable MTP backend contract: the device's Shell/COM
// (or platform-equivalent) access is inherently platform-specific, so
// the engine core never talks to it directly, matching the same
// zero-hardcoded-backend boundary mlcontract.Detector/Embedder draw
// around face/embedding models. CopyHere starts an asynchronous copy
// of one device file into destDir and returns immediately; the caller
// polls the filesystem for completion exactly as the copy-then-poll
// protocol in spec.md §4.2 requires, since no filesystem event is
// reliable for a device-initiated copy.
type Device interface {
	ListMediaFiles(ctx context.Context, devicePath string) ([]string, error)
	CopyHere(ctx context.Context, deviceFile, destDir string) error
}

// copyFromMTP copies every media file under devicePath into a scratch
// directory and returns that directory, ready to be walked like any
// local root. Each file gets its own 30s poll-for-existence timeout
// (spec.md §4.2) so one unresponsive transfer does not abort the batch.
func copyFromMTP(ctx context.Context, cfg *config.Config, devicePath string, log *zap.SugaredLogger) (string, error) {
	dev := deviceBackend()
	if dev == nil {
		return "", fmt.Errorf("ingest: no MTP device backend registered for this platform")
	}

	scratch := cfg.ScratchDir()
	if scratch == "" {
		scratch = filepath.Join(os.TempDir(), "libraryd_device_cache")
	}
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return "", fmt.Errorf("ingest: scratch dir: %w", err)
	}

	files, err := dev.ListMediaFiles(ctx, devicePath)
	if err != nil {
		return "", fmt.Errorf("ingest: list device files: %w", err)
	}

	timeout := cfg.MTPCopyTimeout()
	poll := cfg.MTPPollInterval()
	var copied, failed int
	for i, f := range files {
		if ctx.Err() != nil {
			return scratch, ctx.Err()
		}
		if err := dev.CopyHere(ctx, f, scratch); err != nil {
			log.Warnw("ingest: mtp copy submit failed", "file", f, "error", err)
			failed++
			continue
		}
		expected := filepath.Join(scratch, filepath.Base(f))
		if waitForFile(ctx, expected, timeout, poll) {
			copied++
		} else {
			log.Warnw("ingest: mtp copy timed out", "file", f, "timeout", timeout)
			failed++
		}
		log.Infow("ingest: mtp copy progress", "done", i+1, "total", len(files))
	}
	log.Infow("ingest: mtp copy complete", "copied", copied, "failed", failed)
	return scratch, nil
}

// waitForFile polls for path's existence, the portable half of the
// copy-then-poll protocol (CopyHere/device-equivalent calls are always
// asynchronous; no filesystem event is reliable here).
func waitForFile(ctx context.Context, path string, timeout, interval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return false
}

// deviceBackend resolves the platform MTP backend. No pack example
// wires a cross-platform MTP/Shell binding (the teacher never touches
// removable media), so none is registered by default; a caller on a
// platform with one implements Device and assigns RegisterDevice.
var registeredDevice Device

// RegisterDevice installs the platform-specific Device backend, called
// once during process startup by the platform build that has one.
func RegisterDevice(d Device) { registeredDevice = d }

func deviceBackend() Device { return registeredDevice }
