// Package inject delivers out-of-band prompts into the bridge chat loop:
// spool files dropped by scripts (or `tako inject`) and cron-scheduled
// entries from the config. Delivered text carries a "[SYSTEM] " prefix so
// the agent can tell injected prompts from typed ones.
package inject

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// SystemPrefix marks injected prompts in the conversation.
	SystemPrefix = "[SYSTEM] "

	defaultPollInterval = 2 * time.Second
)

// Injection is one out-of-band prompt ready to run.
type Injection struct {
	Text       string
	NewSession bool
}

// spoolFile is the on-disk shape of one injection.
type spoolFile struct {
	Text       string `json:"text"`
	NewSession bool   `json:"new_session"`
}

// Watcher sweeps a spool directory for injection files. Polling is the
// source of truth; fsnotify events only wake the sweep early.
type Watcher struct {
	dir      string
	interval time.Duration
}

// NewWatcher builds a watcher over dir.
func NewWatcher(dir string) *Watcher {
	return &Watcher{dir: dir, interval: defaultPollInterval}
}

// Run sweeps the spool directory until ctx is done. Each valid file is
// removed before delivery so a file is never delivered twice.
func (w *Watcher) Run(ctx context.Context, deliver func(Injection)) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("inject: create spool dir: %w", err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if fsw, err := fsnotify.NewWatcher(); err != nil {
		slog.Warn("inject: fsnotify unavailable; relying on polling", "error", err)
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.dir); err != nil {
			slog.Warn("inject: watch spool dir failed; relying on polling", "dir", w.dir, "error", err)
		} else {
			events = fsw.Events
			errs = fsw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweep(deliver)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sweep(deliver)
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.sweep(deliver)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Debug("inject: fsnotify error", "error", err)
		}
	}
}

// sweep processes every spool file once, in name order. Bad files are moved
// aside so they cannot wedge the loop.
func (w *Watcher) sweep(deliver func(Injection)) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("inject: read spool dir", "dir", w.dir, "error", err)
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(w.dir, name)
		f, err := readSpoolFile(path)
		if err != nil {
			w.quarantine(path, err)
			continue
		}
		// Remove before delivering: a delivery that crashes downstream must
		// not cause a re-run on the next sweep.
		if err := os.Remove(path); err != nil {
			slog.Warn("inject: remove spool file", "path", path, "error", err)
			continue
		}
		text := strings.TrimSpace(f.Text)
		if text == "" {
			slog.Warn("inject: spool file has no text", "file", name)
			continue
		}
		slog.Info("injection accepted", "file", name, "new_session", f.NewSession)
		deliver(Injection{Text: SystemPrefix + text, NewSession: f.NewSession})
	}
}

func (w *Watcher) quarantine(path string, cause error) {
	bad := strings.TrimSuffix(path, ".json") + ".bad"
	if err := os.Rename(path, bad); err != nil {
		slog.Warn("inject: quarantine failed", "path", path, "error", err)
		return
	}
	slog.Warn("inject: bad spool file moved aside", "path", bad, "cause", cause)
}

func readSpoolFile(path string) (spoolFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return spoolFile{}, fmt.Errorf("read: %w", err)
	}
	var f spoolFile
	if err := json.Unmarshal(data, &f); err != nil {
		return spoolFile{}, fmt.Errorf("parse: %w", err)
	}
	return f, nil
}
