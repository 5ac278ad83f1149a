package roaming

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/settings"
	"go.uber.org/zap"
)

// SyncReport describes what the last Sync did.
type SyncReport struct {
	// Pushed lists the keys written to the remote, in push order.
	Pushed []string `json:"pushed"`

	// Pulled lists the remote-only keys added to the cache, sorted.
	Pulled []string `json:"pulled"`

	// RemoteMissing is set when the remote document did not exist.
	RemoteMissing bool `json:"remote_missing"`

	// RemoteUnavailable is set when the remote could not be read and the
	// sync fell back to local state only.
	RemoteUnavailable bool `json:"remote_unavailable"`

	// Duration is the wall time of the sync.
	Duration time.Duration `json:"duration"`
}

// String returns a one-line summary.
func (r SyncReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pushed %d, pulled %d", len(r.Pushed), len(r.Pulled))
	if r.RemoteMissing {
		b.WriteString(", remote missing")
	}
	if r.RemoteUnavailable {
		b.WriteString(", remote unavailable")
	}
	return b.String()
}

// Reporter is implemented by stores that record their last sync.
type Reporter interface {
	LastReport() SyncReport
}

// LastReport returns the report of the most recent Sync.
func (s *DriveStore) LastReport() SyncReport {
	return s.last
}

// Sync reconciles the cache with the remote document.
//
// The merge is local-wins and per key:
//
//  1. The remote document is retrieved. A missing document is an empty
//     remote. Any other failure is returned when there is no local cache;
//     with a local cache it is logged and the sync continues without the
//     remote (nothing is pushed, since the remote content is unknown).
//  2. Every local key, in sorted order, that the remote lacks or holds with
//     a different value is pushed with its own Update call.
//  3. A non-empty remote materializes the cache.
//  4. Remote-only keys are added locally. Local keys are never overwritten.
//
// Push failures do not stop the merge; they are joined into the returned error.
func (s *DriveStore) Sync(ctx context.Context) error {
	start := time.Now()

	// Background pushes must land before the remote is read
	s.Flush()

	report := SyncReport{}
	remoteValues, err := s.fetch(ctx)
	switch {
	case err == nil:
	case remote.IsNotFound(err):
		report.RemoteMissing = true
		remoteValues = map[string]settings.Value{}
	case !s.Cache.Materialized():
		return fmt.Errorf("failed to sync %s: %w", s.ref, err)
	default:
		s.logger.Warn("remote unreadable, syncing local state only", zap.Error(err))
		report.RemoteUnavailable = true
		remoteValues = nil
	}

	var pushErr error
	if s.Cache.Materialized() && !report.RemoteUnavailable {
		report.Pushed, pushErr = s.pushDivergent(ctx, remoteValues)
	}

	report.Pulled = pullMissing(s.Cache, remoteValues)
	if len(report.Pulled) > 0 {
		s.persist(ctx)
	}

	report.Duration = time.Since(start)
	s.last = report

	s.logger.Info("sync complete",
		zap.Strings("pushed", report.Pushed),
		zap.Strings("pulled", report.Pulled),
		zap.Bool("remote_missing", report.RemoteMissing),
		zap.Bool("remote_unavailable", report.RemoteUnavailable),
		zap.Duration("duration", report.Duration))

	if pushErr != nil {
		return fmt.Errorf("failed to push to %s: %w", s.ref, pushErr)
	}
	return nil
}

// fetch retrieves and decodes the remote document.
func (s *DriveStore) fetch(ctx context.Context) (map[string]settings.Value, error) {
	content, err := s.transport.Retrieve(ctx, s.ref)
	if err != nil {
		return nil, err
	}
	values, err := settings.DecodeDocument(content)
	if err != nil {
		return nil, err
	}
	return values, nil
}

// pushDivergent updates the remote once per local key that differs from it.
// Each update carries the remote document with that one key applied, so a
// failed push leaves the other keys of the remote as they were.
func (s *DriveStore) pushDivergent(ctx context.Context, remoteValues map[string]settings.Value) ([]string, error) {
	keys := divergentKeys(s.Cache, remoteValues)
	if len(keys) == 0 {
		return nil, nil
	}

	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	// Supersede every snapshot queued so far
	s.pushed = s.seq.Load()

	working := make(map[string]settings.Value, len(remoteValues)+len(keys))
	for k, v := range remoteValues {
		working[k] = v
	}

	var pushed []string
	var errs []error
	for _, key := range keys {
		local, _ := s.Cache.Lookup(key)
		working[key] = local

		doc, err := settings.EncodeDocument(working)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		if _, err := s.transport.Update(ctx, s.ref, doc); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		pushed = append(pushed, key)
		s.logger.Debug("pushed setting", zap.String("key", key))
	}

	return pushed, errors.Join(errs...)
}

// divergentKeys returns, sorted, the local keys the remote lacks or holds
// with a different value.
func divergentKeys(c *settings.Cache, remoteValues map[string]settings.Value) []string {
	var keys []string
	for _, key := range c.Keys() {
		local, _ := c.Lookup(key)
		theirs, ok := remoteValues[key]
		if !ok || !settings.Equal(local, theirs) {
			keys = append(keys, key)
		}
	}
	return keys
}

// pullMissing adds remote-only keys to the cache and returns them sorted.
// A non-empty remote materializes the cache even when nothing is added.
func pullMissing(c *settings.Cache, remoteValues map[string]settings.Value) []string {
	if len(remoteValues) == 0 {
		return nil
	}
	c.Init()

	keys := make([]string, 0, len(remoteValues))
	for k := range remoteValues {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pulled []string
	for _, key := range keys {
		if c.AddIfAbsent(key, remoteValues[key]) {
			pulled = append(pulled, key)
		}
	}
	return pulled
}
