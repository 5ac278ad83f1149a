package roaming

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/steveyegge/roam/internal/cachedb"
	"github.com/steveyegge/roam/internal/remote"
	"github.com/steveyegge/roam/internal/settings"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type Theme string

type Layout struct {
	Columns int      `json:"columns"`
	Panels  []string `json:"panels"`
}

const testUser = "user-1"

func newStore(t *testing.T, drive remote.Transport, autoSync bool) *DriveStore {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UserID = testUser
	cfg.AutoSync = autoSync
	s, err := New(drive, cfg)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(s.Flush)
	return s
}

func settingsRef() remote.Ref {
	return remote.NewRef(testUser, DefaultFileName)
}

// mustSave fails the test when a save fails.
func mustSave[T any](t *testing.T, s RoamingStore, key string, value T) {
	t.Helper()
	if err := Save(s, key, value); err != nil {
		t.Fatalf("Save(%s) failed: %v", key, err)
	}
}

func mustSync(t *testing.T, s RoamingStore) {
	t.Helper()
	if err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

// remoteKeys decodes an update payload and returns its keys, sorted.
func remoteKeys(t *testing.T, content []byte) []string {
	t.Helper()
	values, err := settings.DecodeDocument(content)
	if err != nil {
		t.Fatalf("Failed to decode remote document: %v", err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// remoteContent returns the settings document held by drive.
func remoteContent(t *testing.T, drive *remote.MemoryDrive) []byte {
	t.Helper()
	content, ok := drive.Content(settingsRef())
	if !ok {
		t.Fatal("Expected a remote settings document")
	}
	return content
}

func diffStrings(t *testing.T, what string, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("%s mismatch (-want +got):\n%s", what, diff)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(nil, Config{UserID: testUser}); err == nil {
		t.Error("Expected error for nil transport")
	}

	if _, err := New(remote.NewMemoryDrive(), Config{}); !errors.Is(err, remote.ErrInvalidRef) {
		t.Errorf("Expected ErrInvalidRef, got %v", err)
	}

	s, err := New(remote.NewMemoryDrive(), Config{UserID: testUser})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Ref() != settingsRef() {
		t.Errorf("Ref = %v, want %v", s.Ref(), settingsRef())
	}
}

func TestSaveReadRoundTrip(t *testing.T) {
	s := newStore(t, remote.NewMemoryDrive(), false)

	mustSave(t, s, "width", 800)
	mustSave(t, s, "ratio", 1.5)
	mustSave(t, s, "enabled", true)
	mustSave(t, s, "name", "roam")
	mustSave(t, s, "theme", Theme("dark"))
	mustSave(t, s, "layout", Layout{Columns: 2, Panels: []string{"left", "right"}})

	if got := Read(s, "width", 0); got != 800 {
		t.Errorf("width = %d", got)
	}
	if got := Read(s, "ratio", 0.0); got != 1.5 {
		t.Errorf("ratio = %v", got)
	}
	if !Read(s, "enabled", false) {
		t.Error("enabled = false")
	}
	if got := Read(s, "name", ""); got != "roam" {
		t.Errorf("name = %q", got)
	}
	if got := Read(s, "theme", Theme("light")); got != "dark" {
		t.Errorf("theme = %q", got)
	}

	layout := Read(s, "layout", Layout{})
	if diff := cmp.Diff(Layout{Columns: 2, Panels: []string{"left", "right"}}, layout); diff != "" {
		t.Errorf("layout mismatch (-want +got):\n%s", diff)
	}

	// Missing keys and mismatched types fall back to the default
	if got := Read(s, "missing", 7); got != 7 {
		t.Errorf("missing = %d, want default", got)
	}
	if got := Read(s, "layout", 3); got != 3 {
		t.Errorf("layout as int = %d, want default", got)
	}
}

func TestCompositeOverwritesOnlyNamedSubKeys(t *testing.T) {
	s := newStore(t, remote.NewMemoryDrive(), false)

	if err := SaveComposite(s, "editor", map[string]int{"tab": 4, "wrap": 80}); err != nil {
		t.Fatal(err)
	}
	if got := ReadSub(s, "editor", "tab", 0); got != 4 {
		t.Errorf("tab = %d", got)
	}
	if !s.SubKeyExists("editor", "wrap") {
		t.Error("wrap missing")
	}

	if err := SaveComposite(s, "editor", map[string]int{"tab": 2}); err != nil {
		t.Fatal(err)
	}
	if got := ReadSub(s, "editor", "tab", 0); got != 2 {
		t.Errorf("tab after overwrite = %d", got)
	}
	if got := ReadSub(s, "editor", "wrap", 0); got != 80 {
		t.Errorf("wrap after overwrite = %d", got)
	}

	if ReadSub(s, "editor", "missing", -1) != -1 || ReadSub(s, "nothing", "tab", -1) != -1 {
		t.Error("Missing composite links should give the default")
	}
	if s.SubKeyExists("nothing", "tab") {
		t.Error("SubKeyExists on a missing composite")
	}
}

func TestKeyExistsLifecycle(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, false)
	ctx := context.Background()

	if s.KeyExists("k") {
		t.Error("Absent cache reported a key")
	}

	if err := s.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.KeyExists("k") || !s.Materialized() {
		t.Error("Create should give an empty, materialized cache")
	}

	mustSave(t, s, "k", "v")
	if !s.KeyExists("k") {
		t.Error("k missing after save")
	}

	// A fresh store learns keys from Sync
	drive.Put(settingsRef(), []byte(`{"remote":1}`))
	other := newStore(t, drive, false)
	if other.KeyExists("remote") {
		t.Error("Fresh store knew a remote key before syncing")
	}
	mustSync(t, other)
	if !other.KeyExists("remote") {
		t.Error("remote missing after sync")
	}
}

func TestSyncMergePrecedence(t *testing.T) {
	drive := remote.NewMemoryDrive()
	drive.Put(settingsRef(), []byte(`{"a":99,"c":3}`))

	s := newStore(t, drive, false)
	mustSave(t, s, "a", 1)
	mustSave(t, s, "b", 2)

	mustSync(t, s)

	diffStrings(t, "keys", []string{"a", "b", "c"}, s.Keys())
	for key, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		if got := Read(s, key, 0); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}

	// a diverged and b is missing remotely: one push each, in key order.
	// c is remote-only and is never pushed.
	updates := drive.CallsOf(remote.OpUpdate)
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(updates))
	}
	diffStrings(t, "first push", []string{"a", "c"}, remoteKeys(t, updates[0].Content))
	diffStrings(t, "second push", []string{"a", "b", "c"}, remoteKeys(t, updates[1].Content))

	report := s.LastReport()
	diffStrings(t, "pushed", []string{"a", "b"}, report.Pushed)
	diffStrings(t, "pulled", []string{"c"}, report.Pulled)
	if report.RemoteMissing {
		t.Error("RemoteMissing set for an existing document")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	drive := remote.NewMemoryDrive()
	drive.Put(settingsRef(), []byte(`{"c":3}`))

	s := newStore(t, drive, false)
	mustSave(t, s, "a", 1)
	mustSave(t, s, "layout", Layout{Columns: 3})
	if err := SaveComposite(s, "editor", map[string]string{"font": "mono"}); err != nil {
		t.Fatal(err)
	}

	mustSync(t, s)
	drive.ResetCalls()

	mustSync(t, s)
	if updates := drive.CallsOf(remote.OpUpdate); len(updates) != 0 {
		t.Errorf("Second sync made %d updates", len(updates))
	}
	if r := s.LastReport(); len(r.Pushed) != 0 || len(r.Pulled) != 0 {
		t.Errorf("Second sync pushed %v and pulled %v", r.Pushed, r.Pulled)
	}
}

func TestSyncLargeNumbersAreIdempotent(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, false)
	mustSave(t, s, "big", uint64(math.MaxUint64))
	mustSave(t, s, "small", int64(math.MinInt64))
	mustSave(t, s, "ratio", 0.1)

	mustSync(t, s)
	drive.ResetCalls()

	mustSync(t, s)
	if updates := drive.CallsOf(remote.OpUpdate); len(updates) != 0 {
		t.Errorf("Second sync pushed %v", s.LastReport().Pushed)
	}

	// Another device reads the exact value
	other := newStore(t, drive, false)
	mustSync(t, other)
	if got := Read(other, "big", uint64(0)); got != math.MaxUint64 {
		t.Errorf("big = %d on another device", got)
	}
	if got := Read(other, "small", int64(0)); got != math.MinInt64 {
		t.Errorf("small = %d on another device", got)
	}
}

func TestSyncKeepsRawStrings(t *testing.T) {
	drive := remote.NewMemoryDrive()
	a := newStore(t, drive, false)
	mustSave(t, a, "word", "null")
	mustSync(t, a)

	b := newStore(t, drive, false)
	mustSync(t, b)
	if got := Read(b, "word", "def"); got != "null" {
		t.Errorf("word = %q on another device", got)
	}
}

func TestSyncRemoteMissing(t *testing.T) {
	t.Run("no local cache", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		s := newStore(t, drive, false)

		mustSync(t, s)
		if s.Materialized() {
			t.Error("Sync against nothing materialized the cache")
		}
		if len(drive.CallsOf(remote.OpUpdate)) != 0 {
			t.Error("Sync pushed an empty document")
		}
		if !s.LastReport().RemoteMissing {
			t.Error("RemoteMissing not reported")
		}
	})

	t.Run("local cache is pushed", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		s := newStore(t, drive, false)
		mustSave(t, s, "x", 1)
		mustSave(t, s, "y", 2)

		mustSync(t, s)
		if got := len(drive.CallsOf(remote.OpUpdate)); got != 2 {
			t.Errorf("Expected 2 updates, got %d", got)
		}
		diffStrings(t, "remote keys", []string{"x", "y"}, remoteKeys(t, remoteContent(t, drive)))
	})
}

func TestSyncRemoteUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("first sync surfaces the error", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		drive.FailOn(remote.OpRetrieve, remote.ErrRemoteUnavailable)
		s := newStore(t, drive, false)

		err := s.Sync(ctx)
		if !remote.IsUnavailable(err) {
			t.Fatalf("Expected unavailable error, got %v", err)
		}
		if s.Materialized() {
			t.Error("Failed sync materialized the cache")
		}
	})

	t.Run("local cache keeps working", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		drive.FailOn(remote.OpRetrieve, remote.ErrRemoteUnavailable)
		s := newStore(t, drive, false)
		mustSave(t, s, "x", 1)

		mustSync(t, s)
		if len(drive.CallsOf(remote.OpUpdate)) != 0 {
			t.Error("Pushed while the remote was unavailable")
		}
		if !s.LastReport().RemoteUnavailable {
			t.Error("RemoteUnavailable not reported")
		}
		if got := Read(s, "x", 0); got != 1 {
			t.Errorf("x = %d", got)
		}
	})

	t.Run("corrupt document", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		drive.Put(settingsRef(), []byte(`not json`))
		s := newStore(t, drive, false)

		if err := s.Sync(ctx); err == nil {
			t.Error("Expected error for a corrupt document")
		}
	})
}

func TestSyncPushFailureStillPulls(t *testing.T) {
	drive := remote.NewMemoryDrive()
	drive.Put(settingsRef(), []byte(`{"c":3}`))
	drive.FailOn(remote.OpUpdate, remote.ErrRemoteUnavailable)

	s := newStore(t, drive, false)
	mustSave(t, s, "a", 1)

	err := s.Sync(context.Background())
	if !errors.Is(err, remote.ErrRemoteUnavailable) {
		t.Fatalf("Expected ErrRemoteUnavailable, got %v", err)
	}

	if got := Read(s, "c", 0); got != 3 {
		t.Errorf("c = %d, want pulled value", got)
	}
	if pushed := s.LastReport().Pushed; len(pushed) != 0 {
		t.Errorf("Failed push reported as pushed: %v", pushed)
	}
}

func TestDeleteClearsRegardlessOfRemote(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, true)
	ctx := context.Background()

	mustSave(t, s, "a", 1)
	if err := SaveComposite(s, "group", map[string]int{"x": 1}); err != nil {
		t.Fatal(err)
	}
	s.Flush()

	drive.FailOn(remote.OpDelete, remote.ErrRemoteUnavailable)
	if err := s.Delete(ctx); !remote.IsUnavailable(err) {
		t.Fatalf("Expected unavailable error, got %v", err)
	}

	if s.KeyExists("a") || s.KeyExists("group") || s.Materialized() {
		t.Error("Delete left local state behind")
	}

	// Remote file is still there because the delete failed
	if _, ok := drive.Content(settingsRef()); !ok {
		t.Error("Remote document gone after a failed delete")
	}

	drive.FailOn(remote.OpDelete, nil)
	if err := s.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := drive.Content(settingsRef()); ok {
		t.Error("Remote document survived the delete")
	}

	// Already gone
	if err := s.Delete(ctx); err != nil {
		t.Errorf("Deleting a missing document failed: %v", err)
	}
}

func TestDeleteWithoutAutoSyncKeepsRemote(t *testing.T) {
	drive := remote.NewMemoryDrive()
	drive.Put(settingsRef(), []byte(`{"a":1}`))
	s := newStore(t, drive, false)
	mustSave(t, s, "a", 2)

	if err := s.Delete(context.Background()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.KeyExists("a") {
		t.Error("a survived Delete")
	}
	if len(drive.CallsOf(remote.OpDelete)) != 0 {
		t.Error("Delete without auto-sync touched the remote")
	}
}

func TestRemove(t *testing.T) {
	t.Run("auto-sync pushes the removal", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		s := newStore(t, drive, true)

		mustSave(t, s, "a", 1)
		mustSave(t, s, "b", 2)
		if err := SaveComposite(s, "editor", map[string]int{"tab": 4, "wrap": 80}); err != nil {
			t.Fatal(err)
		}

		if !s.Remove("a") || s.Remove("a") {
			t.Fatal("Remove should report only the first removal")
		}
		if !s.RemoveSub("editor", "tab") || s.RemoveSub("editor", "tab") {
			t.Fatal("RemoveSub should report only the first removal")
		}
		s.Flush()

		content := remoteContent(t, drive)
		diffStrings(t, "remote keys", []string{"b", "editor"}, remoteKeys(t, content))

		other := newStore(t, drive, false)
		mustSync(t, other)
		if other.SubKeyExists("editor", "tab") || !other.SubKeyExists("editor", "wrap") {
			t.Error("Composite removal did not roam")
		}
	})

	t.Run("without auto-sync sync pulls it back", func(t *testing.T) {
		drive := remote.NewMemoryDrive()
		drive.Put(settingsRef(), []byte(`{"a":1}`))
		s := newStore(t, drive, false)
		mustSync(t, s)

		if !s.Remove("a") {
			t.Fatal("Remove did not find a")
		}
		if len(drive.CallsOf(remote.OpUpdate)) != 0 {
			t.Error("Remove without auto-sync touched the remote")
		}

		mustSync(t, s)
		if got := Read(s, "a", 0); got != 1 {
			t.Errorf("a = %d, want the remote value back", got)
		}
	})
}

func TestForbiddenEmptyCreate(t *testing.T) {
	drive := remote.NewMemoryDrive(remote.WithForbidEmptyCreate())
	s := newStore(t, drive, true)
	ctx := context.Background()

	if err := s.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if calls := drive.Calls(); len(calls) != 0 {
		t.Errorf("Create touched the remote: %v", calls)
	}

	if _, err := s.CreateRemote(ctx); !errors.Is(err, remote.ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}

	// Store remains usable; the first push creates the file
	mustSave(t, s, "k", "v")
	s.Flush()

	if got := string(remoteContent(t, drive)); got != `{"k":"v"}` {
		t.Errorf("remote document = %s", got)
	}
}

func TestAutoSyncLastWriteWins(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, true)

	const n = 20
	for i := 0; i < n; i++ {
		mustSave(t, s, fmt.Sprintf("k%02d", i), i)
	}
	s.Flush()

	if got := len(remoteKeys(t, remoteContent(t, drive))); got != n {
		t.Errorf("remote holds %d keys, want %d", got, n)
	}
	if got := len(drive.CallsOf(remote.OpUpdate)); got > n {
		t.Errorf("%d updates for %d writes", got, n)
	}
}

func TestAutoSyncPushErrorsAreReported(t *testing.T) {
	drive := remote.NewMemoryDrive()
	drive.FailOn(remote.OpUpdate, remote.ErrRemoteUnavailable)

	var mu sync.Mutex
	var failed []string

	cfg := DefaultConfig()
	cfg.UserID = testUser
	cfg.AutoSync = true
	cfg.OnPushError = func(key string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if remote.IsUnavailable(err) {
			failed = append(failed, key)
		}
	}
	s, err := New(drive, cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// The local write succeeds even though the push fails
	mustSave(t, s, "a", 1)
	s.Flush()

	if got := Read(s, "a", 0); got != 1 {
		t.Errorf("a = %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	diffStrings(t, "failed pushes", []string{"a"}, failed)
}

func TestPersistedCacheSurvivesRestart(t *testing.T) {
	db, err := cachedb.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("Failed to open cache db: %v", err)
	}
	defer db.Close()

	drive := remote.NewMemoryDrive()
	cfg := DefaultConfig()
	cfg.UserID = testUser
	cfg.Persister = db

	first, err := New(drive, cfg)
	if err != nil {
		t.Fatal(err)
	}
	mustSave(t, first, "theme", Theme("dark"))
	if err := SaveComposite(first, "editor", map[string]int{"tab": 4}); err != nil {
		t.Fatal(err)
	}

	second, err := New(drive, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got := Read(second, "theme", Theme("")); got != "dark" {
		t.Errorf("theme after restart = %q", got)
	}
	if got := ReadSub(second, "editor", "tab", 0); got != 4 {
		t.Errorf("editor/tab after restart = %d", got)
	}

	if !second.Remove("theme") {
		t.Fatal("Remove did not find theme")
	}
	restarted, err := New(drive, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if restarted.KeyExists("theme") {
		t.Error("Removed key came back after restart")
	}

	if err := second.Delete(context.Background()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	third, err := New(drive, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if third.Materialized() {
		t.Error("Deleted cache came back after restart")
	}
}

func TestFilePassthrough(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, false)
	ctx := context.Background()

	if s.FileExists(ctx, "profile.json") {
		t.Error("profile.json exists before any write")
	}

	got, err := ReadFile(ctx, s, "profile.json", Layout{Columns: 1})
	if err != nil {
		t.Fatalf("ReadFile of a missing file failed: %v", err)
	}
	if got.Columns != 1 {
		t.Errorf("missing file read as %+v, want default", got)
	}

	want := Layout{Columns: 4, Panels: []string{"a"}}
	item, err := SaveFile(ctx, s, "profile.json", want)
	if err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	if item == nil || item.Name != "profile.json" {
		t.Errorf("item = %+v", item)
	}

	if !s.FileExists(ctx, "profile.json") {
		t.Error("profile.json missing after write")
	}
	got, err = ReadFile(ctx, s, "profile.json", Layout{})
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("profile mismatch (-want +got):\n%s", diff)
	}

	if _, err := SaveFile(ctx, s, "notes/motd.txt", "hello"); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	text, err := ReadFile(ctx, s, "notes/motd.txt", "")
	if err != nil || text != "hello" {
		t.Errorf("motd = %q, %v", text, err)
	}

	// The cache is never touched
	if s.Materialized() {
		t.Error("File operations materialized the cache")
	}

	// Transport failures read as "does not exist"
	drive.FailOn(remote.OpRetrieve, remote.ErrRemoteUnavailable)
	if s.FileExists(ctx, "profile.json") {
		t.Error("FileExists true while the remote is unavailable")
	}
	if _, err := ReadFile(ctx, s, "profile.json", Layout{}); err == nil {
		t.Error("Expected error while the remote is unavailable")
	}
}

// memPersister is an in-memory Persister.
type memPersister struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemPersister() *memPersister {
	return &memPersister{docs: make(map[string][]byte)}
}

func (p *memPersister) Load(_ context.Context, ref remote.Ref) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, ok := p.docs[ref.String()]
	return doc, ok, nil
}

func (p *memPersister) Save(_ context.Context, ref remote.Ref, doc []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[ref.String()] = append([]byte(nil), doc...)
	return nil
}

func (p *memPersister) Clear(_ context.Context, ref remote.Ref) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.docs, ref.String())
	return nil
}

func newLocal(t *testing.T, p Persister, files remote.Transport) *LocalStore {
	t.Helper()
	s, err := NewLocal(context.Background(), p, files, Config{UserID: testUser})
	if err != nil {
		t.Fatalf("Failed to create local store: %v", err)
	}
	return s
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	p := newMemPersister()

	a := newLocal(t, p, nil)
	b := newLocal(t, p, nil)
	if a.Ref() != settingsRef() {
		t.Errorf("Ref = %v", a.Ref())
	}

	mustSave(t, a, "x", 1)
	mustSync(t, b)
	if got := Read(b, "x", 0); got != 1 {
		t.Errorf("x = %d after sync", got)
	}
	diffStrings(t, "pulled", []string{"x"}, b.LastReport().Pulled)

	// Local wins on collision
	mustSave(t, b, "x", 2)
	mustSync(t, a)
	if got := Read(a, "x", 0); got != 1 {
		t.Errorf("x = %d, want local value", got)
	}

	// Restart reads the persisted document
	c := newLocal(t, p, nil)
	if got := Read(c, "x", 0); got != 1 {
		t.Errorf("x = %d after restart", got)
	}

	mustSave(t, c, "y", 2)
	if !c.Remove("y") {
		t.Fatal("Remove did not find y")
	}
	if d := newLocal(t, p, nil); d.KeyExists("y") {
		t.Error("Removed key was persisted")
	}

	if err := c.Delete(ctx); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if c.KeyExists("x") {
		t.Error("x survived Delete")
	}
	if _, ok, _ := p.Load(ctx, settingsRef()); ok {
		t.Error("Persisted document survived Delete")
	}

	// No file area configured
	if c.FileExists(ctx, "f.txt") {
		t.Error("FileExists true without a file area")
	}
	if _, err := c.RetrieveFile(ctx, "f.txt"); !errors.Is(err, remote.ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
}

func TestLocalStoreFiles(t *testing.T) {
	ctx := context.Background()
	drive, err := remote.NewFSDrive(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	s := newLocal(t, nil, drive)

	if _, err := SaveFile(ctx, s, "count.txt", 42); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	if !s.FileExists(ctx, "count.txt") {
		t.Error("count.txt missing after write")
	}

	n, err := ReadFile(ctx, s, "count.txt", 0)
	if err != nil || n != 42 {
		t.Errorf("count = %d, %v", n, err)
	}

	// Sync without a persister is a no-op
	mustSync(t, s)
}

func TestGuardedSerializesAccess(t *testing.T) {
	drive := remote.NewMemoryDrive()
	s := newStore(t, drive, false)
	g := NewGuarded(s)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = g.Do(func(rs RoamingStore) error {
				return Save(rs, fmt.Sprintf("k%d", i), i)
			})
		}(i)
	}
	wg.Wait()

	if s.Len() != 10 {
		t.Errorf("Len = %d, want 10", s.Len())
	}

	report, err := g.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(report.Pushed) != 10 {
		t.Errorf("pushed %d keys, want 10", len(report.Pushed))
	}
}
