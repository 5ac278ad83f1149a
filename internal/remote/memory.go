package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a transport operation, used in the call log and for failure injection.
type Op string

const (
	OpCreate   Op = "create"
	OpRetrieve Op = "retrieve"
	OpUpdate   Op = "update"
	OpDelete   Op = "delete"
)

// Call records one transport invocation on a MemoryDrive.
type Call struct {
	Op      Op
	Ref     Ref
	Content []byte
}

// MemoryDrive is an in-process Transport.
//
// It records every call so tests can assert on count and order, and it can be
// told to fail specific operations. Safe for concurrent use.
type MemoryDrive struct {
	mu    sync.Mutex
	files map[string]memoryFile
	calls []Call
	fail  map[Op]error

	forbidEmptyCreate bool
	now               func() time.Time
}

type memoryFile struct {
	item    Item
	content []byte
}

// MemoryOption configures a MemoryDrive.
type MemoryOption func(*MemoryDrive)

// WithForbidEmptyCreate makes Create fail with ErrUnsupported, like cloud
// drives that cannot hold empty files.
func WithForbidEmptyCreate() MemoryOption {
	return func(d *MemoryDrive) {
		d.forbidEmptyCreate = true
	}
}

// WithClock overrides the time source used for Item.Modified.
func WithClock(now func() time.Time) MemoryOption {
	return func(d *MemoryDrive) {
		d.now = now
	}
}

// NewMemoryDrive creates an empty in-memory drive.
func NewMemoryDrive(opts ...MemoryOption) *MemoryDrive {
	d := &MemoryDrive{
		files: make(map[string]memoryFile),
		fail:  make(map[Op]error),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create implements Transport.
func (d *MemoryDrive) Create(ctx context.Context, ref Ref) (*Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpCreate, ref, nil); err != nil {
		return nil, err
	}
	if d.forbidEmptyCreate {
		return nil, fmt.Errorf("%w: cannot create empty file %s", ErrUnsupported, ref)
	}

	key := ref.String()
	if f, ok := d.files[key]; ok {
		item := f.item
		return &item, nil
	}
	return d.store(key, ref, nil), nil
}

// Retrieve implements Transport.
func (d *MemoryDrive) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpRetrieve, ref, nil); err != nil {
		return nil, err
	}

	f, ok := d.files[ref.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return append([]byte(nil), f.content...), nil
}

// Update implements Transport.
func (d *MemoryDrive) Update(ctx context.Context, ref Ref, content []byte) (*Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpUpdate, ref, content); err != nil {
		return nil, err
	}
	return d.store(ref.String(), ref, content), nil
}

// Delete implements Transport.
func (d *MemoryDrive) Delete(ctx context.Context, ref Ref) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.begin(ctx, OpDelete, ref, nil); err != nil {
		return err
	}

	key := ref.String()
	if _, ok := d.files[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	delete(d.files, key)
	return nil
}

// Put seeds a file without recording a call.
func (d *MemoryDrive) Put(ref Ref, content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store(ref.String(), ref, content)
}

// Content returns the stored bytes of a file, without recording a call.
func (d *MemoryDrive) Content(ref Ref) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[ref.String()]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.content...), true
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (d *MemoryDrive) FailOn(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.fail, op)
		return
	}
	d.fail[op] = err
}

// Calls returns a copy of the call log.
func (d *MemoryDrive) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// CallsOf returns the logged calls of one operation, in order.
func (d *MemoryDrive) CallsOf(op Op) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Call
	for _, c := range d.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (d *MemoryDrive) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// begin validates and logs a call. Caller holds d.mu.
func (d *MemoryDrive) begin(ctx context.Context, op Op, ref Ref, content []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	if err := ref.Validate(); err != nil {
		return err
	}

	d.calls = append(d.calls, Call{Op: op, Ref: ref, Content: append([]byte(nil), content...)})

	if err, ok := d.fail[op]; ok {
		return err
	}
	return nil
}

// store writes a file, keeping its ID stable across updates. Caller holds d.mu.
func (d *MemoryDrive) store(key string, ref Ref, content []byte) *Item {
	id := uuid.NewString()
	if existing, ok := d.files[key]; ok {
		id = existing.item.ID
	}

	item := Item{
		ID:       id,
		Name:     cleanPath(ref.Path),
		Size:     int64(len(content)),
		ETag:     ETag(content),
		Modified: d.now(),
	}
	d.files[key] = memoryFile{item: item, content: append([]byte(nil), content...)}

	out := item
	return &out
}
