package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/storage"
	"github.com/papercomputeco/reverie/pkg/storage/inmemory"
)

// ErrMockStorage is returned by FlakyDriver for scripted failures.
var ErrMockStorage = errors.New("mock storage failure")

// FlakyDriver is an in-memory storage.Driver whose writes can be made to
// fail.
type FlakyDriver struct {
	*inmemory.Driver

	mu sync.Mutex

	// FailAppends makes the next FailAppends calls to Append fail.
	FailAppends int

	// FailRecent makes Recent fail.
	FailRecent bool

	// FailSetBlock makes SetBlock fail.
	FailSetBlock bool

	// FailGet makes Get fail with a non-NotFound error.
	FailGet bool

	// FailDeadLetters makes PutDeadLetter fail.
	FailDeadLetters bool

	appendCalls int
}

func NewFlakyDriver() *FlakyDriver {
	return &FlakyDriver{Driver: inmemory.NewDriver()}
}

func (f *FlakyDriver) Append(ctx context.Context, s *memory.Summary) (bool, error) {
	f.mu.Lock()
	f.appendCalls++
	fail := f.FailAppends > 0
	if fail {
		f.FailAppends--
	}
	f.mu.Unlock()

	if fail {
		return false, ErrMockStorage
	}
	return f.Driver.Append(ctx, s)
}

// AppendCalls returns how many times Append was called.
func (f *FlakyDriver) AppendCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendCalls
}

func (f *FlakyDriver) Get(ctx context.Context, agentID, id string) (*memory.Summary, error) {
	f.mu.Lock()
	fail := f.FailGet
	f.mu.Unlock()

	if fail {
		return nil, ErrMockStorage
	}
	return f.Driver.Get(ctx, agentID, id)
}

func (f *FlakyDriver) Recent(ctx context.Context, agentID string, kind memory.Kind, since time.Time, limit int) ([]memory.Summary, error) {
	f.mu.Lock()
	fail := f.FailRecent
	f.mu.Unlock()

	if fail {
		return nil, ErrMockStorage
	}
	return f.Driver.Recent(ctx, agentID, kind, since, limit)
}

func (f *FlakyDriver) SetBlock(ctx context.Context, b storage.Block) error {
	f.mu.Lock()
	fail := f.FailSetBlock
	f.mu.Unlock()

	if fail {
		return ErrMockStorage
	}
	return f.Driver.SetBlock(ctx, b)
}

func (f *FlakyDriver) PutDeadLetter(ctx context.Context, dl *storage.DeadLetter) error {
	f.mu.Lock()
	fail := f.FailDeadLetters
	f.mu.Unlock()

	if fail {
		return ErrMockStorage
	}
	return f.Driver.PutDeadLetter(ctx, dl)
}

// SetFailRecent toggles Recent failures.
func (f *FlakyDriver) SetFailRecent(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailRecent = fail
}

var _ storage.Driver = (*FlakyDriver)(nil)
