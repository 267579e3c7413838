package clock

import (
	"sync"
	"time"
)

// Clock allows injecting time into the kernel and its stores.
//
// Now returns the current instant and an error. A real system clock never
// fails, but callers that make expiry decisions must handle a failing clock
// conservatively, so the interface carries the error explicitly.
type Clock interface {
	Now() (time.Time, error)
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() (time.Time, error) {
	return time.Now().UTC(), nil
}

// Fake is a controllable clock for tests.
//
// Thread-safety: all methods are safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
	err error
}

// NewFake returns a fake clock fixed at the given instant.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (f *Fake) Now() (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.now, nil
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the clock to an absolute instant.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Fail makes subsequent Now calls return err. Pass nil to restore.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
