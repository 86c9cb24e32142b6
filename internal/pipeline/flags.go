package pipeline

import (
	"maps"
	"slices"
	"sync"

	"github.com/dshills/gantry/internal/logging"
)

// flagBag is the run-wide storage behind every Flags view.
type flagBag struct {
	mu      sync.RWMutex
	values  map[string]any
	writers map[string]string // flag -> last task that wrote it
}

func newFlagBag(initial map[string]any) *flagBag {
	b := &flagBag{
		values:  make(map[string]any, len(initial)),
		writers: make(map[string]string),
	}
	for k, v := range initial {
		b.values[k] = v
	}
	return b
}

// Flags is a task's view of the run's shared flag bag.
//
// Reads and writes are visible to every task of the run, without per-task
// isolation. This is how an earlier task tells a later one that something
// has already been done.
type Flags struct {
	bag    *flagBag
	task   string
	writes []string
	log    *logging.Logger
}

// Get returns the value of a flag.
func (f *Flags) Get(name string) (any, bool) {
	f.bag.mu.RLock()
	defer f.bag.mu.RUnlock()
	v, ok := f.bag.values[name]
	return v, ok
}

// Has reports whether a flag is present.
func (f *Flags) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Bool returns the flag interpreted as a boolean.
// Missing or non-boolean values are false.
func (f *Flags) Bool(name string) bool {
	v, ok := f.Get(name)
	if !ok {
		return false
	}
	b, _ := toBool(v)
	return b
}

// String returns the flag interpreted as a string, or "".
func (f *Flags) String(name string) string {
	v, ok := f.Get(name)
	if !ok {
		return ""
	}
	s, _ := toString(v)
	return s
}

// Set stores a flag value.
func (f *Flags) Set(name string, value any) {
	f.checkWrite(name)

	f.bag.mu.Lock()
	defer f.bag.mu.Unlock()
	f.bag.values[name] = value
	f.bag.writers[name] = f.task
}

// Delete removes a flag.
func (f *Flags) Delete(name string) {
	f.checkWrite(name)

	f.bag.mu.Lock()
	defer f.bag.mu.Unlock()
	delete(f.bag.values, name)
	f.bag.writers[name] = f.task
}

// Consume returns the flag's boolean value and sets it to false, so later
// tasks that check the same flag skip the one-time action.
func (f *Flags) Consume(name string) bool {
	f.checkWrite(name)

	f.bag.mu.Lock()
	defer f.bag.mu.Unlock()

	v, ok := f.bag.values[name]
	if !ok {
		return false
	}
	b, _ := toBool(v)
	if b {
		f.bag.values[name] = false
		f.bag.writers[name] = f.task
	}
	return b
}

// Writer returns the name of the task that last wrote the flag.
// "" means the flag was seeded when the run started or never written.
func (f *Flags) Writer(name string) string {
	f.bag.mu.RLock()
	defer f.bag.mu.RUnlock()
	return f.bag.writers[name]
}

// Snapshot returns a copy of all flags.
func (f *Flags) Snapshot() map[string]any {
	f.bag.mu.RLock()
	defer f.bag.mu.RUnlock()
	return maps.Clone(f.bag.values)
}

// checkWrite warns about writes outside the task's declared contract.
func (f *Flags) checkWrite(name string) {
	if f.task == "" || len(f.writes) == 0 || f.log == nil {
		return
	}
	if !slices.Contains(f.writes, name) {
		f.log.Warn("flag %q written but not declared in writes %v", name, f.writes)
	}
}
