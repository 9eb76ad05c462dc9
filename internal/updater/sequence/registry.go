package sequence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/autopeer-io/ecuflash/internal/updater/core"
)

// ErrUnknown is returned by New for names nobody registered.
var ErrUnknown = errors.New("unknown device access sequence")

// Config carries the settings of a sequence implementation.
type Config struct {
	// StateDir is where an implementation may keep data between runs.
	StateDir string
	// Params are implementation specific key=value settings.
	Params map[string]string
}

// Factory creates a fresh sequence for one run.
type Factory func(cfg Config) (core.Sequence, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a sequence implementation available by name.
// It panics when the name is taken, so conflicts surface at start-up.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if f == nil {
		panic(fmt.Sprintf("sequence %q: nil factory", name))
	}
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("sequence %q registered twice", name))
	}
	factories[name] = f
}

// New creates the sequence registered under name.
func New(name string, cfg Config) (core.Sequence, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknown, name, Names())
	}
	return f(cfg)
}

// Names lists every registered implementation.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
