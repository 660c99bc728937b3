package fsiface

import (
	"errors"
	"math/rand"
	"os"
	"sync"
)

// ChaosConfig controls fault-injection probabilities used to exercise the
// apply engine's atomicity and rollback behavior under partial failure.
// Each rate is in [0.0, 1.0]; the zero value injects nothing and Chaos
// behaves as a pure passthrough.
type ChaosConfig struct {
	ReadFileFailRate float64
	WriteFileAtomicFailRate float64
	RenameFailRate float64
	StatFailRate float64

	// FailOnPath, when non-empty, forces the configured failure rates to
	// 1.0 for exactly this path and 0.0 for every other path — used by
	// tests that need a single deterministically failing write among
	// several.
	FailOnPath string
}

// Chaos wraps an FS and injects faults according to Config. It is safe for
// concurrent use.
type Chaos struct {
	fs FS
	rng *rand.Rand
	mu sync.Mutex
	config ChaosConfig
}

func NewChaos(fs FS, seed int64, config ChaosConfig) *Chaos {
	if fs == nil {
		panic("fsiface: NewChaos given a nil FS")
	}
	return &Chaos{fs: fs, rng: rand.New(rand.NewSource(seed)), config: config}
}

func (c *Chaos) shouldFail(rate float64, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.FailOnPath != "" {
		return path == c.config.FailOnPath
	}
	if rate <= 0 {
		return false
	}
	return c.rng.Float64() < rate
}

var errInjected = errors.New("fsiface: injected fault")

func (c *Chaos) Open(path string) (File, error) { return c.fs.Open(path) }

func (c *Chaos) Create(path string) (File, error) { return c.fs.Create(path) }

func (c *Chaos) ReadFile(path string) ([]byte, error) {
	if c.shouldFail(c.config.ReadFileFailRate, path) {
		return nil, &os.PathError{Op: "read", Path: path, Err: errInjected}
	}
	return c.fs.ReadFile(path)
}

func (c *Chaos) WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if c.shouldFail(c.config.WriteFileAtomicFailRate, path) {
		return &os.PathError{Op: "write", Path: path, Err: errInjected}
	}
	return c.fs.WriteFileAtomic(path, data, perm)
}

func (c *Chaos) ReadDir(path string) ([]DirEntry, error) { return c.fs.ReadDir(path) }

func (c *Chaos) MkdirAll(path string, perm os.FileMode) error { return c.fs.MkdirAll(path, perm) }

func (c *Chaos) Stat(path string) (os.FileInfo, error) {
	if c.shouldFail(c.config.StatFailRate, path) {
		return nil, &os.PathError{Op: "stat", Path: path, Err: errInjected}
	}
	return c.fs.Stat(path)
}

func (c *Chaos) Exists(path string) (bool, error) { return c.fs.Exists(path) }

func (c *Chaos) Remove(path string) error { return c.fs.Remove(path) }
func (c *Chaos) RemoveAll(path string) error { return c.fs.RemoveAll(path) }

func (c *Chaos) Rename(oldpath, newpath string) error {
	if c.shouldFail(c.config.RenameFailRate, newpath) {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: errInjected}
	}
	return c.fs.Rename(oldpath, newpath)
}

// IsInjected reports whether err (or one it wraps) originated from Chaos.
func IsInjected(err error) bool {
	return errors.Is(err, errInjected)
}

var _ FS = (*Chaos)(nil)
