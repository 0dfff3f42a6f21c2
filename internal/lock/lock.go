// Package lock provides the advisory run lock that keeps two mend
// invocations from mutating the same repository at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/util"
)

// FileName is the lock file name inside the .mend directory.
const FileName = "run.lock"

// DefaultTTL is how long a lock survives without a heartbeat.
const DefaultTTL = 2 * time.Minute

var errCorrupt = errors.New("corrupt lock file")

// DefaultHeartbeatInterval is the default interval for heartbeat updates.
const DefaultHeartbeatInterval = 20 * time.Second

// Lock is the on-disk lock state.
type Lock struct {
	Owner     string    `yaml:"owner"`     // user@machine identifier
	Acquired  time.Time `yaml:"acquired"`  // when lock was acquired
	Heartbeat time.Time `yaml:"heartbeat"` // last heartbeat update
	TTL       string    `yaml:"ttl"`       // time-to-live as duration string
	PID       int       `yaml:"pid"`       // process ID of lock holder
}

// TTLDuration parses the TTL string and returns a time.Duration.
func (l *Lock) TTLDuration() time.Duration {
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return DefaultTTL
	}
	return d
}

// IsStale returns true if the lock heartbeat is older than TTL at now.
func (l *Lock) IsStale(now time.Time) bool {
	return now.Sub(l.Heartbeat) > l.TTLDuration()
}

// RunLock guards one repository's .mend directory.
type RunLock struct {
	path  string
	owner string
	ttl   time.Duration
	pid   int
	now   func() time.Time
	alive func(pid int) bool
	mu    sync.Mutex
}

// Option configures a RunLock.
type Option func(*RunLock)

// WithOwner sets the owner identifier written to the lock.
func WithOwner(owner string) Option {
	return func(l *RunLock) {
		l.owner = owner
	}
}

// WithTTL sets the lock time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(l *RunLock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a RunLock for the lock file in dir.
func New(dir string, opts ...Option) *RunLock {
	l := &RunLock{
		path:  filepath.Join(dir, FileName),
		owner: DefaultOwner(),
		ttl:   DefaultTTL,
		pid:   os.Getpid(),
		now:   time.Now,
		alive: util.ProcessExists,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultOwner returns user@hostname.
func DefaultOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

func (l *RunLock) read() (*Lock, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var lk Lock
	if err := yaml.Unmarshal(data, &lk); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	return &lk, nil
}

func (l *RunLock) write(lk *Lock) error {
	data, err := yaml.Marshal(lk)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	if err := util.AtomicWriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// held reports whether lk belongs to a different process that is still
// alive and heartbeating.
func (l *RunLock) held(lk *Lock) bool {
	if lk.PID == l.pid {
		return false
	}
	if lk.IsStale(l.now()) {
		return false
	}
	return lk.PID > 0 && l.alive(lk.PID)
}

// Acquire takes the lock. A lock held by another live process that is not
// stale yields ALREADY_RUNNING; stale locks, dead holders and unreadable
// lock files are taken over.
func (l *RunLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	switch {
	case err == nil:
		if l.held(existing) {
			return mendErrors.ErrAlreadyRunning(existing.Owner, existing.PID)
		}
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, errCorrupt):
	default:
		return fmt.Errorf("read lock: %w", err)
	}

	now := l.now().UTC()
	return l.write(&Lock{
		Owner:     l.owner,
		Acquired:  now,
		Heartbeat: now,
		TTL:       l.ttl.String(),
		PID:       l.pid,
	})
}

// Release removes the lock if this process holds it.
func (l *RunLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && existing.PID != l.pid {
		return fmt.Errorf("cannot release lock held by %s (pid %d)", existing.Owner, existing.PID)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// Heartbeat refreshes the heartbeat timestamp of a lock this process holds.
func (l *RunLock) Heartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if err != nil {
		return fmt.Errorf("read lock: %w", err)
	}
	if existing.PID != l.pid {
		return fmt.Errorf("cannot heartbeat lock held by %s (pid %d)", existing.Owner, existing.PID)
	}
	existing.Heartbeat = l.now().UTC()
	return l.write(existing)
}

// Inspect returns the current lock, if any, and whether another live
// process holds it.
func (l *RunLock) Inspect() (*Lock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return existing, l.held(existing), nil
}

// HeartbeatRunner runs periodic heartbeat updates for a lock.
type HeartbeatRunner struct {
	lock     *RunLock
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHeartbeatRunner creates a new heartbeat runner.
func NewHeartbeatRunner(lock *RunLock, interval time.Duration) *HeartbeatRunner {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatRunner{
		lock:     lock,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the heartbeat loop in a goroutine.
func (h *HeartbeatRunner) Start(ctx context.Context) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case <-ticker.C:
				// Ignore heartbeat errors - lock will become stale if they persist
				_ = h.lock.Heartbeat()
			}
		}
	}()
}

// Stop stops the heartbeat loop and waits for it to finish.
func (h *HeartbeatRunner) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

// Hold acquires the lock and keeps it fresh until the returned release
// function is called.
func (l *RunLock) Hold(ctx context.Context) (func(), error) {
	if err := l.Acquire(); err != nil {
		return nil, err
	}
	hb := NewHeartbeatRunner(l, l.ttl/4)
	hb.Start(ctx)
	return func() {
		hb.Stop()
		_ = l.Release()
	}, nil
}
