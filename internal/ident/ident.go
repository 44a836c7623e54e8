// Package ident issues short, globally-unique conversation identifiers under
// concurrent access. A flock-protected registry file is the arbiter: a
// candidate drawn optimistically is only owned after a re-check and an
// atomic registry rewrite under the exclusive lock.
package ident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"stibot/internal/safeio"
)

var (
	// ErrExhausted means no unused identifier was found within the bounded
	// number of draws. It indicates keyspace capacity, not bad input.
	ErrExhausted = errors.New("ident: identifier space exhausted")
	// ErrLockContention means the registry lock could not be acquired after
	// all retries. Fatal for the request, retryable for the caller.
	ErrLockContention = errors.New("ident: registry lock contention")
)

const (
	registryFile = "ids.json"
	lockFile     = "ids.lock"
)

type Config struct {
	Alphabet  string
	Length    int
	MaxDraws  int
	LockTries int
}

func (c Config) withDefaults() Config {
	if c.Alphabet == "" {
		c.Alphabet = "abcdefghjkmnpqrstuvwxyz23456789"
	}
	if c.Length <= 0 {
		c.Length = 6
	}
	if c.MaxDraws <= 0 {
		c.MaxDraws = 32
	}
	if c.LockTries <= 0 {
		c.LockTries = 5
	}
	return c
}

// Allocator issues identifiers against a shared registry file. An in-process
// mutex serializes local callers; the file lock arbitrates across processes.
type Allocator struct {
	mu  sync.Mutex
	fs  *safeio.DataFS
	cfg Config
}

func New(fs *safeio.DataFS, cfg Config) *Allocator {
	return &Allocator{fs: fs, cfg: cfg.withDefaults()}
}

// Allocate draws a candidate, takes the registry lock with jittered backoff,
// re-checks membership under the lock, and persists the expanded registry
// atomically. At-most-one owner per identifier even with concurrent callers.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	candidate := a.draw()

	a.mu.Lock()
	defer a.mu.Unlock()

	lockPath, err := a.fs.Resolve(lockFile)
	if err != nil {
		return "", fmt.Errorf("ident: resolve lock: %w", err)
	}
	fl := flock.New(lockPath)
	locked := false
	for try := 0; try < a.cfg.LockTries; try++ {
		ok, err := fl.TryLock()
		if err != nil {
			return "", fmt.Errorf("ident: lock: %w", err)
		}
		if ok {
			locked = true
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff(try)):
		}
	}
	if !locked {
		return "", ErrLockContention
	}
	defer fl.Unlock()

	taken, err := a.load()
	if err != nil {
		return "", err
	}

	// The pre-lock draw was optimistic; re-check now that we own the lock.
	for draws := 0; draws < a.cfg.MaxDraws; draws++ {
		if !taken[candidate] {
			taken[candidate] = true
			if err := a.persist(taken); err != nil {
				return "", err
			}
			return candidate, nil
		}
		candidate = a.draw()
	}
	return "", ErrExhausted
}

func (a *Allocator) draw() string {
	b := make([]byte, a.cfg.Length)
	for i := range b {
		b[i] = a.cfg.Alphabet[rand.IntN(len(a.cfg.Alphabet))]
	}
	return string(b)
}

func (a *Allocator) load() (map[string]bool, error) {
	taken := make(map[string]bool)
	data, err := a.fs.ReadFile(registryFile)
	if err != nil {
		// Missing registry means nothing allocated yet.
		return taken, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("ident: corrupt registry: %w", err)
	}
	for _, id := range ids {
		taken[id] = true
	}
	return taken, nil
}

func (a *Allocator) persist(taken map[string]bool) error {
	ids := make([]string, 0, len(taken))
	for id := range taken {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("ident: encode registry: %w", err)
	}
	if err := a.fs.WriteFileAtomic(registryFile, data); err != nil {
		return fmt.Errorf("ident: persist registry: %w", err)
	}
	return nil
}

// backoff returns an exponentially growing delay with jitter.
func backoff(try int) time.Duration {
	base := 20 * time.Millisecond * time.Duration(1<<try)
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}
