package locking

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/docvaulthq/docvault/storage"
)

// DefaultTTL is how long an acquired lock stays valid without renewal.
const DefaultTTL = 300 * time.Second

// DocumentLock is a best-effort advisory lock stored as a regular versioned
// document at locks/<resource>.lock.
//
// The backing store has no atomic test-and-set, so two callers racing on the
// very first acquisition can both succeed; this is a documented limitation,
// not a bug to fix here. Use it to coordinate rare exclusive operations such
// as history compaction. Ordinary writes are already protected by the
// version check and do not need a lock.
type DocumentLock struct {
	Store storage.DocumentStore
	Owner string
}

// LockInfo describes a stored lock record.
type LockInfo struct {
	LockedAt time.Time
	TTL      time.Duration
	Owner    string
}

// Expired reports whether the lock has outlived its TTL at the given time.
func (i *LockInfo) Expired(now time.Time) bool {
	return now.Sub(i.LockedAt) >= i.TTL
}

// NewDocumentLock builds a lock manager with a unique owner identity.
func NewDocumentLock(store storage.DocumentStore) *DocumentLock {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &DocumentLock{
		Store: store,
		Owner: fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.NewString()[:8]),
	}
}

func lockPath(resource string) string {
	return "locks/" + resource + ".lock"
}

// Acquire attempts to take the lock for resource with the given TTL. It
// returns false when the lock is held and unexpired, and also on any backend
// failure: acquisition errors are swallowed and logged, never raised.
func (l *DocumentLock) Acquire(ctx context.Context, resource string, ttl time.Duration) bool {
	if !l.Store.Writable() {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	path := lockPath(resource)
	current, version, err := l.Store.GetDocument(ctx, path)
	if err != nil {
		slog.Debug("Lock read failed", "resource", resource, "error", err)
		return false
	}

	if info := parseLockInfo(current); info != nil && !info.Expired(time.Now()) {
		slog.Debug("Lock held by another owner",
			"resource", resource,
			"owner", info.Owner,
			"expiresIn", info.TTL-time.Since(info.LockedAt))
		return false
	}

	lockDoc := storage.Document{
		"locked_at": time.Now().Unix(),
		"ttl":       ttl.Seconds(),
		"owner":     l.Owner,
	}
	if _, err := l.Store.PutDocument(ctx, path, lockDoc, "Acquire lock for "+resource, version); err != nil {
		// A conflict here means somebody else won the race.
		slog.Debug("Lock acquisition failed", "resource", resource, "error", err)
		return false
	}

	slog.Info("Lock acquired", "resource", resource, "owner", l.Owner, "ttl", ttl)
	return true
}

// Release gives the lock back by overwriting the record with an empty
// document. A missing lock counts as released.
func (l *DocumentLock) Release(ctx context.Context, resource string) bool {
	if !l.Store.Writable() {
		return false
	}

	path := lockPath(resource)
	current, version, err := l.Store.GetDocument(ctx, path)
	if err != nil {
		slog.Debug("Lock read failed", "resource", resource, "error", err)
		return false
	}
	if len(current) == 0 {
		return true
	}

	if _, err := l.Store.PutDocument(ctx, path, storage.Document{}, "Release lock for "+resource, version); err != nil {
		slog.Debug("Lock release failed", "resource", resource, "error", err)
		return false
	}

	slog.Info("Lock released", "resource", resource, "owner", l.Owner)
	return true
}

// Info returns the stored lock record for resource, or nil when no lock
// exists.
func (l *DocumentLock) Info(ctx context.Context, resource string) (*LockInfo, error) {
	doc, _, err := l.Store.GetDocument(ctx, lockPath(resource))
	if err != nil {
		return nil, err
	}
	return parseLockInfo(doc), nil
}

func parseLockInfo(doc storage.Document) *LockInfo {
	if len(doc) == 0 {
		return nil
	}
	info := &LockInfo{
		LockedAt: time.Unix(int64(asFloat(doc["locked_at"])), 0),
		TTL:      DefaultTTL,
	}
	if ttl := asFloat(doc["ttl"]); ttl > 0 {
		info.TTL = time.Duration(ttl * float64(time.Second))
	}
	if owner, ok := doc["owner"].(string); ok {
		info.Owner = owner
	}
	return info
}

// asFloat tolerates the numeric types a lock record can round-trip through:
// float64 out of encoding/json, int64/int when freshly built in memory.
func asFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
