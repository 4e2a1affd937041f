// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
	// String generates a random alphanumeric string of n characters. A
	// non-positive n picks a length between 20 and 100.
	String(n int) (string, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Template Ports
// -----------------------------------------------------------------------------

// CacheBackend persists compiled templates between processes.
//
// A stored entry is only valid for a source whose modification time is not
// newer than the one the entry was written with. There is no content hashing.
type CacheBackend interface {
	// Get returns the compiled template stored for name. ok is false when
	// nothing is stored or the stored entry is older than modTime.
	Get(ctx context.Context, name string, modTime time.Time) (data []byte, ok bool, err error)

	// Put stores compiled template data for name, stamped with modTime.
	Put(ctx context.Context, name string, modTime time.Time, data []byte) error
}

// Template cache tiers reported to a TemplateObserver.
const (
	TierMemory  = "memory"
	TierBackend = "backend"
	TierSource  = "source"
)

// TemplateObserver receives template loader events.
type TemplateObserver interface {
	TemplateLoaded(tier string, d time.Duration)
	TemplateCompileFailed()
}

// QueryObserver receives database query timings.
type QueryObserver interface {
	QueryObserved(verb string, d time.Duration, err error)
}

// RouteObserver is told about requests that matched no route.
type RouteObserver interface {
	RouteMissed()
}

// ReloadObserver is told the outcome of each configuration reload.
type ReloadObserver interface {
	ConfigReloaded(err error)
}
