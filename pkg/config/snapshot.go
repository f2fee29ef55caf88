package config

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the crypt configuration at one point in time.
// Callers must not modify a published snapshot.
type Snapshot struct {
	Generation int64
	LoadedAt   time.Time
	Source     string
	Crypt      *CryptConfig
}

// SnapshotHolder publishes snapshots to concurrent readers without locking.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

// NewSnapshotHolder returns a holder publishing initial, which may be nil.
func NewSnapshotHolder(initial *Snapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	if initial != nil {
		h.current.Store(initial)
	}
	return h
}

// CurrentSnapshot returns the latest published snapshot or nil.
func (h *SnapshotHolder) CurrentSnapshot() *Snapshot {
	return h.current.Load()
}

// Store publishes s. Requests that already fetched the previous snapshot keep using it.
func (h *SnapshotHolder) Store(s *Snapshot) {
	h.current.Store(s)
}
