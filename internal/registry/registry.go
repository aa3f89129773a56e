// SPDX-License-Identifier: MIT

// Package registry indexes per-source image fingerprints across the window
// and rejects cross-frame repeats. It is the synchronization point for
// parallel fetch workers: Offer is atomic, so two workers racing on the same
// fingerprint serialize and the loser retries at its next fallback offset.
package registry

import (
	"sync"

	"github.com/heliolapse/heliolapse/internal/source"
)

// Decision is the outcome of offering a fingerprint.
type Decision struct {
	Accepted  bool
	PrevIndex int // populated when rejected as a duplicate
}

// Registry maps source → fingerprint → window indices. Identical
// fingerprints at adjacent indices (|i−j| ≤ 1) are tolerated because the
// upstream legitimately publishes identical frames at the cadence boundary.
type Registry struct {
	mu   sync.Mutex
	seen map[source.Kind]map[string][]int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{seen: make(map[source.Kind]map[string][]int)}
}

// Offer records the fingerprint for the given window index, unless the same
// fingerprint is already held by a non-adjacent index, in which case the
// offer is rejected and the holding index returned.
func (r *Registry) Offer(kind source.Kind, fingerprint string, index int) Decision {
	r.mu.Lock()
	defer r.mu.Unlock()

	byFp := r.seen[kind]
	if byFp == nil {
		byFp = make(map[string][]int)
		r.seen[kind] = byFp
	}

	for _, prev := range byFp[fingerprint] {
		if prev == index {
			// Re-offer of the same frame (resume path).
			return Decision{Accepted: true}
		}
		if diff := prev - index; diff > 1 || diff < -1 {
			return Decision{Accepted: false, PrevIndex: prev}
		}
	}
	byFp[fingerprint] = append(byFp[fingerprint], index)
	return Decision{Accepted: true}
}

// Forget removes a previously accepted fingerprint for the given index.
// Used when a frame's composite fails after its fetches were accepted, so a
// later retry can re-offer the same bytes.
func (r *Registry) Forget(kind source.Kind, fingerprint string, index int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	indices := r.seen[kind][fingerprint]
	for i, prev := range indices {
		if prev == index {
			r.seen[kind][fingerprint] = append(indices[:i], indices[i+1:]...)
			return
		}
	}
}

// Len reports the number of distinct fingerprints held for a source.
func (r *Registry) Len(kind source.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen[kind])
}
