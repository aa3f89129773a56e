// SPDX-License-Identifier: MIT

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heliolapse/heliolapse/internal/source"
)

func TestOfferAcceptsDistinct(t *testing.T) {
	r := New()

	assert.True(t, r.Offer(source.Corona, "aa", 0).Accepted)
	assert.True(t, r.Offer(source.Corona, "bb", 10).Accepted)
	assert.Equal(t, 2, r.Len(source.Corona))
}

func TestOfferToleratesAdjacent(t *testing.T) {
	r := New()

	require.True(t, r.Offer(source.Disk, "aa", 5).Accepted)
	assert.True(t, r.Offer(source.Disk, "aa", 6).Accepted)
	assert.True(t, r.Offer(source.Disk, "aa", 4).Accepted)
}

func TestOfferRejectsNonAdjacent(t *testing.T) {
	r := New()

	require.True(t, r.Offer(source.Corona, "aa", 5).Accepted)
	d := r.Offer(source.Corona, "aa", 9)
	assert.False(t, d.Accepted)
	assert.Equal(t, 5, d.PrevIndex)
}

func TestOfferSameIndexIsResume(t *testing.T) {
	r := New()

	require.True(t, r.Offer(source.Corona, "aa", 5).Accepted)
	assert.True(t, r.Offer(source.Corona, "aa", 5).Accepted)
	assert.Equal(t, 1, r.Len(source.Corona))
}

func TestSourcesAreIndependent(t *testing.T) {
	r := New()

	require.True(t, r.Offer(source.Corona, "aa", 0).Accepted)
	assert.True(t, r.Offer(source.Disk, "aa", 50).Accepted)
}

func TestForgetReleasesFingerprint(t *testing.T) {
	r := New()

	require.True(t, r.Offer(source.Corona, "aa", 5).Accepted)
	require.False(t, r.Offer(source.Corona, "aa", 20).Accepted)

	r.Forget(source.Corona, "aa", 5)
	assert.True(t, r.Offer(source.Corona, "aa", 20).Accepted)
}

func TestForgetUnknownIsNoop(t *testing.T) {
	r := New()
	r.Forget(source.Corona, "missing", 3)
	assert.Equal(t, 0, r.Len(source.Corona))
}

func TestOfferConcurrentSameFingerprint(t *testing.T) {
	r := New()

	// Many goroutines racing distant indices over one fingerprint: exactly
	// the indices adjacent to the winner may also land.
	var wg sync.WaitGroup
	accepted := make([]bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			accepted[idx] = r.Offer(source.Corona, "race", idx*10).Accepted
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range accepted {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "indices spaced by 10 can never coexist")
}

func TestOfferManyDistinct(t *testing.T) {
	r := New()
	for i := 0; i < 500; i++ {
		require.True(t, r.Offer(source.Disk, fmt.Sprintf("fp-%d", i), i).Accepted)
	}
	assert.Equal(t, 500, r.Len(source.Disk))
}
