// SPDX-License-Identifier: MIT

// Package bus carries analysis snapshots from the audio goroutine to
// consumers without locks or allocation.
package bus

import (
	"sync/atomic"

	"pulse/internal/analysis"
)

// SnapshotChannel is a single-writer, multi-reader handoff for the
// latest analysis snapshot. It is a seqlock over two slots: the writer
// never blocks and never allocates, readers retry if they observe a
// write in progress. Readers always get a complete snapshot; they may
// skip intermediate ones under load, which is fine — only the latest
// state matters for rendering.
//
// Publish must only ever be called from one goroutine.
type SnapshotChannel struct {
	seq   atomic.Uint64 // Odd while a write is in flight
	slots [2]analysis.Snapshot
}

// Publish stores s as the newest snapshot and stamps its Sequence.
func (c *SnapshotChannel) Publish(s *analysis.Snapshot) {
	seq := c.seq.Load()
	c.seq.Store(seq + 1) // Mark write in progress

	s.Sequence = seq/2 + 1
	c.slots[(seq/2+1)&1] = *s

	c.seq.Store(seq + 2) // Publish
}

// ReadLatest copies the most recent complete snapshot into out and
// reports whether any snapshot has been published yet. It retries if
// it races a concurrent Publish; with a single writer the retry loop
// is bounded in practice by one write duration.
func (c *SnapshotChannel) ReadLatest(out *analysis.Snapshot) bool {
	for {
		s1 := c.seq.Load()
		if s1 == 0 {
			return false
		}
		if s1&1 != 0 {
			// Write in flight; spin on the sequence word.
			continue
		}
		*out = c.slots[(s1/2)&1]
		if c.seq.Load() == s1 {
			return true
		}
	}
}

// LatestSequence reports the id of the most recently published
// snapshot without copying it. Zero means nothing published yet.
func (c *SnapshotChannel) LatestSequence() uint64 {
	return c.seq.Load() / 2
}
