// Package crdt implements the replicated document store backing a
// collaborative board: last-writer-wins maps for node, edge and lock
// records, a character-wise mergeable text sequence per node, and a
// binary update format that merges commutatively and idempotently on
// every replica.
package crdt

// Stamp is the causal version metadata attached to every map write.
// Stamps order first by Lamport counter, then by replica id, which
// gives every replica the same deterministic winner for concurrent
// writes without coordination.
type Stamp struct {
	Counter uint64 `json:"c"`
	Replica string `json:"r"`
}

// Less reports whether s is ordered before other.
func (s Stamp) Less(other Stamp) bool {
	if s.Counter != other.Counter {
		return s.Counter < other.Counter
	}
	return s.Replica < other.Replica
}

// IsZero reports whether the stamp is unset.
func (s Stamp) IsZero() bool {
	return s.Counter == 0 && s.Replica == ""
}

// clock is a Lamport clock scoped to one document replica. It is not
// safe for concurrent use; the owning Doc's mutex guards it.
type clock struct {
	replica string
	counter uint64
}

func newClock(replica string) *clock {
	return &clock{replica: replica}
}

// tick advances the clock and returns a fresh stamp for a local write.
func (c *clock) tick() Stamp {
	c.counter++
	return Stamp{Counter: c.counter, Replica: c.replica}
}

// witness folds a remote stamp into the clock so that subsequent local
// writes are ordered after everything this replica has observed.
func (c *clock) witness(s Stamp) {
	if s.Counter > c.counter {
		c.counter = s.Counter
	}
}
