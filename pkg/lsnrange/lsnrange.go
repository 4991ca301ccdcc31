// Package lsnrange implements the LsnRange algebra: an inclusive integer
// interval of log sequence numbers, with an empty variant that still
// remembers where the next LSN is expected to land. Every journal, storage,
// and replication component in sqlsync addresses its history through this
// type, so its invariants (ported from the original Rust LsnRange plus the
// empty/anchor extension sqlsync's replication handshake needs) are load
// bearing across the whole module.
package lsnrange

import (
	"encoding/binary"
	"fmt"
)

// Lsn is a log sequence number: a monotonic integer identifying a frame
// within one journal.
type Lsn = uint64

// Range is the inclusive interval [First, Last], or an empty range that
// still carries the next LSN expected to be appended (its Anchor). The
// zero value is the one-LSN range [0, 0]; Empty(0) is the empty range
// anchored at LSN 0.
type Range struct {
	empty  bool
	first  Lsn
	last   Lsn
	anchor Lsn // only meaningful when empty
}

// New builds the non-empty range [first, last]. Panics if first > last, the
// same invariant the original implementation enforces.
func New(first, last Lsn) Range {
	if first > last {
		panic("lsnrange: first must be <= last")
	}
	return Range{first: first, last: last}
}

// Empty returns the empty range anchored at the given next-expected LSN.
func Empty(anchor Lsn) Range {
	return Range{empty: true, anchor: anchor}
}

// EmptyPreceding returns the empty range anchored at other's first LSN
// (other's own anchor if other is itself empty). Used by a replication destination with no
// content yet to adopt the source's starting point, so the two sides agree
// on where the next frame will land even across timeline truncation.
func EmptyPreceding(other Range) Range {
	first, ok := other.First()
	if !ok {
		return Empty(other.anchor)
	}
	return Empty(first)
}

// EmptyFollowing returns the empty range anchored just past other's last
// LSN (or other's own anchor if other is itself empty).
func EmptyFollowing(other Range) Range {
	return Empty(other.Next())
}

// IsEmpty reports whether the range contains no LSNs.
func (r Range) IsEmpty() bool {
	return r.empty
}

// Len returns the number of LSNs the range covers (0 for an empty range).
func (r Range) Len() int {
	if r.empty {
		return 0
	}
	return int(r.last-r.first) + 1
}

// First returns the first LSN and true, or (0, false) if the range is empty.
func (r Range) First() (Lsn, bool) {
	if r.empty {
		return 0, false
	}
	return r.first, true
}

// Last returns the last LSN and true, or (0, false) if the range is empty.
func (r Range) Last() (Lsn, bool) {
	if r.empty {
		return 0, false
	}
	return r.last, true
}

// Next returns the LSN that would be assigned to the next appended frame:
// last+1 for a non-empty range, or the anchor for an empty one.
func (r Range) Next() Lsn {
	if r.empty {
		return r.anchor
	}
	return r.last + 1
}

// Contains reports whether lsn falls within the range.
func (r Range) Contains(lsn Lsn) bool {
	return !r.empty && r.first <= lsn && lsn <= r.last
}

// Offset returns the zero-based position of lsn within the range, or false
// if lsn is not contained.
func (r Range) Offset(lsn Lsn) (int, bool) {
	if !r.Contains(lsn) {
		return 0, false
	}
	return int(lsn - r.first), true
}

// Intersects reports whether the two ranges share at least one LSN.
func (r Range) Intersects(other Range) bool {
	if r.empty || other.empty {
		return false
	}
	return r.last >= other.first && r.first <= other.last
}

// Intersect returns the overlapping sub-range, or (zero, false) if the
// ranges don't intersect.
func (r Range) Intersect(other Range) (Range, bool) {
	if !r.Intersects(other) {
		return Range{}, false
	}
	return New(max(r.first, other.first), min(r.last, other.last)), true
}

// IntersectionOffsets returns the [start, end) slice indices, relative to r,
// that address the LSNs r shares with other. Empty (start==end==0) if they
// don't intersect.
func (r Range) IntersectionOffsets(other Range) (int, int) {
	inter, ok := r.Intersect(other)
	if !ok {
		return 0, 0
	}
	start := int(inter.first - r.first)
	end := int(inter.last-r.first) + 1
	return start, end
}

// ImmediatelyPrecedes reports whether r ends exactly one LSN before other
// begins, i.e. they meet with no gap and no overlap.
func (r Range) ImmediatelyPrecedes(other Range) bool {
	if r.empty || other.empty {
		return false
	}
	return r.last+1 == other.first
}

// ImmediatelyFollows reports whether other immediately precedes r.
func (r Range) ImmediatelyFollows(other Range) bool {
	return other.ImmediatelyPrecedes(r)
}

// ExtendBy grows the range by n LSNs. On a non-empty range this advances
// Last by n; on an empty range it creates [anchor, anchor+n-1]. Panics if
// n == 0.
func (r Range) ExtendBy(n uint64) Range {
	if n == 0 {
		panic("lsnrange: ExtendBy requires n > 0")
	}
	if r.empty {
		return New(r.anchor, r.anchor+n-1)
	}
	return New(r.first, r.last+n)
}

// TrimPrefix returns the suffix of r strictly after upTo: every LSN <= upTo
// is removed. If the whole range is removed, the result is the empty range
// anchored just past r's last LSN (so callers can still learn where the
// next LSN would land). Trimming an already-empty range is a no-op.
func (r Range) TrimPrefix(upTo Lsn) Range {
	if r.empty {
		return r
	}
	if upTo >= r.last {
		return Empty(r.last + 1)
	}
	if upTo < r.first {
		return r
	}
	return New(upTo+1, r.last)
}

// Union merges two ranges that meet or overlap. It returns an error rather
// than silently producing a gap if the ranges are disjoint and don't touch.
// Union over an empty range is only defined when the other range is
// non-empty and the empty range's anchor is its first LSN (as
// EmptyPreceding builds it) or its Next (as EmptyFollowing builds it);
// otherwise it is an error, matching the "never produce a gap" rule.
func (r Range) Union(other Range) (Range, error) {
	switch {
	case r.empty && other.empty:
		if r.anchor != other.anchor {
			return Range{}, fmt.Errorf("lsnrange: cannot union two empty ranges with different anchors (%d, %d)", r.anchor, other.anchor)
		}
		return r, nil
	case r.empty:
		if r.anchor == other.Next() || r.anchor == other.first {
			return other, nil
		}
		return Range{}, fmt.Errorf("lsnrange: empty range anchored at %d does not meet %v", r.anchor, other)
	case other.empty:
		return other.Union(r)
	}
	if !(r.Intersects(other) || r.ImmediatelyPrecedes(other) || r.ImmediatelyFollows(other)) {
		return Range{}, fmt.Errorf("lsnrange: ranges do not intersect or meet: %v, %v", r, other)
	}
	return New(min(r.first, other.first), max(r.last, other.last)), nil
}

// Requested describes a range request: a first LSN and the maximum number
// of LSNs the requester wants.
type Requested struct {
	First     Lsn
	MaxLength uint64
}

// SatisfyOutcome classifies the result of Satisfy when it cannot return a
// sub-range.
type SatisfyOutcome int

const (
	// SatisfyOK indicates req could be (at least partially) satisfied; see
	// the returned range.
	SatisfyOK SatisfyOutcome = iota
	// SatisfyImpossible indicates req asks for LSNs strictly before r — they
	// have already been trimmed and will never be available again.
	SatisfyImpossible
	// SatisfyPending indicates req asks for LSNs strictly after r — they
	// don't exist yet but may in the future.
	SatisfyPending
)

// Satisfy returns the sub-range of r that can serve req, or signals whether
// the request is Impossible (entirely before r) or Pending (entirely
// after r).
func (r Range) Satisfy(req Requested) (Range, SatisfyOutcome) {
	if r.empty {
		if req.First < r.anchor {
			return Range{}, SatisfyImpossible
		}
		return Range{}, SatisfyPending
	}
	if req.First < r.first {
		return Range{}, SatisfyImpossible
	}
	if req.First > r.last {
		return Range{}, SatisfyPending
	}
	last := r.last
	if req.MaxLength > 0 {
		wanted := req.First + req.MaxLength - 1
		if wanted < last {
			last = wanted
		}
	}
	return New(req.First, last), SatisfyOK
}

func (r Range) String() string {
	if r.empty {
		return fmt.Sprintf("LsnRange(empty, anchor=%d)", r.anchor)
	}
	return fmt.Sprintf("LsnRange(%d, %d)", r.first, r.last)
}

// MarshalBinary serializes r as: 1 byte empty-flag, then either the
// anchor (empty, 9 bytes total) or first and last (non-empty, 17 bytes
// total), each an 8-byte big-endian uint64. Used anywhere a Range needs
// to cross a process boundary: persisted sinks and the replication wire
// protocol both rely on this exact encoding.
func (r Range) MarshalBinary() ([]byte, error) {
	if r.empty {
		buf := make([]byte, 9)
		buf[0] = 1
		binary.BigEndian.PutUint64(buf[1:9], r.anchor)
		return buf, nil
	}
	buf := make([]byte, 17)
	binary.BigEndian.PutUint64(buf[1:9], r.first)
	binary.BigEndian.PutUint64(buf[9:17], r.last)
	return buf, nil
}

// UnmarshalBinary decodes bytes produced by MarshalBinary.
func (r *Range) UnmarshalBinary(data []byte) error {
	if len(data) == 9 && data[0] == 1 {
		*r = Empty(binary.BigEndian.Uint64(data[1:9]))
		return nil
	}
	if len(data) == 17 && data[0] == 0 {
		first := binary.BigEndian.Uint64(data[1:9])
		last := binary.BigEndian.Uint64(data[9:17])
		*r = New(first, last)
		return nil
	}
	return fmt.Errorf("lsnrange: malformed range encoding of length %d", len(data))
}

func min(a, b Lsn) Lsn {
	if a < b {
		return a
	}
	return b
}

func max(a, b Lsn) Lsn {
	if a > b {
		return a
	}
	return b
}
