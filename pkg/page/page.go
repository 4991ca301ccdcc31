// Package page implements SparsePages — the in-memory map from page index to
// page image that represents the pages changed by one transaction — and its
// binary frame serialization, which supports random access to any page via
// binary search without deserializing the whole frame.
package page

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Size is the fixed page size used throughout sqlsync. Every page in a
// database replica, pending set, or journal frame is exactly this many
// bytes.
const Size = 4096

// Idx addresses a page within a database file.
type Idx = uint64

const idxSize = 8 // size of a big-endian uint64 on the wire

// Page is one fixed-size page image.
type Page [Size]byte

// SparsePages is an ordered map from page index to page image, as accrued by
// one transaction's writes.
type SparsePages struct {
	pages map[Idx]Page
	order []Idx // kept sorted lazily; invalidated on Write of a new key
	dirty bool
}

// New returns an empty SparsePages.
func New() *SparsePages {
	return &SparsePages{pages: make(map[Idx]Page)}
}

// Write stores page at idx, overwriting any previous image at that index.
func (p *SparsePages) Write(idx Idx, data Page) {
	if _, exists := p.pages[idx]; !exists {
		p.dirty = true
	}
	p.pages[idx] = data
}

// Read copies at most one page's worth of bytes from idx into buf, starting
// at pageOffset within the page. It returns the number of bytes copied and
// whether idx is present.
func (p *SparsePages) Read(idx Idx, pageOffset int, buf []byte) (int, bool) {
	page, ok := p.pages[idx]
	if !ok {
		return 0, false
	}
	if pageOffset < 0 || pageOffset >= Size {
		return 0, true
	}
	n := copy(buf, page[pageOffset:])
	return n, true
}

// NumPages returns the number of distinct page indices present.
func (p *SparsePages) NumPages() int {
	return len(p.pages)
}

// MaxPageIdx returns the largest page index present, or (0, false) if empty.
func (p *SparsePages) MaxPageIdx() (Idx, bool) {
	if len(p.pages) == 0 {
		return 0, false
	}
	max := Idx(0)
	first := true
	for idx := range p.pages {
		if first || idx > max {
			max = idx
			first = false
		}
	}
	return max, true
}

// Clear removes every page, resetting the SparsePages to empty.
func (p *SparsePages) Clear() {
	p.pages = make(map[Idx]Page)
	p.order = nil
	p.dirty = false
}

// sortedIdx returns page indices in ascending order, the order the wire
// frame format requires.
func (p *SparsePages) sortedIdx() []Idx {
	if !p.dirty && p.order != nil {
		return p.order
	}
	order := make([]Idx, 0, len(p.pages))
	for idx := range p.pages {
		order = append(order, idx)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	p.order = order
	p.dirty = false
	return order
}

// Serialize encodes the SparsePages into the wire frame format:
//
//	u64 be  max_page_idx
//	repeated, sorted by page_idx:
//	  u64 be page_idx
//	  u8[Size] page_bytes
//
// It is an error to serialize an empty SparsePages — there is no frame to
// produce and no max_page_idx to record.
func (p *SparsePages) Serialize() ([]byte, error) {
	if len(p.pages) == 0 {
		return nil, fmt.Errorf("page: cannot serialize empty sparse pages")
	}

	maxIdx, _ := p.MaxPageIdx()
	order := p.sortedIdx()

	buf := make([]byte, idxSize+len(order)*(idxSize+Size))
	binary.BigEndian.PutUint64(buf[:idxSize], maxIdx)

	offset := idxSize
	for _, idx := range order {
		binary.BigEndian.PutUint64(buf[offset:offset+idxSize], idx)
		offset += idxSize
		copy(buf[offset:offset+Size], p.pages[idx][:])
		offset += Size
	}
	return buf, nil
}

// Deserialize parses a wire frame produced by Serialize back into a
// SparsePages.
func Deserialize(data []byte) (*SparsePages, error) {
	if len(data) < idxSize {
		return nil, fmt.Errorf("page: frame too short to contain max_page_idx header")
	}
	entrySize := idxSize + Size
	if (len(data)-idxSize)%entrySize != 0 {
		return nil, fmt.Errorf("page: frame length %d is not a valid multiple of entry size %d", len(data), entrySize)
	}

	numEntries := (len(data) - idxSize) / entrySize
	sp := New()
	offset := idxSize
	for i := 0; i < numEntries; i++ {
		idx := binary.BigEndian.Uint64(data[offset : offset+idxSize])
		offset += idxSize
		var page Page
		copy(page[:], data[offset:offset+Size])
		offset += Size
		sp.Write(idx, page)
	}
	return sp, nil
}

// Equal reports whether two SparsePages hold identical page sets and
// contents, used by frame round-trip tests.
func (p *SparsePages) Equal(other *SparsePages) bool {
	if p.NumPages() != other.NumPages() {
		return false
	}
	for idx, page := range p.pages {
		o, ok := other.pages[idx]
		if !ok || page != o {
			return false
		}
	}
	return true
}

// Frame is a parsed view over a serialized SparsePages frame that supports
// random page lookup by binary search over the sorted page-index headers,
// without deserializing the whole frame into memory.
type Frame struct {
	data []byte
}

// NewFrame wraps a serialized frame produced by Serialize for random access.
func NewFrame(data []byte) (*Frame, error) {
	if len(data) < idxSize {
		return nil, fmt.Errorf("page: frame too short to contain max_page_idx header")
	}
	entrySize := idxSize + Size
	if (len(data)-idxSize)%entrySize != 0 {
		return nil, fmt.Errorf("page: frame length %d is not a valid multiple of entry size %d", len(data), entrySize)
	}
	return &Frame{data: data}, nil
}

// NumPages returns the number of page entries in the frame.
func (f *Frame) NumPages() int {
	return (len(f.data) - idxSize) / (idxSize + Size)
}

// MaxPageIdx returns the max_page_idx header value.
func (f *Frame) MaxPageIdx() Idx {
	return binary.BigEndian.Uint64(f.data[:idxSize])
}

// Read performs a binary search over the frame's sorted page-index headers
// and returns the page image for idx, or false if idx is not present in
// this frame.
func (f *Frame) Read(idx Idx) (Page, bool) {
	entrySize := idxSize + Size
	lo, hi := 0, f.NumPages()
	var zero Page

	for lo < hi {
		mid := lo + (hi-lo)/2
		off := idxSize + mid*entrySize
		midIdx := binary.BigEndian.Uint64(f.data[off : off+idxSize])

		switch {
		case midIdx == idx:
			var page Page
			copy(page[:], f.data[off+idxSize:off+entrySize])
			return page, true
		case midIdx < idx:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return zero, false
}

// ReadAt copies at most one page's worth of bytes from page idx, starting at
// pageOffset, into buf.
func (f *Frame) ReadAt(idx Idx, pageOffset int, buf []byte) (int, bool) {
	page, ok := f.Read(idx)
	if !ok {
		return 0, false
	}
	if pageOffset < 0 || pageOffset >= Size {
		return 0, true
	}
	return copy(buf, page[pageOffset:]), true
}
