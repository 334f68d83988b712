/*
 *
 * Copyright 2025 the go-vchan authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package grant

import (
	"fmt"
	"sync"
	"unsafe"
)

// Memory is an in-process grant table. Both "domains" live in the same
// address space, so a mapping is simply a second view of the share's
// backing buffer. Grant references come from a monotone 32-bit counter.
type Memory struct {
	mu     sync.Mutex
	next   Ref
	pages  map[Ref][]byte   // every granted page, for single-page maps
	shares map[Ref]*Share   // active shares, keyed by first reference
	mapped map[Ref]*Mapping // active mappings, keyed by first reference
}

var _ Table = (*Memory)(nil)

// NewMemory returns an empty in-process grant table.
func NewMemory() *Memory {
	return &Memory{
		next:   1,
		pages:  make(map[Ref][]byte),
		shares: make(map[Ref]*Share),
		mapped: make(map[Ref]*Mapping),
	}
}

// alignedBytes allocates n zeroed bytes on an 8-byte boundary. Shared
// pages carry 32-bit fields accessed atomically, so the backing store
// must not start mid-word.
func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// Share implements Table. The writable flag is recorded by real grant
// tables; the in-process table has no read-only views.
func (t *Memory) Share(domid uint32, pages int, _ bool) (*Share, error) {
	if pages <= 0 {
		return nil, fmt.Errorf("grant: share of %d pages", pages)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := alignedBytes(pages * PageSize)
	s := &Share{
		domid: domid,
		refs:  make([]Ref, pages),
		buf:   buf,
	}
	for i := range s.refs {
		ref := t.next
		t.next++
		s.refs[i] = ref
		t.pages[ref] = buf[i*PageSize : (i+1)*PageSize]
	}
	t.shares[s.refs[0]] = s
	return s, nil
}

// Unshare implements Table.
func (t *Memory) Unshare(s *Share) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s == nil || len(s.refs) == 0 || t.shares[s.refs[0]] != s {
		return ErrUnshareNotShared
	}
	delete(t.shares, s.refs[0])
	for _, ref := range s.refs {
		delete(t.pages, ref)
	}
	return nil
}

// Map implements Table.
func (t *Memory) Map(domid uint32, ref Ref, _ bool) (*Mapping, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	page, ok := t.pages[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %d from domain %d", ErrNotGranted, ref, domid)
	}
	if _, dup := t.mapped[ref]; dup {
		return nil, fmt.Errorf("%w: %d", ErrDoubleMap, ref)
	}
	m := &Mapping{first: ref, buf: page}
	t.mapped[ref] = m
	return m, nil
}

// Mapv implements Table. The vector must name an entire share, in
// grant order, starting at its first reference.
func (t *Memory) Mapv(refs []DomRef, _ bool) (*Mapping, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("grant: empty map vector")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	first := refs[0].Ref
	s, ok := t.shares[first]
	if !ok {
		return nil, fmt.Errorf("%w: vector at %d", ErrNotGranted, first)
	}
	if len(refs) != len(s.refs) {
		return nil, fmt.Errorf("grant: vector at %d names %d pages, share has %d",
			first, len(refs), len(s.refs))
	}
	for i, dr := range refs {
		if dr.Ref != s.refs[i] {
			return nil, fmt.Errorf("%w: vector entry %d is %d, share has %d",
				ErrNotGranted, i, dr.Ref, s.refs[i])
		}
	}
	if _, dup := t.mapped[first]; dup {
		return nil, fmt.Errorf("%w: vector at %d", ErrDoubleMap, first)
	}
	m := &Mapping{first: first, buf: s.buf}
	t.mapped[first] = m
	return m, nil
}

// Unmap implements Table.
func (t *Memory) Unmap(m *Mapping) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m == nil || t.mapped[m.first] != m {
		return ErrUnmapNotMapped
	}
	delete(t.mapped, m.first)
	return nil
}

// AssertCleanedUp reports an error if any share or mapping remains.
// Intended for end-of-test verification.
func (t *Memory) AssertCleanedUp() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.shares) == 0 && len(t.mapped) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d shares, %d mappings",
		ErrStaleResources, len(t.shares), len(t.mapped))
}
