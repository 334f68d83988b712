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

// Package grant models the hypervisor page-granting facility: an owner
// domain shares fixed-size memory pages with a named peer domain, which
// maps them into its own address space through the grant references.
//
// Table is the capability the channel core consumes. Memory is the
// in-process reference implementation the test suite runs on.
package grant

import "errors"

// PageSize is the size of a granted page in bytes.
const PageSize = 4096

// Ref identifies a single granted page.
type Ref uint32

// DomRef names one grant of a specific domain, for vector maps.
type DomRef struct {
	Domid uint32
	Ref   Ref
}

var (
	// ErrNotGranted is returned when mapping a reference no domain has
	// shared.
	ErrNotGranted = errors.New("grant: reference not granted")

	// ErrDoubleMap is returned when mapping a reference that is
	// already mapped.
	ErrDoubleMap = errors.New("grant: reference already mapped")

	// ErrUnmapNotMapped is returned when unmapping a mapping that is
	// not active.
	ErrUnmapNotMapped = errors.New("grant: unmap of unmapped reference")

	// ErrUnshareNotShared is returned when unsharing a share that is
	// not active.
	ErrUnshareNotShared = errors.New("grant: unshare of unshared reference")

	// ErrStaleResources is returned by Memory.AssertCleanedUp when
	// shares or mappings remain.
	ErrStaleResources = errors.New("grant: stale resources")
)

// Share is a run of pages granted to one peer domain. The backing
// buffer is contiguous; Refs returns one reference per page, in order.
type Share struct {
	domid uint32
	refs  []Ref
	buf   []byte
}

// Refs returns the grant references of the share, one per page.
func (s *Share) Refs() []Ref { return s.refs }

// Bytes returns the contiguous backing buffer of the share.
func (s *Share) Bytes() []byte { return s.buf }

// Mapping is a peer's view of one or more granted pages as a single
// contiguous buffer.
type Mapping struct {
	first Ref
	buf   []byte
}

// Bytes returns the contiguous mapped buffer.
func (m *Mapping) Bytes() []byte { return m.buf }

// Table grants and maps pages across domains.
type Table interface {
	// Share grants pages of this domain to domid and returns the new
	// share. The backing buffer is zeroed.
	Share(domid uint32, pages int, writable bool) (*Share, error)

	// Unshare revokes a share.
	Unshare(s *Share) error

	// Map maps a single granted page of domid.
	Map(domid uint32, ref Ref, writable bool) (*Mapping, error)

	// Mapv maps a vector of grants as one contiguous buffer.
	Mapv(refs []DomRef, writable bool) (*Mapping, error)

	// Unmap releases a mapping.
	Unmap(m *Mapping) error
}
