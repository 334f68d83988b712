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

package vchan

import (
	"fmt"

	"github.com/msgpo/go-vchan/grant"
	"github.com/msgpo/go-vchan/page"
)

// bufferLocation says where one ring's bytes live, encoded as the
// order field of the control page:
//
//	10        1024 bytes inside the control page at offset 1024
//	11        2048 bytes inside the control page at offset 2048
//	12..20    2^order bytes in 2^(order-12) separately granted pages
//
// Order 20 is the ceiling: one more doubling and the grant-reference
// array would no longer fit in the control page.
type bufferLocation uint16

const (
	locOffset1024 bufferLocation = 10
	locOffset2048 bufferLocation = 11

	minExternalOrder bufferLocation = 12
	maxOrder         bufferLocation = 20
)

// size returns the ring capacity in bytes. For the two in-page
// locations the byte offset in the control page equals the size.
func (l bufferLocation) size() uint32 {
	return 1 << l
}

// external reports whether the ring lives outside the control page.
func (l bufferLocation) external() bool {
	return l >= minExternalOrder
}

// pages returns the number of granted pages of an external ring, or 0
// for an in-page ring.
func (l bufferLocation) pages() int {
	if !l.external() {
		return 0
	}
	return 1 << (l - minExternalOrder)
}

// locationFor picks the smallest location whose capacity covers n, or
// the maximum if nothing does.
func locationFor(n int) bufferLocation {
	for ord := locOffset1024; ord < maxOrder; ord++ {
		if int(ord.size()) >= n {
			return ord
		}
	}
	return maxOrder
}

// resolveInPageCollision rewrites the (read, write) pair chosen by the
// server so the two rings never claim the same in-page region. The
// server's read ring is the left ring.
func resolveInPageCollision(read, write bufferLocation) (bufferLocation, bufferLocation) {
	switch {
	case read == locOffset1024 && write == locOffset1024:
		return locOffset1024, locOffset2048
	case read == locOffset2048 && write == locOffset2048:
		return locOffset2048, minExternalOrder
	}
	return read, write
}

// decodeOrder validates an order field read from a mapped page.
func decodeOrder(o uint16) (bufferLocation, error) {
	l := bufferLocation(o)
	if l < locOffset1024 || l > maxOrder {
		return 0, fmt.Errorf("%w: %d", ErrBadOrder, o)
	}
	return l, nil
}

// inPageRing slices an in-page ring area out of the control page.
func inPageRing(pg *page.View, l bufferLocation) []byte {
	off := l.size() // in-page offset equals capacity
	return pg.Bytes()[off : 2*off : 2*off]
}

// grantRefCount returns how many grant references one side
// contributes to the array after the header.
func grantRefCount(l bufferLocation) int {
	return l.pages()
}

// domRefs builds the vector-map argument for one side's external ring
// from the reference array on a mapped page.
func domRefs(pg *page.View, domid uint32, start, count int) []grant.DomRef {
	refs := make([]grant.DomRef, count)
	for i := range refs {
		refs[i] = grant.DomRef{Domid: domid, Ref: grant.Ref(pg.GrantRef(start + i))}
	}
	return refs
}
