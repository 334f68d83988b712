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

// Package page provides typed accessors over the shared control page
// of a vchan connection.
//
// The page is 4096 bytes, little-endian, packed:
//
//	offset  size  field
//	0       4     left ring consumer index
//	4       4     left ring producer index
//	8       4     right ring consumer index
//	12      4     right ring producer index
//	16      2     left ring order
//	18      2     right ring order
//	20      1     client live byte
//	21      1     server live byte
//	22      1     client notify byte
//	23      1     server notify byte
//	24      4*K   grant references, left ring first
//
// The codec moves bits and nothing else; interpreting live states and
// ring orders is the caller's concern. Counter loads and stores are
// sequentially consistent atomics, which subsume the acquire/release
// ordering the ring protocol needs. The four single-byte fields at
// offsets 20..23 share one 32-bit word and are accessed exclusively
// through word-level atomics masked to their own byte, so concurrent
// updates from the two peers cannot tear each other.
//
// Like the rest of the shared-memory plumbing here, the accessors
// assume a little-endian host.
package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// Size is the size of the control page in bytes.
	Size = 4096

	// HeaderSize is the fixed header before the grant reference array.
	HeaderSize = 24
)

// Field offsets within the page.
const (
	offLeftCons   = 0
	offLeftProd   = 4
	offRightCons  = 8
	offRightProd  = 12
	offLeftOrder  = 16
	offRightOrder = 18
	offFlags      = 20 // cli live, srv live, cli notify, srv notify
)

// Byte lanes of the flags word at offset 20 (little-endian host).
const (
	shiftCliLive   = 0
	shiftSrvLive   = 8
	shiftCliNotify = 16
	shiftSrvNotify = 24
)

// ErrBadPage indicates a backing region that is too small or not
// 4-byte aligned for atomic access.
var ErrBadPage = errors.New("page: bad backing region")

// View provides typed access to a control page backed by shared bytes.
type View struct {
	b []byte
}

// NewView wraps b, which must hold at least the fixed header and start
// on a 4-byte boundary.
func NewView(b []byte) (*View, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadPage, len(b))
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		return nil, fmt.Errorf("%w: misaligned base", ErrBadPage)
	}
	return &View{b: b}, nil
}

// Bytes returns the backing region, including any in-page ring areas.
func (v *View) Bytes() []byte {
	return v.b
}

func (v *View) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&v.b[off]))
}

// Ring counters. Single writer each; loads on the remote side pair
// with the writer's stores.

// LeftCons returns the left ring consumer index.
func (v *View) LeftCons() uint32 { return atomic.LoadUint32(v.u32(offLeftCons)) }

// SetLeftCons stores the left ring consumer index.
func (v *View) SetLeftCons(x uint32) { atomic.StoreUint32(v.u32(offLeftCons), x) }

// LeftProd returns the left ring producer index.
func (v *View) LeftProd() uint32 { return atomic.LoadUint32(v.u32(offLeftProd)) }

// SetLeftProd stores the left ring producer index.
func (v *View) SetLeftProd(x uint32) { atomic.StoreUint32(v.u32(offLeftProd), x) }

// RightCons returns the right ring consumer index.
func (v *View) RightCons() uint32 { return atomic.LoadUint32(v.u32(offRightCons)) }

// SetRightCons stores the right ring consumer index.
func (v *View) SetRightCons(x uint32) { atomic.StoreUint32(v.u32(offRightCons), x) }

// RightProd returns the right ring producer index.
func (v *View) RightProd() uint32 { return atomic.LoadUint32(v.u32(offRightProd)) }

// SetRightProd stores the right ring producer index.
func (v *View) SetRightProd(x uint32) { atomic.StoreUint32(v.u32(offRightProd), x) }

// Ring orders and grant references are written by the allocating peer
// strictly before the page is advertised and never change afterwards,
// so plain little-endian access suffices.

// LeftOrder returns the left ring order field.
func (v *View) LeftOrder() uint16 {
	return binary.LittleEndian.Uint16(v.b[offLeftOrder:])
}

// SetLeftOrder stores the left ring order field.
func (v *View) SetLeftOrder(o uint16) {
	binary.LittleEndian.PutUint16(v.b[offLeftOrder:], o)
}

// RightOrder returns the right ring order field.
func (v *View) RightOrder() uint16 {
	return binary.LittleEndian.Uint16(v.b[offRightOrder:])
}

// SetRightOrder stores the right ring order field.
func (v *View) SetRightOrder(o uint16) {
	binary.LittleEndian.PutUint16(v.b[offRightOrder:], o)
}

// GrantRef returns the i-th grant reference after the header.
func (v *View) GrantRef(i int) uint32 {
	return binary.LittleEndian.Uint32(v.b[HeaderSize+4*i:])
}

// SetGrantRef stores the i-th grant reference after the header.
func (v *View) SetGrantRef(i int, ref uint32) {
	binary.LittleEndian.PutUint32(v.b[HeaderSize+4*i:], ref)
}

// Live bytes. Each has a single writer (its own side) but shares the
// flags word with the concurrently-mutated notify bytes, so updates go
// through a compare-and-swap on the word.

// CliLive returns the client live byte.
func (v *View) CliLive() byte {
	return byte(atomic.LoadUint32(v.u32(offFlags)) >> shiftCliLive)
}

// SetCliLive stores the client live byte.
func (v *View) SetCliLive(b byte) { v.setFlagByte(shiftCliLive, b) }

// SrvLive returns the server live byte.
func (v *View) SrvLive() byte {
	return byte(atomic.LoadUint32(v.u32(offFlags)) >> shiftSrvLive)
}

// SetSrvLive stores the server live byte.
func (v *View) SetSrvLive(b byte) { v.setFlagByte(shiftSrvLive, b) }

func (v *View) setFlagByte(shift uint, b byte) {
	addr := v.u32(offFlags)
	for {
		old := atomic.LoadUint32(addr)
		newWord := old&^(uint32(0xff)<<shift) | uint32(b)<<shift
		if atomic.CompareAndSwapUint32(addr, old, newWord) {
			return
		}
	}
}

// Notify bytes. OR-set by the remote peer, fetch-AND-cleared by the
// owner; both operations run on the containing word with all other
// byte lanes held at identity.

// CliNotify returns the client notify byte.
func (v *View) CliNotify() byte {
	return byte(atomic.LoadUint32(v.u32(offFlags)) >> shiftCliNotify)
}

// OrCliNotify atomically ORs bits into the client notify byte.
func (v *View) OrCliNotify(bits byte) {
	atomic.OrUint32(v.u32(offFlags), uint32(bits)<<shiftCliNotify)
}

// AndCliNotify atomically ANDs the client notify byte with mask and
// returns its previous value.
func (v *View) AndCliNotify(mask byte) byte {
	word := ^(uint32(^mask) << shiftCliNotify)
	return byte(atomic.AndUint32(v.u32(offFlags), word) >> shiftCliNotify)
}

// SrvNotify returns the server notify byte.
func (v *View) SrvNotify() byte {
	return byte(atomic.LoadUint32(v.u32(offFlags)) >> shiftSrvNotify)
}

// OrSrvNotify atomically ORs bits into the server notify byte.
func (v *View) OrSrvNotify(bits byte) {
	atomic.OrUint32(v.u32(offFlags), uint32(bits)<<shiftSrvNotify)
}

// AndSrvNotify atomically ANDs the server notify byte with mask and
// returns its previous value.
func (v *View) AndSrvNotify(mask byte) byte {
	word := ^(uint32(^mask) << shiftSrvNotify)
	return byte(atomic.AndUint32(v.u32(offFlags), word) >> shiftSrvNotify)
}
