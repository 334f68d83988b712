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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocationFor(t *testing.T) {
	cases := []struct {
		request int
		want    bufferLocation
	}{
		{0, locOffset1024},
		{1, locOffset1024},
		{1024, locOffset1024},
		{1025, locOffset2048},
		{2048, locOffset2048},
		{2049, 12},
		{4096, 12},
		{4097, 13},
		{9000, 14},
		{1 << 20, 20},
		{1<<20 + 1, 20}, // nothing fits: clamp to the maximum
		{1 << 30, 20},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, locationFor(tc.request), "request %d", tc.request)
	}
}

func TestLocationShape(t *testing.T) {
	assert.Equal(t, uint32(1024), locOffset1024.size())
	assert.Equal(t, uint32(2048), locOffset2048.size())
	assert.False(t, locOffset1024.external())
	assert.Equal(t, 0, locOffset2048.pages())

	assert.Equal(t, uint32(4096), bufferLocation(12).size())
	assert.Equal(t, 1, bufferLocation(12).pages())
	assert.Equal(t, 4, bufferLocation(14).pages())
	assert.Equal(t, uint32(1<<20), maxOrder.size())
	assert.Equal(t, 256, maxOrder.pages())
}

func TestInPageCollisions(t *testing.T) {
	cases := []struct {
		read, write         bufferLocation
		wantRead, wantWrite bufferLocation
	}{
		{locOffset1024, locOffset1024, locOffset1024, locOffset2048},
		{locOffset2048, locOffset1024, locOffset2048, locOffset1024},
		{locOffset1024, locOffset2048, locOffset1024, locOffset2048},
		{locOffset2048, locOffset2048, locOffset2048, 12},
		{locOffset1024, 13, locOffset1024, 13},
		{14, 14, 14, 14}, // external rings never collide
	}
	for _, tc := range cases {
		r, w := resolveInPageCollision(tc.read, tc.write)
		assert.Equal(t, tc.wantRead, r, "(%d,%d)", tc.read, tc.write)
		assert.Equal(t, tc.wantWrite, w, "(%d,%d)", tc.read, tc.write)
	}
}

func TestDecodeOrder(t *testing.T) {
	for o := uint16(10); o <= 20; o++ {
		loc, err := decodeOrder(o)
		assert.NoError(t, err)
		assert.Equal(t, bufferLocation(o), loc)
	}
	for _, o := range []uint16{0, 9, 21, 0xffff} {
		_, err := decodeOrder(o)
		assert.ErrorIs(t, err, ErrBadOrder, "order %d", o)
	}
}
