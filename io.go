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

import "io"

// Read returns a view of the next contiguous run of readable bytes,
// blocking while the ring is empty and the peer is connected. The view
// stays valid until the next Read or ReadBytes call, which is also
// when the bytes are acknowledged to the peer. Returns io.EOF once the
// peer has left the connected state and the ring is drained.
func (c *Channel) Read() ([]byte, error) {
	return c.readView(^uint32(0))
}

// ReadBytes copies up to len(p) readable bytes into p. It is the
// copy-out convenience over Read and shares its blocking and EOF
// behaviour.
func (c *Channel) ReadBytes(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	view, err := c.readView(uint32(len(p)))
	if err != nil {
		return 0, err
	}
	return copy(p, view), nil
}

func (c *Channel) readView(max uint32) ([]byte, error) {
	r := &c.read

	// Publish the deferred acknowledgement for the bytes handed out by
	// the previous call, then tell the peer writable space may exist.
	r.setCons(c.ackUpTo)
	c.sendNotify(notifyRead)

	for {
		prod := r.prod()
		avail := prod - c.ackUpTo
		if avail == 0 {
			st, err := c.State()
			if err != nil {
				return nil, err
			}
			if st != StateConnected {
				return nil, io.EOF
			}
			c.requestNotify(notifyWrite)
			// Re-read after setting the request bit; progress that
			// raced the bit would otherwise sleep forever.
			if r.prod() != prod {
				continue
			}
			c.wait()
			continue
		}

		off := c.ackUpTo & r.mask()
		n := avail
		if contig := r.size() - off; n > contig {
			n = contig
		}
		if n > max {
			n = max
		}
		view := r.data[off : off+n]
		c.ackUpTo += n
		c.stats.rxBytes.Inc(int64(n))
		return view, nil
	}
}

// Write copies all of p into the ring, blocking while it is full and
// the peer is connected. Returns the bytes written and io.EOF if the
// ring filled up after the peer left the connected state; like Read,
// it only reports end-of-stream when no progress is possible, so
// residual ring space is still usable against an exited peer.
func (c *Channel) Write(p []byte) (int, error) {
	w := &c.write
	written := 0
	for written < len(p) {
		prod := w.prod()
		cons := w.cons()
		space := w.size() - (prod - cons)
		if space == 0 {
			st, err := c.State()
			if err != nil {
				return written, err
			}
			if st != StateConnected {
				return written, io.EOF
			}
			c.requestNotify(notifyRead)
			if w.cons() != cons {
				continue
			}
			c.wait()
			continue
		}

		n := uint32(len(p) - written)
		if n > space {
			n = space
		}
		off := prod & w.mask()
		first := n
		if contig := w.size() - off; first > contig {
			first = contig
		}
		copy(w.data[off:off+first], p[written:written+int(first)])
		// Anything past the top of the ring wraps to offset 0.
		copy(w.data, p[written+int(first):written+int(n)])

		w.setProd(prod + n)
		c.sendNotify(notifyWrite)
		written += int(n)
		c.stats.txBytes.Inc(int64(n))
	}
	return written, nil
}

// Writev writes each buffer in order, short-circuiting on the first
// error. Returns the total bytes written.
func (c *Channel) Writev(bufs [][]byte) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := c.Write(b)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// DataReady returns how many bytes can be read without blocking. If
// none can, it arms the peer's notify bit before the second look, so a
// subsequent event wait cannot miss the data's arrival. The bit is not
// touched on the hot path.
func (c *Channel) DataReady() int {
	return int(c.fastDataReady(1))
}

func (c *Channel) fastDataReady(request uint32) uint32 {
	r := &c.read
	if avail := r.prod() - c.ackUpTo; avail >= request {
		return avail
	}
	c.requestNotify(notifyWrite)
	return r.prod() - c.ackUpTo
}

// BufferSpace returns how many bytes can be written without blocking,
// arming the peer's notify bit the same way DataReady does.
func (c *Channel) BufferSpace() int {
	return int(c.fastBufferSpace(1))
}

func (c *Channel) fastBufferSpace(request uint32) uint32 {
	w := &c.write
	if space := w.size() - (w.prod() - w.cons()); space >= request {
		return space
	}
	c.requestNotify(notifyRead)
	return w.size() - (w.prod() - w.cons())
}
