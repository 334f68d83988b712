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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/msgpo/go-vchan/event"
	"github.com/msgpo/go-vchan/grant"
	"github.com/msgpo/go-vchan/page"
	"github.com/msgpo/go-vchan/registry"
)

// State is one side's liveness as stored in its control-page byte.
type State uint8

const (
	// StateExited means the side has closed and will make no further
	// progress.
	StateExited State = 0

	// StateConnected means the side is attached and serving.
	StateConnected State = 1

	// StateWaiting means the server is up and no client has attached
	// yet.
	StateWaiting State = 2
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateConnected:
		return "connected"
	case StateWaiting:
		return "waiting-for-connection"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Notify bits. A peer ORs the bit for the progress it is waiting on
// into the byte its peer checks; the peer clears the bit after making
// that progress and sends one event if it was set.
const (
	notifyWrite byte = 1 << 0 // signal after the peer writes: readable data appeared
	notifyRead  byte = 1 << 1 // signal after the peer reads: writable space appeared
)

var (
	// ErrBadOrder is returned when a ring order field on a mapped
	// control page is outside the legal 10..20 range.
	ErrBadOrder = errors.New("vchan: bad ring order")

	// ErrBadLive is returned when a live byte is outside the legal
	// {0, 1, 2} range.
	ErrBadLive = errors.New("vchan: bad live state")
)

// Substrate bundles the three hypervisor facilities a channel runs on.
type Substrate struct {
	Grants   grant.Table
	Events   event.Bus
	Registry registry.Store
}

// Channel is one endpoint of a connected vchan. It is not safe for
// concurrent use by multiple goroutines; the cross-domain concurrency
// with the peer endpoint is what the ring protocol is for.
type Channel struct {
	l   *logrus.Logger
	sub Substrate

	remoteDomid uint32
	remotePort  uint32

	pg     *page.View
	server bool

	// Resources owned by a server endpoint.
	ctrlShare  *grant.Share
	ringShares []*grant.Share

	// Resources owned by a client endpoint.
	ctrlMap  *grant.Mapping
	ringMaps []*grant.Mapping

	port  event.Port
	ev    *event.Channel
	token event.Token

	read  ringBuf
	write ringBuf

	// Bytes handed to the application but not yet acknowledged to the
	// peer through the consumer index. Published at the top of the
	// next Read.
	ackUpTo uint32

	closed bool

	stats *channelStats
}

// ringBuf is one direction's ring: its byte area plus the side of the
// control page its counters live on.
type ringBuf struct {
	pg   *page.View
	left bool
	data []byte
}

func (r *ringBuf) size() uint32 { return uint32(len(r.data)) }
func (r *ringBuf) mask() uint32 { return r.size() - 1 }

func (r *ringBuf) prod() uint32 {
	if r.left {
		return r.pg.LeftProd()
	}
	return r.pg.RightProd()
}

func (r *ringBuf) setProd(v uint32) {
	if r.left {
		r.pg.SetLeftProd(v)
	} else {
		r.pg.SetRightProd(v)
	}
}

func (r *ringBuf) cons() uint32 {
	if r.left {
		return r.pg.LeftCons()
	}
	return r.pg.RightCons()
}

func (r *ringBuf) setCons(v uint32) {
	if r.left {
		r.pg.SetLeftCons(v)
	} else {
		r.pg.SetRightCons(v)
	}
}

func liveState(b byte) (State, error) {
	if b > uint8(StateWaiting) {
		return 0, fmt.Errorf("%w: %d", ErrBadLive, b)
	}
	return State(b), nil
}

// State returns the peer's liveness, which is the effective state of
// the channel as seen from this endpoint.
func (c *Channel) State() (State, error) {
	if c.server {
		return liveState(c.pg.CliLive())
	}
	return liveState(c.pg.SrvLive())
}

// requestNotify asks the peer to signal after it makes the progress
// named by bit, by setting the bit in the byte the peer checks.
func (c *Channel) requestNotify(bit byte) {
	if c.server {
		c.pg.OrCliNotify(bit)
	} else {
		c.pg.OrSrvNotify(bit)
	}
}

// sendNotify runs the clear-then-send step after this endpoint made
// the progress named by bit: clear the bit from the byte this side
// checks and, if it was set, emit one event. The clear happens after
// the counter store so the peer can never observe the signal without
// the progress.
func (c *Channel) sendNotify(bit byte) {
	var prev byte
	if c.server {
		prev = c.pg.AndSrvNotify(^bit)
	} else {
		prev = c.pg.AndCliNotify(^bit)
	}
	if prev&bit != 0 {
		c.sub.Events.Send(c.ev)
		c.stats.eventsOut.Inc(1)
	}
}

// wait suspends on the event channel until the peer signals again.
func (c *Channel) wait() {
	c.token = c.sub.Events.Recv(c.ev, c.token)
	c.stats.eventsIn.Inc(1)
}

// Close shuts this endpoint down: it marks its own live byte Exited,
// signals the peer, and releases every resource this side owns. A
// second Close is a no-op.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.server {
		c.pg.SetSrvLive(byte(StateExited))
	} else {
		c.pg.SetCliLive(byte(StateExited))
	}
	c.sub.Events.Send(c.ev)

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.server {
		keep(c.sub.Registry.Delete(c.remoteDomid, c.remotePort))
		for _, sh := range c.ringShares {
			keep(c.sub.Grants.Unshare(sh))
		}
		keep(c.sub.Grants.Unshare(c.ctrlShare))
	} else {
		for _, m := range c.ringMaps {
			keep(c.sub.Grants.Unmap(m))
		}
		keep(c.sub.Grants.Unmap(c.ctrlMap))
	}
	keep(c.sub.Events.Close(c.port))

	c.l.WithField("domid", c.remoteDomid).
		WithField("port", c.remotePort).
		WithField("server", c.server).
		Debug("vchan closed")
	return firstErr
}
