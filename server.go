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
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/msgpo/go-vchan/event"
	"github.com/msgpo/go-vchan/page"
	"github.com/msgpo/go-vchan/registry"
)

// Server creates the serving endpoint of a channel to client domain
// domid on the given port and blocks until the client attaches.
//
// readSize and writeSize are the requested capacities of the ring this
// side reads from and the ring it writes to; each is rounded up to the
// smallest location that can hold it, spilling onto separately granted
// pages when it no longer fits inside the control page. A request larger
// than the biggest location gets the biggest location, and when both
// rings pick the same in-page region the write ring is moved to the
// next larger location.
func Server(l *logrus.Logger, sub Substrate, domid, port uint32, readSize, writeSize int) (*Channel, error) {
	ctrl, err := sub.Grants.Share(domid, 1, true)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		l:           l,
		sub:         sub,
		remoteDomid: domid,
		remotePort:  port,
		server:      true,
		ctrlShare:   ctrl,
		token:       event.InitialToken,
		stats:       newChannelStats(true),
	}
	c.pg, err = page.NewView(ctrl.Bytes())
	if err != nil {
		sub.Grants.Unshare(ctrl)
		return nil, err
	}

	// The server reads the left ring and writes the right one.
	left := locationFor(readSize)
	right := locationFor(writeSize)
	left, right = resolveInPageCollision(left, right)
	c.pg.SetLeftOrder(uint16(left))
	c.pg.SetRightOrder(uint16(right))

	refIdx := 0
	leftBuf, err := c.shareRing(left, &refIdx)
	if err != nil {
		c.releaseServer()
		return nil, err
	}
	rightBuf, err := c.shareRing(right, &refIdx)
	if err != nil {
		c.releaseServer()
		return nil, err
	}
	c.read = ringBuf{pg: c.pg, left: true, data: leftBuf}
	c.write = ringBuf{pg: c.pg, left: false, data: rightBuf}

	// Fresh shares are zeroed, but the counters are protocol state:
	// initialise all four explicitly.
	c.pg.SetLeftCons(0)
	c.pg.SetLeftProd(0)
	c.pg.SetRightCons(0)
	c.pg.SetRightProd(0)

	c.pg.SetSrvLive(byte(StateConnected))
	c.pg.SetCliLive(byte(StateWaiting))
	// The client's first write must be able to wake us.
	c.pg.OrCliNotify(notifyWrite)

	lp, ev, err := sub.Events.Listen(domid)
	if err != nil {
		c.releaseServer()
		return nil, err
	}
	c.port, c.ev = lp, ev

	rec := registry.Record{
		RingRef:      strconv.FormatUint(uint64(ctrl.Refs()[0]), 10),
		EventChannel: event.FormatPort(lp),
	}
	if err := sub.Registry.Write(domid, port, rec); err != nil {
		sub.Events.Close(lp)
		c.releaseServer()
		return nil, err
	}

	l.WithField("domid", domid).
		WithField("port", port).
		WithField("ringRef", rec.RingRef).
		WithField("eventChannel", rec.EventChannel).
		WithField("leftOrder", uint16(left)).
		WithField("rightOrder", uint16(right)).
		Debug("vchan server advertised")

	for {
		st, err := liveState(c.pg.CliLive())
		if err != nil {
			c.Close()
			return nil, err
		}
		if st != StateWaiting {
			break
		}
		c.wait()
	}

	l.WithField("domid", domid).WithField("port", port).
		Debug("vchan server connected")
	return c, nil
}

// shareRing grants an external ring's pages and appends their
// references to the array after the header. In-page rings borrow their
// area from the control page itself.
func (c *Channel) shareRing(loc bufferLocation, refIdx *int) ([]byte, error) {
	if !loc.external() {
		return inPageRing(c.pg, loc), nil
	}
	sh, err := c.sub.Grants.Share(c.remoteDomid, loc.pages(), true)
	if err != nil {
		return nil, err
	}
	c.ringShares = append(c.ringShares, sh)
	for _, r := range sh.Refs() {
		c.pg.SetGrantRef(*refIdx, uint32(r))
		*refIdx++
	}
	return sh.Bytes(), nil
}

// releaseServer undoes a partial setup before the channel was ever
// advertised.
func (c *Channel) releaseServer() {
	for _, sh := range c.ringShares {
		c.sub.Grants.Unshare(sh)
	}
	c.ringShares = nil
	c.sub.Grants.Unshare(c.ctrlShare)
}
