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
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/msgpo/go-vchan/event"
	"github.com/msgpo/go-vchan/grant"
	"github.com/msgpo/go-vchan/page"
)

// Client attaches to the channel that server domain domid advertises
// on the given port. It blocks until the advertisement exists, maps
// the control page and rings, signals the server, and returns a
// connected endpoint.
func Client(l *logrus.Logger, sub Substrate, domid, port uint32) (*Channel, error) {
	rec, err := sub.Registry.Read(domid, port)
	if err != nil {
		return nil, err
	}
	ref64, err := strconv.ParseUint(rec.RingRef, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("vchan: bad ring ref %q: %w", rec.RingRef, err)
	}
	evPort, err := event.ParsePort(rec.EventChannel)
	if err != nil {
		return nil, err
	}

	ctrl, err := sub.Grants.Map(domid, grant.Ref(ref64), true)
	if err != nil {
		return nil, err
	}

	c := &Channel{
		l:           l,
		sub:         sub,
		remoteDomid: domid,
		remotePort:  port,
		server:      false,
		ctrlMap:     ctrl,
		token:       event.InitialToken,
		stats:       newChannelStats(false),
	}
	fail := func(err error) (*Channel, error) {
		c.releaseClient()
		return nil, err
	}

	c.pg, err = page.NewView(ctrl.Bytes())
	if err != nil {
		return fail(err)
	}
	left, err := decodeOrder(c.pg.LeftOrder())
	if err != nil {
		return fail(err)
	}
	right, err := decodeOrder(c.pg.RightOrder())
	if err != nil {
		return fail(err)
	}

	// Left references come first in the array, then right.
	refIdx := 0
	leftBuf, err := c.mapRing(left, &refIdx)
	if err != nil {
		return fail(err)
	}
	rightBuf, err := c.mapRing(right, &refIdx)
	if err != nil {
		return fail(err)
	}

	// The client writes the left ring and reads the right one.
	c.read = ringBuf{pg: c.pg, left: false, data: rightBuf}
	c.write = ringBuf{pg: c.pg, left: true, data: leftBuf}

	c.pg.SetCliLive(byte(StateConnected))
	// The server's first write must be able to wake us.
	c.pg.OrSrvNotify(notifyWrite)

	ev, err := sub.Events.Connect(domid, evPort)
	if err != nil {
		return fail(err)
	}
	c.port, c.ev = ev.Port(), ev
	sub.Events.Send(ev)

	l.WithField("domid", domid).
		WithField("port", port).
		WithField("leftOrder", uint16(left)).
		WithField("rightOrder", uint16(right)).
		Debug("vchan client attached")
	return c, nil
}

// mapRing locates one ring: in-page rings are regions of the mapped
// control page, external rings are a vector map of the granted pages
// named in the reference array.
func (c *Channel) mapRing(loc bufferLocation, refIdx *int) ([]byte, error) {
	if !loc.external() {
		return inPageRing(c.pg, loc), nil
	}
	n := grantRefCount(loc)
	m, err := c.sub.Grants.Mapv(domRefs(c.pg, c.remoteDomid, *refIdx, n), true)
	if err != nil {
		return nil, err
	}
	*refIdx += n
	c.ringMaps = append(c.ringMaps, m)
	return m.Bytes(), nil
}

// releaseClient undoes a partial attach.
func (c *Channel) releaseClient() {
	for _, m := range c.ringMaps {
		c.sub.Grants.Unmap(m)
	}
	c.ringMaps = nil
	c.sub.Grants.Unmap(c.ctrlMap)
}
