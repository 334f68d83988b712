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

// Package event models the inter-domain event-channel facility: a
// one-bit cross-domain signal with a receive-side counter so that a
// signal sent before the receiver suspends is never lost.
//
// A listener allocates an unbound port; the peer connects to it and
// obtains a bound port of its own. Send on either side bumps the
// remote port's counter and wakes its waiters; Recv suspends until the
// local counter exceeds the token the caller last saw.
package event

import (
	"errors"
	"fmt"
	"strconv"
)

// Port identifies an event channel endpoint within a domain.
type Port uint32

// Token is a receive-side event counter value. Recv returns once the
// counter exceeds the token passed in, so wake-ups sent between two
// Recv calls are never missed.
type Token uint64

// InitialToken is the token to pass to the first Recv on a channel.
const InitialToken Token = 0

var (
	// ErrPortParse is returned when a textual port is not a decimal
	// 32-bit integer.
	ErrPortParse = errors.New("event: bad port string")

	// ErrPortNotBound is returned when operating on a port that is not
	// allocated.
	ErrPortNotBound = errors.New("event: port not bound")

	// ErrStalePorts is returned by Memory.AssertCleanedUp when ports
	// remain bound.
	ErrStalePorts = errors.New("event: stale ports")
)

// Channel is a handle on a local event port.
type Channel struct {
	port Port
}

// Port returns the local port the channel is bound to.
func (c *Channel) Port() Port { return c.port }

// Bus allocates, connects and signals event channels.
type Bus interface {
	// Listen allocates a fresh unbound port accepting a connection
	// from remoteDomid and returns it with its local channel handle.
	Listen(remoteDomid uint32) (Port, *Channel, error)

	// Connect allocates a fresh local port bound to the remote port
	// and returns its channel handle.
	Connect(remoteDomid uint32, remote Port) (*Channel, error)

	// Send signals the peer of the channel. Signals to a closed peer
	// are dropped.
	Send(c *Channel)

	// Recv suspends until the channel's counter exceeds token, then
	// returns the counter. It never fails.
	Recv(c *Channel, token Token) Token

	// Close releases a port, waking any waiter.
	Close(p Port) error
}

// FormatPort renders a port in the decimal on-wire form.
func FormatPort(p Port) string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParsePort parses the decimal on-wire form of a port.
func ParsePort(s string) (Port, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPortParse, s)
	}
	return Port(n), nil
}
