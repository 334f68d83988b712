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

package event

import (
	"fmt"
	"sync"
)

type portState struct {
	remoteDomid uint32
	peer        Port
	hasPeer     bool
	counter     Token
}

// Memory is an in-process event bus. Ports are small integers from a
// monotone counter; a single condition variable covers all waiters,
// which is plenty for the two peers of a test pair.
type Memory struct {
	mu    sync.Mutex
	cond  *sync.Cond
	next  Port
	ports map[Port]*portState
}

var _ Bus = (*Memory)(nil)

// NewMemory returns an empty in-process event bus.
func NewMemory() *Memory {
	b := &Memory{
		next:  1,
		ports: make(map[Port]*portState),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Listen implements Bus.
func (b *Memory) Listen(remoteDomid uint32) (Port, *Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.next
	b.next++
	b.ports[p] = &portState{remoteDomid: remoteDomid}
	return p, &Channel{port: p}, nil
}

// Connect implements Bus.
func (b *Memory) Connect(remoteDomid uint32, remote Port) (*Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rs, ok := b.ports[remote]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPortNotBound, remote)
	}
	local := b.next
	b.next++
	b.ports[local] = &portState{
		remoteDomid: remoteDomid,
		peer:        remote,
		hasPeer:     true,
	}
	rs.peer = local
	rs.hasPeer = true
	return &Channel{port: local}, nil
}

// Send implements Bus.
func (b *Memory) Send(c *Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.ports[c.port]
	if !ok || !st.hasPeer {
		return
	}
	if ps, ok := b.ports[st.peer]; ok {
		ps.counter++
		b.cond.Broadcast()
	}
}

// Recv implements Bus. It returns early with the token unchanged if
// the port is closed under the waiter.
func (b *Memory) Recv(c *Channel, token Token) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		st, ok := b.ports[c.port]
		if !ok {
			return token
		}
		if st.counter > token {
			return st.counter
		}
		b.cond.Wait()
	}
}

// Close implements Bus.
func (b *Memory) Close(p Port) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.ports[p]; !ok {
		return fmt.Errorf("%w: %d", ErrPortNotBound, p)
	}
	delete(b.ports, p)
	b.cond.Broadcast()
	return nil
}

// AssertCleanedUp reports an error if any port remains bound. Intended
// for end-of-test verification.
func (b *Memory) AssertCleanedUp() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.ports) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d bound", ErrStalePorts, len(b.ports))
}
