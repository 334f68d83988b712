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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*Memory, *Channel, *Channel) {
	t.Helper()
	bus := NewMemory()
	port, srv, err := bus.Listen(7)
	require.NoError(t, err)
	cli, err := bus.Connect(0, port)
	require.NoError(t, err)
	return bus, srv, cli
}

func TestSendBeforeRecvIsNotLost(t *testing.T) {
	bus, srv, cli := newPair(t)

	// The signal lands in the counter; a later Recv must see it.
	bus.Send(cli)
	tok := bus.Recv(srv, InitialToken)
	assert.Equal(t, Token(1), tok)

	bus.Send(srv)
	bus.Send(srv)
	assert.Equal(t, Token(2), bus.Recv(cli, InitialToken))
}

func TestRecvSuspendsUntilSend(t *testing.T) {
	bus, srv, cli := newPair(t)

	done := make(chan Token, 1)
	go func() {
		done <- bus.Recv(srv, InitialToken)
	}()

	select {
	case tok := <-done:
		t.Fatalf("Recv returned %d before any send", tok)
	case <-time.After(50 * time.Millisecond):
	}

	bus.Send(cli)
	select {
	case tok := <-done:
		assert.Equal(t, Token(1), tok)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv not woken by send")
	}
}

func TestRecvTokenSkipsStaleWakeups(t *testing.T) {
	bus, srv, cli := newPair(t)

	bus.Send(cli)
	tok := bus.Recv(srv, InitialToken)

	// Same token again: must wait for a fresh signal.
	done := make(chan Token, 1)
	go func() {
		done <- bus.Recv(srv, tok)
	}()
	select {
	case <-done:
		t.Fatal("Recv returned on an already-consumed token")
	case <-time.After(50 * time.Millisecond):
	}
	bus.Send(cli)
	select {
	case tok2 := <-done:
		assert.Equal(t, Token(2), tok2)
	case <-time.After(5 * time.Second):
		t.Fatal("Recv not woken by second send")
	}
}

func TestCloseWakesWaiter(t *testing.T) {
	bus, srv, _ := newPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Recv(srv, InitialToken)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, bus.Close(srv.Port()))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Recv not released by Close")
	}
}

func TestConnectUnknownPort(t *testing.T) {
	bus := NewMemory()
	_, err := bus.Connect(0, 99)
	assert.ErrorIs(t, err, ErrPortNotBound)
}

func TestSendToClosedPeerIsDropped(t *testing.T) {
	bus, srv, cli := newPair(t)
	require.NoError(t, bus.Close(srv.Port()))
	bus.Send(cli) // must not panic or resurrect the port
	require.NoError(t, bus.Close(cli.Port()))
	require.NoError(t, bus.AssertCleanedUp())
}

func TestCleanup(t *testing.T) {
	bus, srv, cli := newPair(t)
	assert.ErrorIs(t, bus.AssertCleanedUp(), ErrStalePorts)

	require.NoError(t, bus.Close(srv.Port()))
	assert.ErrorIs(t, bus.Close(srv.Port()), ErrPortNotBound)
	require.NoError(t, bus.Close(cli.Port()))
	require.NoError(t, bus.AssertCleanedUp())
}

func TestPortText(t *testing.T) {
	assert.Equal(t, "41", FormatPort(41))

	p, err := ParsePort("41")
	require.NoError(t, err)
	assert.Equal(t, Port(41), p)

	_, err = ParsePort("4a")
	assert.ErrorIs(t, err, ErrPortParse)
	_, err = ParsePort("")
	assert.ErrorIs(t, err, ErrPortParse)
	_, err = ParsePort("-1")
	assert.ErrorIs(t, err, ErrPortParse)
}
