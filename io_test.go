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
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapAround(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)
	require.Equal(t, uint32(1024), cli.write.size())

	stream := pattern(1400, 0)

	n, err := cli.Write(stream[:800])
	require.NoError(t, err)
	require.Equal(t, 800, n)
	assert.Equal(t, stream[:800], readExactly(t, srv, 800))

	// The second write spans the top of the ring and wraps to offset
	// 0. Consumption is acknowledged lazily at the server's next read,
	// so the writer needs the reader running.
	done := make(chan error, 1)
	go func() {
		_, err := cli.Write(stream[800:])
		done <- err
	}()
	got := readExactly(t, srv, 600)
	require.NoError(t, <-done)
	assert.Equal(t, stream[800:], got)

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestFlowControl(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	const total = 10000
	stream := pattern(total, 5)

	done := make(chan error, 1)
	go func() {
		n, err := cli.Write(stream)
		if err == nil && n != total {
			t.Errorf("short write: %d of %d", n, total)
		}
		done <- err
	}()

	// The writer fills the ring and stalls.
	require.Eventually(t, func() bool {
		return srv.read.prod() == 1024
	}, 5*time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("writer finished while ring was full (err=%v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, uint32(1024), srv.read.prod()-srv.read.cons())

	// Consuming 512 frees 512 bytes of ring space for the writer once
	// the acknowledgement is published by the following read.
	buf := make([]byte, 512)
	n, err := srv.ReadBytes(buf)
	require.NoError(t, err)
	require.Equal(t, 512, n)
	assert.Equal(t, stream[:512], buf)

	got := append([]byte(nil), buf...)
	for len(got) < total {
		view, err := srv.Read()
		require.NoError(t, err)
		// Ring invariant: outstanding bytes never exceed capacity.
		require.LessOrEqual(t, srv.read.prod()-srv.read.cons(), uint32(1024))
		got = append(got, view...)
	}
	require.NoError(t, <-done)
	assert.Equal(t, stream, got)

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestRoundTripChunkedClientToServer(t *testing.T) {
	testRoundTripChunked(t, false)
}

func TestRoundTripChunkedServerToClient(t *testing.T) {
	testRoundTripChunked(t, true)
}

// Round-trip law: any payload, any chunking, any pair of ring sizes
// comes out byte-identical and in order on the far side.
func testRoundTripChunked(t *testing.T, serverWrites bool) {
	f := newFixture()
	srv, cli := connectPair(t, f, 2048, 512)

	writer, reader := cli, srv
	if serverWrites {
		writer, reader = srv, cli
	}

	const total = 100_000
	stream := pattern(total, 42)
	rng := rand.New(rand.NewSource(1))

	done := make(chan error, 1)
	go func() {
		rem := stream
		for len(rem) > 0 {
			n := rng.Intn(7777) + 1
			if n > len(rem) {
				n = len(rem)
			}
			if _, err := writer.Write(rem[:n]); err != nil {
				done <- err
				return
			}
			rem = rem[n:]
		}
		done <- nil
	}()

	got := readExactly(t, reader, total)
	require.NoError(t, <-done)
	assert.True(t, bytes.Equal(stream, got), "stream corrupted in transit")

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

// Writing B1 then B2 is indistinguishable from writing B1++B2.
func TestWritevEquivalence(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 4096, 4096)

	b1 := pattern(1000, 1)
	b2 := pattern(1000, 2)

	n, err := cli.Writev([][]byte{b1, b2})
	require.NoError(t, err)
	require.Equal(t, 2000, n)
	joined := readExactly(t, srv, 2000)

	assert.Equal(t, b1, joined[:1000])
	assert.Equal(t, b2, joined[1000:])

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

// A consumer that armed the notify bit and suspended must be woken by
// the producer's progress.
func TestBlockedReaderIsWoken(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	got := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		view, err := srv.Read()
		if err != nil {
			errs <- err
			return
		}
		got <- append([]byte(nil), view...)
	}()

	// Let the reader reach the event wait.
	time.Sleep(50 * time.Millisecond)
	_, err := cli.Write([]byte("wake"))
	require.NoError(t, err)

	select {
	case view := <-got:
		assert.Equal(t, []byte("wake"), view)
	case err := <-errs:
		t.Fatalf("Read failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked reader never woken by producer progress")
	}

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestBlockedWriterIsWoken(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	fill := pattern(1024, 0)
	_, err := cli.Write(fill)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := cli.Write([]byte("more"))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("writer finished against a full ring")
	default:
	}

	// Two reads: the first hands out bytes, the second publishes the
	// acknowledgement that frees space.
	readExactly(t, srv, 1024)
	got := readExactly(t, srv, 4)
	require.NoError(t, <-done)
	assert.Equal(t, []byte("more"), got)

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestDataReadyAndBufferSpace(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	// Empty read ring: the slow path arms the peer's notify bit.
	assert.Equal(t, 0, srv.DataReady())
	assert.NotZero(t, srv.pg.CliNotify()&notifyWrite)

	// Write ring is the 2048-byte in-page region after collision
	// resolution.
	assert.Equal(t, 2048, srv.BufferSpace())

	_, err := cli.Write([]byte("abcde"))
	require.NoError(t, err)
	assert.Equal(t, 5, srv.DataReady())
	assert.Equal(t, 1024-5, cli.BufferSpace())

	readExactly(t, srv, 5)

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestAckWatermarkTracksReads(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	_, err := cli.Write(pattern(300, 7))
	require.NoError(t, err)

	var total uint32
	for total < 300 {
		before := srv.ackUpTo
		view, err := srv.Read()
		require.NoError(t, err)
		total += uint32(len(view))
		assert.Equal(t, before+uint32(len(view)), srv.ackUpTo)
		assert.Equal(t, total, srv.ackUpTo)
	}

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}

func TestStatsCount(t *testing.T) {
	f := newFixture()
	srv, cli := connectPair(t, f, 1024, 1024)

	srvBefore := srv.Stats()
	cliBefore := cli.Stats()

	payload := pattern(2000, 3)
	done := make(chan error, 1)
	go func() {
		_, err := cli.Write(payload)
		done <- err
	}()
	readExactly(t, srv, 2000)
	require.NoError(t, <-done)

	assert.Equal(t, int64(2000), srv.Stats().RxBytes-srvBefore.RxBytes)
	assert.Equal(t, int64(2000), cli.Stats().TxBytes-cliBefore.TxBytes)

	require.NoError(t, srv.Close())
	require.NoError(t, cli.Close())
	f.assertCleanedUp(t)
}
