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

// vchan-pump is a diagnostic harness: it runs a server/client pair
// over the in-memory substrates, pushes patterned data through rings
// of increasing requested size, and prints the server side's byte and
// event counters after each run. Those counters are shared by every
// server channel in the process, so they accumulate across runs.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	vchan "github.com/msgpo/go-vchan"
	"github.com/msgpo/go-vchan/event"
	"github.com/msgpo/go-vchan/grant"
	"github.com/msgpo/go-vchan/registry"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	payload := flag.Int("payload", 1<<20, "bytes to pump per direction")
	flag.Parse()

	l := logrus.New()
	l.Out = os.Stderr
	if *verbose {
		l.Level = logrus.DebugLevel
	}

	ringSizes := []int{512, 1024, 2048, 4096, 65536, 1 << 20}
	for i, size := range ringSizes {
		if err := pump(l, uint32(i+1), size, *payload); err != nil {
			l.WithError(err).WithField("ringSize", size).Fatal("pump failed")
		}
	}
}

func pump(l *logrus.Logger, port uint32, ringSize, payload int) error {
	grants := grant.NewMemory()
	events := event.NewMemory()
	reg := registry.NewMemory()
	sub := vchan.Substrate{Grants: grants, Events: events, Registry: reg}

	const domServer, domClient = 0, 7

	var srv, cli *vchan.Channel
	var g errgroup.Group
	g.Go(func() error {
		var err error
		srv, err = vchan.Server(l, sub, domClient, port, ringSize, ringSize)
		return err
	})
	g.Go(func() error {
		var err error
		cli, err = vchan.Client(l, sub, domServer, port)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	pattern := make([]byte, payload)
	for i := range pattern {
		pattern[i] = byte(i)
	}

	var pipe errgroup.Group
	pipe.Go(func() error {
		_, err := cli.Write(pattern)
		return err
	})
	pipe.Go(func() error {
		var got bytes.Buffer
		for got.Len() < payload {
			view, err := srv.Read()
			if err != nil {
				return err
			}
			got.Write(view)
		}
		if !bytes.Equal(got.Bytes(), pattern) {
			return fmt.Errorf("payload corrupted at ring size %d", ringSize)
		}
		return nil
	})
	if err := pipe.Wait(); err != nil {
		return err
	}

	stats := srv.Stats()
	fmt.Printf("ring %7d: pumped %d bytes, server rx=%d events_in=%d events_out=%d\n",
		ringSize, payload, stats.RxBytes, stats.EventsIn, stats.EventsOut)

	if err := srv.Close(); err != nil {
		return err
	}
	if err := cli.Close(); err != nil {
		return err
	}
	for _, assert := range []func() error{
		grants.AssertCleanedUp, events.AssertCleanedUp, reg.AssertCleanedUp,
	} {
		if err := assert(); err != nil {
			return err
		}
	}
	return nil
}
