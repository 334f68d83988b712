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

// Package registry models the small shared configuration store a
// server uses to advertise a channel to its client: the first grant
// reference of the control page and the server's listening event port,
// both as decimal strings.
package registry

import "errors"

// Record is one channel advertisement.
type Record struct {
	RingRef      string
	EventChannel string
}

var (
	// ErrNotAdvertised is returned when deleting an entry that does
	// not exist.
	ErrNotAdvertised = errors.New("registry: entry not advertised")

	// ErrStaleEntries is returned by Memory.AssertCleanedUp when
	// entries remain.
	ErrStaleEntries = errors.New("registry: stale entries")
)

// Store advertises and discovers channel records. The domid parameter
// names the peer domain of the caller; the server writes and deletes,
// the client reads.
type Store interface {
	// Write publishes a record, replacing any previous value and
	// waking blocked readers.
	Write(domid, port uint32, rec Record) error

	// Read blocks until a record exists, then returns it.
	Read(domid, port uint32) (Record, error)

	// Delete removes a record. The server calls this on close.
	Delete(domid, port uint32) error
}
