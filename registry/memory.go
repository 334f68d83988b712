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

package registry

import (
	"fmt"
	"sync"
)

// Memory is an in-process store: a map guarded by a mutex with a
// broadcast condition variable for blocked readers.
//
// Entries are scoped by port alone. The two peers of a pair each name
// the opposite domid, so a literal (domid, port) key could never match
// between Write and Read in one shared table; a directory-backed store
// would scope records by domain path instead.
type Memory struct {
	mu      sync.Mutex
	cond    *sync.Cond
	entries map[uint32]Record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	s := &Memory{entries: make(map[uint32]Record)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Write implements Store.
func (s *Memory) Write(_ uint32, port uint32, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[port] = rec
	s.cond.Broadcast()
	return nil
}

// Read implements Store.
func (s *Memory) Read(_ uint32, port uint32) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if rec, ok := s.entries[port]; ok {
			return rec, nil
		}
		s.cond.Wait()
	}
}

// Delete implements Store.
func (s *Memory) Delete(_ uint32, port uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[port]; !ok {
		return fmt.Errorf("%w: port %d", ErrNotAdvertised, port)
	}
	delete(s.entries, port)
	return nil
}

// AssertCleanedUp reports an error if any entry remains. Intended for
// end-of-test verification.
func (s *Memory) AssertCleanedUp() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrStaleEntries, len(s.entries))
}
