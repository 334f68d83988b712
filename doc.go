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

// Package vchan implements a reliable, ordered, flow-controlled byte
// stream between two isolation domains over a single shared control
// page and a pair of ring buffers.
//
// A server allocates the control page and rings through a grant table,
// advertises the first grant reference and its listening event port
// through a configuration registry, and blocks until a client maps the
// page and signals it. After that both peers move bytes through two
// single-producer single-consumer rings (one per direction) and wake
// each other through event-channel signals gated by per-peer notify
// bits on the control page, so the kernel-crossing signal is only sent
// when the other side asked for it.
//
// The hypervisor facilities are consumed through three small
// interfaces (grant.Table, event.Bus, registry.Store). In-memory
// implementations of all three ship alongside the interfaces; they are
// the substrate the test suite runs on and make a server/client pair
// runnable inside a single process.
package vchan
