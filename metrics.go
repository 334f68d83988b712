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

import "github.com/rcrowley/go-metrics"

// channelStats aggregates per-side counters in the default metrics
// registry. Counters are shared by every channel of the same side in
// the process.
type channelStats struct {
	rxBytes   metrics.Counter
	txBytes   metrics.Counter
	eventsIn  metrics.Counter
	eventsOut metrics.Counter
}

func newChannelStats(server bool) *channelStats {
	side := "client"
	if server {
		side = "server"
	}
	return &channelStats{
		rxBytes:   metrics.GetOrRegisterCounter("vchan."+side+".rx_bytes", nil),
		txBytes:   metrics.GetOrRegisterCounter("vchan."+side+".tx_bytes", nil),
		eventsIn:  metrics.GetOrRegisterCounter("vchan."+side+".events_in", nil),
		eventsOut: metrics.GetOrRegisterCounter("vchan."+side+".events_out", nil),
	}
}

// StatsSnapshot is a point-in-time copy of one endpoint's counters.
type StatsSnapshot struct {
	RxBytes   int64
	TxBytes   int64
	EventsIn  int64
	EventsOut int64
}

// Stats returns the current counter values for this endpoint's side.
func (c *Channel) Stats() StatsSnapshot {
	return StatsSnapshot{
		RxBytes:   c.stats.rxBytes.Count(),
		TxBytes:   c.stats.txBytes.Count(),
		EventsIn:  c.stats.eventsIn.Count(),
		EventsOut: c.stats.eventsOut.Count(),
	}
}
