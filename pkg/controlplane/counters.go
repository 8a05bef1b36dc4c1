package controlplane

import "sync/atomic"

// Counters holds monotonic atomic scalars, never decreasing while
// running, readable from any goroutine without a lock. Readers see
// monotonically non-decreasing values per counter, but not necessarily
// a consistent snapshot across counters taken at the same instant.
type Counters struct {
	requestsProxied       atomic.Uint64
	beatmapsDownloaded    atomic.Uint64
	banchoPacketsInjected atomic.Uint64
}

// Snapshot is a point-in-time read of all three counters, for getCounters().
type Snapshot struct {
	RequestsProxied       uint64 `json:"requestsProxied"`
	BeatmapsDownloaded    uint64 `json:"beatmapsDownloaded"`
	BanchoPacketsInjected uint64 `json:"banchoPacketsInjected"`
}

func (c *Counters) AddRequestsProxied(n uint64)      { c.requestsProxied.Add(n) }
func (c *Counters) AddBeatmapsDownloaded(n uint64)    { c.beatmapsDownloaded.Add(n) }
func (c *Counters) AddBanchoPacketsInjected(n uint64) { c.banchoPacketsInjected.Add(n) }

// ReadSnapshot reads all three counters via independent atomic loads;
// it is not a consistent cross-counter snapshot.
func (c *Counters) ReadSnapshot() Snapshot {
	return Snapshot{
		RequestsProxied:       c.requestsProxied.Load(),
		BeatmapsDownloaded:    c.beatmapsDownloaded.Load(),
		BanchoPacketsInjected: c.banchoPacketsInjected.Load(),
	}
}
