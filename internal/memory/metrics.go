package memory

import (
	"sync"
	"time"
)

// latencySmoothing is the weight given to the newest retrieval latency.
const latencySmoothing = 0.1

// metricsAggregator keeps Metrics current with incremental updates. It has
// its own lock because retrieval updates it outside the controller's
// mutation lock.
type metricsAggregator struct {
	mu       sync.Mutex
	enabled  bool
	m        Metrics
	ratioSum float64
	hits     int64
	misses   int64
	recorder *otelRecorder
}

func newMetricsAggregator(enabled bool, recorder *otelRecorder) *metricsAggregator {
	return &metricsAggregator{
		enabled:  enabled,
		m:        Metrics{CompressionRatio: 1.0},
		recorder: recorder,
	}
}

// footprint estimates the bytes a segment holds: id, content and string metadata.
func footprint(seg *Segment) int {
	n := len(seg.ID) + len(seg.Content)
	for k, v := range seg.Metadata {
		n += len(k)
		if s, ok := v.(string); ok {
			n += len(s)
		}
	}
	return n
}

func (a *metricsAggregator) onAdd(seg *Segment) {
	a.mu.Lock()
	a.m.TotalSegments++
	a.m.TotalSizeBytes += seg.Size()
	a.m.MemoryUsageBytes += footprint(seg)
	a.ratioSum += seg.CompressionRatio
	a.refreshRatioLocked()
	a.mu.Unlock()

	if a.enabled {
		a.recorder.segmentAdded()
	}
}

func (a *metricsAggregator) onRemove(seg *Segment, reason string) {
	a.mu.Lock()
	a.m.TotalSegments--
	a.m.TotalSizeBytes -= seg.Size()
	a.m.MemoryUsageBytes -= footprint(seg)
	a.ratioSum -= seg.CompressionRatio
	a.refreshRatioLocked()
	a.mu.Unlock()

	if a.enabled {
		a.recorder.segmentRemoved(reason)
	}
}

func (a *metricsAggregator) onCompress(before, after *Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.TotalSizeBytes += after.Size() - before.Size()
	a.m.MemoryUsageBytes += footprint(after) - footprint(before)
	a.ratioSum += after.CompressionRatio - before.CompressionRatio
	a.refreshRatioLocked()
}

func (a *metricsAggregator) onDemote(n int, from, to Tier) {
	if a.enabled {
		a.recorder.segmentsDemoted(n, from, to)
	}
}

func (a *metricsAggregator) onRetrieval(elapsed time.Duration) {
	if !a.enabled {
		return
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	a.mu.Lock()
	a.m.AverageRetrievalTimeMs = a.m.AverageRetrievalTimeMs*(1-latencySmoothing) + ms*latencySmoothing
	a.mu.Unlock()
	a.recorder.retrievalLatency(ms)
}

func (a *metricsAggregator) onCacheLookup(hit bool) {
	if !a.enabled {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if hit {
		a.hits++
	} else {
		a.misses++
	}
	a.m.CacheHitRate = float64(a.hits) / float64(a.hits+a.misses)
}

func (a *metricsAggregator) setActive(n int) {
	a.mu.Lock()
	a.m.ActiveSegments = n
	a.mu.Unlock()
}

func (a *metricsAggregator) refreshRatioLocked() {
	if a.m.TotalSegments <= 0 {
		a.m.CompressionRatio = 1.0
		return
	}
	a.m.CompressionRatio = a.ratioSum / float64(a.m.TotalSegments)
}

func (a *metricsAggregator) snapshot() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.m
}

// recompute rebuilds the size and count fields from live segments. Latency
// and cache statistics are history and are kept.
func (a *metricsAggregator) recompute(segs []*Segment, active int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m.TotalSegments = len(segs)
	a.m.ActiveSegments = active
	a.m.TotalSizeBytes = 0
	a.m.MemoryUsageBytes = 0
	a.ratioSum = 0
	for _, seg := range segs {
		a.m.TotalSizeBytes += seg.Size()
		a.m.MemoryUsageBytes += footprint(seg)
		a.ratioSum += seg.CompressionRatio
	}
	a.refreshRatioLocked()
}
