package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	// RetainFraction is the share of a tier kept in place by an optimization
	// pass; the rest moves one tier down. It is a fixed policy, not derived
	// from the budget, so a pass can overshoot or undershoot the budget.
	RetainFraction = 0.6

	// ExpiryAge is how old a long-term segment must be before cleanup may drop it.
	ExpiryAge = 30 * 24 * time.Hour

	// MinRetainedAccesses exempts long-term segments from expiry regardless of age.
	MinRetainedAccesses = 2
)

// Controller owns the three tiers and drives ingestion, demotion,
// compression, expiry and retrieval. Mutations are serialized by one lock;
// reads go straight to the TierStore.
type Controller struct {
	mu          sync.Mutex
	cfg         ContextConfig
	tiers       *TierStore
	compressor  Compressor
	retriever   Retriever
	embedder    Embedder
	metrics     *metricsAggregator
	cache       *resultCache
	generation  atomic.Uint64
	seq         uint64
	now         func() time.Time
	lastCleanup time.Time
	// settled marks tiers already optimized that have not grown since.
	settled     map[Tier]bool

	meter        metric.Meter
	cacheEntries int64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithCompressor replaces the compressor selected by the config.
func WithCompressor(c Compressor) Option {
	return func(ctl *Controller) { ctl.compressor = c }
}

// WithRetriever replaces the retriever selected by the config.
func WithRetriever(r Retriever) Option {
	return func(ctl *Controller) { ctl.retriever = r }
}

// WithEmbedder backs the semantic and hybrid retrieval strategies.
func WithEmbedder(e Embedder) Option {
	return func(ctl *Controller) { ctl.embedder = e }
}

// WithClock sets the time source used for creation stamps, decay and expiry.
func WithClock(now func() time.Time) Option {
	return func(ctl *Controller) { ctl.now = now }
}

// WithMeter routes metrics to meter instead of the global provider.
func WithMeter(m metric.Meter) Option {
	return func(ctl *Controller) { ctl.meter = m }
}

// WithCacheEntries bounds the retrieval cache. Zero disables it.
func WithCacheEntries(n int64) Option {
	return func(ctl *Controller) { ctl.cacheEntries = n }
}

// NewController validates cfg and builds a controller with empty tiers.
func NewController(cfg ContextConfig, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:          cfg,
		tiers:        NewTierStore(),
		now:          time.Now,
		settled:      make(map[Tier]bool, len(tierOrder)),
		cacheEntries: DefaultCacheEntries,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.compressor == nil {
		comp, err := NewCompressor(cfg.CompressionStrategy)
		if err != nil {
			return nil, err
		}
		c.compressor = comp
	}
	if c.retriever == nil && c.embedder != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.RetrievalStrategy)) {
		case RetrievalSemantic:
			c.retriever = &HybridRetriever{Embedder: c.embedder, SimilarityThreshold: cfg.SimilarityThreshold}
		case RetrievalHybrid:
			c.retriever = &HybridRetriever{
				Embedder:            c.embedder,
				SimilarityThreshold: cfg.SimilarityThreshold,
				KeywordWeight:       DefaultKeywordWeight,
			}
		}
	}
	if c.retriever == nil {
		ret, err := NewRetriever(cfg.RetrievalStrategy)
		if err != nil {
			return nil, err
		}
		c.retriever = ret
	}

	recorder, err := newOtelRecorder(c.meter)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	c.metrics = newMetricsAggregator(cfg.MetricsEnabled, recorder)

	cache, err := newResultCache(c.cacheEntries)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	c.lastCleanup = c.now()
	return c, nil
}

// Close releases the retrieval cache.
func (c *Controller) Close() {
	c.cache.close()
}

// Config returns the controller's configuration.
func (c *Controller) Config() ContextConfig { return c.cfg }

// invalidate makes cached retrieval results unreachable and returns the new generation.
func (c *Controller) invalidate() uint64 {
	return c.generation.Add(1)
}

// AddContext stores content as a new active segment and then enforces the
// tier budgets before returning, so one call may demote many segments.
func (c *Controller) AddContext(content string, metadata map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seg := newSegment(content, metadata, c.now(), c.seq)
	_, _ = c.tiers.Store(TierActive, seg)
	c.settled[TierActive] = false
	c.metrics.onAdd(seg)
	c.invalidate()

	c.maybeOptimize()
	c.metrics.setActive(c.tiers.Usage().Active)
	return seg.ID
}

// maybeOptimize runs the demotion passes; each one checks its own budget.
func (c *Controller) maybeOptimize() int {
	return c.optimizeActive() + c.optimizeWorking()
}

// optimizeActive demotes from active to working when active is over MaxContextSize.
func (c *Controller) optimizeActive() int {
	if c.tiers.SizeOf(TierActive) <= c.cfg.MaxContextSize {
		return 0
	}
	return c.demote(TierActive, TierWorking)
}

// optimizeWorking demotes from working to long_term when working is over WorkingMemorySize.
func (c *Controller) optimizeWorking() int {
	if c.tiers.SizeOf(TierWorking) <= c.cfg.WorkingMemorySize {
		return 0
	}
	return c.demote(TierWorking, TierLongTerm)
}

// demote ranks the segments of from by composite score and moves everything
// below the retained fraction to to. It does nothing when from has not grown
// since its last pass, so repeated passes are a fixed point.
func (c *Controller) demote(from, to Tier) int {
	if c.settled[from] {
		return 0
	}
	c.settled[from] = true

	segs := c.tiers.ListAll(from)
	now := c.now()
	scores := make(map[string]float64, len(segs))
	for _, seg := range segs {
		scores[seg.ID] = compositeScore(seg, now)
	}
	sort.SliceStable(segs, func(i, j int) bool {
		return scores[segs[i].ID] > scores[segs[j].ID]
	})

	keep := int(float64(len(segs)) * RetainFraction)
	moved := 0
	for _, seg := range segs[keep:] {
		if c.tiers.Move(from, to, seg.ID) {
			moved++
		}
	}
	if moved > 0 {
		c.settled[to] = false
		log.Printf("[memory] demoted %d of %d segments from %s to %s", moved, len(segs), from, to)
		c.metrics.onDemote(moved, from, to)
		c.invalidate()
	}
	return moved
}

// compositeScore multiplies relevance, recency decay and popularity. A
// segment never read by id scores zero whatever its relevance.
func compositeScore(seg *Segment, now time.Time) float64 {
	ageHours := now.Sub(seg.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return seg.RelevanceScore * (1.0 / (1.0 + ageHours)) * float64(seg.AccessCount)
}

// CompressSegment compresses the segment in whichever tier holds it. The
// lookup reads by id and therefore counts as an access.
func (c *Controller) CompressSegment(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tier, seg, ok := c.fetchAny(id)
	if !ok {
		return false, nil
	}

	compressed, err := c.compressor.Compress(seg.Content, c.cfg.CompressionTargetRatio)
	if err != nil {
		return false, fmt.Errorf("compress segment %s: %w", id, err)
	}
	ratio := c.compressor.Ratio(seg.Content, compressed)
	return c.rewrite(tier, seg, compressed, ratio)
}

// DecompressSegment restores content through the compressor's inverse.
func (c *Controller) DecompressSegment(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tier, seg, ok := c.fetchAny(id)
	if !ok {
		return false, nil
	}

	content, err := c.compressor.Decompress(seg.Content)
	if err != nil {
		return false, fmt.Errorf("decompress segment %s: %w", id, err)
	}
	if len(content) > len(seg.Content) {
		c.settled[tier] = false
	}
	return c.rewrite(tier, seg, content, 1.0)
}

func (c *Controller) rewrite(tier Tier, before *Segment, content string, ratio float64) (bool, error) {
	var after *Segment
	found, err := c.tiers.Update(tier, before.ID, func(s *Segment) error {
		s.Content = content
		s.CompressionRatio = ratio
		after = s.clone()
		return nil
	})
	if err != nil || !found {
		return found, err
	}
	c.metrics.onCompress(before, after)
	c.invalidate()
	return true, nil
}

// fetchAny reads id from the first tier, in scan order, that holds it.
func (c *Controller) fetchAny(id string) (Tier, *Segment, bool) {
	for _, t := range tierOrder {
		if seg, ok := c.tiers.Fetch(t, id); ok {
			return t, seg, true
		}
	}
	return "", nil, false
}

// GetContext returns a copy of the segment and counts the read as an access.
func (c *Controller) GetContext(id string) (*Segment, bool) {
	_, seg, ok := c.fetchAny(id)
	return seg, ok
}

// CleanupOldSegments expires long-term segments older than ExpiryAge that
// were read fewer than MinRetainedAccesses times.
func (c *Controller) CleanupOldSegments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupOldSegments()
}

func (c *Controller) cleanupOldSegments() int {
	cutoff := c.now().Add(-ExpiryAge)
	expired := 0
	for _, seg := range c.tiers.ListAll(TierLongTerm) {
		if !seg.CreatedAt.Before(cutoff) || seg.AccessCount >= MinRetainedAccesses {
			continue
		}
		if c.tiers.Remove(TierLongTerm, seg.ID) {
			c.metrics.onRemove(seg, "expired")
			expired++
		}
	}
	if expired > 0 {
		log.Printf("[memory] expired %d long-term segments", expired)
		c.invalidate()
	}
	return expired
}

// Optimize runs the active pass whatever the active budget, the working pass
// when working is over budget and, once the cleanup interval has elapsed, the
// expiry pass. Running it again on its own result changes nothing.
func (c *Controller) Optimize() OptimizeResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	demoted := c.demote(TierActive, TierWorking) + c.optimizeWorking()

	expired := 0
	now := c.now()
	interval := time.Duration(c.cfg.CleanupIntervalMinutes) * time.Minute
	if now.Sub(c.lastCleanup) >= interval {
		expired = c.cleanupOldSegments()
		c.lastCleanup = now
	}

	usage := c.tiers.Usage()
	c.metrics.setActive(usage.Active)
	return OptimizeResult{
		Completed:   true,
		MemoryUsage: usage,
		Metrics:     c.metrics.snapshot(),
		Demoted:     demoted,
		Expired:     expired,
	}
}

// RetrieveRelevant ranks segments from every tier against query. limit is
// capped at MaxRetrievalResults. Scores written by the retriever are fed
// back into the store for the next optimization pass.
func (c *Controller) RetrieveRelevant(ctx context.Context, query string, limit int) ([]*Segment, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, limit)
	}
	if limit > c.cfg.MaxRetrievalResults {
		limit = c.cfg.MaxRetrievalResults
	}

	start := time.Now()
	gen := c.generation.Load()
	if c.cache.enabled() {
		if segs, ok := c.fromCache(gen, query, limit); ok {
			c.metrics.onCacheLookup(true)
			c.metrics.onRetrieval(time.Since(start))
			return segs, nil
		}
		c.metrics.onCacheLookup(false)
	}

	candidates := c.tiers.ListEvery()
	before := make(map[string]float64, len(candidates))
	for _, seg := range candidates {
		before[seg.ID] = seg.RelevanceScore
	}
	results, err := c.retriever.Retrieve(ctx, query, candidates, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve %q: %w", query, err)
	}

	// Only scores this retrieval produced; untouched candidates carry snapshot
	// values that a concurrent retrieval may already have replaced.
	scores := make(map[string]float64)
	for _, seg := range candidates {
		if seg.RelevanceScore != before[seg.ID] {
			scores[seg.ID] = seg.RelevanceScore
		}
	}
	if c.tiers.ApplyScores(scores) > 0 {
		gen = c.invalidate()
	}

	if c.cache.enabled() && c.generation.Load() == gen {
		ids := make([]string, len(results))
		for i, seg := range results {
			ids[i] = seg.ID
		}
		c.cache.put(gen, query, limit, ids)
	}

	c.metrics.onRetrieval(time.Since(start))
	return results, nil
}

func (c *Controller) fromCache(gen uint64, query string, limit int) ([]*Segment, bool) {
	ids, ok := c.cache.get(gen, query, limit)
	if !ok {
		return nil, false
	}
	out := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		seg, found := c.peekAny(id)
		if !found {
			return nil, false
		}
		out = append(out, seg)
	}
	return out, true
}

func (c *Controller) peekAny(id string) (*Segment, bool) {
	for _, t := range tierOrder {
		if seg, ok := c.tiers.Peek(t, id); ok {
			return seg, true
		}
	}
	return nil, false
}

// RemoveContext deletes id from the first tier that holds it.
func (c *Controller) RemoveContext(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range tierOrder {
		seg, ok := c.tiers.Peek(t, id)
		if !ok {
			continue
		}
		if !c.tiers.Remove(t, id) {
			return false
		}
		c.metrics.onRemove(seg, "removed")
		c.metrics.setActive(c.tiers.Usage().Active)
		c.invalidate()
		return true
	}
	return false
}

// ListTier returns copies of the segments in tier.
func (c *Controller) ListTier(tier Tier) []*Segment {
	return c.tiers.ListAll(tier)
}

// Usage returns per-tier counts.
func (c *Controller) Usage() Usage {
	return c.tiers.Usage()
}

// GetMetrics returns the current metrics.
func (c *Controller) GetMetrics() Metrics {
	c.metrics.setActive(c.tiers.Usage().Active)
	return c.metrics.snapshot()
}

// RecomputeMetrics rebuilds size and count metrics from the stored segments.
func (c *Controller) RecomputeMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.recompute(c.tiers.ListEvery(), c.tiers.Usage().Active)
	return c.metrics.snapshot()
}

// GetStatus reports usage, metrics, configuration and the last cleanup time.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	lastCleanup := c.lastCleanup
	c.mu.Unlock()

	return Status{
		MemoryUsage: c.tiers.Usage(),
		Metrics:     c.GetMetrics(),
		Config:      c.cfg,
		LastCleanup: lastCleanup,
	}
}

// Snapshot exports every segment with its owning tier.
func (c *Controller) Snapshot() []TieredSegment {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []TieredSegment
	for _, t := range tierOrder {
		for _, seg := range c.tiers.ListAll(t) {
			out = append(out, TieredSegment{Tier: t, Segment: *seg})
		}
	}
	return out
}

// Restore imports segments exported by Snapshot. It fails without changing
// anything if a tier is unknown or an id appears twice or is already stored.
func (c *Controller) Restore(items []TieredSegment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]Tier, len(items))
	for _, item := range items {
		if !item.Tier.valid() {
			return fmt.Errorf("restore %s: %w: %q", item.Segment.ID, ErrInvalidTier, item.Tier)
		}
		if prev, dup := seen[item.Segment.ID]; dup {
			return fmt.Errorf("restore %s in %s and %s: %w", item.Segment.ID, prev, item.Tier, ErrDuplicateSegment)
		}
		if _, stored := c.peekAny(item.Segment.ID); stored {
			return fmt.Errorf("restore %s: %w", item.Segment.ID, ErrDuplicateSegment)
		}
		seen[item.Segment.ID] = item.Tier
	}

	for _, item := range items {
		seg := item.Segment
		if _, err := c.tiers.Store(item.Tier, &seg); err != nil {
			return fmt.Errorf("restore %s: %w", seg.ID, err)
		}
	}
	c.seq += uint64(len(items))
	for _, t := range tierOrder {
		c.settled[t] = false
	}
	c.metrics.recompute(c.tiers.ListEvery(), c.tiers.Usage().Active)
	c.invalidate()
	return nil
}
