package memory

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Tier names one of the three disjoint storage levels.
type Tier string

const (
	TierActive   Tier = "active"
	TierWorking  Tier = "working"
	TierLongTerm Tier = "long_term"
)

// tierOrder is the fixed scan order used by lookups, removal and retrieval.
var tierOrder = []Tier{TierActive, TierWorking, TierLongTerm}

func (t Tier) String() string { return string(t) }

func (t Tier) valid() bool {
	switch t {
	case TierActive, TierWorking, TierLongTerm:
		return true
	}
	return false
}

// ParseTier converts a tier name into a Tier.
func ParseTier(name string) (Tier, error) {
	t := Tier(name)
	if !t.valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, name)
	}
	return t, nil
}

// Compression strategy selectors.
const (
	CompressionNone     = "none"
	CompressionGzip     = "gzip"
	CompressionSemantic = "semantic"
	CompressionAdaptive = "adaptive"
	CompressionTruncate = "truncate"
)

// Retrieval strategy selectors.
const (
	RetrievalKeyword  = "keyword"
	RetrievalSemantic = "semantic"
	RetrievalHybrid   = "hybrid"
)

// segmentNamespace scopes the name-based UUIDs used as segment ids.
var segmentNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("ctxwindow.segment"))

// Segment is one stored unit of context.
type Segment struct {
	ID               string         `json:"id"`
	Content          string         `json:"content"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"timestamp"`
	RelevanceScore   float64        `json:"relevance_score"`
	AccessCount      int            `json:"access_count"`
	CompressionRatio float64        `json:"compression_ratio"`
}

// segmentID derives an id from content and creation time. seq separates
// segments ingested with identical content at the same clock reading.
func segmentID(content string, createdAt time.Time, seq uint64) string {
	data := content + "\x00" + createdAt.Format(time.RFC3339Nano) + "\x00" + strconv.FormatUint(seq, 10)
	return uuid.NewSHA1(segmentNamespace, []byte(data)).String()
}

func newSegment(content string, metadata map[string]any, now time.Time, seq uint64) *Segment {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Segment{
		ID:               segmentID(content, now, seq),
		Content:          content,
		Metadata:         metadata,
		CreatedAt:        now,
		RelevanceScore:   1.0,
		CompressionRatio: 1.0,
	}
}

// Size is the segment's contribution to a tier budget, in bytes of content.
func (s *Segment) Size() int { return len(s.Content) }

// clone returns a copy that shares nothing mutable with s.
func (s *Segment) clone() *Segment {
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Usage reports per-tier segment counts.
type Usage struct {
	Active   int `json:"active"`
	Working  int `json:"working"`
	LongTerm int `json:"long_term"`
	Total    int `json:"total"`
}

// Metrics is a rolling summary of controller activity.
type Metrics struct {
	TotalSegments          int     `json:"total_segments"`
	ActiveSegments         int     `json:"active_segments"`
	TotalSizeBytes         int     `json:"total_size_bytes"`
	CompressionRatio       float64 `json:"compression_ratio"`
	CacheHitRate           float64 `json:"cache_hit_rate"`
	AverageRetrievalTimeMs float64 `json:"average_retrieval_time_ms"`
	MemoryUsageBytes       int     `json:"memory_usage_bytes"`
}

// ContextConfig is the immutable configuration held by a Controller.
type ContextConfig struct {
	MaxContextSize              int     `json:"max_context_size"`
	WorkingMemorySize           int     `json:"working_memory_size"`
	CompressionStrategy         string  `json:"compression_strategy"`
	CompressionTargetRatio      float64 `json:"compression_target_ratio"`
	CompressionQualityThreshold float64 `json:"compression_quality_threshold"`
	RetrievalStrategy           string  `json:"retrieval_strategy"`
	SimilarityThreshold         float64 `json:"similarity_threshold"`
	MaxRetrievalResults         int     `json:"max_retrieval_results"`
	CleanupIntervalMinutes      int     `json:"cleanup_interval_minutes"`
	MetricsEnabled              bool    `json:"metrics_enabled"`
}

// DefaultContextConfig returns the stock configuration.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxContextSize:              32000,
		WorkingMemorySize:           128000,
		CompressionStrategy:         CompressionAdaptive,
		CompressionTargetRatio:      0.3,
		CompressionQualityThreshold: 0.8,
		RetrievalStrategy:           RetrievalHybrid,
		SimilarityThreshold:         0.7,
		MaxRetrievalResults:         20,
		CleanupIntervalMinutes:      60,
		MetricsEnabled:              true,
	}
}

// Validate reports the first invalid field.
func (c ContextConfig) Validate() error {
	switch {
	case c.MaxContextSize <= 0:
		return fmt.Errorf("%w: max_context_size must be positive", ErrInvalidConfig)
	case c.WorkingMemorySize <= 0:
		return fmt.Errorf("%w: working_memory_size must be positive", ErrInvalidConfig)
	case c.CompressionTargetRatio <= 0 || c.CompressionTargetRatio > 1:
		return fmt.Errorf("%w: compression_target_ratio must be in (0, 1]", ErrInvalidConfig)
	case c.MaxRetrievalResults <= 0:
		return fmt.Errorf("%w: max_retrieval_results must be positive", ErrInvalidConfig)
	case c.CleanupIntervalMinutes < 0:
		return fmt.Errorf("%w: cleanup_interval_minutes must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Status is the introspection view returned by Controller.GetStatus.
type Status struct {
	MemoryUsage Usage         `json:"memory_usage"`
	Metrics     Metrics       `json:"metrics"`
	Config      ContextConfig `json:"config"`
	LastCleanup time.Time     `json:"last_cleanup"`
}

// OptimizeResult is returned by Controller.Optimize.
type OptimizeResult struct {
	Completed   bool    `json:"optimization_completed"`
	MemoryUsage Usage   `json:"memory_usage"`
	Metrics     Metrics `json:"metrics"`
	Demoted     int     `json:"demoted"`
	Expired     int     `json:"expired"`
}

// TieredSegment pairs a segment with the tier that owns it, for export and import.
type TieredSegment struct {
	Tier    Tier    `json:"tier"`
	Segment Segment `json:"segment"`
}
