package memory

import (
	"fmt"
	"log"
	"strings"
)

// NewCompressor resolves a compression strategy selector.
func NewCompressor(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case CompressionNone:
		return PassthroughCompressor{}, nil
	case CompressionAdaptive, CompressionTruncate, "":
		return HeadTailCompressor{}, nil
	default:
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedStrategy, name)
	}
}

// NewRetriever resolves a retrieval strategy selector. Semantic and hybrid
// retrieval need an Embedder; NewController builds a HybridRetriever when one
// is supplied through WithEmbedder. Resolved here, without one, they run as
// keyword retrieval.
func NewRetriever(name string) (Retriever, error) {
	switch sel := strings.ToLower(strings.TrimSpace(name)); sel {
	case RetrievalKeyword, "":
		return KeywordRetriever{}, nil
	case RetrievalSemantic, RetrievalHybrid:
		log.Printf("[memory] retrieval strategy %q has no built-in backend, using keyword", sel)
		return KeywordRetriever{}, nil
	default:
		return nil, fmt.Errorf("%w: retrieval %q", ErrUnsupportedStrategy, name)
	}
}
