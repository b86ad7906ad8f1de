package memory

// Compressor shrinks segment content. Compress must be deterministic and
// Decompress must always return some text; it need not invert Compress.
type Compressor interface {
	Compress(content string, targetRatio float64) (string, error)
	Decompress(compressed string) (string, error)
	Ratio(original, compressed string) float64
}

const (
	truncationMarker    = "...[truncated]..."
	truncationMarkerEnd = "...[truncated]"

	// headShare is the part of the length budget spent on the lead-in.
	headShare = 0.7
)

// HeadTailCompressor keeps the head and tail of the content and drops the
// middle behind an elision marker. It is lossy.
type HeadTailCompressor struct{}

func (HeadTailCompressor) Compress(content string, targetRatio float64) (string, error) {
	runes := []rune(content)
	targetLength := int(float64(len(runes)) * targetRatio)
	if targetLength >= len(runes) {
		return content, nil
	}

	keepStart := int(float64(targetLength) * headShare)
	keepEnd := targetLength - keepStart

	var compressed string
	if keepEnd > 0 {
		compressed = string(runes[:keepStart]) + truncationMarker + string(runes[len(runes)-keepEnd:])
	} else {
		compressed = string(runes[:keepStart]) + truncationMarkerEnd
	}

	// Short inputs cannot absorb the marker.
	if len([]rune(compressed)) >= len(runes) {
		return content, nil
	}
	return compressed, nil
}

func (HeadTailCompressor) Decompress(compressed string) (string, error) {
	return compressed, nil
}

func (HeadTailCompressor) Ratio(original, compressed string) float64 {
	return lengthRatio(original, compressed)
}

// PassthroughCompressor leaves content untouched.
type PassthroughCompressor struct{}

func (PassthroughCompressor) Compress(content string, _ float64) (string, error) {
	return content, nil
}

func (PassthroughCompressor) Decompress(compressed string) (string, error) {
	return compressed, nil
}

func (PassthroughCompressor) Ratio(original, compressed string) float64 {
	return lengthRatio(original, compressed)
}

func lengthRatio(original, compressed string) float64 {
	n := len([]rune(original))
	if n == 0 {
		return 1.0
	}
	return float64(len([]rune(compressed))) / float64(n)
}
