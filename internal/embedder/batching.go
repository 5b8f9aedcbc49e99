package embedder

// Provider request limits
const (
	MaxBatchTokens = 100000
	MaxItemTokens  = 8191
	MaxBatchItems  = 2048

	// charsPerToken is the estimate used for packing
	charsPerToken = 4
)

// Limits bounds a single provider request
type Limits struct {
	MaxBatchTokens int
	MaxItemTokens  int
	MaxBatchItems  int
}

// DefaultLimits returns limits matching the OpenAI embeddings endpoint
func DefaultLimits() Limits {
	return Limits{
		MaxBatchTokens: MaxBatchTokens,
		MaxItemTokens:  MaxItemTokens,
		MaxBatchItems:  MaxBatchItems,
	}
}

func (l Limits) withDefaults() Limits {
	def := DefaultLimits()
	if l.MaxBatchTokens <= 0 {
		l.MaxBatchTokens = def.MaxBatchTokens
	}
	if l.MaxItemTokens <= 0 {
		l.MaxItemTokens = def.MaxItemTokens
	}
	if l.MaxBatchItems <= 0 {
		l.MaxBatchItems = def.MaxBatchItems
	}
	return l
}

// EstimateTokens approximates the token count of text
func EstimateTokens(text string) int {
	n := len(text) / charsPerToken
	if n == 0 && text != "" {
		return 1
	}
	return n
}

// subBatch is one provider request worth of texts
type subBatch struct {
	indices []int
	texts   []string
	tokens  int
}

// packBatches greedily packs texts, in order, into sub-batches that respect
// limits. Empty texts and texts over MaxItemTokens are returned as skipped.
func packBatches(texts []string, limits Limits) ([]subBatch, []int) {
	var (
		batches []subBatch
		skipped []int
		cur     subBatch
	)

	for i, text := range texts {
		tokens := EstimateTokens(text)
		if text == "" || tokens > limits.MaxItemTokens {
			skipped = append(skipped, i)
			continue
		}

		if len(cur.texts) > 0 &&
			(cur.tokens+tokens > limits.MaxBatchTokens || len(cur.texts) >= limits.MaxBatchItems) {
			batches = append(batches, cur)
			cur = subBatch{}
		}

		cur.indices = append(cur.indices, i)
		cur.texts = append(cur.texts, text)
		cur.tokens += tokens
	}

	if len(cur.texts) > 0 {
		batches = append(batches, cur)
	}
	return batches, skipped
}
