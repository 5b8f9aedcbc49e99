// Package embedder generates vector embeddings for code blocks.
//
// All remote providers speak the OpenAI embeddings wire format through
// go-openai: OpenAI itself, Jina (OpenAI-compatible endpoint) and any
// self-hosted server reachable by base URL. The local provider produces
// deterministic hash vectors and needs no network.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: embedder.ProviderOpenAI,
//	    APIKey:   os.Getenv("OPENAI_API_KEY"),
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.CreateEmbeddings(ctx, texts)
//	for i, vec := range resp.Embeddings {
//	    block := blocks[resp.Indices[i]]
//	    // store vec for block
//	}
//
// # Batching
//
// CreateEmbeddings packs texts greedily, in order, into sub-batches bounded
// by Limits.MaxBatchTokens (estimated at four characters per token) and
// Limits.MaxBatchItems. A text over Limits.MaxItemTokens is skipped and
// reported in Response.Skipped rather than truncated.
//
// # Retries
//
// Each sub-batch is attempted up to MaxRetries times with delays of
// InitialDelay * 2^attempt capped at MaxDelay. HTTP 429 responses are
// logged as rate limits; any other failure is retried under the same
// counter. When a sub-batch exhausts its attempts the whole call fails
// with ErrProviderFailed.
package embedder
