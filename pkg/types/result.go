package types

import "time"

// SearchResult represents a single block returned by a similarity search
type SearchResult struct {
	// Location
	FilePath  string
	StartLine int
	EndLine   int

	// Identity
	BlockType  BlockType
	Identifier string
	Content    string
	FileHash   string

	// Scoring
	Score float64 // Cosine similarity

	// Provenance
	RepositoryID   string
	RepositoryName string
	Owner          string
	URL            string
	IndexedAt      time.Time
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidScore
	}

	if sr.FilePath == "" {
		return ErrMissingFileInfo
	}

	if sr.Content == "" {
		return ErrEmptyContent
	}

	return nil
}
