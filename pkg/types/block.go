package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// BlockType represents the structural kind of a code block
type BlockType string

const (
	BlockFunction  BlockType = "function"
	BlockClass     BlockType = "class"
	BlockMethod    BlockType = "method"
	BlockInterface BlockType = "interface"
	BlockTypeDecl  BlockType = "type"
	BlockImport    BlockType = "import"
	BlockComment   BlockType = "comment"
	BlockVariable  BlockType = "variable"
	BlockMarkdown  BlockType = "markdown"
	BlockOther     BlockType = "other"
)

// CodeBlock is a contiguous span of a file with type and identifier metadata
type CodeBlock struct {
	FilePath   string // Relative to repository root, slash separated
	Identifier string
	BlockType  BlockType

	// Location (1-based, inclusive)
	StartLine int
	EndLine   int

	Content     string
	FileHash    string // SHA-256 of the whole file
	SegmentHash string // SHA-256 of path and line range
}

// ComputeSegmentHash derives the segment hash from path and line range.
// offset is only non-zero for pieces of a single line that had to be cut.
func (b *CodeBlock) ComputeSegmentHash(offset int) {
	key := fmt.Sprintf("%s:%d:%d", b.FilePath, b.StartLine, b.EndLine)
	if offset > 0 {
		key = fmt.Sprintf("%s:%d", key, offset)
	}
	h := sha256.Sum256([]byte(key))
	b.SegmentHash = hex.EncodeToString(h[:])
}

// LineCount returns the number of source lines the block spans
func (b *CodeBlock) LineCount() int {
	return b.EndLine - b.StartLine + 1
}

// Validate checks the block's structural invariants
func (b *CodeBlock) Validate() error {
	if strings.TrimSpace(b.Content) == "" {
		return ErrEmptyContent
	}
	if b.StartLine <= 0 || b.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}
	if b.StartLine > b.EndLine {
		return errors.New("start line must be before or equal to end line")
	}
	if b.FilePath == "" {
		return ErrMissingFileInfo
	}
	if !b.BlockType.Valid() {
		return fmt.Errorf("invalid block type %q", b.BlockType)
	}
	return nil
}

// Valid reports whether t is one of the known block types
func (t BlockType) Valid() bool {
	switch t {
	case BlockFunction, BlockClass, BlockMethod, BlockInterface, BlockTypeDecl,
		BlockImport, BlockComment, BlockVariable, BlockMarkdown, BlockOther:
		return true
	default:
		return false
	}
}

// HashContent returns the hex SHA-256 of content
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// RepositoryInfo describes the repository being indexed. Everything except
// ID and RootPath is optional provenance copied into every point payload.
type RepositoryInfo struct {
	ID            string
	RootPath      string
	Owner         string
	Name          string
	FullName      string
	URL           string
	CloneURL      string
	DefaultBranch string
	Languages     []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate checks that the repository can be indexed
func (r *RepositoryInfo) Validate() error {
	if r.ID == "" {
		return ErrMissingRepositoryID
	}
	if r.RootPath == "" {
		return ErrMissingRootPath
	}
	return nil
}
