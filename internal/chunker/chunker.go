package chunker

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

const (
	// MaxBlockChars is the target maximum size of one block
	MaxBlockChars = 1000

	// MinBlockChars is the smallest block worth embedding
	MinBlockChars = 50

	// MaxCharsToleranceFactor lets a single line exceed MaxBlockChars by this
	// factor before it is cut into pieces
	MaxCharsToleranceFactor = 1.15

	// MaxIdentifierLength bounds generated identifiers
	MaxIdentifierLength = 50

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4
)

// Options tunes block sizing
type Options struct {
	MaxBlockChars   int
	MinBlockChars   int
	ToleranceFactor float64
}

// DefaultOptions returns the standard block sizing
func DefaultOptions() Options {
	return Options{
		MaxBlockChars:   MaxBlockChars,
		MinBlockChars:   MinBlockChars,
		ToleranceFactor: MaxCharsToleranceFactor,
	}
}

// Chunker splits source files into content-addressed code blocks
type Chunker struct {
	opts   Options
	logger *slog.Logger
}

// New creates a new Chunker with default options
func New() *Chunker {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a Chunker with explicit sizing. Zero fields fall
// back to the defaults.
func NewWithOptions(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.MaxBlockChars <= 0 {
		opts.MaxBlockChars = def.MaxBlockChars
	}
	if opts.MinBlockChars <= 0 {
		opts.MinBlockChars = def.MinBlockChars
	}
	if opts.ToleranceFactor < 1 {
		opts.ToleranceFactor = def.ToleranceFactor
	}
	return &Chunker{opts: opts, logger: slog.Default()}
}

// Options returns the sizing this chunker was built with
func (c *Chunker) Options() Options {
	return c.opts
}

// ParseFile reads root/relPath and parses it. Unreadable files yield no
// blocks; the caller counts them as skipped.
func (c *Chunker) ParseFile(root, relPath string) []types.CodeBlock {
	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		c.logger.Debug("skipping unreadable file", "path", relPath, "error", err)
		return nil
	}
	return c.Parse(relPath, content)
}

// Parse splits content into code blocks. Unsupported extensions yield an
// empty result.
func (c *Chunker) Parse(filePath string, content []byte) []types.CodeBlock {
	filePath = filepath.ToSlash(filePath)
	if !IsSupported(filePath) {
		return nil
	}

	text := string(content)
	if !utf8.ValidString(text) {
		// payload fields must be valid UTF-8
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var segs []segment
	if IsMarkdown(filePath) {
		segs = c.markdownSegments(lines)
	} else {
		for _, s := range c.accumulate(lines, 1) {
			s.blockType, s.identifier = classify(strings.Split(s.content, "\n"), s.start)
			segs = append(segs, s)
		}
	}

	fileHash := types.HashContent(content)
	seen := make(map[string]struct{}, len(segs))
	blocks := make([]types.CodeBlock, 0, len(segs))

	for _, s := range segs {
		block := types.CodeBlock{
			FilePath:   filePath,
			Identifier: s.identifier,
			BlockType:  s.blockType,
			StartLine:  s.start,
			EndLine:    s.end,
			Content:    s.content,
			FileHash:   fileHash,
		}
		block.ComputeSegmentHash(s.offset)

		if _, dup := seen[block.SegmentHash]; dup {
			continue
		}
		seen[block.SegmentHash] = struct{}{}
		blocks = append(blocks, block)
	}

	return blocks
}

// segment is a span of lines before it becomes a CodeBlock
type segment struct {
	start, end int
	offset     int
	content    string
	blockType  types.BlockType
	identifier string
}

// accumulate groups lines into segments no larger than MaxBlockChars.
// firstLine is the 1-based line number of lines[0].
func (c *Chunker) accumulate(lines []string, firstLine int) []segment {
	var (
		segs    []segment
		buf     []string
		bufSize int
		bufFrom int
	)

	flush := func() {
		if len(buf) > 0 {
			if s, ok := c.trimmedSegment(buf, bufFrom); ok {
				segs = append(segs, s)
			}
		}
		buf = buf[:0]
		bufSize = 0
	}

	maxLine := int(float64(c.opts.MaxBlockChars) * c.opts.ToleranceFactor)

	for i, line := range lines {
		lineNo := firstLine + i

		if len(line) > maxLine {
			flush()
			segs = append(segs, c.splitLine(line, lineNo)...)
			continue
		}

		added := len(line)
		if len(buf) > 0 {
			added++ // joining newline
		}

		if len(buf) > 0 && bufSize+added > c.opts.MaxBlockChars {
			flush()
			added = len(line)
		}

		if len(buf) == 0 {
			bufFrom = lineNo
		}
		buf = append(buf, line)
		bufSize += added
	}
	flush()

	return segs
}

// trimmedSegment drops blank edge lines and rejects undersized content
func (c *Chunker) trimmedSegment(buf []string, from int) (segment, bool) {
	lo, hi := 0, len(buf)
	for lo < hi && strings.TrimSpace(buf[lo]) == "" {
		lo++
	}
	for hi > lo && strings.TrimSpace(buf[hi-1]) == "" {
		hi--
	}
	if lo == hi {
		return segment{}, false
	}

	content := strings.Join(buf[lo:hi], "\n")
	if len(strings.TrimSpace(content)) < c.opts.MinBlockChars {
		return segment{}, false
	}

	return segment{
		start:   from + lo,
		end:     from + hi - 1,
		content: content,
	}, true
}

// splitLine cuts an overlong line into MaxBlockChars pieces
func (c *Chunker) splitLine(line string, lineNo int) []segment {
	var segs []segment
	for off, end := 0, 0; off < len(line); off = end {
		end = off + c.opts.MaxBlockChars
		if end >= len(line) {
			end = len(line)
		} else {
			// keep multi-byte runes intact
			for end > off+1 && !utf8.RuneStart(line[end]) {
				end--
			}
		}
		piece := line[off:end]
		if len(strings.TrimSpace(piece)) < c.opts.MinBlockChars {
			continue
		}
		segs = append(segs, segment{
			start:   lineNo,
			end:     lineNo,
			offset:  off,
			content: piece,
		})
	}
	return segs
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
