// Package chunker divides source files into content-addressed code blocks for
// embedding and search.
//
// The chunker is language agnostic. Code files are cut by line accumulation:
// lines are appended to a running buffer until the next line would push it
// past MaxBlockChars, at which point the buffer becomes one block. Buffers
// shorter than MinBlockChars are dropped, and a single line longer than
// MaxBlockChars*MaxCharsToleranceFactor is cut into pieces.
//
// # Basic Usage
//
//	c := chunker.New()
//	blocks := c.Parse("internal/server/server.go", content)
//	for _, b := range blocks {
//	    fmt.Printf("%s %s lines %d-%d\n", b.BlockType, b.Identifier, b.StartLine, b.EndLine)
//	}
//
// Unsupported extensions and unreadable files produce no blocks and no error.
//
// # Markdown
//
// Markdown files are parsed specially. Each fenced code block (``` or ~~~)
// becomes one block, and prose outside fences is grouped by contiguous
// non-blank runs. Prose blocks are named after the nearest heading.
//
// # Classification
//
// Each block gets a BlockType and Identifier by matching its lines against
// declaration shapes (imports, classes, interfaces, types, methods,
// functions, variables). The first declaration-shaped line wins. Blocks made
// only of comments are typed comment; anything else is other, named after
// its first meaningful token run.
//
// # Hashing
//
// Every block carries the SHA-256 of its whole file (FileHash) and of its
// path and line range (SegmentHash). Blocks repeating a SegmentHash within
// one parse are discarded.
package chunker
