// Package types provides shared type definitions for the codeindex MCP server.
//
// This package defines domain types used across the indexing pipeline:
// code blocks produced by the chunker, repository metadata attached to every
// indexed point, and the search results returned to callers.
//
// # Code Blocks
//
// CodeBlock is a contiguous, content-addressed span of a file:
//
//	block := types.CodeBlock{
//	    FilePath:   "internal/server/server.go",
//	    Identifier: "NewServer",
//	    BlockType:  types.BlockFunction,
//	    StartLine:  12,
//	    EndLine:    40,
//	    Content:    body,
//	}
//	block.ComputeSegmentHash()
//
// SegmentHash identifies a block by path and line range and is used to drop
// duplicates within one indexing run. FileHash identifies the whole file
// content the block was cut from.
//
// # Validation
//
//	if err := block.Validate(); err != nil {
//	    return err
//	}
//
// # Search Results
//
// SearchResult carries the block location and identity recovered from the
// vector store payload together with its similarity score. Scores are cosine
// similarities, higher is better.
package types
