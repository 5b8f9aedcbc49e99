// Package mcp implements the Model Context Protocol (MCP) server for codeindex.
//
// The MCP server exposes five tools to AI coding assistants:
//   - index_repository: Index a repository into the vector database
//   - search_code: Semantic search over an indexed repository
//   - get_status: Indexing state, progress and the last recorded run
//   - clear_index: Remove a repository's indexed data
//   - index_history: Past indexing runs from the run ledger
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only; logs go to stderr.
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	codeindex serve
//
// # Repository Identity
//
// Every tool accepts a path, a repository_id, or both. When only a path is
// given the id is derived from it (directory name plus a short hash of the
// absolute path), so the same checkout always maps to the same collection.
// When only an id is given, the root path is looked up in the run ledger.
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {
//	    "path": "/src/widgets",
//	    "owner": "acme",
//	    "name": "widgets",
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "repository_id": "widgets-1a2b3c4d",
//	  "indexed": true,
//	  "status": {
//	    "state": "indexed",
//	    "blocks_found": 1200,
//	    "blocks_indexed": 1200,
//	    "progress": 100
//	  }
//	}
//
// Without wait the run continues in the background and the response only
// confirms that it started.
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "path": "/src/widgets",
//	    "query": "where are retries configured",
//	    "limit": 5
//	  }
//	}
//
// Results carry file_path, start_line, end_line, block_type, identifier,
// score and content, best first. Only results scoring at least the
// configured minimum are returned.
//
// # Tool: clear_index
//
// mode "data" (default) drops the collection; mode "points" deletes this
// repository's points and keeps the collection.
//
// # Error Handling
//
// Tool failures are returned as MCPError values:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Unknown repository
//	-32002  Indexing already in progress
//	-32003  Repository not indexed
//	-32004  Empty query
//	-32005  Indexing disabled
//	-32006  Run history not available
package mcp
