package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// repositoryProperties are shared by every tool that targets one repository
func repositoryProperties() map[string]interface{} {
	return map[string]interface{}{
		"path": map[string]interface{}{
			"type":        "string",
			"description": "Absolute path to the repository root",
		},
		"repository_id": map[string]interface{}{
			"type":        "string",
			"description": "Repository id; derived from the path when omitted",
		},
	}
}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	props := repositoryProperties()
	props["owner"] = map[string]interface{}{
		"type":        "string",
		"description": "Repository owner, stored with every indexed block",
	}
	props["name"] = map[string]interface{}{
		"type":        "string",
		"description": "Repository name, stored with every indexed block",
	}
	props["wait"] = map[string]interface{}{
		"type":        "boolean",
		"description": "If true, return after the run finishes; otherwise index in the background",
		"default":     false,
	}
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Index a repository's source files into the vector database, replacing any previous index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	props := repositoryProperties()
	props["query"] = map[string]interface{}{
		"type":        "string",
		"description": "Natural language search query",
	}
	props["limit"] = map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of results to return (1-50)",
		"default":     10,
		"minimum":     1,
		"maximum":     50,
	}
	return mcp.Tool{
		Name:        "search_code",
		Description: "Semantic search over an indexed repository",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query the indexing state and progress of a repository",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: repositoryProperties(),
		},
	}
}

// clearIndexTool returns the tool definition for clear_index
func clearIndexTool() mcp.Tool {
	props := repositoryProperties()
	props["mode"] = map[string]interface{}{
		"type":        "string",
		"description": "data drops the whole collection; points removes only this repository's points",
		"enum":        []string{clearModeData, clearModePoints},
		"default":     clearModeData,
	}
	return mcp.Tool{
		Name:        "clear_index",
		Description: "Remove a repository's indexed data",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}

// indexHistoryTool returns the tool definition for index_history
func indexHistoryTool() mcp.Tool {
	props := repositoryProperties()
	props["limit"] = map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of runs to return (1-100)",
		"default":     20,
		"minimum":     1,
		"maximum":     100,
	}
	return mcp.Tool{
		Name:        "index_history",
		Description: "List a repository's past indexing runs, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: props,
		},
	}
}
