package vectorstore

import (
	"time"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// payload merges block fields, repository metadata and indexing metadata
func (s *QdrantStore) payload(b types.CodeBlock, indexedAt string) map[string]*pb.Value {
	p := map[string]*pb.Value{
		FieldFilePath:     stringValue(b.FilePath),
		"content":         stringValue(b.Content),
		"start_line":      intValue(b.StartLine),
		"end_line":        intValue(b.EndLine),
		FieldBlockType:    stringValue(string(b.BlockType)),
		"identifier":      stringValue(b.Identifier),
		"file_hash":       stringValue(b.FileHash),
		"segment_hash":    stringValue(b.SegmentHash),
		FieldRepositoryID: stringValue(s.repo.ID),
		"indexed_at":      stringValue(indexedAt),
		"content_length":  intValue(len(b.Content)),
		"line_count":      intValue(b.LineCount()),
	}

	optional := map[string]string{
		"owner":          s.repo.Owner,
		"name":           s.repo.Name,
		"full_name":      s.repo.FullName,
		"url":            s.repo.URL,
		"clone_url":      s.repo.CloneURL,
		"default_branch": s.repo.DefaultBranch,
	}
	for k, v := range optional {
		if v != "" {
			p[k] = stringValue(v)
		}
	}
	if len(s.repo.Languages) > 0 {
		p["languages"] = listValue(s.repo.Languages)
	}
	if !s.repo.CreatedAt.IsZero() {
		p["repo_created_at"] = stringValue(s.repo.CreatedAt.UTC().Format(time.RFC3339))
	}
	if !s.repo.UpdatedAt.IsZero() {
		p["repo_updated_at"] = stringValue(s.repo.UpdatedAt.UTC().Format(time.RFC3339))
	}
	return p
}

func resultFromPayload(p map[string]*pb.Value, score float64) types.SearchResult {
	r := types.SearchResult{
		FilePath:       p[FieldFilePath].GetStringValue(),
		StartLine:      int(p["start_line"].GetIntegerValue()),
		EndLine:        int(p["end_line"].GetIntegerValue()),
		BlockType:      types.BlockType(p[FieldBlockType].GetStringValue()),
		Identifier:     p["identifier"].GetStringValue(),
		Content:        p["content"].GetStringValue(),
		FileHash:       p["file_hash"].GetStringValue(),
		Score:          score,
		RepositoryID:   p[FieldRepositoryID].GetStringValue(),
		RepositoryName: p["name"].GetStringValue(),
		Owner:          p["owner"].GetStringValue(),
		URL:            p["url"].GetStringValue(),
	}
	if ts, err := time.Parse(time.RFC3339, p["indexed_at"].GetStringValue()); err == nil {
		r.IndexedAt = ts
	}
	return r
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func listValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}
