package chunker

import (
	"strings"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// markdownSegments treats each fenced code block as one block and groups
// prose into contiguous non-blank runs.
func (c *Chunker) markdownSegments(lines []string) []segment {
	var segs []segment
	heading := ""

	for i := 0; i < len(lines); {
		trimmed := strings.TrimSpace(lines[i])

		if marker := fenceMarker(trimmed); marker != "" {
			end := i + 1
			for end < len(lines) && !closesFence(strings.TrimSpace(lines[end]), marker) {
				end++
			}
			if end >= len(lines) {
				end = len(lines) - 1 // unclosed fence runs to EOF
			}
			lang := strings.TrimSpace(strings.TrimLeft(trimmed, marker[:1]))
			segs = append(segs, c.fencedSegments(lines[i:end+1], i+1, heading, lang)...)
			i = end + 1
			continue
		}

		if trimmed == "" {
			i++
			continue
		}

		start := i
		for i < len(lines) {
			t := strings.TrimSpace(lines[i])
			if t == "" || fenceMarker(t) != "" {
				break
			}
			i++
		}
		run := lines[start:i]

		if h := headingText(run[0]); h != "" {
			heading = h
		}
		id := heading
		for _, s := range c.accumulate(run, start+1) {
			s.blockType = types.BlockMarkdown
			s.identifier = id
			if s.identifier == "" {
				s.identifier = fallbackIdentifier(strings.Split(s.content, "\n"), s.start, true)
			}
			segs = append(segs, s)
		}

		for _, line := range run {
			if h := headingText(line); h != "" {
				heading = h
			}
		}
	}

	return segs
}

// fencedSegments emits one segment for a fence, or several if it is too big
func (c *Chunker) fencedSegments(fence []string, firstLine int, heading, lang string) []segment {
	var pieces []segment

	content := strings.Join(fence, "\n")
	maxChars := int(float64(c.opts.MaxBlockChars) * c.opts.ToleranceFactor)
	if len(content) <= maxChars {
		if s, ok := c.trimmedSegment(fence, firstLine); ok {
			pieces = append(pieces, s)
		}
	} else {
		pieces = c.accumulate(fence, firstLine)
	}

	for i := range pieces {
		inner := stripFences(strings.Split(pieces[i].content, "\n"))
		kind, id := classify(inner, pieces[i].start)
		if kind == types.BlockOther || kind == types.BlockComment {
			kind = types.BlockMarkdown
			switch {
			case heading != "":
				id = heading
			case lang != "":
				id = truncateIdentifier(lang + "_snippet")
			}
		}
		pieces[i].blockType = kind
		pieces[i].identifier = id
	}

	return pieces
}

// fenceMarker returns the run of backticks or tildes that opens a fence
func fenceMarker(trimmed string) string {
	if !strings.HasPrefix(trimmed, "```") && !strings.HasPrefix(trimmed, "~~~") {
		return ""
	}
	n := len(trimmed) - len(strings.TrimLeft(trimmed, trimmed[:1]))
	return trimmed[:n]
}

// closesFence reports whether a trimmed line is a bare closing marker at
// least as long as the opening one. An info string such as ```python opens
// a fence but never closes one.
func closesFence(trimmed, marker string) bool {
	return len(trimmed) >= len(marker) && strings.Trim(trimmed, marker[:1]) == ""
}

func stripFences(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if fenceMarker(strings.TrimSpace(l)) != "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

func headingText(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return ""
	}
	text := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	return truncateIdentifier(text)
}
