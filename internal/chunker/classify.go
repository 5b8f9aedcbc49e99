package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// declPattern recognizes a declaration by its shape. The first non-empty
// capture group is the identifier.
type declPattern struct {
	kind types.BlockType
	re   *regexp.Regexp
}

// Order matters: methods are checked before functions and interfaces before
// the generic Go type form.
var declPatterns = []declPattern{
	// imports
	{types.BlockImport, regexp.MustCompile(`^\s*import\s+(?:type\s+)?(?:"([^"]+)"|'([^']+)'|\(|[\w{}*,\s]+\s+from\s+['"]([^'"]+)['"]|([\w.]+))`)},
	{types.BlockImport, regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s`)},
	{types.BlockImport, regexp.MustCompile(`^\s*#include\s*[<"]([^>"]+)[>"]`)},
	{types.BlockImport, regexp.MustCompile(`^\s*using\s+([\w.]+)\s*;`)},
	{types.BlockImport, regexp.MustCompile(`^\s*use\s+([\w:\\]+)`)},
	{types.BlockImport, regexp.MustCompile(`^\s*require(?:_once)?\s*\(?\s*['"]([^'"]+)['"]`)},

	// classes
	{types.BlockClass, regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:(?:public|private|protected|internal|abstract|final|sealed|data|open|static)\s+)*class\s+([A-Za-z_$][\w$]*)`)},

	// interfaces
	{types.BlockInterface, regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+interface\b`)},
	{types.BlockInterface, regexp.MustCompile(`^\s*(?:export\s+)?(?:(?:public|private|protected|internal)\s+)?interface\s+([A-Za-z_$][\w$]*)`)},
	{types.BlockInterface, regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?trait\s+([A-Za-z_]\w*)`)},
	{types.BlockInterface, regexp.MustCompile(`^\s*(?:public\s+)?protocol\s+([A-Za-z_]\w*)`)},

	// types
	{types.BlockTypeDecl, regexp.MustCompile(`^\s*type\s+([A-Za-z_]\w*)(?:\[[^\]]*\])?\s+\S`)},
	{types.BlockTypeDecl, regexp.MustCompile(`^\s*(?:export\s+)?type\s+([A-Za-z_$][\w$]*)\s*(?:<[^>]*>)?\s*=`)},
	{types.BlockTypeDecl, regexp.MustCompile(`^\s*(?:export\s+)?(?:(?:pub(?:\([^)]*\))?|public|private|internal)\s+)?(?:const\s+)?(?:struct|enum|union|record)\s+([A-Za-z_]\w*)`)},
	{types.BlockTypeDecl, regexp.MustCompile(`^\s*typedef\s+[^;]*?\b([A-Za-z_]\w*)\s*;`)},

	// methods
	{types.BlockMethod, regexp.MustCompile(`^\s*func\s+\([^)]*\)\s*([A-Za-z_]\w*)\s*[\[(]`)},
	{types.BlockMethod, regexp.MustCompile(`^\s+(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(\s*(?:self|cls)\b`)},
	{types.BlockMethod, regexp.MustCompile(`^\s+(?:(?:public|private|protected|static|final|synchronized|abstract|override|async|virtual)\s+)+[\w<>\[\],.?\s]*?\b([A-Za-z_$][\w$]*)\s*\([^;]*$`)},
	{types.BlockMethod, regexp.MustCompile(`^\s+(?:async\s+)?([A-Za-z_$][\w$]*)\s*\([^)]*\)\s*(?::\s*[^{=]+)?\{\s*$`)},

	// functions
	{types.BlockFunction, regexp.MustCompile(`^\s*func\s+([A-Za-z_]\w*)\s*[\[(]`)},
	{types.BlockFunction, regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*[?!]?)`)},
	{types.BlockFunction, regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`)},
	{types.BlockFunction, regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=]+)?=>|[A-Za-z_$][\w$]*\s*=>)`)},
	{types.BlockFunction, regexp.MustCompile(`^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_]\w*)`)},
	{types.BlockFunction, regexp.MustCompile(`^\s*(?:(?:public|private|internal|inline|suspend|override)\s+)*fun\s+(?:<[^>]*>\s*)?(?:[\w.]+\.)?([A-Za-z_]\w*)`)},
	{types.BlockFunction, regexp.MustCompile(`^\s*(?:local\s+)?function\s+([\w.:]+)`)},
	{types.BlockFunction, regexp.MustCompile(`^[A-Za-z_][\w\s\*&:<>,]*?\b([A-Za-z_]\w*)\s*\([^;]*\)\s*(?:const\s*)?\{\s*$`)},

	// variables
	{types.BlockVariable, regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var|val)\s+([A-Za-z_$][\w$]*)`)},
	{types.BlockVariable, regexp.MustCompile(`^\s*(?:var|const)\s*\(`)},
	{types.BlockVariable, regexp.MustCompile(`^([A-Z][A-Z0-9_]*)\s*(?::[^=]+)?=[^=]`)},
}

// controlKeywords are never identifiers even when the line has a
// declaration shape, e.g. "if (x) {".
var controlKeywords = map[string]struct{}{
	"if": {}, "for": {}, "while": {}, "switch": {}, "catch": {}, "return": {},
	"else": {}, "do": {}, "try": {}, "foreach": {}, "elif": {}, "with": {},
	"function": {}, "new": {}, "sizeof": {}, "typeof": {}, "select": {},
}

var tokenPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// classify returns the block type and identifier for a block's lines.
// startLine is used only for the last-resort identifier.
func classify(lines []string, startLine int) (types.BlockType, string) {
	sawCode := false
	sawComment := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isCommentLine(trimmed) {
			sawComment = true
			continue
		}
		sawCode = true

		for _, p := range declPatterns {
			m := p.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			id := firstGroup(m)
			if _, kw := controlKeywords[id]; kw {
				continue
			}
			if id == "" {
				id = string(p.kind)
			}
			return p.kind, truncateIdentifier(id)
		}
	}

	if sawComment && !sawCode {
		return types.BlockComment, fallbackIdentifier(lines, startLine, true)
	}
	return types.BlockOther, fallbackIdentifier(lines, startLine, false)
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

func isCommentLine(trimmed string) bool {
	for _, prefix := range []string{"//", "/*", "*", "#", "--", `"""`, "'''", "<!--", ";;"} {
		if strings.HasPrefix(trimmed, prefix) {
			// "#include", "#!" and friends are directives, not prose
			if prefix == "#" && (strings.HasPrefix(trimmed, "#include") || strings.HasPrefix(trimmed, "#!")) {
				return false
			}
			return true
		}
	}
	return false
}

// fallbackIdentifier builds an identifier from the first meaningful token
// run. Comment blocks read from comment lines; others skip them.
func fallbackIdentifier(lines []string, startLine int, fromComments bool) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !fromComments && isCommentLine(trimmed) {
			continue
		}

		tokens := tokenPattern.FindAllString(trimmed, 4)
		if len(tokens) == 0 {
			continue
		}
		return truncateIdentifier(strings.Join(tokens, "_"))
	}
	return fmt.Sprintf("block_%d", startLine)
}

// truncateIdentifier cuts id to MaxIdentifierLength bytes on a rune boundary
func truncateIdentifier(id string) string {
	if len(id) <= MaxIdentifierLength {
		return id
	}
	end := MaxIdentifierLength
	for end > 0 && !utf8.RuneStart(id[end]) {
		end--
	}
	return id[:end]
}
