package chunker

import (
	"path/filepath"
	"sort"
	"strings"
)

// languageByExtension maps supported file extensions to language names
var languageByExtension = map[string]string{
	".go":       "go",
	".py":       "python",
	".pyi":      "python",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".cjs":      "javascript",
	".ts":       "typescript",
	".tsx":      "typescript",
	".java":     "java",
	".kt":       "kotlin",
	".kts":      "kotlin",
	".scala":    "scala",
	".c":        "c",
	".h":        "c",
	".cc":       "cpp",
	".cpp":      "cpp",
	".cxx":      "cpp",
	".hpp":      "cpp",
	".cs":       "csharp",
	".rb":       "ruby",
	".rs":       "rust",
	".php":      "php",
	".swift":    "swift",
	".lua":      "lua",
	".sh":       "shell",
	".bash":     "shell",
	".sql":      "sql",
	".vue":      "vue",
	".svelte":   "svelte",
	".ex":       "elixir",
	".exs":      "elixir",
	".erl":      "erlang",
	".hs":       "haskell",
	".ml":       "ocaml",
	".dart":     "dart",
	".zig":      "zig",
	".sol":      "solidity",
	".proto":    "protobuf",
	".tf":       "terraform",
	".md":       "markdown",
	".markdown": "markdown",
}

// Language returns the language for a path, or "" if unsupported
func Language(path string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// IsSupported reports whether the chunker handles the file's extension
func IsSupported(path string) bool {
	return Language(path) != ""
}

// IsMarkdown reports whether the file is parsed as markdown
func IsMarkdown(path string) bool {
	return Language(path) == "markdown"
}

// SupportedExtensions returns all supported extensions, sorted
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languageByExtension))
	for ext := range languageByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
