package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, args[1:], os.Stdout); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build string, args []string, out io.Writer) error {
	info := buildInfo{version: version, build: build}

	rootCmd := &cobra.Command{
		Use:           "codeindex",
		Short:         "Semantic code index backed by Qdrant",
		Long:          "codeindex splits repositories into code blocks, embeds them and serves semantic search over MCP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")
	registerGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		serveCmd(info),
		indexCmd(info),
		searchCmd(info),
		statusCmd(info),
		clearCmd(info),
		versionCmd(info),
	)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	return rootCmd.Execute()
}

type buildInfo struct {
	version string
	build   string
}

// registerGlobalFlags declares the flags every command shares. Names match
// the keys config.LoadSettingsWithFlags binds.
func registerGlobalFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Config file (default codeindex.yaml in . or ~/.codeindex)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.String("db-path", "", "Run ledger database path")

	fs.String("provider", "", "Embedding provider: openai, openai-compatible, jina, local")
	fs.String("api-key", "", "Embedding provider API key")
	fs.String("model", "", "Embedding model")
	fs.String("base-url", "", "Embedding API base URL")
	fs.Int("dimension", 0, "Embedding dimension (0 uses the model's native size)")

	fs.String("qdrant-host", "", "Qdrant host")
	fs.Int("qdrant-port", 0, "Qdrant gRPC port")
	fs.String("qdrant-api-key", "", "Qdrant API key")
	fs.Bool("qdrant-tls", false, "Connect to Qdrant over TLS")

	fs.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces")
}
