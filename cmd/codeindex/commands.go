package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/mcp"
	"github.com/dshills/codeindex-mcp/internal/storage"
)

func serveCmd(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, info, true)
			if err != nil {
				return err
			}
			defer a.close()

			srv, err := mcp.NewServer(mcp.Options{
				Registry: a.registry,
				Ledger:   a.ledger,
				Config:   a.settings.ManagerConfig(a.logger),
				Version:  info.version,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.logger.Info("MCP server ready, listening on stdio", "version", info.version)
			return srv.Serve(ctx)
		},
	}
}

func addRepositoryFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "Repository id (derived from the path when empty)")
	cmd.Flags().String("owner", "", "Repository owner")
	cmd.Flags().String("name", "", "Repository name")
}

func indexCmd(info buildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Index a repository, replacing its previous index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, info, true)
			if err != nil {
				return err
			}
			defer a.close()

			repo, err := repository(cmd, args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := a.managerFor(ctx, repo)
			if err != nil {
				return err
			}

			updates, unsubscribe, err := m.Subscribe()
			if err != nil {
				return err
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				for st := range updates {
					if st.State == indexer.StateIndexing {
						fmt.Fprintf(cmd.ErrOrStderr(), "\r%3d%% %d/%d blocks", st.Progress, st.BlocksIndexed, st.BlocksFound)
					}
				}
			}()

			runErr := m.StartIndexing(ctx)
			unsubscribe()
			<-done
			fmt.Fprintln(cmd.ErrOrStderr())

			st, _ := m.CurrentStatus()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repository: %s\n", repo.ID)
			fmt.Fprintf(out, "state:      %s\n", st.State)
			fmt.Fprintf(out, "blocks:     %d of %d indexed\n", st.BlocksIndexed, st.BlocksFound)
			if runErr != nil {
				return runErr
			}

			if m.Watching() {
				fmt.Fprintln(out, "watching for changes, press Ctrl+C to stop")
				<-ctx.Done()
				return m.StopWatcher()
			}
			return nil
		},
	}
	addRepositoryFlags(cmd)
	cmd.Flags().Bool("watch", false, "Keep running and re-index changed files")
	cmd.Flags().Int("batch-size", 0, "Blocks per embedding batch")
	cmd.Flags().Int64("max-file-size", 0, "Skip files larger than this many bytes")
	return cmd
}

func searchCmd(info buildInfo) *cobra.Command {
	var (
		limit   int
		asJSON  bool
		preview int
	)
	cmd := &cobra.Command{
		Use:   "search <path> <query...>",
		Short: "Search an indexed repository",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, info, true)
			if err != nil {
				return err
			}
			defer a.close()

			repo, err := repository(cmd, args[0])
			if err != nil {
				return err
			}
			m, err := a.managerFor(cmd.Context(), repo)
			if err != nil {
				return err
			}

			results, err := m.SearchIndex(cmd.Context(), strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No results found")
				return nil
			}
			for _, r := range results {
				fmt.Fprintf(out, "%.3f  %s:%d-%d", r.Score, r.FilePath, r.StartLine, r.EndLine)
				if r.Identifier != "" {
					fmt.Fprintf(out, "  %s", r.Identifier)
				}
				fmt.Fprintln(out)
				if preview > 0 {
					for _, line := range firstLines(r.Content, preview) {
						fmt.Fprintf(out, "    %s\n", line)
					}
				}
			}
			return nil
		},
	}
	addRepositoryFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().IntVar(&preview, "preview", 3, "Content lines shown per result")
	cmd.Flags().Float64("min-score", 0, "Minimum similarity score")
	cmd.Flags().Int("max-results", 0, "Maximum results requested from Qdrant")
	return cmd
}

func firstLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

func statusCmd(info buildInfo) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "status <path>",
		Short: "Show recorded indexing runs of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, info, false)
			if err != nil {
				return err
			}
			defer a.close()

			repo, err := repository(cmd, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rec, err := a.ledger.GetRepository(cmd.Context(), repo.ID)
			if errors.Is(err, storage.ErrNotFound) {
				fmt.Fprintf(out, "%s has not been indexed\n", repo.RootPath)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "repository: %s\n", rec.ID)
			fmt.Fprintf(out, "root:       %s\n", rec.RootPath)
			fmt.Fprintf(out, "collection: %s\n", rec.Collection)
			fmt.Fprintf(out, "embedding:  %s/%s (%d)\n", rec.Provider, rec.Model, rec.Dimension)
			fmt.Fprintf(out, "state:      %s\n", rec.LastState)
			if !rec.LastIndexedAt.IsZero() {
				fmt.Fprintf(out, "indexed at: %s\n", rec.LastIndexedAt.Local().Format(time.DateTime))
			}

			runs, err := a.ledger.ListRuns(cmd.Context(), repo.ID, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSTATE\tINDEXED\tFOUND\tERRORS\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.State,
					r.BlocksIndexed, r.BlocksFound, r.BatchErrors, r.Duration().Round(time.Millisecond))
			}
			return tw.Flush()
		},
	}
	addRepositoryFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 5, "Number of runs shown")
	return cmd
}

func clearCmd(info buildInfo) *cobra.Command {
	var pointsOnly bool
	cmd := &cobra.Command{
		Use:   "clear <path>",
		Short: "Remove a repository's indexed data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, info, true)
			if err != nil {
				return err
			}
			defer a.close()

			repo, err := repository(cmd, args[0])
			if err != nil {
				return err
			}
			m, err := a.managerFor(cmd.Context(), repo)
			if err != nil {
				return err
			}

			if pointsOnly {
				err = m.ClearIndex(cmd.Context())
			} else {
				err = m.ClearIndexData(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", repo.ID)
			return nil
		},
	}
	addRepositoryFlags(cmd)
	cmd.Flags().BoolVar(&pointsOnly, "points", false, "Delete the repository's points and keep the collection")
	return cmd
}

func versionCmd(info buildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "codeindex %s\n", info.version)
			fmt.Fprintf(out, "Build:         %s\n", info.build)
			fmt.Fprintf(out, "Build Mode:    %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
		},
	}
}
