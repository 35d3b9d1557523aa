package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/clawmem/internal/config"
	"github.com/stellarlinkco/clawmem/internal/maintenance"
	"github.com/stellarlinkco/clawmem/internal/memory"
)

var (
	configFlag string
	tagsFlag   []string
	topKFlag   int
)

var rootCmd = &cobra.Command{
	Use:   "clawmem",
	Short: "clawmem - long-term memory with hybrid search",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE:  runInit,
}

var storeCmd = &cobra.Command{
	Use:   "store [text]",
	Short: "Store a memory (reads stdin when no text is given)",
	RunE:  runStore,
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecall,
}

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Delete a memory by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the keyword index and backfill embeddings",
	RunE:  runReindex,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and cache statistics",
	RunE:  runStatus,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the maintenance scheduler until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file path")
	storeCmd.Flags().StringSliceVarP(&tagsFlag, "tags", "t", nil, "Tags to attach")
	recallCmd.Flags().IntVarP(&topKFlag, "top-k", "k", 5, "Number of results")
	rootCmd.AddCommand(initCmd, storeCmd, recallCmd, forgetCmd, reindexCmd, statusCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openBackend() (memory.Backend, error) {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return memory.Open(cfg.Memory)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configFlag
	if path == "" {
		path = config.ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return nil
	}
	if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

func runStore(cmd *cobra.Command, args []string) error {
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(data)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("nothing to store")
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	ids, err := backend.Store(cmd.Context(), content, tagsFlag)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	fmt.Printf("Stored %d chunk(s)", len(ids))
	if len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		fmt.Printf(": %s", strings.Join(parts, ", "))
	}
	fmt.Println()
	return nil
}

func runRecall(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	results, err := backend.Recall(cmd.Context(), strings.Join(args, " "), topKFlag)
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. [%d] score=%.3f  %s\n", i+1, r.Record.ID, r.Score, r.Record.CreatedAt.Format("2006-01-02"))
		if r.Record.ChunkPath != "" {
			fmt.Printf("   %s\n", r.Record.ChunkPath)
		}
		fmt.Printf("   %s\n", firstLine(r.Record.Content, 120))
	}
	return nil
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func runForget(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	ok, err := backend.Forget(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("forget: %w", err)
	}
	if !ok {
		fmt.Printf("No memory with id %d\n", id)
		return nil
	}
	fmt.Printf("Forgot memory %d\n", id)
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	summary, err := backend.Reindex(cmd.Context())
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	fmt.Printf("Indexed %d record(s), backfilled %d embedding(s), %d still missing\n",
		summary.Rebuilt, summary.Backfilled, summary.StillMissing)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	backend, err := memory.Open(cfg.Memory)
	if err != nil {
		return err
	}
	defer backend.Close()

	s, err := backend.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}

	fmt.Printf("Backend:            %s\n", cfg.Memory.Backend)
	fmt.Printf("Records:            %d\n", s.Records)
	fmt.Printf("Embedded:           %d\n", s.Embedded)
	fmt.Printf("Missing embeddings: %d\n", s.MissingEmbeddings)
	fmt.Printf("Cache entries:      %d\n", s.CacheEntries)
	fmt.Printf("Cache hits/misses:  %d/%d\n", s.CacheHits, s.CacheMisses)
	if s.LastReindex != nil {
		fmt.Printf("Last reindex:       %s\n", s.LastReindex.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Printf("Last reindex:       never\n")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	backend, err := memory.Open(cfg.Memory)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedule := cfg.Memory.ReindexSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	scheduler := maintenance.NewScheduler(backend, schedule)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	fmt.Printf("clawmem serving, reindex schedule %q (ctrl-c to stop)\n", schedule)
	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}
