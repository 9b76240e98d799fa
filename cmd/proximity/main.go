// Package main provides the Proximity CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/mandelsoft/vfs/pkg/osfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/spf13/cobra"

	"github.com/orneryd/proximity/pkg/cache"
	"github.com/orneryd/proximity/pkg/config"
	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/qgraph"
	"github.com/orneryd/proximity/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// cli carries the state shared by all subcommands.
type cli struct {
	fs  vfs.FileSystem
	cfg *config.Config
}

func main() {
	if err := newRootCmd(osfs.New()).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(fs vfs.FileSystem) *cobra.Command {
	c := &cli{fs: fs}

	rootCmd := &cobra.Command{
		Use:   "proximity",
		Short: "Proximity - subgraph pattern matching over object/link graphs",
		Long: `Proximity matches small graph patterns against a stored graph of
objects and links and saves every match as a named container.

Features:
  • Attribute conditions on vertices and edges
  • Annotated roles with min/max cardinality
  • Cross-value constraints, per match or quantified
  • Containers usable as the source of further queries`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", "./data", "Data directory")
	flags.Bool("in-memory", false, "Keep the graph in memory only")
	flags.String("config", "", "YAML configuration file")
	flags.String("log-level", "info", "Log level (error, warn, info, debug, trace)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Proximity v%s (%s)\n", version, commit)
		},
	})

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Import a graph file into the data directory",
		Args:  cobra.NoArgs,
		RunE:  c.runLoad,
	}
	loadCmd.Flags().String("graph", "", "Graph YAML file")
	_ = loadCmd.MarkFlagRequired("graph")
	rootCmd.AddCommand(loadCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Run a pattern and export its matches",
		Args:  cobra.NoArgs,
		RunE:  c.runQuery,
	}
	queryCmd.Flags().String("pattern", "", "Pattern YAML file")
	queryCmd.Flags().String("graph", "", "Graph YAML file loaded before the run")
	queryCmd.Flags().String("source", "", "Container restricting the run")
	queryCmd.Flags().String("output", "", "Name of the result container")
	_ = queryCmd.MarkFlagRequired("pattern")
	rootCmd.AddCommand(queryCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a pattern without running it",
		Args:  cobra.NoArgs,
		RunE:  c.runValidate,
	}
	validateCmd.Flags().String("pattern", "", "Pattern YAML file")
	validateCmd.Flags().String("graph", "", "Graph YAML file providing the attribute catalog")
	_ = validateCmd.MarkFlagRequired("pattern")
	rootCmd.AddCommand(validateCmd)

	containersCmd := &cobra.Command{
		Use:   "containers",
		Short: "Manage stored result containers",
	}
	containersCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List containers",
		Args:  cobra.NoArgs,
		RunE:  c.runContainersList,
	})
	showCmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Print the matches of a container",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runContainersShow,
	}
	showCmd.Flags().Bool("query", false, "Also print the pattern that produced the container")
	containersCmd.AddCommand(showCmd)
	containersCmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a container",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runContainersDelete,
	})
	rootCmd.AddCommand(containersCmd)

	return rootCmd
}

// setup loads the configuration, lets explicit flags override it and
// applies the process wide settings.
func (c *cli) setup(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	var err error
	if path != "" {
		if c.cfg, err = config.LoadFile(c.fs, path); err != nil {
			return err
		}
	} else {
		c.cfg = config.LoadFromEnv()
	}

	if flags.Changed("data-dir") {
		c.cfg.Storage.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("in-memory") {
		c.cfg.Storage.InMemory, _ = flags.GetBool("in-memory")
	}
	if flags.Changed("log-level") {
		c.cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	if err := configureLogging(c.cfg.Logging.Level); err != nil {
		return err
	}

	pool.Configure(pool.PoolConfig{Enabled: c.cfg.Memory.PoolEnabled, MaxSize: c.cfg.Memory.PoolMaxSize})
	c.cfg.Memory.ApplyRuntimeMemory()
	if c.cfg.Memory.RuntimeLimit > 0 {
		log.Info("memory limit {{limit}}", "limit", config.FormatMemorySize(c.cfg.Memory.RuntimeLimit))
	}
	log.Debug("configuration {{config}}", "config", c.cfg.String())
	return nil
}

func (c *cli) openStore() (storage.Engine, error) {
	if !c.cfg.Storage.InMemory {
		if err := c.fs.MkdirAll(c.cfg.Storage.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
		DataDir:    c.cfg.Storage.DataDir,
		InMemory:   c.cfg.Storage.InMemory,
		SyncWrites: c.cfg.Storage.SyncWrites,
		LowMemory:  c.cfg.Storage.LowMemory,
	})
	if err != nil {
		return nil, err
	}
	return engine, nil
}

func closeStore(store storage.Engine) {
	if err := store.Close(); err != nil {
		log.LogError(err, "failed to close store")
	}
}

func (c *cli) loadGraph(cmd *cobra.Command, store storage.Engine, path string) error {
	stats, err := storage.LoadGraphFile(c.fs, store, path)
	if err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Loaded %s: %d objects, %d links, %d attributes, %d values\n",
		path, stats.Objects, stats.Links, stats.Attributes, stats.Values)
	return nil
}

func (c *cli) runLoad(cmd *cobra.Command, args []string) error {
	graph, _ := cmd.Flags().GetString("graph")

	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	return c.loadGraph(cmd, store, graph)
}

func (c *cli) runQuery(cmd *cobra.Command, args []string) error {
	patternPath, _ := cmd.Flags().GetString("pattern")
	graph, _ := cmd.Flags().GetString("graph")
	source, _ := cmd.Flags().GetString("source")
	output, _ := cmd.Flags().GetString("output")

	p, err := qgraph.LoadPatternFile(c.fs, patternPath, os.Getenv)
	if err != nil {
		return err
	}

	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	if graph != "" {
		if err := c.loadGraph(cmd, store, graph); err != nil {
			return err
		}
	}

	opts := []qgraph.Option{qgraph.WithLinkReuse(c.cfg.Engine.AllowLinkReuse)}
	if c.cfg.Engine.CacheEnabled {
		opts = append(opts, qgraph.WithCache(cache.NewResultCache(c.cfg.Engine.CacheSize, c.cfg.Engine.CacheTTL)))
	}
	executor := qgraph.NewExecutor(store, c.cfg.Engine.Timeout, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executor.Run(ctx, qgraph.Query{Pattern: p, Source: source, Output: output})
	if err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(cmd.OutOrStdout(), "⚠️  Query interrupted")
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✅ Pattern %s: %d matches in %v\n", p.Name, res.Matches, res.Elapsed)
	fmt.Fprintf(out, "   Container: %s\n", res.Container.Name)
	fmt.Fprintf(out, "   Objects:   %d\n", len(res.Container.Objects))
	fmt.Fprintf(out, "   Links:     %d\n", len(res.Container.Links))
	if res.LinksAdded > 0 {
		fmt.Fprintf(out, "   Added:     %d links\n", res.LinksAdded)
	}
	return nil
}

func (c *cli) runValidate(cmd *cobra.Command, args []string) error {
	patternPath, _ := cmd.Flags().GetString("pattern")
	graph, _ := cmd.Flags().GetString("graph")

	p, err := qgraph.LoadPatternFile(c.fs, patternPath, os.Getenv)
	if err != nil {
		return err
	}

	// A graph file is loaded into a scratch store so validation never
	// touches the data directory.
	var store storage.Engine
	if graph != "" {
		store = storage.NewMemoryEngine()
		if _, err := storage.LoadGraphFile(c.fs, store, graph); err != nil {
			return fmt.Errorf("loading %s: %w", graph, err)
		}
	} else if store, err = c.openStore(); err != nil {
		return err
	}
	defer closeStore(store)

	if err := p.Validate(store); err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "❌ %v\n", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Pattern %s is valid (%d vertices, %d edges, %d constraints)\n",
		p.Name, len(p.Vertices), len(p.Edges), len(p.Constraints))
	return nil
}

func (c *cli) runContainersList(cmd *cobra.Command, args []string) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	names, err := store.ContainerNames()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No containers")
		return nil
	}
	for _, name := range names {
		cont, err := store.GetContainer(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-40s %6d matches  %s\n", name, cont.MatchCount(), cont.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func (c *cli) runContainersShow(cmd *cobra.Command, args []string) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	cont, err := store.GetContainer(args[0])
	if err != nil {
		return err
	}

	byMatch := make(map[int64][]string)
	for _, b := range cont.Objects {
		byMatch[b.Match] = append(byMatch[b.Match], fmt.Sprintf("%s.%d", b.Role, b.Item))
	}
	for _, b := range cont.Links {
		byMatch[b.Match] = append(byMatch[b.Match], fmt.Sprintf("%s.%d", b.Role, b.Item))
	}
	ids := make([]int64, 0, len(byMatch))
	for id := range byMatch {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Container %s: %d matches\n", cont.Name, len(ids))
	for _, r := range cont.Roles {
		switch {
		case r.Edge:
			fmt.Fprintf(out, "   edge   %s: %s -> %s", r.Name, r.From, r.To)
		default:
			fmt.Fprintf(out, "   vertex %s", r.Name)
		}
		if r.Annotated {
			fmt.Fprintf(out, " %s", qgraph.NewAnnotation(r.Min, r.Max))
		}
		fmt.Fprintln(out)
	}
	for _, id := range ids {
		items := byMatch[id]
		sort.Strings(items)
		fmt.Fprintf(out, "%6d  %v\n", id, items)
	}
	if showQuery, _ := cmd.Flags().GetBool("query"); showQuery && cont.Query != "" {
		fmt.Fprintf(out, "\n%s", cont.Query)
	}
	return nil
}

func (c *cli) runContainersDelete(cmd *cobra.Command, args []string) error {
	store, err := c.openStore()
	if err != nil {
		return err
	}
	defer closeStore(store)

	if err := store.DeleteContainer(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted container %s\n", args[0])
	return nil
}
