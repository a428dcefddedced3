package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/pipeline-orchestrator/internal/config"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/domain"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/engine"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/ingest"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/mergecheck"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/notify"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/pipeline"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/prompts"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/router"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/pipeline-orchestrator/internal/workstore"
)

var (
	watchInterval int
	listStatus    string
	listRepo      string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single work cycle",
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Process work cycles continuously",
		RunE:  runWatch,
	}
	watchCmd.Flags().IntVar(&watchInterval, "interval", 0, "seconds between idle cycles (0 = config default)")
	rootCmd.AddCommand(watchCmd)

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch labeled tickets and drain the inbox",
		RunE:  runIngest,
	}
	rootCmd.AddCommand(ingestCmd)

	addCmd := &cobra.Command{
		Use:   "add TICKET",
		Short: "Enqueue one ticket by repo#number or bare number",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	rootCmd.AddCommand(addCmd)

	removeCmd := &cobra.Command{
		Use:   "remove ITEM",
		Short: "Remove an item and its run history",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}
	rootCmd.AddCommand(removeCmd)

	retryCmd := &cobra.Command{
		Use:   "retry ITEM",
		Short: "Requeue a failed or needs-input item",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetry,
	}
	rootCmd.AddCommand(retryCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Terminate the currently running pipeline",
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	clearQueueCmd := &cobra.Command{
		Use:   "clear-queue",
		Short: "Remove all queued items",
		RunE:  runClearQueue,
	}
	rootCmd.AddCommand(clearQueueCmd)

	clearHistoryCmd := &cobra.Command{
		Use:   "clear-history",
		Short: "Remove completed, failed and merged items",
		RunE:  runClearHistory,
	}
	rootCmd.AddCommand(clearHistoryCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue and worker status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listRepo, "repo", "", "filter by repository")
	rootCmd.AddCommand(listCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*workstore.Store, error) {
	if err := os.MkdirAll(cfg.General.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return workstore.New(cfg.General.DatabasePath)
}

// buildScheduler wires the full cycle from configuration.
func buildScheduler(cfg *config.Config, store *workstore.Store) (*scheduler.Scheduler, error) {
	routing, err := config.LoadRouting(cfg.General.RoutingPath)
	if err != nil {
		return nil, fmt.Errorf("loading routing table: %w", err)
	}

	var notifiers []notify.Notifier
	if cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notifications.SlackWebhook))
	}

	return scheduler.New(cfg, store,
		router.New(routing),
		engine.New(cfg.Generation, prompts.DefaultLoader(cfg.General.DataDir)),
		pipeline.NewRunner(cfg.PGIDPath()),
		mergecheck.New(),
		notify.NewMultiNotifier(notifiers...),
	), nil
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sched, err := buildScheduler(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	result, err := sched.RunOnce(ctx)
	if err != nil {
		return err
	}
	if !result.Processed {
		fmt.Println("Queue empty")
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sched, err := buildScheduler(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	err = sched.Watch(ctx, time.Duration(watchInterval)*time.Second)
	if err == context.Canceled {
		fmt.Println("Shutting down")
		return nil
	}
	return err
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	total := 0
	if cfg.Ingest.Repo != "" {
		added, err := ingest.NewFetcher(cfg.Ingest.Repo, cfg.Ingest.Label).FetchAll(store)
		if err != nil {
			return err
		}
		total += added
	}
	if cfg.General.InboxDir != "" {
		added, err := ingest.IngestInbox(store, cfg.General.InboxDir)
		if err != nil {
			return err
		}
		total += added
	}

	fmt.Printf("Ingested %d new items\n", total)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo := cfg.Ingest.Repo
	number, err := strconv.Atoi(args[0])
	if err != nil {
		key, keyErr := domain.ParseItemKey(args[0])
		if keyErr != nil {
			return fmt.Errorf("invalid ticket reference %q", args[0])
		}
		repo, number = key.Repo, key.Number
	}
	if repo == "" {
		return fmt.Errorf("no repository configured; use repo#number")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	added, err := ingest.NewFetcher(repo, cfg.Ingest.Label).FetchOne(store, number)
	if err != nil {
		return err
	}
	if !added {
		fmt.Printf("%s#%d is already tracked\n", repo, number)
		return nil
	}
	fmt.Printf("Enqueued %s#%d\n", repo, number)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	key, err := domain.ParseItemKey(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Remove(key); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", key)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	key, err := domain.ParseItemKey(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Requeue(key); err != nil {
		return err
	}
	fmt.Printf("Requeued %s\n", key)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	item, signalled, err := scheduler.CancelActive(store, cfg.PGIDPath())
	if signalled {
		fmt.Println("Sent termination signal to running pipeline")
	}
	if item != nil {
		fmt.Printf("Cancelled %s\n", item.Key)
	}
	if !signalled && item == nil && err == nil {
		fmt.Println("No pipeline running")
	}
	return err
}

func runClearQueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearQueue()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d queued items\n", n)
	return nil
}

func runClearHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearHistory()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d historical items\n", n)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Queue: %d queued | %d processing | %d pr open | %d needs input\n",
		stats.ByStatus[string(domain.StatusQueued)],
		stats.ByStatus[string(domain.StatusProcessing)],
		stats.ByStatus[string(domain.StatusPROpen)],
		stats.ByStatus[string(domain.StatusNeedsInput)])
	fmt.Printf("History: %d completed | %d merged | %d failed\n",
		stats.ByStatus[string(domain.StatusCompleted)],
		stats.ByStatus[string(domain.StatusMerged)],
		stats.ByStatus[string(domain.StatusFailed)])

	if stats.TotalRuns > 0 {
		avg := time.Duration(stats.AvgRunSeconds * float64(time.Second))
		fmt.Printf("Runs: %d total, avg %s\n", stats.TotalRuns, avg.Round(time.Second))
	}

	processing, err := store.GetProcessing()
	if err != nil {
		return err
	}
	if processing != nil && processing.StartedAt != nil {
		fmt.Printf("Processing: %s (%s, started %s)\n",
			processing.Key, processing.Title, humanize.Time(*processing.StartedAt))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	items, err := store.List(workstore.ListOptions{
		Status: domain.Status(listStatus),
		Repo:   listRepo,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITEM\tTITLE\tSTATUS\tPRIORITY\tAGE")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			item.Key, item.Title, item.Status, item.Priority,
			humanize.Time(item.CreatedAt))
	}
	w.Flush()

	return nil
}
