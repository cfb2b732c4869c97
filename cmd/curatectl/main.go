// curatectl is the operator CLI: one-shot merges, batch merge files, queue
// management, and manual drain runs against the curation database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ourresearch/curate/config"
	entityrepo "github.com/ourresearch/curate/internal/repositories/entity"
	projectionrepo "github.com/ourresearch/curate/internal/repositories/projection"
	queuerepo "github.com/ourresearch/curate/internal/repositories/queue"
	relationrepo "github.com/ourresearch/curate/internal/repositories/relation"
	"github.com/ourresearch/curate/pkg/database"
	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/merge"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/projection"
	"github.com/ourresearch/curate/pkg/queue"
)

var rootCmd = &cobra.Command{
	Use:           "curatectl",
	Short:         "Operator CLI for the curation service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagEntity    string
	flagAway      string
	flagInto      string
	flagFile      string
	flagOperation string
	flagID        string
	flagIDs       []string
	flagPriority  bool
	flagChunk     int
	flagLoop      bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge [entity-type]",
	Args:  cobra.MaximumNArgs(1),
	Short: "Merge one entity into another",
	Long: `Collapses the away entity into the into entity: relations are
re-pointed, duplicates removed, sparse fields filled forward, and the away
entity tombstoned. Both ids take the prefixed short form (W123), the
canonical URL, or a bare number when --entity is given.`,
	RunE: runMerge,
}

var mergeBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a CSV file of merge pairs",
	Long: `Reads away,into pairs from a CSV file and merges each pair
independently. A failed pair is reported and the batch continues.`,
	RunE: runMergeBatch,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Add entities to the recompute queue",
	RunE:  runEnqueue,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain a recompute queue",
	Long: `Claims and processes chunks from one (entity type, operation)
queue. Processes a single chunk by default; --loop drains until the queue
is empty or the process is interrupted.`,
	RunE: runDrain,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counts",
	RunE:  runStats,
}

func init() {
	mergeCmd.Flags().StringVar(&flagEntity, "entity", "", "entity type (work, author, source, ...)")
	mergeCmd.Flags().StringVar(&flagAway, "away", "", "entity to merge away")
	mergeCmd.Flags().StringVar(&flagInto, "into", "", "entity to merge into")
	_ = mergeCmd.MarkFlagRequired("away")
	_ = mergeCmd.MarkFlagRequired("into")

	mergeBatchCmd.Flags().StringVar(&flagEntity, "entity", "", "entity type for every pair in the file")
	mergeBatchCmd.Flags().StringVar(&flagFile, "file", "", "CSV file of away,into pairs")
	_ = mergeBatchCmd.MarkFlagRequired("entity")
	_ = mergeBatchCmd.MarkFlagRequired("file")
	mergeCmd.AddCommand(mergeBatchCmd)

	enqueueCmd.Flags().StringVar(&flagEntity, "entity", "", "entity type")
	enqueueCmd.Flags().StringVar(&flagOperation, "operation", "store", "operation (store, recompute)")
	enqueueCmd.Flags().StringSliceVar(&flagIDs, "ids", nil, "entity ids")
	enqueueCmd.Flags().BoolVar(&flagPriority, "priority", false, "sort ahead of never-finished entries")
	_ = enqueueCmd.MarkFlagRequired("entity")
	_ = enqueueCmd.MarkFlagRequired("ids")

	runCmd.Flags().StringVar(&flagEntity, "entity", "", "entity type")
	runCmd.Flags().StringVar(&flagOperation, "operation", "store", "operation (store, recompute)")
	runCmd.Flags().StringVar(&flagID, "id", "", "process this single entity directly, skipping the queue")
	runCmd.Flags().IntVar(&flagChunk, "chunk", 0, "chunk size (defaults to QUEUE_CHUNK_SIZE)")
	runCmd.Flags().BoolVar(&flagLoop, "loop", false, "keep draining until the queue is empty")
	_ = runCmd.MarkFlagRequired("entity")

	statsCmd.Flags().StringVar(&flagEntity, "entity", "", "entity type")
	statsCmd.Flags().StringVar(&flagOperation, "operation", "store", "operation (store, recompute)")
	_ = statsCmd.MarkFlagRequired("entity")

	rootCmd.AddCommand(mergeCmd, enqueueCmd, runCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs against one open database.
type app struct {
	cfg         config.Config
	db          database.DB
	logger      ectologger.Logger
	entities    *entityrepo.Repository
	relations   *relationrepo.Repository
	queue       *queuerepo.Repository
	projections *projectionrepo.Repository
}

func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	db, err := database.Connect(ctx, database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return &app{
		cfg:         cfg,
		db:          db,
		logger:      logger,
		entities:    entityrepo.NewRepository(db, logger),
		relations:   relationrepo.NewRepository(logger),
		queue:       queuerepo.NewRepository(db, logger),
		projections: projectionrepo.NewRepository(db, logger),
	}, nil
}

func (a *app) close() {
	_ = a.db.Close()
}

// resolver builds a merge resolver with a freshly loaded redirect cache. No
// event emitter; the CLI relies on the enqueued reprocessing to announce
// changes.
func (a *app) resolver(ctx context.Context) (*merge.Resolver, error) {
	redirects := merge.NewRedirectCache(a.entities, a.logger)
	if err := redirects.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("build redirect cache: %w", err)
	}
	return merge.NewResolver(a.db, a.entities, a.relations, redirects, a.queue, nil, a.logger), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func parsePair(entityName, away, into string) (models.MergeRequest, error) {
	var awayID, intoID identifier.Identifier
	var err error

	if entityName != "" {
		entityType, ok := models.ParseEntityType(entityName)
		if !ok {
			return models.MergeRequest{}, fmt.Errorf("unknown entity type %q", entityName)
		}
		if awayID, err = identifier.ParseWithType(away, entityType); err != nil {
			return models.MergeRequest{}, err
		}
		if intoID, err = identifier.ParseWithType(into, entityType); err != nil {
			return models.MergeRequest{}, err
		}
	} else {
		if awayID, err = identifier.Parse(away); err != nil {
			return models.MergeRequest{}, err
		}
		if intoID, err = identifier.Parse(into); err != nil {
			return models.MergeRequest{}, err
		}
		if awayID.Type != intoID.Type {
			return models.MergeRequest{}, fmt.Errorf("%s and %s are different entity types", away, into)
		}
	}

	return models.MergeRequest{
		EntityType: awayID.Type,
		AwayID:     awayID.ID,
		IntoID:     intoID.ID,
	}, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	if len(args) > 0 {
		flagEntity = args[0]
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}

	req, err := parsePair(flagEntity, flagAway, flagInto)
	if err != nil {
		return err
	}

	report, err := resolver.Merge(ctx, req)
	if report != nil {
		if printErr := printJSON(report); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if report.State == models.MergeStateRejected {
		return fmt.Errorf("merge rejected: %s", report.Reason)
	}
	return nil
}

func runMergeBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	entityType, ok := models.ParseEntityType(flagEntity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", flagEntity)
	}

	file, err := os.Open(flagFile)
	if err != nil {
		return err
	}
	defer file.Close()

	pairs, err := merge.ReadPairs(file, entityType)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	resolver, err := a.resolver(ctx)
	if err != nil {
		return err
	}

	report := resolver.MergeBatch(ctx, entityType, pairs)
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d merges failed", report.Failed, report.Failed+report.Succeeded)
	}
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	entityType, ok := models.ParseEntityType(flagEntity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", flagEntity)
	}
	operation := models.Operation(flagOperation)
	if !operation.IsValid() {
		return fmt.Errorf("unknown operation %q", flagOperation)
	}

	ids := make([]int64, 0, len(flagIDs))
	for _, raw := range flagIDs {
		id, err := identifier.ParseWithType(strings.TrimSpace(raw), entityType)
		if err != nil {
			return err
		}
		ids = append(ids, id.ID)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.queue.Enqueue(ctx, entityType, operation, ids, flagPriority); err != nil {
		return err
	}

	fmt.Printf("Enqueued %d %s entities for %s\n", len(ids), entityType, operation)
	return nil
}

func runDrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	entityType, ok := models.ParseEntityType(flagEntity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", flagEntity)
	}
	operation := models.Operation(flagOperation)
	if !operation.IsValid() {
		return fmt.Errorf("unknown operation %q", flagOperation)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	chunk := flagChunk
	if chunk <= 0 {
		chunk = a.cfg.QueueChunkSize
	}

	builder := projection.NewBuilder(a.cfg.IdentifierHost)
	store := projection.NewStore(a.projections, builder, nil, a.logger)

	// With --id, process one entity directly instead of draining the queue.
	if flagID != "" {
		id, err := identifier.ParseWithType(flagID, entityType)
		if err != nil {
			return err
		}
		bundles, err := a.entities.LoadBundles(ctx, entityType, []int64{id.ID})
		if err != nil {
			return err
		}
		if len(bundles) == 0 {
			return fmt.Errorf("%s not found", id.ShortForm())
		}
		_, written, err := store.Store(ctx, bundles[0])
		if err != nil {
			return err
		}
		if written {
			fmt.Printf("Stored %s\n", id.ShortForm())
		} else {
			fmt.Printf("%s unchanged, nothing stored\n", id.ShortForm())
		}
		return nil
	}

	registry := queue.NewRegistry()
	if err := registry.Register(entityType, operation, queue.NewStoreHandler(a.entities, store, a.logger)); err != nil {
		return err
	}

	worker := queue.NewWorker(a.queue, registry, queue.WorkerConfig{
		EntityType:   entityType,
		Operation:    operation,
		ChunkSize:    chunk,
		Lease:        a.cfg.QueueClaimLease,
		EmptyBackoff: a.cfg.QueueEmptyBackoff,
	}, a.logger)

	total := 0
	for {
		processed, err := worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		total += processed
		if processed == 0 || !flagLoop {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Printf("Interrupted after %d entities\n", total)
			return nil
		default:
		}
	}

	fmt.Printf("Processed %d %s entities for %s\n", total, entityType, operation)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	entityType, ok := models.ParseEntityType(flagEntity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", flagEntity)
	}
	operation := models.Operation(flagOperation)
	if !operation.IsValid() {
		return fmt.Errorf("unknown operation %q", flagOperation)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	stats, err := a.queue.Stats(ctx, entityType, operation)
	if err != nil {
		return err
	}
	return printJSON(stats)
}
