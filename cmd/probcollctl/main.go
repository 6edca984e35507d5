package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"probcoll/internal/storage"
	probapi "probcoll/pkg/probcoll"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "rollouts":
		return runRollouts(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "snapshot":
		return runSnapshot(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: probcollctl <init|reset|run|rollouts|diagnostics|snapshot> [flags]", msg)
}

func openStore(storeKind, dbPath string) (storage.Store, func(), error) {
	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		_ = storage.CloseIfSupported(store)
	}
	return store, cleanup, nil
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if resetter, ok := store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	} else if err := store.Init(ctx); err != nil {
		return err
	}
	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	configPath := fs.String("config", "", "JSON run configuration")
	seed := fs.Int64("seed", 0, "run seed")
	episodes := fs.Int("episodes", 10, "episodes to run")
	horizon := fs.Int("horizon", 100, "max timesteps per episode")
	plannerType := fs.String("planner", "random", "planner: random|primitives|cem")
	dtMS := fs.Int("dt-ms", 0, "timestep pacing in milliseconds (0 = unpaced)")
	verbose := fs.Bool("verbose", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := loadOrDefaultRunRequest(*configPath)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			req.Seed = *seed
		case "episodes":
			req.MaxEpisodes = *episodes
		case "horizon":
			req.Horizon = *horizon
		case "planner":
			req.PlannerType = *plannerType
		case "dt-ms":
			req.DT = time.Duration(*dtMS) * time.Millisecond
		}
	})
	if req.MaxEpisodes <= 0 {
		req.MaxEpisodes = *episodes
	}
	if req.Horizon <= 0 {
		req.Horizon = *horizon
	}
	if req.PlannerType == "" {
		req.PlannerType = *plannerType
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := probapi.New(probapi.Options{
		StoreKind: *storeKind,
		DBPath:    *dbPath,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	sim := newCorridorSim(req.Seed)
	applySimDefaults(&req, sim)

	result, err := client.Run(ctx, req, sim, sim)
	if err != nil {
		return err
	}

	fmt.Printf("episodes=%d collisions=%d safe_fallbacks=%d snapshot_version=%d\n",
		result.Episodes, result.Collisions, result.SafeFallbacks, result.Snapshot)
	for _, d := range result.Diagnostics {
		if d.Error != "" {
			fmt.Printf("cycle=%d error=%s\n", d.Cycle, d.Error)
			continue
		}
		fmt.Printf("cycle=%d rollouts=%d examples=%d train_loss=%.4f", d.Cycle, d.BatchRollouts, d.TrainExamples, d.TrainLoss)
		if d.Validated {
			fmt.Printf(" val_loss=%.4f", d.ValLoss)
		}
		fmt.Println()
	}
	return nil
}

func runRollouts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rollouts", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	limit := fs.Int("limit", 20, "most recent rollouts to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Init(ctx); err != nil {
		return err
	}
	rollouts, err := store.RecentRollouts(ctx, *limit)
	if err != nil {
		return err
	}
	for _, r := range rollouts {
		fmt.Printf("id=%s cond=%d rep=%d test=%t steps=%d collided=%t\n",
			r.ID, r.CondIndex, r.Rep, r.IsTest, len(r.Steps), r.Collided())
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	runID := fs.String("run-id", "", "run identifier")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return usageError("diagnostics requires -run-id")
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Init(ctx); err != nil {
		return err
	}
	diagnostics, ok, err := store.GetTrainingDiagnostics(ctx, *runID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no diagnostics for run: %s", *runID)
	}
	out, err := json.MarshalIndent(diagnostics, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSnapshot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "probcoll.db", "sqlite database path")
	id := fs.String("id", "", "snapshot identifier (run-id:version)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return usageError("snapshot requires -id")
	}

	store, cleanup, err := openStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := store.Init(ctx); err != nil {
		return err
	}
	meta, ok, err := store.GetSnapshotMeta(ctx, *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no snapshot: %s", *id)
	}
	fmt.Printf("id=%s version=%d members=%d trained_at=%s\n",
		meta.ID, meta.Version, meta.Members, meta.TrainedAt.Format(time.RFC3339))
	return nil
}
