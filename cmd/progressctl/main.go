// Package main provides progressctl, the operator CLI for the progress
// server: schema migration, catalog seeding, aggregate backfill and session
// previews.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yuv-man/asd-server/internal/app"
	"github.com/yuv-man/asd-server/internal/config"
	"github.com/yuv-man/asd-server/internal/database"
	"github.com/yuv-man/asd-server/internal/logger"
	"github.com/yuv-man/asd-server/internal/models"
	"github.com/yuv-man/asd-server/internal/progress"
	"github.com/yuv-man/asd-server/internal/services"
)

const (
	defaultPendingLimit = 500
	defaultParallel     = 4
)

var (
	pendingAll      bool
	pendingLimit    int
	pendingParallel int

	sessionAreas []string
	sessionSize  int
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "progressctl",
		Short:         "Operator tools for the ASD progress server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSeedCmd())
	rootCmd.AddCommand(newReprocessCmd())
	rootCmd.AddCommand(newSessionCmd())
	return rootCmd
}

// env is what every subcommand needs: config, a logger and an open store.
type env struct {
	cfg   *config.Config
	log   *logger.Logger
	store *app.Store
}

func openEnv(ctx context.Context) (*env, error) {
	cfg := config.LoadTool()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	store, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: store}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close store", "error", err)
	}
	e.log.Sync()
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening the store applies pending migrations.
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", e.store.Driver)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.toml>",
		Short: "Upsert exercises from a TOML catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := loadSeed(args[0])
			if err != nil {
				return err
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			catalog := services.NewCatalogService(e.store.Exercises)
			for i := range list {
				saved, err := catalog.Save(cmd.Context(), "supervisor", &list[i])
				if err != nil {
					return fmt.Errorf("failed to save %q: %w", list[i].Title, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", saved.ID, saved.Area, saved.Title)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d exercises\n", len(list))
			return nil
		},
	}
}

func newReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess [attempt-id...]",
		Short: "Fold stored attempts into the aggregates again",
		Long: "Replays attempts whose aggregation failed. Attempts that are already " +
			"aggregated are skipped, so running this twice is harmless.",
		RunE: runReprocessCmd,
	}
	cmd.Flags().BoolVar(&pendingAll, "pending", false, "reprocess every attempt still waiting for aggregation")
	cmd.Flags().IntVar(&pendingLimit, "limit", defaultPendingLimit, "max attempts to pick up with --pending")
	cmd.Flags().IntVar(&pendingParallel, "parallel", defaultParallel, "attempts processed concurrently")
	return cmd
}

func runReprocessCmd(cmd *cobra.Command, args []string) error {
	if pendingAll == (len(args) > 0) {
		return errors.New("pass attempt ids or --pending, not both")
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	ids := make([]uuid.UUID, 0, len(args))
	for _, raw := range args {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid attempt id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	if pendingAll {
		ids, err = e.store.Pending.ListPendingAttempts(ctx, time.Now(), pendingLimit)
		if err != nil {
			return fmt.Errorf("failed to list pending attempts: %w", err)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing to reprocess")
		return nil
	}

	attempts, cleanup, err := reprocessService(ctx, e)
	if err != nil {
		return err
	}
	defer cleanup()

	var done, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(pendingParallel, 1))
	for _, id := range ids {
		g.Go(func() error {
			_, err := attempts.Reaggregate(gctx, id)
			var conflict *services.ConflictError
			switch {
			case err == nil:
				done.Add(1)
			case errors.As(err, &conflict):
				skipped.Add(1)
			default:
				failed.Add(1)
				e.log.Error("reprocess failed", "attempt_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	fmt.Fprintf(cmd.OutOrStdout(), "reprocessed %d, already aggregated %d, failed %d\n",
		done.Load(), skipped.Load(), failed.Load())
	if failed.Load() > 0 {
		return fmt.Errorf("%d attempts failed", failed.Load())
	}
	return nil
}

// reprocessService builds an AttemptService for the CLI. With Redis the lock
// and notifications are shared with running servers.
func reprocessService(ctx context.Context, e *env) (*services.AttemptService, func(), error) {
	loc, err := e.cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	deps := services.AttemptDeps{
		Attempts:   e.store.Attempts,
		Aggregates: e.store.Aggregates,
		Exercises:  e.store.Exercises,
		Log:        e.log,
		Location:   loc,
		Limits: progress.Limits{
			DailyRecent:  e.cfg.Tuning.DailyRecentLimit,
			WeeklyRecent: e.cfg.Tuning.WeeklyRecentLimit,
		},
		NotifyTimeout: e.cfg.Tuning.NotifyTimeout,
	}

	cleanup := func() {}
	if e.cfg.RedisURL != "" {
		clients, err := database.NewRedisClients(ctx, e.cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		deps.Locker = services.NewRedisLocker(clients.PubSub, e.cfg.Tuning.LockTTL)
		deps.Notifier = services.NewRedisNotifier(clients.PubSub)
		cleanup = func() { _ = clients.Close() }
	}

	s := services.NewAttemptService(deps)
	return s, func() {
		s.Wait()
		cleanup()
	}, nil
}

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Preview a practice session drawn from the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			size := sessionSize
			if size == 0 {
				size = e.cfg.Tuning.DefaultSession
			}
			list, err := services.NewSessionSelector(e.store.Exercises).Select(cmd.Context(), sessionAreas, size)
			if err != nil {
				return err
			}
			for _, ex := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", ex.ID, ex.Area, ex.Title)
			}
			if len(list) < size {
				fmt.Fprintf(cmd.ErrOrStderr(), "catalog only had %d of %d requested exercises\n", len(list), size)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sessionAreas, "areas", areaNames(), "areas to draw from")
	cmd.Flags().IntVar(&sessionSize, "size", 0, "exercises in the session (default from tuning)")
	return cmd
}

func areaNames() []string {
	names := make([]string, len(models.AllAreas))
	for i, a := range models.AllAreas {
		names[i] = string(a)
	}
	return names
}
