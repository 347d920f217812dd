// Command jobtrackd runs the job tracker API and offers cache maintenance
// subcommands against the same configuration.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-jobtrack-backend/internal/app"
	"github.com/tbourn/go-jobtrack-backend/internal/config"
	"github.com/tbourn/go-jobtrack-backend/internal/observability"
	"github.com/tbourn/go-jobtrack-backend/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	out     io.Writer
	logOut  io.Writer
	envFile string
	cfg     config.Config
	log     zerolog.Logger
}

func newRootCmd(out, logOut io.Writer) *cobra.Command {
	c := &cli{out: out, logOut: logOut}
	root := &cobra.Command{
		Use:           "jobtrackd",
		Short:         "Job tracker API with a redis cache-aside layer",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.SetOut(out)
	root.SetErr(logOut)
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(c.serveCmd(), c.cacheCmd())
	return root
}

// load reads the optional dotenv file, then the configuration, and installs
// the logger.
func (c *cli) load() error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", c.envFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, c.logOut)
	return nil
}

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
}

func (c *cli) serve(ctx context.Context) error {
	otelShutdown, err := observability.SetupOTel(ctx, c.cfg.OTEL, version)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		_ = otelShutdown(context.Background())
		return err
	}
	if err := a.StartSweeper(); err != nil {
		c.log.Warn().Err(err).Msg("idempotency sweeper not started")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run() }()

	var runErr error
	select {
	case <-ctx.Done():
		c.log.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(sctx), otelShutdown(sctx))
}

func (c *cli) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or invalidate cached data",
	}

	var userID, groupID string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print breaker state and cached entry counts as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				out := map[string]any{
					"redis_ready": a.Cache.Ready(),
					"jobs":        a.JobCache.Stats(ctx, userID),
				}
				if groupID != "" {
					out["chat"] = a.ChatCache.Stats(ctx, groupID)
				}
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			})
		},
	}
	stats.Flags().StringVar(&userID, "user", "", "count cached job pages of this user only")
	stats.Flags().StringVar(&groupID, "group", "", "include the chat window stats of this group")

	invUser := &cobra.Command{
		Use:   "invalidate-user <user-id>",
		Short: "Drop every cached job page of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				a.JobCache.InvalidateUserCache(ctx, args[0])
				fmt.Fprintf(c.out, "invalidated job cache of user %s\n", args[0])
				return nil
			})
		},
	}

	invGroup := &cobra.Command{
		Use:   "invalidate-group <group-id>",
		Short: "Drop the cached message window and count of a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				a.ChatCache.InvalidateGroup(ctx, args[0])
				fmt.Fprintf(c.out, "invalidated chat cache of group %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(stats, invUser, invGroup)
	return cmd
}

// withApp runs fn against a short-lived App. needRedis fails fast when the
// backend is not reachable, since invalidations would otherwise be no-ops.
func (c *cli) withApp(ctx context.Context, needRedis bool, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
		defer cancel()
		_ = a.Shutdown(sctx)
	}()
	if needRedis && !a.Cache.Ready() {
		return fmt.Errorf("redis at %s is not available", c.cfg.Redis.Addr)
	}
	return fn(ctx, a)
}
