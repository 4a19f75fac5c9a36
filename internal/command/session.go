package command

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adamavenir/ledgerchat/internal/engine"
)

// sessionOptions tune the engine for the view driving it.
type sessionOptions struct {
	NearBottomThreshold int
	TopThreshold        int
	BackfillShortLatest bool
}

// runSession mounts channelID on a new runner and runs it alongside the
// optional metrics server and the foreground function. The first of them to
// return stops the others.
func runSession(cmd *cobra.Command, cmdCtx *CommandContext, channelID string, view engine.View, opts sessionOptions,
	foreground func(ctx context.Context, runner *engine.Runner) error) error {
	cfg := cmdCtx.Config
	runner := engine.NewRunner(cmdCtx.Source, view, engine.RunnerConfig{
		Engine: engine.Config{
			PageSize:            cfg.PageSize,
			AIAddress:           cfg.AIAddress,
			TriggerTokens:       cfg.TriggerTokens,
			NearBottomThreshold: opts.NearBottomThreshold,
			TopThreshold:        opts.TopThreshold,
			BackfillShortLatest: opts.BackfillShortLatest,
		},
		PollInterval: time.Duration(cfg.PollInterval),
		Logger:       cmdCtx.Logger,
	})

	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runner.Run(ctx)
	})
	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cmdCtx, metricsAddr, runner.State)
		})
	}

	runner.Mount(channelID)
	g.Go(func() error {
		defer cancel()
		return foreground(ctx, runner)
	})
	return g.Wait()
}

func serveMetrics(ctx context.Context, cmdCtx *CommandContext, addr string, state func() engine.State) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMetricsRouter(cmdCtx.Logger, state),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		cmdCtx.Logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /debug/state on this address (e.g. 127.0.0.1:9464)")
}
