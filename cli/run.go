package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samaelod/devsim/config"
	"github.com/samaelod/devsim/engine"
	"github.com/samaelod/devsim/metrics"
	"github.com/samaelod/devsim/resolver"
	"github.com/samaelod/devsim/rules"
	"github.com/samaelod/devsim/simulator"
	"github.com/samaelod/devsim/tui"
)

// sessionOptions are the flags shared by run and ui.
type sessionOptions struct {
	network         string
	dir             string
	readBuffer      int
	receiveTimeout  time.Duration
	responseTimeout time.Duration
	metricsAddr     string
}

func (s *sessionOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.network, "network", "unix", "listener network (unix|tcp)")
	f.StringVarP(&s.dir, "dir", "d", "", "payload directory (default: the rule file's directory)")
	f.IntVar(&s.readBuffer, "read-buffer", 0, "bytes per receive (default from settings)")
	f.DurationVar(&s.receiveTimeout, "receive-timeout", 0, "soft receive timeout (default from settings)")
	f.DurationVar(&s.responseTimeout, "response-timeout", 0, "responder wait limit, 0 disables (default from settings)")
	f.StringVar(&s.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// engineOptions merges the settings file with the flags set on cmd.
func (s *sessionOptions) engineOptions(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger, rec *metrics.Recorder) engine.Options {
	o := engine.Options{
		ReceiveTimeout:  cfg.ReceiveTimeout(),
		ResponseTimeout: cfg.ResponseTimeout(),
		Logger:          log,
		Metrics:         rec,
	}
	if cmd.Flags().Changed("receive-timeout") {
		o.ReceiveTimeout = s.receiveTimeout
	}
	if cmd.Flags().Changed("response-timeout") {
		o.ResponseTimeout = s.responseTimeout
	}
	return o
}

func (s *sessionOptions) bufferSize(cfg *config.Config) int {
	if s.readBuffer > 0 {
		return s.readBuffer
	}
	return cfg.ReadBuffer
}

func (s *sessionOptions) payloadDir(rulesPath string) string {
	if s.dir != "" || rulesPath == "" {
		return s.dir
	}
	return filepath.Dir(rulesPath)
}

// startMetrics serves the recorder until ctx ends. It returns nil when no
// address is configured.
func (s *sessionOptions) startMetrics(ctx context.Context, cfg *config.Config, log zerolog.Logger) *metrics.Recorder {
	addr := s.metricsAddr
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr == "" {
		return nil
	}

	rec := metrics.New()
	go func() {
		if err := rec.Serve(ctx, addr); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return rec
}

type runOptions struct {
	sessionOptions
	tui         bool
	waitToStart bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <rules> <socket>",
		Short: "Serve one peer on a socket with a rule document",
		Long: `Listen on <socket>, accept one peer and play the payloads of <rules>
until the peer disconnects, a write fails or the process is interrupted.

With --network tcp, <socket> is a host:port address.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, rootOpts, opts, args[0], args[1])
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.tui, "tui", false, "show the session in the terminal UI")
	cmd.Flags().BoolVar(&opts.waitToStart, "wait-to-start", false, "wait for a start message regardless of the document")

	return cmd
}

func runSimulation(cmd *cobra.Command, rootOpts *RootOptions, opts *runOptions, rulesPath, address string) error {
	rs, err := rules.Load(rulesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid rule document", err)
	}
	if opts.waitToStart {
		rs.WaitToStart = true
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := rootOpts.Settings()
	log, buf := rootOpts.logger(cmd.ErrOrStderr(), !opts.tui)
	defer buf.Close()

	rec := opts.startMetrics(ctx, cfg, log)
	engineOpts := opts.engineOptions(cmd, cfg, log, rec)
	dir := opts.payloadDir(rulesPath)

	if opts.tui {
		return tui.Run(tui.Options{
			Version:    rootOpts.Version,
			Network:    opts.network,
			Address:    address,
			ReadBuffer: opts.bufferSize(cfg),
			PayloadDir: dir,
			RecentDir:  cfg.RecentDir,
			Engine:     engineOpts,
			Log:        buf,
			RulesPath:  rulesPath,
			AutoStart:  true,
		})
	}

	err = simulator.Run(ctx, rs, resolver.NewDir(dir), simulator.Config{
		Network:    opts.network,
		Address:    address,
		ReadBuffer: opts.bufferSize(cfg),
		Engine:     engineOpts,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}
	return nil
}

// NewUICommand creates the ui command.
func NewUICommand(rootOpts *RootOptions) *cobra.Command {
	opts := &sessionOptions{}

	cmd := &cobra.Command{
		Use:   "ui <socket>",
		Short: "Pick a rule file or capture in the terminal UI and serve it on a socket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := rootOpts.Settings()
			log, buf := rootOpts.logger(cmd.ErrOrStderr(), false)
			defer buf.Close()

			rec := opts.startMetrics(ctx, cfg, log)
			return tui.Run(tui.Options{
				Version:    rootOpts.Version,
				Network:    opts.network,
				Address:    args[0],
				ReadBuffer: opts.bufferSize(cfg),
				PayloadDir: opts.dir,
				RecentDir:  cfg.RecentDir,
				Engine:     opts.engineOptions(cmd, cfg, log, rec),
				Log:        buf,
			})
		},
	}

	opts.register(cmd)
	return cmd
}
