package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/azmon-sink/internal/config"
	"github.com/GabrielNunesIT/azmon-sink/internal/model"
	"github.com/GabrielNunesIT/azmon-sink/internal/reader"
	"github.com/GabrielNunesIT/azmon-sink/internal/sink"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the log sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSink(cmd, cfgFile, logLevel)
		},
	}

	cmd.Flags().Bool("stdin", false, "read JSON-lines records from stdin")

	// Hot-reload flag
	cmd.Flags().Bool("hot-reload", true, "rebuild the sink when the config file changes")

	return cmd
}

func runSink(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, err := config.Load(*cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	applyCLIOverrides(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := SetupLogging(*logLevel, cfg.SelfLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Construction blocks until the first bearer token is obtained, so a
	// credential problem surfaces here as a startup failure.
	s, err := sink.New(cfg.Sink, log)
	if err != nil {
		return fmt.Errorf("creating sink: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("starting sink: %w", err)
	}

	// Sink settings are immutable after construction; reloads swap in a
	// freshly built sink behind this pointer.
	var active atomic.Pointer[sink.Sink]
	active.Store(s)

	log.Infof("sink started: stream=%s, batch_size=%d, flush_interval=%s",
		cfg.Sink.Stream, cfg.Sink.BatchSize, cfg.Sink.FlushInterval)
	notifySystemd(log, daemon.SdNotifyReady)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var changes <-chan *config.Config
	var watchErrs <-chan error
	hotReload, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReload {
		watcher := config.NewWatcher(*cfgFile, log)
		if err := watcher.Start(ctx); err != nil {
			log.Warningf("failed to start config watcher: %v", err)
		} else {
			log.Infof("hot-reload enabled: config=%s", *cfgFile)
			changes = watcher.Changes()
			watchErrs = watcher.Errors()
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	// readerDone stays nil when stdin is disabled, so its case never fires.
	var readerDone chan struct{}
	if cfg.Reader.Stdin.Enabled {
		readerDone = make(chan struct{})
		r := reader.NewStdinReader(log)
		g.Go(func() error {
			defer close(readerDone)
			return r.Run(gCtx, func(rec *model.LogRecord) {
				if s := active.Load(); s != nil {
					s.Emit(rec)
				}
			})
		})
	}

	current := cfg
	running := true
	for running {
		select {
		case <-readerDone:
			log.Info("input exhausted, shutting down")
			running = false

		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading config")
				newCfg, err := config.Load(*cfgFile)
				if err != nil {
					log.Errorf("failed to reload config: %v", err)
					continue
				}
				applyCLIOverrides(cmd, newCfg)
				if err := newCfg.Validate(); err != nil {
					log.Errorf("reloaded config is invalid, keeping current: %v", err)
					continue
				}
				if restartSink(ctx, &active, newCfg, current, log) {
					current = newCfg
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Infof("received shutdown signal: %v", sig)
				running = false
			}

		case newCfg := <-changes:
			applyCLIOverrides(cmd, newCfg)
			if restartSink(ctx, &active, newCfg, current, log) {
				current = newCfg
			}

		case err := <-watchErrs:
			log.Errorf("config watcher error: %v", err)
		}
	}

	notifySystemd(log, daemon.SdNotifyStopping)
	cancel()

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Warningf("reader error: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), current.Sink.ShutdownTimeout)
	defer stopCancel()
	if err := active.Load().Stop(stopCtx); err != nil {
		log.Warningf("sink stop error: %v", err)
	}

	log.Info("azmon-sink stopped")
	return nil
}

// restartSink builds a sink from the new configuration before tearing down
// the old one; when construction fails the running sink is kept. Returns
// whether the swap happened.
func restartSink(ctx context.Context, active *atomic.Pointer[sink.Sink], newCfg, oldCfg *config.Config, log logger.ILogger) bool {
	next, err := sink.New(newCfg.Sink, log)
	if err != nil {
		log.Errorf("rebuilding sink failed, keeping current: %v", err)
		return false
	}
	if err := next.Start(ctx); err != nil {
		log.Errorf("starting rebuilt sink failed, keeping current: %v", err)
		return false
	}

	prev := active.Swap(next)

	if prev != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), oldCfg.Sink.ShutdownTimeout)
		defer cancel()
		if err := prev.Stop(stopCtx); err != nil {
			log.Warningf("stopping replaced sink: %v", err)
		}
	}

	log.Info("sink rebuilt with new configuration")
	return true
}

// notifySystemd reports lifecycle state when running under systemd.
// Outside systemd the notification socket is absent and this is a no-op.
func notifySystemd(log logger.ILogger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Debugf("sd_notify failed: %v", err)
		return
	}
	if sent {
		log.Debugf("systemd notified: %s", state)
	}
}

func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetBool("stdin"); v {
		cfg.Reader.Stdin.Enabled = true
	}
}
