// File: cmd/record.go
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
	"github.com/xkilldash9x/webtrace-cli/internal/browser"
	"github.com/xkilldash9x/webtrace-cli/internal/bus"
	"github.com/xkilldash9x/webtrace-cli/internal/control"
	"github.com/xkilldash9x/webtrace-cli/internal/export"
	"github.com/xkilldash9x/webtrace-cli/internal/observability"
	"github.com/xkilldash9x/webtrace-cli/internal/recorder"
	"github.com/xkilldash9x/webtrace-cli/internal/store"
)

// shutdownGrace bounds the stop/export sequence after the interrupt.
const shutdownGrace = 30 * time.Second

var recordAutoStart bool

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Attach to a browser and record interactions until interrupted.",
	Long: `Attaches to a running Chromium instance (or launches one), injects the
capture listeners into every eligible page, and accumulates the interaction
log. On interrupt the session is stopped, exported to disk, and optionally
archived to PostgreSQL.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().BoolVar(&recordAutoStart, "start", true,
		"start recording immediately instead of waiting for the control surface")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The coordinator and browser connection outlive the interrupt: the final
	// stop and export still travel over the bus after ctx is cancelled.
	coordCtx, coordCancel := context.WithCancel(context.Background())
	defer coordCancel()

	manager, err := browser.NewManager(coordCtx, cfg.Browser, logger)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	b := bus.New(cfg.Recorder.BusBuffer)
	factory := browser.NewAgentFactory(coordCtx, manager, b, cfg.Recorder, logger)
	coord := recorder.New(b, factory, recorder.Config{
		RestrictedSchemes: cfg.Recorder.RestrictedSchemes,
	}, logger)

	stream := control.NewStream(logger)
	coord.SetObserver(stream.Observe)

	go coord.Run(coordCtx)

	watcher := browser.NewWatcher(manager, b, logger)
	if err := watcher.Start(coordCtx); err != nil {
		return fmt.Errorf("target watcher failed to start: %w", err)
	}

	client := recorder.NewClient(b)

	var srv *control.Server
	if cfg.Control.Enabled {
		srv = control.NewServer(cfg.Control.Listen, client, stream, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				logger.Error("Control surface failed.", zap.Error(err))
			}
		}()
	}

	if recordAutoStart {
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
	} else {
		logger.Info("Waiting for start command on the control surface.")
	}

	<-ctx.Done()
	logger.Info("Interrupt received, finishing session.")

	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()

	if err := client.Stop(graceCtx); err != nil {
		logger.Warn("Stop failed during shutdown.", zap.Error(err))
	}
	session, err := client.Export(graceCtx)
	if err != nil {
		return fmt.Errorf("failed to export session: %w", err)
	}

	if srv != nil {
		if err := srv.Shutdown(graceCtx); err != nil {
			logger.Warn("Control surface shutdown failed.", zap.Error(err))
		}
	}
	coordCancel()
	<-coord.Done()

	if err := export.WriteFile(cfg.Export.Path, session); err != nil {
		return err
	}
	logger.Info("Session exported.",
		zap.String("path", cfg.Export.Path),
		zap.Int("actions", len(session.Actions)))

	if cfg.Database.Enabled {
		if err := archiveSession(graceCtx, cfg.Database.URL, session, logger); err != nil {
			// The artifact on disk is the primary deliverable; archive failure
			// is reported but does not fail the run.
			logger.Error("Session archive failed.", zap.Error(err))
		}
	}
	return nil
}

// archiveSession persists the finished session to the PostgreSQL archive.
func archiveSession(ctx context.Context, url string, session *schemas.ExportedSession, logger *zap.Logger) error {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to archive database: %w", err)
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	id, err := st.ArchiveSession(ctx, session)
	if err != nil {
		return err
	}
	logger.Info("Session archived to database.", zap.String("session_id", id.String()))
	return nil
}
