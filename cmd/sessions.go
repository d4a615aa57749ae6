// File: cmd/sessions.go
package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrace-cli/internal/export"
	"github.com/xkilldash9x/webtrace-cli/internal/observability"
	"github.com/xkilldash9x/webtrace-cli/internal/store"
)

var (
	sessionsLimit     int
	sessionsExportOut string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect the PostgreSQL session archive.",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, pool, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		sessions, err := st.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No archived sessions.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %4d actions  (archived %s)\n",
				s.ID, s.StartedAt.Format("2006-01-02 15:04:05"),
				s.TotalActions, s.ArchivedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Re-export an archived session to a JSON artifact.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", args[0], err)
		}

		st, pool, err := openArchive(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()

		session, err := st.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		if err := export.WriteFile(sessionsExportOut, session); err != nil {
			return err
		}
		observability.GetLogger().Info("Archived session exported.",
			zap.String("session_id", sessionID.String()),
			zap.String("path", sessionsExportOut))
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "maximum sessions to list")
	sessionsExportCmd.Flags().StringVarP(&sessionsExportOut, "out", "o", "webtrace-session.json", "output artifact path")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsExportCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openArchive connects to the configured archive database.
func openArchive(ctx context.Context) (*store.Store, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database.url is not configured (set WEBTRACE_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}
	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool, nil
}
