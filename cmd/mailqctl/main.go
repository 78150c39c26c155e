// mailqctl is the operator CLI: run migrations, enqueue a test message,
// inspect the queue, and re-arm terminally failed jobs.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	"github.com/spf13/cobra"

	"github.com/Ruvo-Inc/mailq/internal/config"
	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
	"github.com/Ruvo-Inc/mailq/internal/store/driver"
)

func main() {
	root := &cobra.Command{
		Use:           "mailqctl",
		Short:         "Operate the outbound mail queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(), enqueueCmd(), listCmd(), retryCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (store.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, err
	}
	st, err := driver.Open(ctx, cfg)
	return st, cfg, err
}

func migrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (postgres only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}
			return goose.Up(db, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	return cmd
}

func enqueueCmd() *cobra.Command {
	var (
		to      []string
		cc      []string
		subject string
		text    string
		html    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Create a queued mail job",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			job := &domain.Job{
				Recipients:  domain.Recipients{To: to, Cc: cc},
				Content:     domain.Content{Subject: subject},
				Environment: cfg.EnvironmentTag,
			}
			if text != "" {
				job.Content.Text = &text
			}
			if html != "" {
				job.Content.HTML = &html
			}
			if err := job.ValidateContent(); err != nil {
				return err
			}

			id, err := st.Create(ctx, job)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient address (repeatable)")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "cc address (repeatable)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject")
	cmd.Flags().StringVar(&text, "text", "", "plain text body")
	cmd.Flags().StringVar(&html, "html", "", "html body")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cfg, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			jobs, err := st.ListByStatus(ctx, cfg.EnvironmentTag, domain.Status(status), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		},
	}
	cmd.Flags().StringVar(&status, "status", "failed", "queued|processing|sent|failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "max jobs to return")
	return cmd
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-arm a terminally failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			id := args[0]
			return st.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
				j, err := tx.Get(ctx, id)
				if err != nil {
					return err
				}
				if j.Status != domain.StatusFailed {
					return fmt.Errorf("job %s is %s, only failed jobs can be retried", id, j.Status)
				}
				now := time.Now().UTC()
				queued := domain.StatusQueued
				zero := 0
				return tx.Update(ctx, id, store.Patch{
					Status:         &queued,
					Attempts:       &zero,
					ClearLastError: true,
					ClearLease:     true,
					NotBefore:      &now,
					UpdatedAt:      now,
				})
			})
		},
	}
}
