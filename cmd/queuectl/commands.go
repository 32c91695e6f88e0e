package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"scrapeq/internal/config"
	"scrapeq/internal/database"
	"scrapeq/internal/export"
	"scrapeq/internal/logging"
	"scrapeq/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/urfave/cli.v2"
)

// env holds what every command needs: configuration, a logger and the open database.
type env struct {
	cfg    *config.Config
	db     *database.DB
	logger *zerolog.Logger
	closer io.Closer
}

func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger = logging.Component(logger, "queuectl")

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}

	return &env{cfg: cfg, db: db, logger: logger, closer: closer}, nil
}

func (e *env) Close() {
	_ = e.db.Close()
	if e.closer != nil {
		_ = e.closer.Close()
	}
}

func runStatus(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx := context.Background()
	counts, err := e.db.CountTasksByStatus(ctx)
	if err != nil {
		return err
	}
	items, err := e.db.CountItems(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, status := range []models.TaskStatus{models.TaskPending, models.TaskDone, models.TaskFailed} {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	fmt.Fprintf(w, "items\t%d\n", items)
	return w.Flush()
}

func runFailed(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	tasks, err := e.db.GetFailedTasks(context.Background())
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(c.App.Writer, "no failed tasks")
		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tRETRIES\tERROR")
	for _, t := range tasks {
		lastError := ""
		if t.LastError != nil {
			lastError = *t.LastError
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", t.ID, t.TaskType, t.RetryCount, lastError)
	}
	return w.Flush()
}

func runExport(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := e.cfg.Exports.Path
	if out := c.String(flagOutput); out != "" {
		dir = out
	}
	if dir == "" {
		dir = "exports"
	}

	path, err := export.NewExporter(e.db, dir, e.logger).Export(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, path)
	return nil
}

func runBackup(c *cli.Context) error {
	e, err := newEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	backupCfg := e.cfg.Backup
	if backupCfg.StoragePath == "" {
		backupCfg.StoragePath = "backups"
	}

	svc := database.NewBackupService(e.db, e.cfg.Database.Path, backupCfg, e.logger)
	path, err := svc.PerformBackup(context.Background())
	if err != nil {
		return err
	}
	svc.CleanupOldBackups()
	fmt.Fprintln(c.App.Writer, path)
	return nil
}
