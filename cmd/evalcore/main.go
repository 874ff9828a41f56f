package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/environment"
	"github.com/programme-lv/evalcore/internal/filestore"
	"github.com/programme-lv/evalcore/internal/logger"
	"github.com/programme-lv/evalcore/internal/xdg"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

func main() {
	cmd := &cli.Command{
		Name:  "evalcore",
		Usage: "dataset management, job dispatch and scoring for programming contests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a TOML config file",
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			serveCommand(),
			datasetCommand(),
			jobCommand(),
			exportCommand(),
			seedCommand(),
			statusCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the resources a command runs with.
type app struct {
	cfg   *environment.Config
	log   *slog.Logger
	db    *gorm.DB
	files *filestore.FileStore
	nc    *nats.Conn
}

func open(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := environment.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, os.Stderr)
	if err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "sqlite" {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Database.DSN)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	var backend filestore.Backend
	if cfg.Blobs.Bucket != "" {
		backend, err = filestore.NewS3(ctx, cfg.AWS.Region, cfg.Blobs.Bucket, cfg.Blobs.Prefix)
	} else {
		backend, err = filestore.NewLocal(cfg.Blobs.Dir)
	}
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: log, db: db, files: filestore.New(backend)}, nil
}

// nats connects on first use; only commands that talk to other services
// need a broker.
func (a *app) nats() (*nats.Conn, error) {
	if a.nc != nil {
		return a.nc, nil
	}
	nc, err := nats.Connect(a.cfg.NATS.URL, nats.Name("evalcore"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", a.cfg.NATS.URL, err)
	}
	a.nc = nc
	return nc, nil
}

func (a *app) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.log.Warn("failed to drain nats connection", "error", err)
		}
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// run opens the app around a command action.
func run(action func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := open(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return action(ctx, cmd, a)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the database schema",
		Action: run(func(ctx context.Context, cmd *cli.Command, a *app) error {
			if err := database.Migrate(ctx, a.db); err != nil {
				return err
			}
			a.log.Info("schema migrated", "driver", a.cfg.Database.Driver)
			return nil
		}),
	}
}
