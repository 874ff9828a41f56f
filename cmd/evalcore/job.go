package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/job"
	"github.com/urfave/cli/v3"
)

func jobCommand() *cli.Command {
	flags := func() []cli.Flag {
		return []cli.Flag{
			&cli.Int64Flag{Name: "submission"},
			&cli.Int64Flag{Name: "user-test"},
			&cli.Int64Flag{Name: "dataset", Usage: "defaults to the task's active dataset"},
			&cli.IntFlag{Name: "version", Usage: "dataset version within the task, instead of --dataset"},
		}
	}
	return &cli.Command{
		Name:  "job",
		Usage: "print the wire form of the job a worker would receive",
		Commands: []*cli.Command{
			{
				Name:   "compile",
				Flags:  flags(),
				Action: run(printJob(job.KindCompilation)),
			},
			{
				Name:   "evaluate",
				Flags:  flags(),
				Action: run(printJob(job.KindEvaluation)),
			},
		},
	}
}

func printJob(kind job.Kind) func(ctx context.Context, cmd *cli.Command, a *app) error {
	return func(ctx context.Context, cmd *cli.Command, a *app) error {
		j, err := buildJob(ctx, cmd, a, kind)
		if err != nil {
			return err
		}
		data, err := job.Marshal(j)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}
}

func buildJob(ctx context.Context, cmd *cli.Command, a *app, kind job.Kind) (job.Job, error) {
	dataset := func(taskID int64) (*database.Dataset, error) {
		if cmd.IsSet("dataset") {
			return database.LoadDataset(ctx, a.db, cmd.Int64("dataset"))
		}
		if cmd.IsSet("version") {
			return database.LoadDatasetByVersion(ctx, a.db, taskID, int(cmd.Int("version")))
		}
		task, err := database.LoadTask(ctx, a.db, taskID)
		if err != nil {
			return nil, err
		}
		if task.ActiveDatasetID == nil {
			return nil, fmt.Errorf("task %s has no active dataset", task.Name)
		}
		return database.LoadDataset(ctx, a.db, *task.ActiveDatasetID)
	}

	switch {
	case cmd.IsSet("submission"):
		sub, err := database.LoadSubmission(ctx, a.db, cmd.Int64("submission"))
		if err != nil {
			return nil, err
		}
		ds, err := dataset(sub.TaskID)
		if err != nil {
			return nil, err
		}
		if kind == job.KindCompilation {
			return job.CompilationFromSubmission(sub, ds)
		}
		return job.EvaluationFromSubmission(sub, ds)
	case cmd.IsSet("user-test"):
		ut, err := database.LoadUserTest(ctx, a.db, cmd.Int64("user-test"))
		if err != nil {
			return nil, err
		}
		ds, err := dataset(ut.TaskID)
		if err != nil {
			return nil, err
		}
		if kind == job.KindCompilation {
			return job.CompilationFromUserTest(ut, ds)
		}
		return job.EvaluationFromUserTest(ut, ds)
	default:
		return nil, errors.New("one of --submission or --user-test is required")
	}
}
