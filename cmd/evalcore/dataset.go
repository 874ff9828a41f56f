package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/fatih/color"
	"github.com/programme-lv/evalcore/internal/datasets"
	"github.com/programme-lv/evalcore/internal/rpc"
	"github.com/urfave/cli/v3"
)

func datasetCommand() *cli.Command {
	return &cli.Command{
		Name:  "dataset",
		Usage: "manage the datasets of a task",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "create a dataset, optionally cloned from another",
				ArgsUsage: "TASK_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Required: true},
					&cli.BoolFlag{Name: "autojudge"},
					&cli.Float64Flag{Name: "time-limit", Usage: "seconds"},
					&cli.Int64Flag{Name: "memory-limit", Usage: "bytes"},
					&cli.StringFlag{Name: "task-type", Value: "Batch"},
					&cli.StringFlag{Name: "task-type-parameters", Value: `["alone",["",""],"diff"]`},
					&cli.StringFlag{Name: "score-type", Value: "Sum"},
					&cli.StringFlag{Name: "score-type-parameters", Value: "0"},
					&cli.Int64Flag{Name: "clone-from", Usage: "dataset whose testcases to copy"},
					&cli.BoolFlag{Name: "clone-managers"},
					&cli.BoolFlag{Name: "clone-results"},
				},
				Action: withDatasets(datasetAdd),
			},
			{
				Name:      "rename",
				ArgsUsage: "DATASET_ID DESCRIPTION",
				Action: withDatasets(func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
					id, err := argID(cmd, 0)
					if err != nil {
						return err
					}
					return svc.Rename(ctx, id, cmd.Args().Get(1))
				}),
			},
			{
				Name:      "autojudge",
				Usage:     "toggle background judging of a non-active dataset",
				ArgsUsage: "DATASET_ID",
				Action: withDatasets(func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
					id, err := argID(cmd, 0)
					if err != nil {
						return err
					}
					on, err := svc.ToggleAutojudge(ctx, id)
					if err != nil {
						return err
					}
					fmt.Printf("autojudge of dataset %d is now %t\n", id, on)
					return nil
				}),
			},
			{
				Name:      "diff",
				Usage:     "show how activating a dataset would change scores",
				ArgsUsage: "DATASET_ID",
				Action:    withDatasets(datasetDiff),
			},
			{
				Name:      "activate",
				ArgsUsage: "DATASET_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "notify", Usage: "message the users whose visible scores change"},
					&cli.Int64SliceFlag{Name: "user", Usage: "additional user to message"},
					&cli.StringFlag{Name: "subject"},
					&cli.StringFlag{Name: "text"},
				},
				Action: withDatasets(datasetActivate),
			},
			{
				Name:      "delete",
				ArgsUsage: "DATASET_ID",
				Action: withDatasets(func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
					id, err := argID(cmd, 0)
					if err != nil {
						return err
					}
					return svc.Delete(ctx, id)
				}),
			},
			{
				Name:  "testcase",
				Usage: "add or remove testcases",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "add a testcase from an input and an output file",
						ArgsUsage: "DATASET_ID",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "input", Required: true},
							&cli.StringFlag{Name: "output", Required: true},
							&cli.StringFlag{Name: "codename"},
							&cli.BoolFlag{Name: "public"},
						},
						Action: withDatasets(datasetTestcase),
					},
					{
						Name:      "rm",
						ArgsUsage: "TESTCASE_ID",
						Action: withDatasets(func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
							id, err := argID(cmd, 0)
							if err != nil {
								return err
							}
							return svc.DeleteTestcase(ctx, id)
						}),
					},
				},
			},
			{
				Name:  "manager",
				Usage: "add or remove manager files",
				Commands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "add a manager file, named after the file unless --name is given",
						ArgsUsage: "DATASET_ID PATH",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "name"},
						},
						Action: withDatasets(datasetManager),
					},
					{
						Name:      "rm",
						ArgsUsage: "MANAGER_ID",
						Action: withDatasets(func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
							id, err := argID(cmd, 0)
							if err != nil {
								return err
							}
							return svc.DeleteManager(ctx, id)
						}),
					},
				},
			},
		},
	}
}

func withDatasets(action func(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error) cli.ActionFunc {
	return run(func(ctx context.Context, cmd *cli.Command, a *app) error {
		nc, err := a.nats()
		if err != nil {
			return err
		}
		svc := datasets.NewService(a.db, rpc.NewClient(nc), a.files, a.log)
		return action(ctx, cmd, svc)
	})
}

func argID(cmd *cli.Command, i int) (int64, error) {
	s := cmd.Args().Get(i)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("argument %d must be an id, got %q", i+1, s)
	}
	return id, nil
}

func datasetAdd(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
	taskID, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	p := datasets.CreateParams{
		TaskID:              taskID,
		Description:         cmd.String("description"),
		Autojudge:           cmd.Bool("autojudge"),
		TaskType:            cmd.String("task-type"),
		TaskTypeParameters:  json.RawMessage(cmd.String("task-type-parameters")),
		ScoreType:           cmd.String("score-type"),
		ScoreTypeParameters: json.RawMessage(cmd.String("score-type-parameters")),
		CloneManagers:       cmd.Bool("clone-managers"),
		CloneResults:        cmd.Bool("clone-results"),
	}
	if cmd.IsSet("time-limit") {
		tl := cmd.Float64("time-limit")
		p.TimeLimit = &tl
	}
	if cmd.IsSet("memory-limit") {
		ml := cmd.Int64("memory-limit")
		p.MemoryLimit = &ml
	}
	if cmd.IsSet("clone-from") {
		src := cmd.Int64("clone-from")
		p.CloneFrom = &src
	}

	ds, err := svc.Create(ctx, p)
	if err != nil {
		return err
	}
	fmt.Printf("created dataset %d (version %d) of task %d\n", ds.ID, ds.Version, ds.TaskID)
	return nil
}

func datasetDiff(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	diff, err := svc.Diff(ctx, id)
	if err != nil {
		return err
	}
	printDiff(os.Stdout, diff)
	return nil
}

func printDiff(w io.Writer, diff *datasets.Diff) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s: dataset %q", bold("task"), diff.Task.Name, diff.Dataset.Description)
	if diff.Task.ActiveDatasetID == nil {
		fmt.Fprintln(w, " (task has no active dataset)")
	} else {
		fmt.Fprintf(w, " against active dataset %d\n", *diff.Task.ActiveDatasetID)
	}

	if len(diff.Changes) == 0 {
		fmt.Fprintln(w, "no score changes")
		return
	}
	for _, c := range diff.Changes {
		username := ""
		if c.Submission.User != nil {
			username = c.Submission.User.Username
		}
		mark := " "
		if diff.Notify.Contains(c.Submission.UserID) {
			mark = color.YellowString("*")
		}
		fmt.Fprintf(w, "%s submission %-6d %-16s score %s  public %s\n",
			mark, c.Submission.ID, username,
			scoreChange(c.OldScore, c.NewScore),
			scoreChange(c.OldPublicScore, c.NewPublicScore))
	}
	fmt.Fprintf(w, "%d changed, %d users to notify (*)\n", len(diff.Changes), diff.Notify.Cardinality())
}

func scoreChange(old, cur *float64) string {
	format := func(v *float64) string {
		if v == nil {
			return "-"
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	}
	s := format(old) + " -> " + format(cur)
	switch {
	case old == nil || cur == nil || *old == *cur:
		return s
	case *cur > *old:
		return color.GreenString(s)
	default:
		return color.RedString(s)
	}
}

func datasetActivate(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	p := datasets.ActivateParams{
		DatasetID: id,
		Notify:    cmd.Int64Slice("user"),
		Subject:   cmd.String("subject"),
		Text:      cmd.String("text"),
	}
	if cmd.Bool("notify") {
		diff, err := svc.Diff(ctx, id)
		if err != nil {
			return err
		}
		p.Notify = append(p.Notify, diff.Notify.ToSlice()...)
		slices.Sort(p.Notify)
		p.Notify = slices.Compact(p.Notify)
	}
	if err := svc.Activate(ctx, p); err != nil {
		return err
	}
	fmt.Printf("dataset %d is active, %d users messaged\n", id, len(p.Notify))
	return nil
}

func datasetTestcase(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	in, err := os.ReadFile(cmd.String("input"))
	if err != nil {
		return err
	}
	out, err := os.ReadFile(cmd.String("output"))
	if err != nil {
		return err
	}
	tc, err := svc.AddTestcase(ctx, id, datasets.TestcaseParams{
		Codename: cmd.String("codename"),
		Public:   cmd.Bool("public"),
		Input:    in,
		Output:   out,
	})
	if err != nil {
		return err
	}
	fmt.Printf("added testcase %d (%s)\n", tc.Num, tc.Codename)
	return nil
}

func datasetManager(ctx context.Context, cmd *cli.Command, svc *datasets.Service) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	path := cmd.Args().Get(1)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := cmd.String("name")
	if name == "" {
		name = filepath.Base(path)
	}
	m, err := svc.AddManager(ctx, id, name, data)
	if err != nil {
		return err
	}
	fmt.Printf("added manager %s\n", m.Filename)
	return nil
}
