package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/exporter"
	"github.com/programme-lv/evalcore/internal/fixtures"
	"github.com/programme-lv/evalcore/internal/scoring"
	"github.com/programme-lv/evalcore/internal/tokens"
	"github.com/urfave/cli/v3"
)

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "dump a contest with its files into a .tar.zst archive",
		ArgsUsage: "CONTEST_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "defaults to dump_<contest>.tar.zst"},
			&cli.BoolFlag{Name: "light", Usage: "leave out executables and testcases"},
			&cli.BoolFlag{Name: "skip-submissions"},
			&cli.BoolFlag{Name: "skip-user-tests"},
		},
		Action: run(func(ctx context.Context, cmd *cli.Command, a *app) error {
			id, err := argID(cmd, 0)
			if err != nil {
				return err
			}
			out := cmd.String("out")
			if out == "" {
				var contest database.Contest
				if err := a.db.WithContext(ctx).Select("name").First(&contest, id).Error; err != nil {
					return database.Classify(fmt.Errorf("failed to load contest %d: %w", id, err))
				}
				out = fmt.Sprintf("dump_%s.tar.zst", contest.Name)
				a.log.Warn("no output given", "out", out)
			}

			// never overwrite an earlier dump
			f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
			if err != nil {
				return fmt.Errorf("failed to create archive: %w", err)
			}
			exp := exporter.New(a.db, a.files, a.log)
			err = exp.WriteArchive(ctx, f, id, exporter.Options{
				Light:           cmd.Bool("light"),
				SkipSubmissions: cmd.Bool("skip-submissions"),
				SkipUserTests:   cmd.Bool("skip-user-tests"),
			})
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out)
				return err
			}
			return nil
		}),
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "insert a contest described in a TOML file",
		ArgsUsage: "FILE",
		Action: run(func(ctx context.Context, cmd *cli.Command, a *app) error {
			seed, err := fixtures.ParseFile(cmd.Args().First())
			if err != nil {
				return err
			}
			contest, err := fixtures.Load(ctx, a.db, a.files, seed)
			if err != nil {
				return err
			}
			fmt.Printf("created contest %s (id %d) with %d tasks and %d users\n",
				contest.Name, contest.ID, len(contest.Tasks), len(contest.Users))
			return nil
		}),
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show a user's score and tokens on a task",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "user", Required: true},
			&cli.Int64Flag{Name: "task", Required: true},
		},
		Action: run(func(ctx context.Context, cmd *cli.Command, a *app) error {
			userID, taskID := cmd.Int64("user"), cmd.Int64("task")

			score, partial, err := scoring.NewService(a.db, a.log).TaskScore(ctx, userID, taskID)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("score %g", score)
			if partial {
				line += color.YellowString(" (partial)")
			}
			fmt.Println(line)

			now := time.Now()
			av, err := tokens.ForUser(ctx, a.db, userID, taskID, now)
			if err != nil {
				return err
			}
			switch av.Available {
			case tokens.Infinite:
				fmt.Println("tokens unlimited")
			default:
				fmt.Printf("tokens %d\n", av.Available)
			}
			if av.NextGen != nil {
				fmt.Printf("next token in %s\n", av.NextGen.Sub(now).Round(time.Second))
			}
			if av.Expiration != nil {
				fmt.Printf("next play allowed in %s\n", av.Expiration.Sub(now).Round(time.Second))
			}
			return nil
		}),
	}
}
