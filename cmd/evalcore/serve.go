package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/programme-lv/evalcore/api"
	"github.com/programme-lv/evalcore/internal/dispatch"
	"github.com/programme-lv/evalcore/internal/evaluation"
	"github.com/programme-lv/evalcore/internal/rpc"
	"github.com/programme-lv/evalcore/internal/scoring"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the evaluation and scoring services",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "sweep-interval",
				Value: 2 * time.Minute,
				Usage: "how often to look for jobs and scores that are not done",
			},
			&cli.DurationFlag{
				Name:  "job-timeout",
				Value: evaluation.DefaultJobTimeout,
				Usage: "how long a dispatched job may go unanswered before it is sent again",
			},
		},
		Action: run(serve),
	}
}

func serve(ctx context.Context, cmd *cli.Command, a *app) error {
	nc, err := a.nats()
	if err != nil {
		return err
	}
	notifier := rpc.NewClient(nc)

	var dispatcher dispatch.Dispatcher
	var queue *dispatch.SQS
	if a.cfg.SQS.JobsURL != "" {
		queue, err = dispatch.NewSQSFromEnv(ctx, a.cfg.AWS.Region, a.cfg.SQS.JobsURL, a.cfg.SQS.ResultsURL, a.log)
		if err != nil {
			return err
		}
		dispatcher = queue
	} else {
		a.log.Warn("no job queue configured, jobs stay in memory")
		dispatcher = dispatch.NewMemory()
	}

	evals := evaluation.NewService(a.db, dispatcher, notifier, a.log)
	evals.SetJobTimeout(cmd.Duration("job-timeout"))
	scores := scoring.NewService(a.db, a.log)
	rec := recorder{svc: evals, log: a.log}

	srv, err := rpc.Serve(ctx, nc, a.log, scores, rec)
	if err != nil {
		return err
	}
	defer srv.Close()

	g, ctx := errgroup.WithContext(ctx)
	if queue != nil {
		g.Go(func() error {
			return queue.ConsumeResults(ctx, rec.Record)
		})
	}
	g.Go(func() error {
		sweep(ctx, a.log, evals, scores)
		ticker := time.NewTicker(cmd.Duration("sweep-interval"))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sweep(ctx, a.log, evals, scores)
			}
		}
	})

	a.log.Info("serving", "nats", a.cfg.NATS.URL, "jobs_queue", a.cfg.SQS.JobsURL)
	return g.Wait()
}

func sweep(ctx context.Context, log *slog.Logger, evals *evaluation.Service, scores *scoring.Service) {
	if err := evals.SearchJobsNotDone(ctx); err != nil && ctx.Err() == nil {
		log.Error("evaluation sweep failed", "error", err)
	}
	if err := scores.SearchJobsNotDone(ctx); err != nil && ctx.Err() == nil {
		log.Error("scoring sweep failed", "error", err)
	}
}

// recorder drops results that can never be recorded, so that the queue
// does not redeliver them forever.
type recorder struct {
	svc *evaluation.Service
	log *slog.Logger
}

func (r recorder) SearchJobsNotDone(ctx context.Context) error {
	return r.svc.SearchJobsNotDone(ctx)
}

func (r recorder) Record(ctx context.Context, res api.JobResult) error {
	err := r.svc.Record(ctx, res)
	if evaluation.Permanent(err) {
		r.log.Info("discarding result", "object", res.Object, "object_id", res.ObjectID,
			"dataset_id", res.DatasetID, "reason", err)
		return nil
	}
	return err
}
