package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/programme-lv/evalcore/api"
)

// Server subscribes handlers to their subjects.
type Server struct {
	log        *slog.Logger
	scoring    ScoringHandler
	evaluation EvaluationHandler
	subs       []*nats.Subscription
}

// Serve subscribes the given handlers; either may be nil. Handlers run
// with ctx until Close is called.
func Serve(ctx context.Context, nc *nats.Conn, log *slog.Logger, scoring ScoringHandler, evaluation EvaluationHandler) (*Server, error) {
	s := &Server{log: log, scoring: scoring, evaluation: evaluation}
	for _, subject := range s.subjects() {
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			s.serve(ctx, msg)
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return s, nil
}

func (s *Server) subjects() []string {
	var res []string
	if s.scoring != nil {
		res = append(res,
			Subject(Scoring, api.ReinitializeMsg),
			Subject(Scoring, api.DatasetUpdatedMsg),
			Subject(Scoring, api.NewEvaluationMsg),
			Subject(Scoring, api.SearchJobsNotDoneMsg),
		)
	}
	if s.evaluation != nil {
		res = append(res,
			Subject(Evaluation, api.SearchJobsNotDoneMsg),
			Subject(Evaluation, api.JobResultMsg),
		)
	}
	return res
}

func (s *Server) Close() error {
	var errs []error
	for _, sub := range s.subs {
		errs = append(errs, sub.Unsubscribe())
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Server) serve(ctx context.Context, msg *nats.Msg) {
	err := s.handle(ctx, msg.Subject, msg.Data)
	if err != nil {
		s.log.Error("failed to handle message", "subject", msg.Subject, "error", err)
	}
	if msg.Reply == "" {
		return
	}
	var header api.Header
	_ = json.Unmarshal(msg.Data, &header)
	b, merr := json.Marshal(api.NewReply(header.MsgID, err))
	if merr != nil {
		s.log.Error("failed to marshal reply", "error", merr)
		return
	}
	if rerr := msg.Respond(b); rerr != nil {
		s.log.Error("failed to respond", "subject", msg.Subject, "error", rerr)
	}
}

func (s *Server) handle(ctx context.Context, subject string, data []byte) error {
	switch subject {
	case Subject(Scoring, api.ReinitializeMsg):
		return s.scoring.Reinitialize(ctx)
	case Subject(Scoring, api.DatasetUpdatedMsg):
		var m api.DatasetUpdated
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", subject, err)
		}
		return s.scoring.DatasetUpdated(ctx, m.TaskID)
	case Subject(Scoring, api.NewEvaluationMsg):
		var m api.NewEvaluation
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", subject, err)
		}
		return s.scoring.NewEvaluation(ctx, m.SubmissionID, m.DatasetID)
	case Subject(Scoring, api.SearchJobsNotDoneMsg):
		return s.scoring.SearchJobsNotDone(ctx)
	case Subject(Evaluation, api.SearchJobsNotDoneMsg):
		return s.evaluation.SearchJobsNotDone(ctx)
	case Subject(Evaluation, api.JobResultMsg):
		var m api.JobResult
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", subject, err)
		}
		return s.evaluation.Record(ctx, m)
	default:
		return fmt.Errorf("no handler for subject %s", subject)
	}
}
