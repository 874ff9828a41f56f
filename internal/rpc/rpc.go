// Package rpc connects the dataset, evaluation and scoring services over
// NATS. Reinitialize is request/reply; everything else is fire-and-forget.
package rpc

import (
	"context"

	"github.com/programme-lv/evalcore/api"
)

// Target names the service a message is addressed to.
type Target string

const (
	Evaluation Target = "evaluation"
	Scoring    Target = "scoring"
)

const subjectPrefix = "evalcore"

// Subject is the NATS subject of a message type on a target service.
func Subject(target Target, msgType api.MsgType) string {
	return subjectPrefix + "." + string(target) + "." + string(msgType)
}

//go:generate mockgen -destination=mocks/notifier.go -package=mocks . Notifier

// Notifier is how dataset and evaluation logic poke the other services.
type Notifier interface {
	// Reinitialize drops every cached scorer. It returns once the scoring
	// service has done so.
	Reinitialize(ctx context.Context) error
	DatasetUpdated(ctx context.Context, taskID int64) error
	SearchJobsNotDone(ctx context.Context, target Target) error
	NewEvaluation(ctx context.Context, submissionID, datasetID int64) error
}

// ScoringHandler is served on the scoring subjects.
type ScoringHandler interface {
	Reinitialize(ctx context.Context) error
	DatasetUpdated(ctx context.Context, taskID int64) error
	NewEvaluation(ctx context.Context, submissionID, datasetID int64) error
	SearchJobsNotDone(ctx context.Context) error
}

// EvaluationHandler is served on the evaluation subjects.
type EvaluationHandler interface {
	SearchJobsNotDone(ctx context.Context) error
	Record(ctx context.Context, res api.JobResult) error
}
