package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/programme-lv/evalcore/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
	err   error
}

func (r *recorder) Reinitialize(ctx context.Context) error {
	r.calls = append(r.calls, "reinitialize")
	return r.err
}

func (r *recorder) DatasetUpdated(ctx context.Context, taskID int64) error {
	r.calls = append(r.calls, "dataset_updated")
	if taskID != 7 {
		return errors.New("wrong task")
	}
	return nil
}

func (r *recorder) NewEvaluation(ctx context.Context, submissionID, datasetID int64) error {
	r.calls = append(r.calls, "new_evaluation")
	if submissionID != 3 || datasetID != 4 {
		return errors.New("wrong ids")
	}
	return nil
}

func (r *recorder) SearchJobsNotDone(ctx context.Context) error {
	r.calls = append(r.calls, "search_jobs_not_done")
	return nil
}

func (r *recorder) Record(ctx context.Context, res api.JobResult) error {
	r.calls = append(r.calls, "record:"+string(res.Object))
	return nil
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestHandleDispatch(t *testing.T) {
	ctx := context.Background()
	scoring := &recorder{}
	evaluation := &recorder{}
	s := &Server{log: slog.New(slog.NewTextHandler(io.Discard, nil)), scoring: scoring, evaluation: evaluation}

	require.NoError(t, s.handle(ctx, Subject(Scoring, api.ReinitializeMsg), marshal(t, api.NewReinitialize())))
	require.NoError(t, s.handle(ctx, Subject(Scoring, api.DatasetUpdatedMsg), marshal(t, api.NewDatasetUpdated(7))))
	require.NoError(t, s.handle(ctx, Subject(Scoring, api.NewEvaluationMsg), marshal(t, api.NewNewEvaluation(3, 4))))
	require.NoError(t, s.handle(ctx, Subject(Evaluation, api.SearchJobsNotDoneMsg), marshal(t, api.NewSearchJobsNotDone())))

	req := api.NewJobRequest(api.SubmissionObject, 3, 4, json.RawMessage(`{"type":"compilation"}`))
	require.NoError(t, s.handle(ctx, Subject(Evaluation, api.JobResultMsg), marshal(t, req.Result(req.Job))))

	assert.Equal(t, []string{"reinitialize", "dataset_updated", "new_evaluation"}, scoring.calls)
	assert.Equal(t, []string{"search_jobs_not_done", "record:submission"}, evaluation.calls)

	require.Error(t, s.handle(ctx, "evalcore.unknown", nil))
	require.Error(t, s.handle(ctx, Subject(Scoring, api.DatasetUpdatedMsg), []byte("{")))
}

func TestSubjectsFollowHandlers(t *testing.T) {
	s := &Server{scoring: &recorder{}}
	assert.Len(t, s.subjects(), 4)
	assert.Contains(t, s.subjects(), "evalcore.scoring.reinitialize")

	s = &Server{evaluation: &recorder{}}
	assert.Equal(t, []string{"evalcore.evaluation.search_jobs_not_done", "evalcore.evaluation.job_result"}, s.subjects())
}

func TestDecodeReply(t *testing.T) {
	require.NoError(t, decodeReply(marshal(t, api.NewReply("id", nil))))

	err := decodeReply(marshal(t, api.NewReply("id", errors.New("scorer cache busy"))))
	require.EqualError(t, err, "scorer cache busy")

	require.Error(t, decodeReply([]byte("nope")))
}
