package evaluation_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/programme-lv/evalcore/api"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/database/dbtest"
	"github.com/programme-lv/evalcore/internal/dispatch"
	"github.com/programme-lv/evalcore/internal/evaluation"
	"github.com/programme-lv/evalcore/internal/job"
	"github.com/programme-lv/evalcore/internal/rpc/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

type env struct {
	ctx      context.Context
	db       *gorm.DB
	queue    *dispatch.Memory
	notifier *mocks.MockNotifier
	svc      *evaluation.Service
	task     *database.Task
	active   *database.Dataset
	other    *database.Dataset
	user     *database.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.New(t)
	queue := dispatch.NewMemory()
	notifier := mocks.NewMockNotifier(gomock.NewController(t))

	contest := &database.Contest{Name: "c", Description: "c"}
	require.NoError(t, db.Create(contest).Error)
	task := &database.Task{ContestID: contest.ID, Name: "sum", Title: "Sum"}
	require.NoError(t, db.Create(task).Error)

	mk := func(version int, description string) *database.Dataset {
		ds := &database.Dataset{
			TaskID:              task.ID,
			Version:             version,
			Description:         description,
			TimeLimit:           ptr(1.5),
			TaskType:            "Batch",
			TaskTypeParameters:  database.JSON(`["alone",["",""],"diff"]`),
			ScoreType:           "Sum",
			ScoreTypeParameters: database.JSON(`50`),
			Testcases: []database.Testcase{
				{Num: 0, Codename: "000", Public: true, Input: "in0", Output: "out0"},
				{Num: 1, Codename: "001", Input: "in1", Output: "out1"},
			},
		}
		require.NoError(t, db.Create(ds).Error)
		return ds
	}
	active := mk(1, "active")
	other := mk(2, "other")
	require.NoError(t, db.Model(task).UpdateColumn("active_dataset_id", active.ID).Error)

	user := &database.User{ContestID: contest.ID, Username: "alice"}
	require.NoError(t, db.Create(user).Error)

	return &env{
		ctx:      context.Background(),
		db:       db,
		queue:    queue,
		notifier: notifier,
		svc:      evaluation.NewService(db, queue, notifier, slog.New(slog.NewTextHandler(io.Discard, nil))),
		task:     task,
		active:   active,
		other:    other,
		user:     user,
	}
}

func (e *env) submit(t *testing.T) *database.Submission {
	t.Helper()
	sub := &database.Submission{
		UserID:    e.user.ID,
		TaskID:    e.task.ID,
		Timestamp: time.Now(),
		Language:  "C++17",
		Files:     []database.File{{Filename: "sum.%l", Digest: "src"}},
	}
	require.NoError(t, e.db.Create(sub).Error)
	return sub
}

func (e *env) result(t *testing.T, sub *database.Submission, ds *database.Dataset) database.SubmissionResult {
	t.Helper()
	var r database.SubmissionResult
	require.NoError(t, e.db.Preload("Executables").Preload("Evaluations").
		Where("submission_id = ? AND dataset_id = ?", sub.ID, ds.ID).First(&r).Error)
	return r
}

// finish plays the worker: it fills in the job and wraps it as a result.
func finish(t *testing.T, req api.JobRequest, fill func(j job.Job)) api.JobResult {
	t.Helper()
	j, err := job.Unmarshal(req.Job)
	require.NoError(t, err)
	fill(j)
	body, err := job.Marshal(j)
	require.NoError(t, err)
	return req.Result(body)
}

func compiled(ok bool) func(job.Job) {
	return func(j job.Job) {
		cj := j.(*job.CompilationJob)
		cj.Success = ptr(true)
		cj.CompilationSuccess = ptr(ok)
		cj.Text = ptr("g++ -O2 sum.cpp")
		cj.Plus = &job.Usage{ExecutionTime: ptr(0.4), ExecutionMemory: ptr(int64(1 << 20))}
		cj.Sandboxes = []string{"/tmp/box0"}
		if ok {
			cj.Executables = map[string]string{"sum": "exe"}
		}
	}
}

func evaluated(outcomes map[int]string) func(job.Job) {
	return func(j job.Job) {
		ej := j.(*job.EvaluationJob)
		ej.Success = ptr(true)
		for num, outcome := range outcomes {
			ej.Evaluations[num] = job.Outcome{Outcome: outcome, Text: "Output is correct", ExecutionTime: ptr(0.1)}
		}
	}
}

func TestSweepDispatchesCompilationOnce(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)

	n, err := e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reqs := e.queue.Drain()
	require.Len(t, reqs, 1)
	assert.Equal(t, api.SubmissionObject, reqs[0].Object)
	assert.Equal(t, sub.ID, reqs[0].ObjectID)
	assert.Equal(t, e.active.ID, reqs[0].DatasetID)

	j, err := job.Unmarshal(reqs[0].Job)
	require.NoError(t, err)
	cj, ok := j.(*job.CompilationJob)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"sum.%l": "src"}, cj.Files)

	var count int64
	require.NoError(t, e.db.Model(&database.SubmissionResult{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "only the active dataset is judged")

	n, err = e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.svc.Pending())
}

func TestUnansweredJobsAreDispatchedAgain(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)

	n, err := e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	first := e.queue.Drain()

	e.svc.SetJobTimeout(0)
	n, err = e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	again := e.queue.Drain()
	require.Len(t, again, 1)
	assert.Equal(t, sub.ID, again[0].ObjectID)
	assert.Equal(t, first[0].DatasetID, again[0].DatasetID)
	assert.Equal(t, 1, e.svc.Pending())

	// the tries counter only moves on answers
	assert.Zero(t, e.result(t, sub, e.active).CompilationTries)
}

func TestSweepForgetsJobsOfUnjudgedDatasets(t *testing.T) {
	e := newEnv(t)
	e.submit(t)
	require.NoError(t, e.db.Model(&database.Dataset{}).Where("id = ?", e.other.ID).UpdateColumn("autojudge", true).Error)

	n, err := e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, 2, e.svc.Pending())

	require.NoError(t, e.db.Delete(&database.Dataset{}, e.other.ID).Error)
	n, err = e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, e.svc.Pending())
}

func TestCompileThenEvaluate(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)

	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	reqs := e.queue.Drain()
	require.Len(t, reqs, 1)

	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], compiled(true))))
	r := e.result(t, sub, e.active)
	assert.True(t, r.CompilationSucceeded())
	assert.Equal(t, 1, r.CompilationTries)
	assert.Equal(t, "/tmp/box0", *r.CompilationSandbox)
	require.Len(t, r.Executables, 1)

	reqs = e.queue.Drain()
	require.Len(t, reqs, 1)
	j, err := job.Unmarshal(reqs[0].Job)
	require.NoError(t, err)
	ej := j.(*job.EvaluationJob)
	assert.Len(t, ej.Testcases, 2)
	assert.Equal(t, map[string]string{"sum": "exe"}, ej.Executables)
	assert.Equal(t, 1.5, *ej.TimeLimit)

	e.notifier.EXPECT().NewEvaluation(gomock.Any(), sub.ID, e.active.ID).Return(nil)
	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], evaluated(map[int]string{0: "1.0", 1: "0.0"}))))

	r = e.result(t, sub, e.active)
	assert.True(t, r.Evaluated())
	require.Len(t, r.Evaluations, 2)
	assert.Equal(t, "0.0", *r.Evaluations[1].Outcome)
	assert.Zero(t, e.svc.Pending())

	err = e.svc.Record(e.ctx, finish(t, reqs[0], evaluated(map[int]string{0: "1.0", 1: "1.0"})))
	require.ErrorIs(t, err, evaluation.ErrStale)
	assert.True(t, evaluation.Permanent(err))
}

func TestFailedCompilationGoesToScoring(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)
	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	reqs := e.queue.Drain()

	e.notifier.EXPECT().NewEvaluation(gomock.Any(), sub.ID, e.active.ID).Return(nil)
	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], compiled(false))))

	r := e.result(t, sub, e.active)
	assert.True(t, r.CompilationFailed())
	assert.Empty(t, r.Executables)
	assert.Empty(t, e.queue.Drain())
}

func TestWorkerFailuresAreRetriedUpToMaxTries(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)

	for i := 1; i <= evaluation.MaxTries; i++ {
		require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
		reqs := e.queue.Drain()
		require.Len(t, reqs, 1, "try %d", i)
		require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], func(j job.Job) {
			j.(*job.CompilationJob).Success = ptr(false)
		})))
		assert.Equal(t, i, e.result(t, sub, e.active).CompilationTries)
	}

	n, err := e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncompleteEvaluationIsNotStored(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)
	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	require.NoError(t, e.svc.Record(e.ctx, finish(t, e.queue.Drain()[0], compiled(true))))

	reqs := e.queue.Drain()
	require.Len(t, reqs, 1)
	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], evaluated(map[int]string{0: "1.0"}))))

	r := e.result(t, sub, e.active)
	assert.False(t, r.Evaluated())
	assert.Equal(t, 1, r.EvaluationTries)
	assert.Empty(t, r.Evaluations)
}

func TestResultForDeletedDatasetIsRefused(t *testing.T) {
	e := newEnv(t)
	sub := e.submit(t)
	require.NoError(t, e.db.Model(&database.Dataset{}).Where("id = ?", e.other.ID).UpdateColumn("autojudge", true).Error)

	n, err := e.svc.Sweep(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var toOther api.JobRequest
	for _, req := range e.queue.Drain() {
		if req.DatasetID == e.other.ID {
			toOther = req
		}
	}
	require.Equal(t, sub.ID, toOther.ObjectID)

	require.NoError(t, e.db.Delete(&database.Dataset{}, e.other.ID).Error)

	err = e.svc.Record(e.ctx, finish(t, toOther, compiled(true)))
	require.ErrorIs(t, err, evaluation.ErrDatasetGone)
	assert.True(t, evaluation.Permanent(err))

	var count int64
	require.NoError(t, e.db.Model(&database.SubmissionResult{}).Where("dataset_id = ?", e.other.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUserTestRunsOnActiveDataset(t *testing.T) {
	e := newEnv(t)
	ut := &database.UserTest{
		UserID:    e.user.ID,
		TaskID:    e.task.ID,
		Timestamp: time.Now(),
		Language:  "C++17",
		Input:     "my-input",
		Files:     []database.UserTestFile{{Filename: "sum.%l", Digest: "src"}},
	}
	require.NoError(t, e.db.Create(ut).Error)

	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	reqs := e.queue.Drain()
	require.Len(t, reqs, 1)
	assert.Equal(t, api.UserTestObject, reqs[0].Object)

	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], compiled(true))))
	reqs = e.queue.Drain()
	require.Len(t, reqs, 1)

	j, err := job.Unmarshal(reqs[0].Job)
	require.NoError(t, err)
	ej := j.(*job.EvaluationJob)
	assert.True(t, ej.OnlyExecution)
	require.Len(t, ej.Testcases, 1)
	assert.Equal(t, "my-input", ej.Testcases[0].Input)

	require.NoError(t, e.svc.Record(e.ctx, finish(t, reqs[0], func(j job.Job) {
		ej := j.(*job.EvaluationJob)
		ej.Success = ptr(true)
		ej.Evaluations[0] = job.Outcome{Text: "Execution completed successfully", Output: ptr("out-digest")}
	})))

	var r database.UserTestResult
	require.NoError(t, e.db.Where("user_test_id = ?", ut.ID).First(&r).Error)
	assert.True(t, r.Evaluated())
	assert.Equal(t, "out-digest", *r.Output)
	assert.Equal(t, "Execution completed successfully", r.EvaluationText)
}
