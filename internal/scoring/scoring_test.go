package scoring_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/database/dbtest"
	"github.com/programme-lv/evalcore/internal/scoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

type env struct {
	ctx     context.Context
	db      *gorm.DB
	logs    *bytes.Buffer
	svc     *scoring.Service
	contest *database.Contest
	task    *database.Task
	ds      *database.Dataset
}

// newEnv seeds a task whose active dataset has three testcases worth 100
// each; testcases 0 and 2 are public.
func newEnv(t *testing.T) *env {
	t.Helper()
	db := dbtest.New(t)
	logs := &bytes.Buffer{}

	contest := &database.Contest{Name: "c", Description: "c"}
	require.NoError(t, db.Create(contest).Error)
	task := &database.Task{ContestID: contest.ID, Name: "sum", Title: "Sum", ScorePrecision: 1}
	require.NoError(t, db.Create(task).Error)
	ds := &database.Dataset{
		TaskID:              task.ID,
		Version:             1,
		Description:         "default",
		TaskType:            "Batch",
		TaskTypeParameters:  database.JSON(`["alone",["",""],"diff"]`),
		ScoreType:           "Sum",
		ScoreTypeParameters: database.JSON(`100`),
		Testcases: []database.Testcase{
			{Num: 0, Codename: "000", Public: true, Input: "i0", Output: "o0"},
			{Num: 1, Codename: "001", Input: "i1", Output: "o1"},
			{Num: 2, Codename: "002", Public: true, Input: "i2", Output: "o2"},
		},
	}
	require.NoError(t, db.Create(ds).Error)
	require.NoError(t, db.Model(task).UpdateColumn("active_dataset_id", ds.ID).Error)
	task.ActiveDatasetID = &ds.ID

	return &env{
		ctx:     context.Background(),
		db:      db,
		logs:    logs,
		svc:     scoring.NewService(db, slog.New(slog.NewJSONHandler(logs, nil))),
		contest: contest,
		task:    task,
		ds:      ds,
	}
}

func (e *env) user(t *testing.T, name string, hidden bool) *database.User {
	t.Helper()
	u := &database.User{ContestID: e.contest.ID, Username: name, Hidden: hidden}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

// evaluated stores a submission evaluated with the given outcomes.
func (e *env) evaluated(t *testing.T, u *database.User, at time.Time, tokened bool, outcomes ...string) *database.Submission {
	t.Helper()
	sub := &database.Submission{UserID: u.ID, TaskID: e.task.ID, Timestamp: at, Language: "C"}
	require.NoError(t, e.db.Create(sub).Error)
	if tokened {
		require.NoError(t, e.db.Create(&database.Token{SubmissionID: sub.ID, Timestamp: at}).Error)
	}
	res := &database.SubmissionResult{
		SubmissionID:       sub.ID,
		DatasetID:          e.ds.ID,
		CompilationOutcome: ptr(database.CompilationOK),
		EvaluationOutcome:  ptr(database.EvaluationOK),
	}
	for i, o := range outcomes {
		res.Evaluations = append(res.Evaluations, database.Evaluation{Num: i, Outcome: ptr(o)})
	}
	require.NoError(t, e.db.Create(res).Error)
	return sub
}

func (e *env) stored(t *testing.T, sub *database.Submission) *database.SubmissionResult {
	t.Helper()
	var r database.SubmissionResult
	require.NoError(t, e.db.Where("submission_id = ? AND dataset_id = ?", sub.ID, e.ds.ID).First(&r).Error)
	return &r
}

func TestNewEvaluationStoresScores(t *testing.T) {
	e := newEnv(t)
	sub := e.evaluated(t, e.user(t, "alice", false), time.Now(), false, "1.0", "1.0", "0.0")

	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))

	r := e.stored(t, sub)
	require.True(t, r.Scored())
	assert.Equal(t, 200.0, *r.Score)
	assert.Equal(t, 100.0, *r.PublicScore)
	assert.JSONEq(t, `[]`, string(r.RankingScoreDetails))
	assert.NotEmpty(t, r.ScoreDetails)
}

func TestNewEvaluationSkips(t *testing.T) {
	e := newEnv(t)

	hidden := e.evaluated(t, e.user(t, "admin", true), time.Now(), false, "1.0", "1.0", "1.0")
	require.NoError(t, e.svc.NewEvaluation(e.ctx, hidden.ID, e.ds.ID))
	assert.False(t, e.stored(t, hidden).Scored())

	bob := e.user(t, "bob", false)
	sub := &database.Submission{UserID: bob.ID, TaskID: e.task.ID, Timestamp: time.Now()}
	require.NoError(t, e.db.Create(sub).Error)
	res := &database.SubmissionResult{SubmissionID: sub.ID, DatasetID: e.ds.ID, CompilationOutcome: ptr(database.CompilationOK)}
	require.NoError(t, e.db.Create(res).Error)
	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	assert.False(t, e.stored(t, sub).Scored())

	require.ErrorIs(t, e.svc.NewEvaluation(e.ctx, 9999, e.ds.ID), database.ErrNotFound)
}

func TestFailedCompilationScoresZero(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "alice", false)
	sub := &database.Submission{UserID: u.ID, TaskID: e.task.ID, Timestamp: time.Now()}
	require.NoError(t, e.db.Create(sub).Error)
	require.NoError(t, e.db.Create(&database.SubmissionResult{
		SubmissionID:       sub.ID,
		DatasetID:          e.ds.ID,
		CompilationOutcome: ptr(database.CompilationFail),
	}).Error)

	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	r := e.stored(t, sub)
	require.True(t, r.Scored())
	assert.Zero(t, *r.Score)
}

func TestScorersAreCachedUntilReinitialize(t *testing.T) {
	e := newEnv(t)
	sub := e.evaluated(t, e.user(t, "alice", false), time.Now(), false, "1.0", "1.0", "1.0")

	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	assert.Equal(t, 300.0, *e.stored(t, sub).Score)

	require.NoError(t, e.db.Model(e.ds).UpdateColumn("score_type_parameters", database.JSON(`10`)).Error)
	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	assert.Equal(t, 300.0, *e.stored(t, sub).Score)

	require.NoError(t, e.svc.Reinitialize(e.ctx))
	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	assert.Equal(t, 30.0, *e.stored(t, sub).Score)
}

func TestBrokenScorerIsLoggedNotReturned(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Model(e.ds).UpdateColumn("score_type", "Nonexistent").Error)
	sub := e.evaluated(t, e.user(t, "alice", false), time.Now(), false, "1.0", "1.0", "1.0")

	require.NoError(t, e.svc.NewEvaluation(e.ctx, sub.ID, e.ds.ID))
	assert.False(t, e.stored(t, sub).Scored())
	assert.Contains(t, e.logs.String(), "cannot resolve score type")
}

func TestSearchJobsNotDoneScoresPending(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "alice", false)
	a := e.evaluated(t, u, time.Now(), false, "1.0", "0.0", "0.0")
	b := e.evaluated(t, u, time.Now(), false, "0.5", "0.5", "0.5")

	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	assert.Equal(t, 100.0, *e.stored(t, a).Score)
	assert.Equal(t, 150.0, *e.stored(t, b).Score)
	assert.Equal(t, 100.0, *e.stored(t, b).PublicScore)
}

func TestSearchJobsNotDoneCountsOnlyWrittenScores(t *testing.T) {
	e := newEnv(t)
	e.evaluated(t, e.user(t, "admin", true), time.Now(), false, "1.0", "1.0", "1.0")
	visible := e.evaluated(t, e.user(t, "alice", false), time.Now(), false, "1.0", "1.0", "1.0")

	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	assert.Equal(t, 300.0, *e.stored(t, visible).Score)
	assert.Contains(t, e.logs.String(), `"count":1`)
	assert.NotContains(t, e.logs.String(), "hidden user")

	require.NoError(t, e.db.Model(e.ds).UpdateColumn("score_type", "Nonexistent").Error)
	require.NoError(t, e.svc.Reinitialize(e.ctx))
	e.evaluated(t, e.user(t, "bob", false), time.Now(), false, "1.0", "0.0", "0.0")

	e.logs.Reset()
	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))
	assert.Contains(t, e.logs.String(), `"count":0`)
	assert.NotContains(t, e.logs.String(), "not scoring")
}

func TestDatasetUpdatedScoresNewActiveDataset(t *testing.T) {
	e := newEnv(t)
	sub := e.evaluated(t, e.user(t, "alice", false), time.Now(), false, "1.0", "1.0", "0.0")

	require.NoError(t, e.svc.DatasetUpdated(e.ctx, e.task.ID))
	assert.Equal(t, 200.0, *e.stored(t, sub).Score)
	assert.Contains(t, e.logs.String(), "task has a new active dataset")
}

func TestTaskScore(t *testing.T) {
	e := newEnv(t)
	u := e.user(t, "alice", false)
	start := time.Now().Add(-time.Hour)

	score, partial, err := e.svc.TaskScore(e.ctx, u.ID, e.task.ID)
	require.NoError(t, err)
	assert.Zero(t, score)
	assert.False(t, partial)

	best := e.evaluated(t, u, start, true, "1.0", "1.0", "1.0")
	last := e.evaluated(t, u, start.Add(time.Minute), false, "1.0", "0.0", "0.0")
	require.NoError(t, e.svc.SearchJobsNotDone(e.ctx))

	score, partial, err = e.svc.TaskScore(e.ctx, u.ID, e.task.ID)
	require.NoError(t, err)
	assert.Equal(t, 300.0, score, "tokened submission %d beats last %d", best.ID, last.ID)
	assert.False(t, partial)

	pending := &database.Submission{UserID: u.ID, TaskID: e.task.ID, Timestamp: start.Add(2 * time.Minute)}
	require.NoError(t, e.db.Create(pending).Error)

	score, partial, err = e.svc.TaskScore(e.ctx, u.ID, e.task.ID)
	require.NoError(t, err)
	assert.Equal(t, 300.0, score)
	assert.True(t, partial)
}
