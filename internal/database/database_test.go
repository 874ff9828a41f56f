package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

func seedTask(t *testing.T, db *gorm.DB) (*database.Contest, *database.Task) {
	t.Helper()
	contest := &database.Contest{Name: "c", Description: "contest"}
	require.NoError(t, db.Create(contest).Error)
	task := &database.Task{ContestID: contest.ID, Num: 0, Name: "sum", Title: "Sum"}
	require.NoError(t, db.Create(task).Error)
	return contest, task
}

func newDataset(taskID int64, version int, description string) *database.Dataset {
	return &database.Dataset{
		TaskID:              taskID,
		Version:             version,
		Description:         description,
		TaskType:            "Batch",
		TaskTypeParameters:  database.JSON(`["alone",["",""],"diff"]`),
		ScoreType:           "Sum",
		ScoreTypeParameters: database.JSON(`100`),
	}
}

func TestDuplicateDescriptionIsConflict(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	_, task := seedTask(t, db)

	require.NoError(t, db.Create(newDataset(task.ID, 1, "default")).Error)

	err := database.InTx(ctx, db, func(tx *gorm.DB) error {
		return tx.Create(newDataset(task.ID, 2, "default")).Error
	})
	require.ErrorIs(t, err, database.ErrConflict)

	var count int64
	require.NoError(t, db.Model(&database.Dataset{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDeleteDatasetCascades(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	contest, task := seedTask(t, db)

	ds := newDataset(task.ID, 1, "default")
	ds.Testcases = []database.Testcase{{Num: 0, Codename: "000", Input: "in", Output: "out"}}
	ds.Managers = []database.Manager{{Filename: "checker", Digest: "chk"}}
	require.NoError(t, db.Create(ds).Error)

	user := &database.User{ContestID: contest.ID, Username: "alice"}
	require.NoError(t, db.Create(user).Error)
	sub := &database.Submission{UserID: user.ID, TaskID: task.ID, Timestamp: time.Now(), Language: "C++17"}
	require.NoError(t, db.Create(sub).Error)

	res := &database.SubmissionResult{
		SubmissionID:       sub.ID,
		DatasetID:          ds.ID,
		CompilationOutcome: ptr(database.CompilationOK),
		Executables:        []database.Executable{{Filename: "sol", Digest: "exe"}},
		Evaluations:        []database.Evaluation{{Num: 0, Outcome: ptr("1.0")}},
	}
	require.NoError(t, db.Create(res).Error)

	require.NoError(t, database.InTx(ctx, db, func(tx *gorm.DB) error {
		return tx.Delete(&database.Dataset{}, ds.ID).Error
	}))

	for _, model := range []any{&database.Testcase{}, &database.Manager{}, &database.SubmissionResult{}, &database.Executable{}, &database.Evaluation{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count, "%T rows survived the dataset", model)
	}

	var subs int64
	require.NoError(t, db.Model(&database.Submission{}).Count(&subs).Error)
	assert.EqualValues(t, 1, subs)
}

func TestTokenRulesValidatedOnSave(t *testing.T) {
	db := dbtest.New(t)
	contest := &database.Contest{
		Name:        "c",
		Description: "c",
		TokenRules:  database.TokenRules{TokenInitial: ptr(5), TokenMax: ptr(3)},
	}
	err := db.Create(contest).Error
	require.ErrorIs(t, err, database.ErrInvalid)

	contest.TokenMax = ptr(5)
	require.NoError(t, db.Create(contest).Error)
}

func TestSequenceNumbers(t *testing.T) {
	db := dbtest.New(t)
	_, task := seedTask(t, db)

	v, err := database.NextDatasetVersion(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	ds := newDataset(task.ID, v, "first")
	require.NoError(t, db.Create(ds).Error)

	v, err = database.NextDatasetVersion(db, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	num, err := database.NextTestcaseNum(db, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, num)

	num, err = database.NextTaskNum(db, task.ContestID)
	require.NoError(t, err)
	assert.Equal(t, task.Num+1, num)

	byVersion, err := database.LoadDatasetByVersion(context.Background(), db, task.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, ds.ID, byVersion.ID)
	_, err = database.LoadDatasetByVersion(context.Background(), db, task.ID, 7)
	require.ErrorIs(t, err, database.ErrNotFound)

	first, err := database.AppendSubmissionFormat(db, task.ID, "sum.%l")
	require.NoError(t, err)
	second, err := database.AppendSubmissionFormat(db, task.ID, "grader.%l")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Num)
	assert.Equal(t, 1, second.Num)
}

func TestResultHelpers(t *testing.T) {
	res := &database.SubmissionResult{
		CompilationOutcome: ptr(database.CompilationOK),
		EvaluationOutcome:  ptr(database.EvaluationOK),
		Score:              ptr(10.0),
		PublicScore:        ptr(5.0),
		Evaluations:        []database.Evaluation{{Num: 0}},
	}
	assert.True(t, res.CompilationSucceeded())
	assert.True(t, res.Evaluated())
	assert.True(t, res.Scored())

	res.InvalidateEvaluation()
	assert.True(t, res.Compiled())
	assert.False(t, res.Evaluated())
	assert.False(t, res.Scored())
	assert.Empty(t, res.Evaluations)

	res.InvalidateCompilation()
	assert.False(t, res.Compiled())
}

func TestParametersRoundTrip(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	_, task := seedTask(t, db)

	for i, params := range []string{`100`, `2.5`, `[[50,1],[50,2]]`, `{"a":1}`} {
		ds := newDataset(task.ID, i+1, params)
		ds.ScoreTypeParameters = database.JSON(params)
		require.NoError(t, db.Create(ds).Error)

		loaded, err := database.LoadDataset(ctx, db, ds.ID)
		require.NoError(t, err, params)
		assert.JSONEq(t, params, string(loaded.ScoreTypeParameters))
		assert.JSONEq(t, `["alone",["",""],"diff"]`, string(loaded.TaskTypeParameters))
	}
}

func TestJSONScan(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{int64(100), `100`},
		{float64(0.5), `0.5`},
		{true, `true`},
		{"[1]", `[1]`},
		{[]byte(`{"a":1}`), `{"a":1}`},
	}
	for _, tt := range tests {
		var j database.JSON
		require.NoError(t, j.Scan(tt.value))
		assert.Equal(t, tt.want, string(j))
	}

	buf := []byte(`[1]`)
	var j database.JSON
	require.NoError(t, j.Scan(buf))
	buf[1] = '2'
	assert.Equal(t, `[1]`, string(j))

	require.Error(t, j.Scan(struct{}{}))
}
