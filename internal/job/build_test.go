package job_test

import (
	"encoding/json"
	"testing"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/job"
	"github.com/programme-lv/evalcore/internal/tasktypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataset(taskType string, managers ...database.Manager) *database.Dataset {
	return &database.Dataset{
		ID:                 3,
		TaskType:           taskType,
		TaskTypeParameters: database.JSON(`["alone",["",""],"diff"]`),
		TimeLimit:          ptr(2.0),
		Managers:           managers,
		Testcases: []database.Testcase{
			{Num: 0, Public: true, Input: "in0", Output: "out0"},
			{Num: 1, Input: "in1", Output: "out1"},
		},
	}
}

func TestResolveManagersAutoOverwrites(t *testing.T) {
	ds := dataset("Communication",
		database.Manager{Filename: "manager", Digest: "official"},
		database.Manager{Filename: "stub.c", Digest: "stub"},
	)
	supplied := map[string]string{"manager": "forged", "mine.h": "mine"}

	first, err := job.ResolveManagers(supplied, ds)
	require.NoError(t, err)
	second, err := job.ResolveManagers(supplied, ds)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Equal(t, "official", first["manager"])
	assert.Equal(t, "mine", first["mine.h"])
	assert.NotContains(t, first, "stub.c")
	assert.Equal(t, "forged", supplied["manager"], "input must not be modified")
}

func TestResolveManagersFillsGaps(t *testing.T) {
	ds := dataset("Batch",
		database.Manager{Filename: "grader.cpp", Digest: "dataset-grader"},
		database.Manager{Filename: "checker", Digest: "chk"},
	)
	got, err := job.ResolveManagers(map[string]string{"grader.cpp": "user-grader"}, ds)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"grader.cpp": "user-grader", "checker": "chk"}, got)
}

func TestResolveManagersOutputOnlyTakesNone(t *testing.T) {
	ds := dataset("OutputOnly", database.Manager{Filename: "checker", Digest: "chk"})
	got, err := job.ResolveManagers(nil, ds)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveManagersMissing(t *testing.T) {
	_, err := job.ResolveManagers(nil, dataset("Communication"))
	require.ErrorIs(t, err, job.ErrMissingManager)
}

func TestUnknownTaskTypeFails(t *testing.T) {
	sub := &database.Submission{ID: 1}
	_, err := job.CompilationFromSubmission(sub, dataset("Mystery"))
	require.ErrorIs(t, err, tasktypes.ErrUnknownTaskType)
}

func TestCompilationFromSubmission(t *testing.T) {
	ds := dataset("Batch", database.Manager{Filename: "checker", Digest: "chk"})
	sub := &database.Submission{
		ID:       9,
		Language: "C++17",
		Files:    []database.File{{Filename: "sum.%l", Digest: "src"}},
	}
	j, err := job.CompilationFromSubmission(sub, ds)
	require.NoError(t, err)
	assert.Equal(t, "Batch", j.TaskType)
	assert.Equal(t, "C++17", j.Language)
	assert.Equal(t, map[string]string{"sum.%l": "src"}, j.Files)
	assert.Equal(t, map[string]string{"checker": "chk"}, j.Managers)
	assert.Equal(t, "compile submission 9", j.Info)
}

func TestEvaluationFromSubmission(t *testing.T) {
	ds := dataset("Batch")
	sub := &database.Submission{
		ID:    9,
		Files: []database.File{{Filename: "sum.%l", Digest: "src"}},
	}

	_, err := job.EvaluationFromSubmission(sub, ds)
	require.ErrorIs(t, err, job.ErrMissingResult)

	sub.Results = []database.SubmissionResult{{
		DatasetID:   ds.ID,
		Executables: []database.Executable{{Filename: "sum", Digest: "exe"}},
	}}
	j, err := job.EvaluationFromSubmission(sub, ds)
	require.NoError(t, err)
	require.Len(t, j.Testcases, 2)
	assert.Equal(t, 1, *j.Testcases[1].Num)
	assert.Equal(t, "out1", *j.Testcases[1].Output)
	assert.True(t, j.Testcases[0].Public)
	assert.Equal(t, map[string]string{"sum": "exe"}, j.Executables)
	assert.Equal(t, 2.0, *j.TimeLimit)
	assert.Nil(t, j.MemoryLimit)
	assert.False(t, j.OnlyExecution)
}

func TestEvaluationFromUserTest(t *testing.T) {
	ds := dataset("Batch", database.Manager{Filename: "checker", Digest: "chk"})
	ut := &database.UserTest{
		ID:       4,
		Input:    "custom-input",
		Files:    []database.UserTestFile{{Filename: "sum.%l", Digest: "src"}},
		Managers: []database.UserTestManager{{Filename: "checker", Digest: "user-chk"}},
		Results: []database.UserTestResult{{
			DatasetID:   ds.ID,
			Executables: []database.UserTestExecutable{{Filename: "sum", Digest: "exe"}},
		}},
	}

	j, err := job.EvaluationFromUserTest(ut, ds)
	require.NoError(t, err)
	require.Len(t, j.Testcases, 1)
	assert.Nil(t, j.Testcases[0].Num)
	assert.Nil(t, j.Testcases[0].Output)
	assert.Equal(t, "custom-input", j.Testcases[0].Input)
	assert.True(t, j.OnlyExecution)
	assert.True(t, j.GetOutput)
	assert.Equal(t, "user-chk", j.Managers["checker"])

	c, err := job.CompilationFromUserTest(ut, ds)
	require.NoError(t, err)
	assert.Equal(t, j.Managers, c.Managers)
}
