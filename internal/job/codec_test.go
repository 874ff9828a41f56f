package job_test

import (
	"encoding/json"
	"testing"

	"github.com/programme-lv/evalcore/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func roundTrip(t *testing.T, j job.Job) job.Job {
	t.Helper()
	data, err := job.Marshal(j)
	require.NoError(t, err)
	decoded, err := job.Unmarshal(data)
	require.NoError(t, err)
	return decoded
}

func TestCompilationJobRoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		j := &job.CompilationJob{
			Base:        job.Base{TaskType: "Batch", TaskTypeParameters: json.RawMessage(`["alone",["",""],"diff"]`)},
			Language:    "C++17",
			Files:       map[string]string{},
			Managers:    map[string]string{},
			Executables: map[string]string{},
		}
		assert.Equal(t, j, roundTrip(t, j))
	})

	t.Run("populated", func(t *testing.T) {
		j := &job.CompilationJob{
			Base: job.Base{
				TaskType:           "Communication",
				TaskTypeParameters: json.RawMessage(`[1]`),
				Shard:              ptr(2),
				Sandboxes:          []string{"/tmp/box0"},
				Info:               "compile submission 7",
			},
			Language:           "C11",
			Files:              map[string]string{"sum.%l": "aaaa"},
			Managers:           map[string]string{"manager": "bbbb", "stub.c": "cccc"},
			Success:            ptr(true),
			CompilationSuccess: ptr(false),
			Executables:        map[string]string{"sum": "dddd"},
			Text:               ptr("Compilation failed"),
			Plus:               &job.Usage{ExecutionTime: ptr(0.25), ExecutionMemory: ptr(int64(1 << 20))},
		}
		assert.Equal(t, j, roundTrip(t, j))
	})
}

func TestEvaluationJobRoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		j := &job.EvaluationJob{
			Base:        job.Base{TaskType: "Batch"},
			Executables: map[string]string{},
			Testcases:   []job.Testcase{},
			Managers:    map[string]string{},
			Files:       map[string]string{},
			Evaluations: map[int]job.Outcome{},
		}
		assert.Equal(t, j, roundTrip(t, j))
	})

	t.Run("populated", func(t *testing.T) {
		j := &job.EvaluationJob{
			Base:        job.Base{TaskType: "Batch", TaskTypeParameters: json.RawMessage(`["alone",["",""],"diff"]`)},
			Executables: map[string]string{"sum": "exe"},
			Testcases: []job.Testcase{
				{Num: ptr(0), Public: true, Input: "in0", Output: ptr("out0")},
				{Num: ptr(10), Input: "in10", Output: ptr("out10")},
			},
			TimeLimit:   ptr(1.5),
			MemoryLimit: ptr(int64(256 << 20)),
			Managers:    map[string]string{"checker": "chk"},
			Files:       map[string]string{"sum.%l": "src"},
			Success:     ptr(true),
			Evaluations: map[int]job.Outcome{
				0:  {Outcome: "1.0", Text: "Output is correct", ExecutionTime: ptr(0.01)},
				10: {Outcome: "0.0", Text: "Output isn't correct", ExecutionMemory: ptr(int64(4096))},
			},
			OnlyExecution: false,
			GetOutput:     true,
		}
		decoded := roundTrip(t, j)
		assert.Equal(t, j, decoded)

		ej := decoded.(*job.EvaluationJob)
		assert.Contains(t, ej.Evaluations, 10)
		assert.Equal(t, "0.0", ej.Evaluations[10].Outcome)
	})

	t.Run("user test testcase", func(t *testing.T) {
		j := &job.EvaluationJob{
			Executables:   map[string]string{},
			Testcases:     []job.Testcase{{Input: "input"}},
			Managers:      map[string]string{},
			Files:         map[string]string{},
			Evaluations:   map[int]job.Outcome{},
			OnlyExecution: true,
		}
		decoded := roundTrip(t, j).(*job.EvaluationJob)
		require.Len(t, decoded.Testcases, 1)
		assert.Nil(t, decoded.Testcases[0].Num)
		assert.Nil(t, decoded.Testcases[0].Output)
	})
}

func TestWireShape(t *testing.T) {
	j := &job.EvaluationJob{
		Evaluations: map[int]job.Outcome{3: {Outcome: "1.0"}},
	}
	data, err := job.Marshal(j)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.JSONEq(t, `"evaluation"`, string(wire["type"]))
	assert.JSONEq(t, `{}`, string(wire["files"]))
	assert.JSONEq(t, `[]`, string(wire["testcases"]))

	var evals map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(wire["evaluations"], &evals))
	assert.Contains(t, evals, "3")

	data, err = job.Marshal(&job.CompilationJob{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.JSONEq(t, `"compilation"`, string(wire["type"]))
	assert.JSONEq(t, `{}`, string(wire["executables"]))
}

func TestUnmarshalParametersNormalized(t *testing.T) {
	decoded, err := job.Unmarshal([]byte(`{"type":"compilation","task_type":"Batch","task_type_parameters":[ "alone", ["",""], "diff" ]}`))
	require.NoError(t, err)
	assert.Equal(t, `["alone",["",""],"diff"]`, string(decoded.Common().TaskTypeParameters))

	decoded, err = job.Unmarshal([]byte(`{"type":"compilation","task_type_parameters":null}`))
	require.NoError(t, err)
	assert.Nil(t, decoded.Common().TaskTypeParameters)
}

func TestUnmarshalUnknownType(t *testing.T) {
	_, err := job.Unmarshal([]byte(`{"type":"scoring"}`))
	require.Error(t, err)

	_, err = job.Unmarshal([]byte(`not json`))
	require.Error(t, err)
}
