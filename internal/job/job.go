// Package job defines the units of work sent to judging workers and
// their JSON wire form.
package job

import (
	"encoding/json"
	"maps"
)

type Kind string

const (
	KindCompilation Kind = "compilation"
	KindEvaluation  Kind = "evaluation"
)

// Job is either a *CompilationJob or an *EvaluationJob.
type Job interface {
	Kind() Kind
	Common() *Base
}

// Base holds the fields shared by both job kinds.
type Base struct {
	TaskType           string          `json:"task_type"`
	TaskTypeParameters json.RawMessage `json:"task_type_parameters"`
	Shard              *int            `json:"shard"`
	Sandboxes          []string        `json:"sandboxes"`
	Info               string          `json:"info"`
}

func (b *Base) Common() *Base { return b }

// Usage is the resource usage reported for a compilation.
type Usage struct {
	ExecutionTime          *float64 `json:"execution_time"`
	ExecutionWallClockTime *float64 `json:"execution_wall_clock_time"`
	ExecutionMemory        *int64   `json:"execution_memory"`
}

// CompilationJob compiles the submitted files. Files, managers and
// executables map filenames to blob digests.
type CompilationJob struct {
	Base
	Language string            `json:"language"`
	Files    map[string]string `json:"files"`
	Managers map[string]string `json:"managers"`

	Success            *bool             `json:"success"`
	CompilationSuccess *bool             `json:"compilation_success"`
	Executables        map[string]string `json:"executables"`
	Text               *string           `json:"text"`
	Plus               *Usage            `json:"plus"`
}

func (*CompilationJob) Kind() Kind { return KindCompilation }

// Testcase is the job's copy of a dataset testcase. Num and Output are
// nil for the synthetic testcase of a user test.
type Testcase struct {
	Num    *int    `json:"num"`
	Public bool    `json:"public"`
	Input  string  `json:"input"`
	Output *string `json:"output"`
}

// Outcome is what a worker reports for one testcase.
type Outcome struct {
	Outcome                string   `json:"outcome"`
	Text                   string   `json:"text"`
	ExecutionTime          *float64 `json:"execution_time"`
	ExecutionWallClockTime *float64 `json:"execution_wall_clock_time"`
	ExecutionMemory        *int64   `json:"execution_memory"`
	Sandbox                *string  `json:"sandbox"`
	// Output is the digest of the produced output, when requested.
	Output *string `json:"output,omitempty"`
}

// EvaluationJob runs the executables on every testcase of a dataset in
// one batch. Evaluations are keyed by testcase number; the user-test
// testcase, which has no number, is reported under key 0.
type EvaluationJob struct {
	Base
	Executables map[string]string `json:"executables"`
	Testcases   []Testcase        `json:"testcases"`
	// TimeLimit is in seconds, MemoryLimit in bytes; nil is unconstrained.
	TimeLimit   *float64          `json:"time_limit"`
	MemoryLimit *int64            `json:"memory_limit"`
	Managers    map[string]string `json:"managers"`
	Files       map[string]string `json:"files"`

	Success     *bool           `json:"success"`
	Evaluations map[int]Outcome `json:"evaluations"`

	OnlyExecution bool `json:"only_execution"`
	GetOutput     bool `json:"get_output"`
}

func (*EvaluationJob) Kind() Kind { return KindEvaluation }

func emptyIfNil[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return maps.Clone(m)
}
