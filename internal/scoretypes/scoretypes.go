// Package scoretypes turns per-testcase outcomes into scores. Score types
// are looked up by name in a static registry and configured with the
// dataset's JSON parameters.
package scoretypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"

	"github.com/programme-lv/evalcore/internal/database"
)

var ErrUnknownScoreType = errors.New("unknown score type")

// Evaluation is the outcome of one testcase as seen by a score type.
type Evaluation struct {
	Outcome float64
	Text    string
	Time    *float64
	Memory  *int64
}

// Submission is the scoring input: whether evaluation finished and the
// outcomes keyed by testcase number. Testcases absent from Evaluations
// count as outcome 0.
type Submission struct {
	Evaluated   bool
	Evaluations map[int]Evaluation
}

// Result is what a score type produces for one submission. Public values
// are computed from public testcases only.
type Result struct {
	Score          float64
	Details        json.RawMessage
	PublicScore    float64
	PublicDetails  json.RawMessage
	RankingDetails []string
}

type scoreType interface {
	maxScores() (score float64, public float64)
	compute(sub Submission) (Result, error)
}

type constructor func(params json.RawMessage, public map[int]bool) (scoreType, error)

var registry = map[string]constructor{
	"Sum":      newSum,
	"Relative": newRelative,
	"GroupMin": newGroup(reduceMin),
	"GroupMul": newGroup(reduceMul),
	"GroupSum": newGroup(reduceMean),
}

// Names lists the registered score types, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks that name is registered and params is valid JSON.
// Checks that need the testcase set happen at resolution.
func Validate(name string, params []byte) error {
	if _, ok := registry[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownScoreType, name)
	}
	if !json.Valid(params) {
		return fmt.Errorf("score type parameters are not valid JSON")
	}
	return nil
}

// Scorer is a score type bound to one dataset, rounding to the task's
// score precision.
type Scorer struct {
	Name      string
	DatasetID int64
	precision int
	impl      scoreType
}

// Resolve builds the scorer of a dataset. Testcases must be loaded; the
// task should be, for precision and log context. Failures are logged and
// reported as (nil, false): a dataset without a usable scorer is a
// normal state for callers.
func Resolve(log *slog.Logger, ds *database.Dataset) (*Scorer, bool) {
	attrs := []any{
		slog.Int64("task_id", ds.TaskID),
		slog.Int64("dataset_id", ds.ID),
		slog.String("dataset", ds.Description),
		slog.String("score_type", ds.ScoreType),
	}
	precision := 0
	if ds.Task != nil {
		attrs = append(attrs, slog.String("task", ds.Task.Name))
		precision = ds.Task.ScorePrecision
	}

	var params json.RawMessage
	if err := json.Unmarshal(ds.ScoreTypeParameters, &params); err != nil {
		log.Error("cannot decode score type parameters", append(attrs, slog.Any("error", err))...)
		return nil, false
	}

	ctor, ok := registry[ds.ScoreType]
	if !ok {
		log.Error("cannot resolve score type", append(attrs, slog.Any("error", ErrUnknownScoreType))...)
		return nil, false
	}

	impl, err := ctor(params, ds.PublicTestcases())
	if err != nil {
		log.Error("cannot instantiate score type", append(attrs, slog.Any("error", err))...)
		return nil, false
	}

	return &Scorer{
		Name:      ds.ScoreType,
		DatasetID: ds.ID,
		precision: max(precision, 0),
		impl:      impl,
	}, true
}

// MaxScores returns the best achievable score and public score.
func (s *Scorer) MaxScores() (float64, float64) {
	score, public := s.impl.maxScores()
	return Round(score, s.precision), Round(public, s.precision)
}

// Compute scores a submission.
func (s *Scorer) Compute(sub Submission) (Result, error) {
	res, err := s.impl.compute(sub)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", s.Name, err)
	}
	res.Score = Round(res.Score, s.precision)
	res.PublicScore = Round(res.PublicScore, s.precision)
	return res, nil
}

// Round rounds x to the given number of decimal digits, halves away from
// zero. The rounding applies to the binary value, so 1.005 (stored as
// 1.00499...) becomes 1 at two digits while 0.125 becomes 0.13.
func Round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}

// FromResult converts a stored result into scoring input. A result whose
// compilation failed counts as not evaluated.
func FromResult(res *database.SubmissionResult) (Submission, error) {
	sub := Submission{
		Evaluated:   res.CompilationSucceeded() && res.Evaluated(),
		Evaluations: make(map[int]Evaluation, len(res.Evaluations)),
	}
	for _, ev := range res.Evaluations {
		if ev.Outcome == nil {
			continue
		}
		outcome, err := strconv.ParseFloat(*ev.Outcome, 64)
		if err != nil || math.IsNaN(outcome) || math.IsInf(outcome, 0) {
			return Submission{}, fmt.Errorf("testcase %d has non-numeric outcome %q", ev.Num, *ev.Outcome)
		}
		sub.Evaluations[ev.Num] = Evaluation{
			Outcome: outcome,
			Text:    ev.Text,
			Time:    ev.ExecutionTime,
			Memory:  ev.ExecutionMemory,
		}
	}
	return sub, nil
}

type testcaseDetail struct {
	Idx     int      `json:"idx"`
	Outcome string   `json:"outcome,omitempty"`
	Text    string   `json:"text,omitempty"`
	Time    *float64 `json:"time,omitempty"`
	Memory  *int64   `json:"memory,omitempty"`
}

func outcomeLabel(outcome float64) string {
	switch {
	case outcome <= 0:
		return "Not correct"
	case outcome >= 1:
		return "Correct"
	default:
		return "Partially correct"
	}
}

func detailFor(num int, ev Evaluation) testcaseDetail {
	return testcaseDetail{
		Idx:     num,
		Outcome: outcomeLabel(ev.Outcome),
		Text:    ev.Text,
		Time:    ev.Time,
		Memory:  ev.Memory,
	}
}

func sortedNums(public map[int]bool) []int {
	nums := make([]int, 0, len(public))
	for num := range public {
		nums = append(nums, num)
	}
	slices.Sort(nums)
	return nums
}

func rankingValue(x float64) string {
	return strconv.FormatFloat(Round(x, 2), 'g', -1, 64)
}

func encodeDetails(details, public any) (json.RawMessage, json.RawMessage, error) {
	d, err := json.Marshal(details)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode score details: %w", err)
	}
	pd, err := json.Marshal(public)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode public score details: %w", err)
	}
	return d, pd, nil
}
