package database

import (
	"fmt"

	"gorm.io/gorm"
)

const (
	CompilationOK   = "ok"
	CompilationFail = "fail"
	EvaluationOK    = "ok"
)

// Validate checks the token_initial <= token_max constraint.
func (r TokenRules) Validate() error {
	if r.TokenInitial != nil && r.TokenMax != nil && *r.TokenInitial > *r.TokenMax {
		return fmt.Errorf("%w: token_initial (%d) exceeds token_max (%d)",
			ErrInvalid, *r.TokenInitial, *r.TokenMax)
	}
	return nil
}

func (c *Contest) BeforeSave(tx *gorm.DB) error {
	return c.TokenRules.Validate()
}

func (t *Task) BeforeSave(tx *gorm.DB) error {
	return t.TokenRules.Validate()
}

// Tokened reports whether a token was ever played on the submission.
func (s *Submission) Tokened() bool {
	return s.Token != nil
}

// Result returns the submission's result under the given dataset, or nil
// when it has not been created yet. Results must be preloaded.
func (s *Submission) Result(datasetID int64) *SubmissionResult {
	for i := range s.Results {
		if s.Results[i].DatasetID == datasetID {
			return &s.Results[i]
		}
	}
	return nil
}

// FileDigests maps the submitted filenames to their digests.
func (s *Submission) FileDigests() map[string]string {
	res := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		res[f.Filename] = f.Digest
	}
	return res
}

func (r *SubmissionResult) Compiled() bool {
	return r.CompilationOutcome != nil
}

func (r *SubmissionResult) CompilationSucceeded() bool {
	return r.CompilationOutcome != nil && *r.CompilationOutcome == CompilationOK
}

func (r *SubmissionResult) CompilationFailed() bool {
	return r.CompilationOutcome != nil && *r.CompilationOutcome == CompilationFail
}

func (r *SubmissionResult) Evaluated() bool {
	return r.EvaluationOutcome != nil
}

func (r *SubmissionResult) Scored() bool {
	return r.Score != nil && r.PublicScore != nil
}

// InvalidateCompilation clears compilation, evaluation and score data.
// Executables and evaluations rows are left to the caller to delete.
func (r *SubmissionResult) InvalidateCompilation() {
	r.CompilationOutcome = nil
	r.CompilationText = ""
	r.CompilationTries = 0
	r.CompilationTime = nil
	r.CompilationWallClockTime = nil
	r.CompilationMemory = nil
	r.CompilationShard = nil
	r.CompilationSandbox = nil
	r.Executables = nil
	r.InvalidateEvaluation()
}

func (r *SubmissionResult) InvalidateEvaluation() {
	r.EvaluationOutcome = nil
	r.EvaluationTries = 0
	r.Evaluations = nil
	r.InvalidateScore()
}

func (r *SubmissionResult) InvalidateScore() {
	r.Score = nil
	r.ScoreDetails = nil
	r.PublicScore = nil
	r.PublicScoreDetails = nil
	r.RankingScoreDetails = nil
}

// ExecutableDigests maps executable filenames to their digests.
func (r *SubmissionResult) ExecutableDigests() map[string]string {
	res := make(map[string]string, len(r.Executables))
	for _, e := range r.Executables {
		res[e.Filename] = e.Digest
	}
	return res
}

// ManagerDigests maps the dataset's manager filenames to their digests.
func (d *Dataset) ManagerDigests() map[string]string {
	res := make(map[string]string, len(d.Managers))
	for _, m := range d.Managers {
		res[m.Filename] = m.Digest
	}
	return res
}

// PublicTestcases maps testcase numbers to their visibility.
func (d *Dataset) PublicTestcases() map[int]bool {
	res := make(map[int]bool, len(d.Testcases))
	for _, tc := range d.Testcases {
		res[tc.Num] = tc.Public
	}
	return res
}

// IsActive reports whether d is the active dataset of its task. Task must
// be preloaded.
func (d *Dataset) IsActive() bool {
	return d.Task != nil && d.Task.ActiveDatasetID != nil && *d.Task.ActiveDatasetID == d.ID
}

func (u *UserTest) Result(datasetID int64) *UserTestResult {
	for i := range u.Results {
		if u.Results[i].DatasetID == datasetID {
			return &u.Results[i]
		}
	}
	return nil
}

func (u *UserTest) FileDigests() map[string]string {
	res := make(map[string]string, len(u.Files))
	for _, f := range u.Files {
		res[f.Filename] = f.Digest
	}
	return res
}

func (u *UserTest) ManagerDigests() map[string]string {
	res := make(map[string]string, len(u.Managers))
	for _, m := range u.Managers {
		res[m.Filename] = m.Digest
	}
	return res
}

func (r *UserTestResult) Compiled() bool {
	return r.CompilationOutcome != nil
}

func (r *UserTestResult) CompilationSucceeded() bool {
	return r.CompilationOutcome != nil && *r.CompilationOutcome == CompilationOK
}

func (r *UserTestResult) Evaluated() bool {
	return r.EvaluationOutcome != nil
}

func (r *UserTestResult) ExecutableDigests() map[string]string {
	res := make(map[string]string, len(r.Executables))
	for _, e := range r.Executables {
		res[e.Filename] = e.Digest
	}
	return res
}
