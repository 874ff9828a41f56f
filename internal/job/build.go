package job

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/tasktypes"
)

var (
	// ErrMissingResult means an evaluation was requested before the
	// compilation of the submission was recorded as attempted.
	ErrMissingResult = errors.New("submission result does not exist")
	// ErrMissingManager means the task type mandates a manager the
	// dataset does not have.
	ErrMissingManager = errors.New("dataset lacks a mandatory manager")
)

func baseFor(ds *database.Dataset, info string) Base {
	b := Base{
		TaskType:           ds.TaskType,
		TaskTypeParameters: json.RawMessage(ds.TaskTypeParameters),
		Info:               info,
	}
	return b.normalized()
}

// CompilationFromSubmission builds the compilation of a submission under
// a dataset. Managers come from the dataset.
func CompilationFromSubmission(sub *database.Submission, ds *database.Dataset) (*CompilationJob, error) {
	if _, err := tasktypes.Get(ds.TaskType); err != nil {
		return nil, err
	}
	return &CompilationJob{
		Base:        baseFor(ds, fmt.Sprintf("compile submission %d", sub.ID)),
		Language:    sub.Language,
		Files:       sub.FileDigests(),
		Managers:    ds.ManagerDigests(),
		Executables: map[string]string{},
	}, nil
}

// CompilationFromUserTest builds the compilation of a user test. The
// user's own managers are merged with the dataset's by ResolveManagers.
func CompilationFromUserTest(ut *database.UserTest, ds *database.Dataset) (*CompilationJob, error) {
	managers, err := ResolveManagers(ut.ManagerDigests(), ds)
	if err != nil {
		return nil, err
	}
	return &CompilationJob{
		Base:        baseFor(ds, fmt.Sprintf("compile user_test %d", ut.ID)),
		Language:    ut.Language,
		Files:       ut.FileDigests(),
		Managers:    managers,
		Executables: map[string]string{},
	}, nil
}

// EvaluationFromSubmission builds the evaluation of a submission on every
// testcase of the dataset. The submission's results must be loaded and
// contain one for the dataset.
func EvaluationFromSubmission(sub *database.Submission, ds *database.Dataset) (*EvaluationJob, error) {
	if _, err := tasktypes.Get(ds.TaskType); err != nil {
		return nil, err
	}
	res := sub.Result(ds.ID)
	if res == nil {
		return nil, fmt.Errorf("%w: submission %d, dataset %d", ErrMissingResult, sub.ID, ds.ID)
	}

	testcases := make([]Testcase, 0, len(ds.Testcases))
	for _, tc := range ds.Testcases {
		num := tc.Num
		output := tc.Output
		testcases = append(testcases, Testcase{
			Num:    &num,
			Public: tc.Public,
			Input:  tc.Input,
			Output: &output,
		})
	}

	return &EvaluationJob{
		Base:        baseFor(ds, fmt.Sprintf("evaluate submission %d", sub.ID)),
		Executables: res.ExecutableDigests(),
		Testcases:   testcases,
		TimeLimit:   ds.TimeLimit,
		MemoryLimit: ds.MemoryLimit,
		Managers:    ds.ManagerDigests(),
		Files:       sub.FileDigests(),
		Evaluations: map[int]Outcome{},
	}, nil
}

// EvaluationFromUserTest builds an execution-only run of a user test on
// the single input the user supplied.
func EvaluationFromUserTest(ut *database.UserTest, ds *database.Dataset) (*EvaluationJob, error) {
	res := ut.Result(ds.ID)
	if res == nil {
		return nil, fmt.Errorf("%w: user test %d, dataset %d", ErrMissingResult, ut.ID, ds.ID)
	}
	managers, err := ResolveManagers(ut.ManagerDigests(), ds)
	if err != nil {
		return nil, err
	}

	return &EvaluationJob{
		Base:          baseFor(ds, fmt.Sprintf("evaluate user test %d", ut.ID)),
		Executables:   res.ExecutableDigests(),
		Testcases:     []Testcase{{Input: ut.Input}},
		TimeLimit:     ds.TimeLimit,
		MemoryLimit:   ds.MemoryLimit,
		Managers:      managers,
		Files:         ut.FileDigests(),
		Evaluations:   map[int]Outcome{},
		OnlyExecution: true,
		GetOutput:     true,
	}, nil
}

// ResolveManagers merges user-supplied managers with the dataset's.
// When the task type declares auto managers, exactly those are taken from
// the dataset and replace any user file of the same name. Otherwise every
// dataset manager the user did not supply is added. The input map is not
// modified.
func ResolveManagers(supplied map[string]string, ds *database.Dataset) (map[string]string, error) {
	tt, err := tasktypes.Get(ds.TaskType)
	if err != nil {
		return nil, err
	}
	managers := cloneMap(supplied)
	available := ds.ManagerDigests()

	if auto := tt.AutoManagers(); auto != nil {
		for _, filename := range auto {
			digest, ok := available[filename]
			if !ok {
				return nil, fmt.Errorf("%w: %q in dataset %d", ErrMissingManager, filename, ds.ID)
			}
			managers[filename] = digest
		}
		return managers, nil
	}

	for filename, digest := range available {
		if _, ok := managers[filename]; !ok {
			managers[filename] = digest
		}
	}
	return managers, nil
}
