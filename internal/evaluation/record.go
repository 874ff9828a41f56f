package evaluation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/programme-lv/evalcore/api"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/job"
	"gorm.io/gorm"
)

// Record stores the outcome of a finished job. Each write locks the one
// result it touches and checks that the result is still in the state the
// job was built for, so racing workers cannot interleave.
func (s *Service) Record(ctx context.Context, res api.JobResult) error {
	j, err := job.Unmarshal(res.Job)
	if err != nil {
		return fmt.Errorf("failed to decode job of %s %d: %w", res.Object, res.ObjectID, err)
	}
	s.inflight.Delete(inflightKey(res.Object, res.ObjectID, res.DatasetID, j.Kind()))

	switch res.Object {
	case api.SubmissionObject:
		switch j := j.(type) {
		case *job.CompilationJob:
			return s.recordCompilation(ctx, res.ObjectID, res.DatasetID, j)
		case *job.EvaluationJob:
			return s.recordEvaluation(ctx, res.ObjectID, res.DatasetID, j)
		}
	case api.UserTestObject:
		switch j := j.(type) {
		case *job.CompilationJob:
			return s.recordUserTestCompilation(ctx, res.ObjectID, res.DatasetID, j)
		case *job.EvaluationJob:
			return s.recordUserTestEvaluation(ctx, res.ObjectID, res.DatasetID, j)
		}
	}
	return fmt.Errorf("unexpected %s result for object %q", j.Kind(), res.Object)
}

func lockResult(tx *gorm.DB, submissionID, datasetID int64) (*database.SubmissionResult, error) {
	var r database.SubmissionResult
	err := database.ForUpdate(tx).
		Where("submission_id = ? AND dataset_id = ?", submissionID, datasetID).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: submission %d, dataset %d", ErrDatasetGone, submissionID, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock result: %w", err)
	}
	return &r, nil
}

func succeeded(b *bool) bool {
	return b != nil && *b
}

func sandboxes(j job.Job) *string {
	if names := j.Common().Sandboxes; len(names) > 0 {
		joined := strings.Join(names, ":")
		return &joined
	}
	return nil
}

func (s *Service) recordCompilation(ctx context.Context, submissionID, datasetID int64, j *job.CompilationJob) error {
	outcome := ""
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		r, err := lockResult(tx, submissionID, datasetID)
		if err != nil {
			return err
		}
		if r.Compiled() {
			return fmt.Errorf("%w: submission %d is already compiled for dataset %d", ErrStale, submissionID, datasetID)
		}

		updates := map[string]any{"compilation_tries": r.CompilationTries + 1}
		if succeeded(j.Success) {
			outcome = database.CompilationFail
			if succeeded(j.CompilationSuccess) {
				outcome = database.CompilationOK
			}
			text := ""
			if j.Text != nil {
				text = *j.Text
			}
			updates["compilation_outcome"] = outcome
			updates["compilation_text"] = trimText(text)
			updates["compilation_shard"] = j.Shard
			updates["compilation_sandbox"] = sandboxes(j)
			if j.Plus != nil {
				updates["compilation_time"] = j.Plus.ExecutionTime
				updates["compilation_wall_clock_time"] = j.Plus.ExecutionWallClockTime
				updates["compilation_memory"] = j.Plus.ExecutionMemory
			}
		}
		if err := tx.Model(r).UpdateColumns(updates).Error; err != nil {
			return fmt.Errorf("failed to update result: %w", err)
		}

		if outcome != database.CompilationOK || len(j.Executables) == 0 {
			return nil
		}
		executables := make([]database.Executable, 0, len(j.Executables))
		for _, filename := range sortedKeys(j.Executables) {
			executables = append(executables, database.Executable{
				SubmissionResultID: r.ID,
				Filename:           filename,
				Digest:             j.Executables[filename],
			})
		}
		return tx.Create(&executables).Error
	})
	if err != nil {
		return err
	}

	log := s.log.With("submission_id", submissionID, "dataset_id", datasetID)
	switch outcome {
	case "":
		log.Warn("compilation job failed")
	case database.CompilationFail:
		log.Info("compilation failed")
		s.newEvaluation(ctx, submissionID, datasetID)
	case database.CompilationOK:
		log.Info("compilation succeeded")
		s.continueSubmission(ctx, submissionID, datasetID)
	}
	return nil
}

func (s *Service) recordEvaluation(ctx context.Context, submissionID, datasetID int64, j *job.EvaluationJob) error {
	evaluated := false
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		r, err := lockResult(tx, submissionID, datasetID)
		if err != nil {
			return err
		}
		if !r.CompilationSucceeded() || r.Evaluated() {
			return fmt.Errorf("%w: submission %d is not awaiting evaluation for dataset %d", ErrStale, submissionID, datasetID)
		}

		var nums []int
		if err := tx.Model(&database.Testcase{}).Where("dataset_id = ?", datasetID).Order("num").Pluck("num", &nums).Error; err != nil {
			return fmt.Errorf("failed to load testcases: %w", err)
		}

		updates := map[string]any{"evaluation_tries": r.EvaluationTries + 1}
		complete := succeeded(j.Success)
		for _, num := range nums {
			if _, ok := j.Evaluations[num]; !ok {
				complete = false
			}
		}
		if !complete {
			return tx.Model(r).UpdateColumns(updates).Error
		}

		if len(nums) > 0 {
			evaluations := make([]database.Evaluation, 0, len(nums))
			for _, num := range nums {
				o := j.Evaluations[num]
				outcome := o.Outcome
				evaluations = append(evaluations, database.Evaluation{
					SubmissionResultID:     r.ID,
					Num:                    num,
					Outcome:                &outcome,
					Text:                   trimText(o.Text),
					ExecutionTime:          o.ExecutionTime,
					ExecutionWallClockTime: o.ExecutionWallClockTime,
					ExecutionMemory:        o.ExecutionMemory,
					EvaluationShard:        j.Shard,
					EvaluationSandbox:      o.Sandbox,
				})
			}
			if err := tx.Create(&evaluations).Error; err != nil {
				return fmt.Errorf("failed to insert evaluations: %w", err)
			}
		}
		updates["evaluation_outcome"] = database.EvaluationOK
		evaluated = true
		return tx.Model(r).UpdateColumns(updates).Error
	})
	if err != nil {
		return err
	}

	if !evaluated {
		s.log.Warn("evaluation job failed", "submission_id", submissionID, "dataset_id", datasetID)
		return nil
	}
	s.newEvaluation(ctx, submissionID, datasetID)
	return nil
}

func (s *Service) newEvaluation(ctx context.Context, submissionID, datasetID int64) {
	if err := s.notifier.NewEvaluation(ctx, submissionID, datasetID); err != nil {
		s.log.Warn("failed to notify scoring", "submission_id", submissionID, "dataset_id", datasetID, "error", err)
	}
}

// continueSubmission dispatches the evaluation right after a successful
// compilation. Failures are left to the next sweep.
func (s *Service) continueSubmission(ctx context.Context, submissionID, datasetID int64) {
	sub, err := database.LoadSubmission(ctx, s.db, submissionID)
	if err == nil {
		var ds *database.Dataset
		ds, err = database.LoadDataset(ctx, s.db, datasetID)
		if err == nil {
			_, err = s.dispatchSubmission(ctx, job.KindEvaluation, sub, ds)
		}
	}
	if err != nil {
		s.log.Warn("failed to dispatch evaluation", "submission_id", submissionID, "dataset_id", datasetID, "error", err)
	}
}

func lockUserTestResult(tx *gorm.DB, userTestID, datasetID int64) (*database.UserTestResult, error) {
	var r database.UserTestResult
	err := database.ForUpdate(tx).
		Where("user_test_id = ? AND dataset_id = ?", userTestID, datasetID).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user test %d, dataset %d", ErrDatasetGone, userTestID, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user test result: %w", err)
	}
	return &r, nil
}

func (s *Service) recordUserTestCompilation(ctx context.Context, userTestID, datasetID int64, j *job.CompilationJob) error {
	outcome := ""
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		r, err := lockUserTestResult(tx, userTestID, datasetID)
		if err != nil {
			return err
		}
		if r.Compiled() {
			return fmt.Errorf("%w: user test %d is already compiled for dataset %d", ErrStale, userTestID, datasetID)
		}

		updates := map[string]any{"compilation_tries": r.CompilationTries + 1}
		if succeeded(j.Success) {
			outcome = database.CompilationFail
			if succeeded(j.CompilationSuccess) {
				outcome = database.CompilationOK
			}
			text := ""
			if j.Text != nil {
				text = *j.Text
			}
			updates["compilation_outcome"] = outcome
			updates["compilation_text"] = trimText(text)
			if j.Plus != nil {
				updates["compilation_time"] = j.Plus.ExecutionTime
				updates["compilation_memory"] = j.Plus.ExecutionMemory
			}
		}
		if err := tx.Model(r).UpdateColumns(updates).Error; err != nil {
			return fmt.Errorf("failed to update user test result: %w", err)
		}

		if outcome != database.CompilationOK || len(j.Executables) == 0 {
			return nil
		}
		executables := make([]database.UserTestExecutable, 0, len(j.Executables))
		for _, filename := range sortedKeys(j.Executables) {
			executables = append(executables, database.UserTestExecutable{
				UserTestResultID: r.ID,
				Filename:         filename,
				Digest:           j.Executables[filename],
			})
		}
		return tx.Create(&executables).Error
	})
	if err != nil || outcome != database.CompilationOK {
		return err
	}

	ut, err := database.LoadUserTest(ctx, s.db, userTestID)
	if err == nil {
		var ds *database.Dataset
		ds, err = database.LoadDataset(ctx, s.db, datasetID)
		if err == nil {
			var ej *job.EvaluationJob
			if ej, err = job.EvaluationFromUserTest(ut, ds); err == nil {
				_, err = s.send(ctx, api.UserTestObject, userTestID, datasetID, ej)
			}
		}
	}
	if err != nil {
		s.log.Warn("failed to dispatch user test evaluation", "user_test_id", userTestID, "dataset_id", datasetID, "error", err)
	}
	return nil
}

func (s *Service) recordUserTestEvaluation(ctx context.Context, userTestID, datasetID int64, j *job.EvaluationJob) error {
	return database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		r, err := lockUserTestResult(tx, userTestID, datasetID)
		if err != nil {
			return err
		}
		if !r.CompilationSucceeded() || r.Evaluated() {
			return fmt.Errorf("%w: user test %d is not awaiting evaluation for dataset %d", ErrStale, userTestID, datasetID)
		}

		updates := map[string]any{"evaluation_tries": r.EvaluationTries + 1}
		if o, ok := j.Evaluations[0]; ok && succeeded(j.Success) {
			outcome := o.Outcome
			if outcome == "" {
				outcome = database.EvaluationOK
			}
			updates["evaluation_outcome"] = outcome
			updates["evaluation_text"] = trimText(o.Text)
			updates["execution_time"] = o.ExecutionTime
			updates["execution_memory"] = o.ExecutionMemory
			updates["output"] = o.Output
		}
		return tx.Model(r).UpdateColumns(updates).Error
	})
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
