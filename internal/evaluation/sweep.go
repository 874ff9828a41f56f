package evaluation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/evalcore/api"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/job"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SearchJobsNotDone dispatches every job still missing for the datasets
// being judged.
func (s *Service) SearchJobsNotDone(ctx context.Context) error {
	n, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	s.log.Info("sweep finished", "dispatched", n, "pending", s.Pending())
	return nil
}

// Sweep walks the active and autojudged datasets, creates the results
// that are missing and dispatches the next job of each unfinished one.
// It returns the number of jobs dispatched.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	var judged []database.Dataset
	err := s.db.WithContext(ctx).
		Select("datasets.id").
		Joins("JOIN tasks ON tasks.id = datasets.task_id").
		Where("datasets.autojudge = ? OR tasks.active_dataset_id = datasets.id", true).
		Order("datasets.id").
		Find(&judged).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list judged datasets: %w", err)
	}
	s.forgetUnjudged(judged)

	total := 0
	for _, d := range judged {
		ds, err := database.LoadDataset(ctx, s.db, d.ID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return total, err
		}

		n, err := s.sweepSubmissions(ctx, ds)
		total += n
		if err != nil {
			return total, err
		}
		if !ds.IsActive() {
			continue
		}
		n, err = s.sweepUserTests(ctx, ds)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// forgetUnjudged drops the in-flight jobs of datasets that were deleted or
// are no longer judged.
func (s *Service) forgetUnjudged(judged []database.Dataset) {
	ids := mapset.NewThreadUnsafeSetWithSize[int64](len(judged))
	for _, d := range judged {
		ids.Add(d.ID)
	}
	s.inflight.Range(func(key string, d dispatched) bool {
		if !ids.Contains(d.datasetID) {
			s.inflight.Delete(key)
		}
		return true
	})
}

func (s *Service) sweepSubmissions(ctx context.Context, ds *database.Dataset) (int, error) {
	var subs []database.Submission
	err := s.db.WithContext(ctx).
		Where("task_id = ?", ds.TaskID).
		Preload("Files").
		Preload("Results", "dataset_id = ?", ds.ID).
		Preload("Results.Executables").
		Order("id").
		Find(&subs).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load submissions of task %d: %w", ds.TaskID, err)
	}

	n := 0
	for i := range subs {
		sub := &subs[i]
		res := sub.Result(ds.ID)
		if res == nil {
			created, err := s.ensureResult(ctx, sub.ID, ds.ID)
			if errors.Is(err, database.ErrConflict) {
				// the dataset went away under us
				continue
			}
			if err != nil {
				return n, err
			}
			sub.Results = append(sub.Results, *created)
			res = created
		}

		var kind job.Kind
		switch {
		case !res.Compiled() && res.CompilationTries < MaxTries:
			kind = job.KindCompilation
		case res.CompilationSucceeded() && !res.Evaluated() && res.EvaluationTries < MaxTries:
			kind = job.KindEvaluation
		default:
			continue
		}

		sent, err := s.dispatchSubmission(ctx, kind, sub, ds)
		if err != nil {
			return n, err
		}
		if sent {
			n++
		}
	}
	return n, nil
}

func (s *Service) ensureResult(ctx context.Context, submissionID, datasetID int64) (*database.SubmissionResult, error) {
	var res database.SubmissionResult
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		fresh := database.SubmissionResult{SubmissionID: submissionID, DatasetID: datasetID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
			return err
		}
		return tx.Where("submission_id = ? AND dataset_id = ?", submissionID, datasetID).First(&res).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create result of submission %d for dataset %d: %w", submissionID, datasetID, err)
	}
	return &res, nil
}

// dispatchSubmission builds and sends one job. It reports false when the
// same job is already in flight or cannot be built; the latter is logged
// since it needs an administrator to fix the dataset.
func (s *Service) dispatchSubmission(ctx context.Context, kind job.Kind, sub *database.Submission, ds *database.Dataset) (bool, error) {
	var (
		j   job.Job
		err error
	)
	switch kind {
	case job.KindCompilation:
		j, err = job.CompilationFromSubmission(sub, ds)
	default:
		j, err = job.EvaluationFromSubmission(sub, ds)
	}
	if err != nil {
		s.log.Error("cannot build job", "kind", kind, "submission_id", sub.ID, "dataset_id", ds.ID, "error", err)
		return false, nil
	}
	return s.send(ctx, api.SubmissionObject, sub.ID, ds.ID, j)
}

func (s *Service) sweepUserTests(ctx context.Context, ds *database.Dataset) (int, error) {
	var uts []database.UserTest
	err := s.db.WithContext(ctx).
		Where("task_id = ?", ds.TaskID).
		Preload("Files").
		Preload("Managers").
		Preload("Results", "dataset_id = ?", ds.ID).
		Preload("Results.Executables").
		Order("id").
		Find(&uts).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load user tests of task %d: %w", ds.TaskID, err)
	}

	n := 0
	for i := range uts {
		ut := &uts[i]
		res := ut.Result(ds.ID)
		if res == nil {
			fresh := database.UserTestResult{UserTestID: ut.ID, DatasetID: ds.ID}
			err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
				if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
					return err
				}
				return tx.Where("user_test_id = ? AND dataset_id = ?", ut.ID, ds.ID).First(&fresh).Error
			})
			if errors.Is(err, database.ErrConflict) {
				continue
			}
			if err != nil {
				return n, fmt.Errorf("failed to create result of user test %d: %w", ut.ID, err)
			}
			ut.Results = append(ut.Results, fresh)
			res = &ut.Results[len(ut.Results)-1]
		}

		var (
			j   job.Job
			err error
		)
		switch {
		case !res.Compiled() && res.CompilationTries < MaxTries:
			j, err = job.CompilationFromUserTest(ut, ds)
		case res.CompilationSucceeded() && !res.Evaluated() && res.EvaluationTries < MaxTries:
			j, err = job.EvaluationFromUserTest(ut, ds)
		default:
			continue
		}
		if err != nil {
			s.log.Error("cannot build job", "user_test_id", ut.ID, "dataset_id", ds.ID, "error", err)
			continue
		}

		sent, err := s.send(ctx, api.UserTestObject, ut.ID, ds.ID, j)
		if err != nil {
			return n, err
		}
		if sent {
			n++
		}
	}
	return n, nil
}

func (s *Service) send(ctx context.Context, object api.ObjectKind, objectID, datasetID int64, j job.Job) (bool, error) {
	key := inflightKey(object, objectID, datasetID, j.Kind())
	now := time.Now()
	claimed, expired := false, false
	s.inflight.Compute(key, func(old dispatched, loaded bool) (dispatched, bool) {
		if loaded && now.Sub(old.at) < s.jobTimeout {
			return old, false
		}
		claimed, expired = true, loaded
		return dispatched{datasetID: datasetID, at: now}, false
	})
	if !claimed {
		return false, nil
	}
	if expired {
		s.log.Warn("job went unanswered, dispatching again",
			"kind", j.Kind(), "object", object, "object_id", objectID, "dataset_id", datasetID)
	}

	body, err := job.Marshal(j)
	if err != nil {
		s.inflight.Delete(key)
		return false, err
	}
	if err := s.dispatcher.Dispatch(ctx, api.NewJobRequest(object, objectID, datasetID, body)); err != nil {
		s.inflight.Delete(key)
		return false, fmt.Errorf("failed to dispatch %s of %s %d: %w", j.Kind(), object, objectID, err)
	}
	return true, nil
}
