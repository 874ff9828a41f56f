// Package scoring turns evaluated results into scores and keeps a cache
// of resolved scorers per dataset.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/scoretypes"
	"github.com/puzpuzpuz/xsync/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *slog.Logger

	// scorers caches the scorer of each dataset; nil marks a dataset
	// whose score type could not be resolved.
	scorers *xsync.MapOf[int64, *scoretypes.Scorer]
}

func NewService(db *gorm.DB, log *slog.Logger) *Service {
	return &Service{
		db:      db,
		log:     log.With("service", "scoring"),
		scorers: xsync.NewMapOf[int64, *scoretypes.Scorer](),
	}
}

// Reinitialize forgets every cached scorer.
func (s *Service) Reinitialize(ctx context.Context) error {
	s.log.Info("reinitializing scorers", "cached", s.scorers.Size())
	s.scorers.Clear()
	return nil
}

func (s *Service) scorer(ctx context.Context, datasetID int64) (*scoretypes.Scorer, error) {
	if sc, ok := s.scorers.Load(datasetID); ok {
		return sc, nil
	}
	ds, err := database.LoadDataset(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}
	sc, ok := scoretypes.Resolve(s.log, ds)
	if !ok {
		sc = nil
	}
	actual, _ := s.scorers.LoadOrStore(datasetID, sc)
	return actual, nil
}

// NewEvaluation scores the result of a submission under a dataset. Results
// that are not finished, belong to hidden users or have no usable scorer
// are skipped without error.
func (s *Service) NewEvaluation(ctx context.Context, submissionID, datasetID int64) error {
	_, err := s.score(ctx, submissionID, datasetID)
	return err
}

// score reports whether a score was written.
func (s *Service) score(ctx context.Context, submissionID, datasetID int64) (bool, error) {
	log := s.log.With("submission_id", submissionID, "dataset_id", datasetID)

	var res database.SubmissionResult
	err := s.db.WithContext(ctx).
		Preload("Submission.User").
		Preload("Evaluations").
		Where("submission_id = ? AND dataset_id = ?", submissionID, datasetID).
		First(&res).Error
	if err != nil {
		return false, database.Classify(fmt.Errorf("failed to load result of submission %d for dataset %d: %w", submissionID, datasetID, err))
	}

	switch {
	case !res.Compiled():
		log.Warn("not scoring a result that is not compiled")
		return false, nil
	case res.CompilationSucceeded() && !res.Evaluated():
		log.Warn("not scoring a result that compiled but is not evaluated")
		return false, nil
	case res.Submission.User.Hidden:
		log.Info("not scoring a submission of a hidden user")
		return false, nil
	}

	sc, err := s.scorer(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if sc == nil {
		log.Error("not scoring because the scorer is broken")
		return false, nil
	}

	input, err := scoretypes.FromResult(&res)
	if err != nil {
		log.Error("failed to read evaluations", "error", err)
		return false, nil
	}
	out, err := sc.Compute(input)
	if err != nil {
		log.Error("scorer failed", "error", err)
		return false, nil
	}
	ranking, err := json.Marshal(out.RankingDetails)
	if err != nil {
		return false, fmt.Errorf("failed to encode ranking details: %w", err)
	}

	err = s.db.WithContext(ctx).Model(&res).UpdateColumns(map[string]any{
		"score":                 out.Score,
		"score_details":         datatypes.JSON(out.Details),
		"public_score":          out.PublicScore,
		"public_score_details":  datatypes.JSON(out.PublicDetails),
		"ranking_score_details": datatypes.JSON(ranking),
	}).Error
	if err != nil {
		return false, fmt.Errorf("failed to store score: %w", err)
	}
	log.Info("scored submission", "score", out.Score, "public_score", out.PublicScore)
	return true, nil
}

// DatasetUpdated drops the cached scorers of a task and scores whatever
// is ready under its active dataset.
func (s *Service) DatasetUpdated(ctx context.Context, taskID int64) error {
	task, err := database.LoadTask(ctx, s.db, taskID)
	if err != nil {
		return err
	}
	for _, ds := range task.Datasets {
		s.scorers.Delete(ds.ID)
	}
	if task.ActiveDatasetID == nil {
		return nil
	}

	if sc, err := s.scorer(ctx, *task.ActiveDatasetID); err == nil && sc != nil {
		score, public := sc.MaxScores()
		s.log.Info("task has a new active dataset",
			"task_id", taskID, "dataset_id", *task.ActiveDatasetID,
			"max_score", score, "max_public_score", public)
	}
	_, err = s.scoreDataset(ctx, *task.ActiveDatasetID)
	return err
}

// SearchJobsNotDone scores every finished but unscored result under the
// active and autojudged datasets.
func (s *Service) SearchJobsNotDone(ctx context.Context) error {
	var judged []database.Dataset
	err := s.db.WithContext(ctx).
		Select("datasets.id").
		Joins("JOIN tasks ON tasks.id = datasets.task_id").
		Where("datasets.autojudge = ? OR tasks.active_dataset_id = datasets.id", true).
		Order("datasets.id").
		Find(&judged).Error
	if err != nil {
		return fmt.Errorf("failed to list judged datasets: %w", err)
	}

	total := 0
	for _, ds := range judged {
		n, err := s.scoreDataset(ctx, ds.ID)
		total += n
		if err != nil {
			return err
		}
	}
	s.log.Info("scored pending results", "count", total)
	return nil
}

// scoreDataset scores the finished results of visible users that have no
// score yet and returns how many it scored.
func (s *Service) scoreDataset(ctx context.Context, datasetID int64) (int, error) {
	sc, err := s.scorer(ctx, datasetID)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if sc == nil {
		return 0, nil
	}

	var pending []database.SubmissionResult
	err = s.db.WithContext(ctx).
		Select("submission_results.submission_id").
		Joins("JOIN submissions ON submissions.id = submission_results.submission_id").
		Joins("JOIN users ON users.id = submissions.user_id").
		Where("submission_results.dataset_id = ? AND submission_results.score IS NULL", datasetID).
		Where("submission_results.evaluation_outcome IS NOT NULL OR submission_results.compilation_outcome = ?", database.CompilationFail).
		Where("users.hidden = ?", false).
		Order("submission_results.submission_id").
		Find(&pending).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find unscored results of dataset %d: %w", datasetID, err)
	}

	n := 0
	for _, r := range pending {
		scored, err := s.score(ctx, r.SubmissionID, datasetID)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if scored {
			n++
		}
	}
	return n, nil
}
