// Package datasets manages the versioned judging configurations of tasks:
// creating and cloning them, switching the active one, and removing them.
package datasets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/filestore"
	"github.com/programme-lv/evalcore/internal/rpc"
	"github.com/programme-lv/evalcore/internal/scoretypes"
	"github.com/programme-lv/evalcore/internal/tasktypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db       *gorm.DB
	notifier rpc.Notifier
	files    *filestore.FileStore
	log      *slog.Logger
}

func NewService(db *gorm.DB, notifier rpc.Notifier, files *filestore.FileStore, log *slog.Logger) *Service {
	return &Service{
		db:       db,
		notifier: notifier,
		files:    files,
		log:      log.With("service", "datasets"),
	}
}

// CreateParams describes a new dataset. When CloneFrom is set the source
// dataset's testcases are copied, and its managers and results when asked.
type CreateParams struct {
	TaskID      int64
	Description string
	Autojudge   bool

	TimeLimit   *float64
	MemoryLimit *int64

	TaskType            string
	TaskTypeParameters  json.RawMessage
	ScoreType           string
	ScoreTypeParameters json.RawMessage

	CloneFrom     *int64
	CloneManagers bool
	CloneResults  bool
}

func (p *CreateParams) normalize() error {
	p.Description = strings.TrimSpace(p.Description)
	if p.Description == "" {
		return invalid("Invalid field(s)", "description must not be empty")
	}
	if p.TimeLimit != nil {
		tl := *p.TimeLimit
		if math.IsNaN(tl) || math.IsInf(tl, 0) || tl <= 0 {
			return invalid("Invalid field(s)", "time limit must be a positive number of seconds")
		}
	}
	if p.MemoryLimit != nil && *p.MemoryLimit <= 0 {
		return invalid("Invalid field(s)", "memory limit must be a positive number of bytes")
	}

	tt, err := tasktypes.Get(p.TaskType)
	if err != nil {
		return invalid("Invalid field(s)", "%v", err)
	}
	if len(p.TaskTypeParameters) == 0 {
		p.TaskTypeParameters = json.RawMessage("[]")
	}
	if err := tt.ValidateParameters(p.TaskTypeParameters); err != nil {
		return invalid("Invalid field(s)", "task type parameters: %v", err)
	}
	if err := scoretypes.Validate(p.ScoreType, p.ScoreTypeParameters); err != nil {
		return invalid("Invalid field(s)", "%v", err)
	}

	if p.CloneFrom == nil && (p.CloneManagers || p.CloneResults) {
		return invalid("Invalid field(s)", "managers and results can only be cloned from a dataset")
	}
	return nil
}

// Create adds a dataset to a task. The first dataset of a task becomes its
// active dataset.
func (s *Service) Create(ctx context.Context, p CreateParams) (*database.Dataset, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if err := s.checkDescription(ctx, p.TaskID, 0, p.Description); err != nil {
		return nil, err
	}
	if p.CloneFrom != nil {
		var src database.Dataset
		err := s.db.WithContext(ctx).Select("id", "task_id").First(&src, *p.CloneFrom).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && src.TaskID != p.TaskID) {
			return nil, invalid("Invalid field(s)", "dataset %d is not a dataset of task %d", *p.CloneFrom, p.TaskID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset %d: %w", *p.CloneFrom, err)
		}
	}

	var ds *database.Dataset
	activated := false
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var task database.Task
		if err := database.ForUpdate(tx).First(&task, p.TaskID).Error; err != nil {
			return fmt.Errorf("failed to load task %d: %w", p.TaskID, err)
		}
		version, err := database.NextDatasetVersion(tx, task.ID)
		if err != nil {
			return err
		}

		ds = &database.Dataset{
			TaskID:              task.ID,
			Version:             version,
			Description:         p.Description,
			Autojudge:           p.Autojudge,
			TimeLimit:           p.TimeLimit,
			MemoryLimit:         p.MemoryLimit,
			TaskType:            p.TaskType,
			TaskTypeParameters:  database.JSON(p.TaskTypeParameters),
			ScoreType:           p.ScoreType,
			ScoreTypeParameters: database.JSON(p.ScoreTypeParameters),
		}
		if err := tx.Omit(clause.Associations).Create(ds).Error; err != nil {
			return fmt.Errorf("failed to insert dataset: %w", err)
		}

		if p.CloneFrom != nil {
			if err := cloneInto(tx, ds.ID, *p.CloneFrom, p.CloneManagers, p.CloneResults); err != nil {
				return err
			}
		}

		if task.ActiveDatasetID == nil {
			err := tx.Model(&database.Task{}).
				Where("id = ?", task.ID).
				UpdateColumn("active_dataset_id", ds.ID).Error
			if err != nil {
				return fmt.Errorf("failed to activate dataset: %w", err)
			}
			activated = true
		}
		return nil
	})
	if err != nil {
		return nil, failed("Dataset creation failed", err)
	}

	s.log.Info("created dataset",
		"task_id", ds.TaskID, "dataset_id", ds.ID, "version", ds.Version,
		"description", ds.Description, "activated", activated)

	if activated {
		s.afterActivation(ctx, ds.TaskID)
	} else {
		s.reinitialize(ctx)
	}
	return database.LoadDataset(ctx, s.db, ds.ID)
}

// cloneInto copies testcases, then managers, then whole result trees of
// src into dst. Results keep their outcomes and scores; nothing is
// re-judged.
func cloneInto(tx *gorm.DB, dst, src int64, managers, results bool) error {
	var testcases []database.Testcase
	if err := tx.Where("dataset_id = ?", src).Order("num").Find(&testcases).Error; err != nil {
		return fmt.Errorf("failed to load testcases of dataset %d: %w", src, err)
	}
	for i := range testcases {
		testcases[i].ID = 0
		testcases[i].DatasetID = dst
	}
	if len(testcases) > 0 {
		if err := tx.Create(&testcases).Error; err != nil {
			return fmt.Errorf("failed to copy testcases: %w", err)
		}
	}

	if managers {
		var ms []database.Manager
		if err := tx.Where("dataset_id = ?", src).Order("filename").Find(&ms).Error; err != nil {
			return fmt.Errorf("failed to load managers of dataset %d: %w", src, err)
		}
		for i := range ms {
			ms[i].ID = 0
			ms[i].DatasetID = dst
		}
		if len(ms) > 0 {
			if err := tx.Create(&ms).Error; err != nil {
				return fmt.Errorf("failed to copy managers: %w", err)
			}
		}
	}

	if !results {
		return nil
	}

	var srs []database.SubmissionResult
	err := tx.Where("dataset_id = ?", src).
		Preload("Executables").
		Preload("Evaluations").
		Order("id").
		Find(&srs).Error
	if err != nil {
		return fmt.Errorf("failed to load results of dataset %d: %w", src, err)
	}
	for _, sr := range srs {
		executables, evaluations := sr.Executables, sr.Evaluations
		sr.ID = 0
		sr.DatasetID = dst
		sr.Executables = nil
		sr.Evaluations = nil
		if err := tx.Omit(clause.Associations).Create(&sr).Error; err != nil {
			return fmt.Errorf("failed to copy result of submission %d: %w", sr.SubmissionID, err)
		}

		for i := range executables {
			executables[i].ID = 0
			executables[i].SubmissionResultID = sr.ID
		}
		if len(executables) > 0 {
			if err := tx.Create(&executables).Error; err != nil {
				return fmt.Errorf("failed to copy executables of submission %d: %w", sr.SubmissionID, err)
			}
		}

		for i := range evaluations {
			evaluations[i].ID = 0
			evaluations[i].SubmissionResultID = sr.ID
		}
		if len(evaluations) > 0 {
			if err := tx.Create(&evaluations).Error; err != nil {
				return fmt.Errorf("failed to copy evaluations of submission %d: %w", sr.SubmissionID, err)
			}
		}
	}
	return nil
}

// checkDescription rejects a description already used by another dataset
// of the task. The unique index still guards against racing writers.
func (s *Service) checkDescription(ctx context.Context, taskID, exceptID int64, description string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&database.Dataset{}).
		Where("task_id = ? AND description = ? AND id <> ?", taskID, description, exceptID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check dataset description: %w", err)
	}
	if count > 0 {
		return invalid(fmt.Sprintf("Dataset name %q is already taken.", description),
			"Please choose a unique name for this dataset.")
	}
	return nil
}

// Rename changes the description of a dataset.
func (s *Service) Rename(ctx context.Context, datasetID int64, description string) error {
	description = strings.TrimSpace(description)
	if description == "" {
		return invalid("Invalid field(s)", "description must not be empty")
	}
	var ds database.Dataset
	if err := s.db.WithContext(ctx).First(&ds, datasetID).Error; err != nil {
		return database.Classify(fmt.Errorf("failed to load dataset %d: %w", datasetID, err))
	}
	if err := s.checkDescription(ctx, ds.TaskID, ds.ID, description); err != nil {
		return err
	}

	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Model(&database.Dataset{}).Where("id = ?", datasetID).UpdateColumn("description", description)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("dataset %d: %w", datasetID, database.ErrNotFound)
		}
		return nil
	})
	return failed("Renaming dataset failed", err)
}

// ToggleAutojudge flips whether submissions are judged on a dataset that
// is not active, and returns the new setting.
func (s *Service) ToggleAutojudge(ctx context.Context, datasetID int64) (bool, error) {
	var autojudge bool
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var ds database.Dataset
		if err := database.ForUpdate(tx).First(&ds, datasetID).Error; err != nil {
			return fmt.Errorf("failed to load dataset %d: %w", datasetID, err)
		}
		autojudge = !ds.Autojudge
		return tx.Model(&ds).UpdateColumn("autojudge", autojudge).Error
	})
	if err != nil {
		return false, failed("Toggling autojudge failed", err)
	}

	s.reinitialize(ctx)
	s.rescan(ctx)
	return autojudge, nil
}

// Delete removes a dataset that is not active together with its
// testcases, managers and results.
func (s *Service) Delete(ctx context.Context, datasetID int64) error {
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var ds database.Dataset
		if err := tx.First(&ds, datasetID).Error; err != nil {
			return fmt.Errorf("failed to load dataset %d: %w", datasetID, err)
		}
		var task database.Task
		if err := database.ForUpdate(tx).First(&task, ds.TaskID).Error; err != nil {
			return fmt.Errorf("failed to load task %d: %w", ds.TaskID, err)
		}
		if task.ActiveDatasetID != nil && *task.ActiveDatasetID == ds.ID {
			return fmt.Errorf("cannot delete dataset %q of task %q: %w", ds.Description, task.Name, ErrActiveDataset)
		}
		return tx.Delete(&database.Dataset{}, ds.ID).Error
	})
	if err != nil {
		return failed("Dataset deletion failed", err)
	}

	s.log.Info("deleted dataset", "dataset_id", datasetID)
	s.reinitialize(ctx)
	return nil
}

// The calls below run after commit. The change is already durable, so
// failures are logged and the services catch up on their next sweep.

func (s *Service) reinitialize(ctx context.Context) {
	if err := s.notifier.Reinitialize(ctx); err != nil {
		s.log.Warn("scoring service did not reinitialize", "error", err)
	}
}

func (s *Service) rescan(ctx context.Context) {
	for _, target := range []rpc.Target{rpc.Evaluation, rpc.Scoring} {
		if err := s.notifier.SearchJobsNotDone(ctx, target); err != nil {
			s.log.Warn("failed to request rescan", "target", target, "error", err)
		}
	}
}

func (s *Service) afterActivation(ctx context.Context, taskID int64) {
	s.reinitialize(ctx)
	if err := s.notifier.DatasetUpdated(ctx, taskID); err != nil {
		s.log.Warn("failed to announce dataset update", "task_id", taskID, "error", err)
	}
	s.rescan(ctx)
}
