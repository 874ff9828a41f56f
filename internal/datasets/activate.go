package datasets

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/programme-lv/evalcore/internal/database"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Change is how a submission's result differs between the active dataset
// and a candidate one. Old values are nil when the task had no active
// dataset or the submission had no result under it.
type Change struct {
	Submission *database.Submission

	OldScore, NewScore             *float64
	OldPublicScore, NewPublicScore *float64
	OldRanking, NewRanking         datatypes.JSON
}

func (c Change) ScoreChanged() bool {
	return !sameScore(c.OldScore, c.NewScore)
}

func (c Change) PublicScoreChanged() bool {
	return !sameScore(c.OldPublicScore, c.NewPublicScore)
}

func (c Change) RankingChanged() bool {
	return !bytes.Equal(c.OldRanking, c.NewRanking)
}

func sameScore(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ComputeChanges lists the submissions whose score, public score or
// ranking details differ between dataset oldID and dataset newID. Only
// submissions with a result under newID are considered. Results must be
// preloaded. The outcome depends only on the stored results.
func ComputeChanges(subs []database.Submission, oldID *int64, newID int64) []Change {
	var changes []Change
	for i := range subs {
		sub := &subs[i]
		next := sub.Result(newID)
		if next == nil {
			continue
		}
		c := Change{
			Submission:     sub,
			NewScore:       next.Score,
			NewPublicScore: next.PublicScore,
			NewRanking:     next.RankingScoreDetails,
		}
		if oldID != nil {
			if prev := sub.Result(*oldID); prev != nil {
				c.OldScore = prev.Score
				c.OldPublicScore = prev.PublicScore
				c.OldRanking = prev.RankingScoreDetails
			}
		}
		if c.ScoreChanged() || c.PublicScoreChanged() || c.RankingChanged() {
			changes = append(changes, c)
		}
	}
	return changes
}

// NotificationSet picks the users to tell about an activation: those
// whose public score changed, and those whose score changed on a
// submission they played a token on. Submissions must have their token
// loaded.
func NotificationSet(changes []Change) mapset.Set[int64] {
	users := mapset.NewThreadUnsafeSet[int64]()
	for _, c := range changes {
		if c.PublicScoreChanged() || (c.Submission.Tokened() && c.ScoreChanged()) {
			users.Add(c.Submission.UserID)
		}
	}
	return users
}

// Diff is the effect activating Dataset would have.
type Diff struct {
	Task    *database.Task
	Dataset *database.Dataset
	Changes []Change
	Notify  mapset.Set[int64]
}

// Diff compares a dataset against the active dataset of its task.
func (s *Service) Diff(ctx context.Context, datasetID int64) (*Diff, error) {
	ds, err := database.LoadDataset(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}
	subs, err := database.TaskSubmissions(ctx, s.db, ds.TaskID)
	if err != nil {
		return nil, err
	}
	changes := ComputeChanges(subs, ds.Task.ActiveDatasetID, ds.ID)
	return &Diff{
		Task:    ds.Task,
		Dataset: ds,
		Changes: changes,
		Notify:  NotificationSet(changes),
	}, nil
}

// ActivateParams selects the dataset to activate and, optionally, users
// to send a message explaining the change.
type ActivateParams struct {
	DatasetID int64
	Notify    []int64
	Subject   string
	Text      string
}

// Activate makes a dataset the active one of its task. The switch and the
// messages commit together; the other services are told afterwards.
func (s *Service) Activate(ctx context.Context, p ActivateParams) error {
	recipients := mapset.NewThreadUnsafeSet(p.Notify...)
	if recipients.Cardinality() > 0 && strings.TrimSpace(p.Subject) == "" {
		return invalid("Invalid field(s)", "a message to users needs a subject")
	}

	var taskID int64
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var ds database.Dataset
		if err := tx.First(&ds, p.DatasetID).Error; err != nil {
			return fmt.Errorf("failed to load dataset %d: %w", p.DatasetID, err)
		}
		var task database.Task
		if err := database.ForUpdate(tx).First(&task, ds.TaskID).Error; err != nil {
			return fmt.Errorf("failed to load task %d: %w", ds.TaskID, err)
		}
		taskID = task.ID

		err := tx.Model(&database.Task{}).
			Where("id = ?", task.ID).
			UpdateColumn("active_dataset_id", ds.ID).Error
		if err != nil {
			return fmt.Errorf("failed to activate dataset: %w", err)
		}

		if recipients.Cardinality() == 0 {
			return nil
		}
		ids := recipients.ToSlice()
		var known int64
		err = tx.Model(&database.User{}).
			Where("id IN ? AND contest_id = ?", ids, task.ContestID).
			Count(&known).Error
		if err != nil {
			return fmt.Errorf("failed to check recipients: %w", err)
		}
		if int(known) != len(ids) {
			return invalid("Invalid field(s)", "some recipients are not users of the contest")
		}

		now := time.Now()
		messages := make([]database.Message, 0, len(ids))
		for _, id := range ids {
			messages = append(messages, database.Message{
				UserID:    id,
				Timestamp: now,
				Subject:   p.Subject,
				Text:      p.Text,
			})
		}
		return tx.Create(&messages).Error
	})
	if err != nil {
		return failed("Dataset activation failed", err)
	}

	s.log.Info("activated dataset",
		"task_id", taskID, "dataset_id", p.DatasetID, "messages", recipients.Cardinality())
	s.afterActivation(ctx, taskID)
	return nil
}
