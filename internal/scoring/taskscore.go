package scoring

import (
	"context"
	"fmt"

	"github.com/programme-lv/evalcore/internal/database"
)

// waitsForScore reports whether a result could still get a score.
func waitsForScore(r *database.SubmissionResult) bool {
	return r == nil || (!r.CompilationFailed() && !r.Scored())
}

// TaskScore is a user's score on a task under its active dataset: the
// better of the last submission and the best tokened one. Partial is set
// when either could still change because a result is not scored yet.
func (s *Service) TaskScore(ctx context.Context, userID, taskID int64) (score float64, partial bool, err error) {
	var task database.Task
	if err := s.db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return 0, false, database.Classify(fmt.Errorf("failed to load task %d: %w", taskID, err))
	}

	var subs []database.Submission
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Preload("Token").
		Preload("Results").
		Order("timestamp, id").
		Find(&subs).Error
	if err != nil {
		return 0, false, fmt.Errorf("failed to load submissions: %w", err)
	}
	if len(subs) == 0 {
		return 0, false, nil
	}

	result := func(sub *database.Submission) *database.SubmissionResult {
		if task.ActiveDatasetID == nil {
			return nil
		}
		return sub.Result(*task.ActiveDatasetID)
	}

	last := 0.0
	if r := result(&subs[len(subs)-1]); r != nil && r.Scored() {
		last = *r.Score
	} else if waitsForScore(r) {
		partial = true
	}

	tokened := 0.0
	for i := range subs {
		if !subs[i].Tokened() {
			continue
		}
		if r := result(&subs[i]); r != nil && r.Scored() {
			tokened = max(tokened, *r.Score)
		} else if waitsForScore(r) {
			partial = true
		}
	}
	return max(last, tokened), partial, nil
}
