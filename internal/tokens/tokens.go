// Package tokens computes how many tokens a contestant may play. Rules
// apply at contest and task level; a token must be allowed by both.
package tokens

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/programme-lv/evalcore/internal/database"
	"gorm.io/gorm"
)

// Infinite is the Available count when generation never runs out.
const Infinite = -1

// Availability is the token state at one instant.
type Availability struct {
	// Available counts tokens that could be played, ignoring the
	// minimum interval; Infinite for no limit.
	Available int
	// NextGen is when Available next grows, nil if it never will.
	NextGen *time.Time
	// Expiration is when the minimum interval since the last token
	// ends, nil if it already has.
	Expiration *time.Time
}

func later(t, now time.Time) *time.Time {
	if t.After(now) {
		return &t
	}
	return nil
}

// Available replays the played tokens (in time order) against one level
// of rules, starting the generation clock at start.
func Available(r database.TokenRules, played []time.Time, start, now time.Time) Availability {
	if r.TokenInitial == nil {
		return Availability{}
	}
	played = slices.Clone(played)
	slices.SortFunc(played, func(a, b time.Time) int { return a.Compare(b) })

	expiration := start
	if len(played) > 0 {
		expiration = played[len(played)-1].Add(r.TokenMinInterval)
	}

	if r.TokenGenNumber > 0 && r.TokenGenTime == 0 {
		return Availability{Available: Infinite, Expiration: later(expiration, now)}
	}

	if r.TokenTotal != nil && len(played) >= *r.TokenTotal {
		return Availability{}
	}

	genTime := r.TokenGenTime
	if genTime == 0 {
		genTime = time.Second
	}
	periods := func(t time.Time) int {
		return int(t.Sub(start) / genTime)
	}
	capped := func(n int) int {
		if r.TokenMax != nil {
			return min(n, *r.TokenMax)
		}
		return n
	}

	avail := *r.TokenInitial
	prev := start
	for _, t := range played {
		avail = capped(avail + r.TokenGenNumber*(periods(t)-periods(prev)))
		avail--
		prev = t
	}
	avail = capped(avail + r.TokenGenNumber*(periods(now)-periods(prev)))

	var next *time.Time
	if r.TokenGenNumber > 0 && (r.TokenMax == nil || avail < *r.TokenMax) {
		n := int64(float64(now.Sub(start))/float64(genTime) + 1)
		t := start.Add(genTime * time.Duration(n))
		next = &t
	}

	if r.TokenTotal != nil {
		if left := *r.TokenTotal - len(played); avail >= left {
			avail = left
			next = nil
		}
	}

	return Availability{Available: avail, NextGen: next, Expiration: later(expiration, now)}
}

// Combine merges contest-level and task-level availability.
func Combine(contest, task Availability) Availability {
	var expiration *time.Time
	switch {
	case contest.Expiration == nil:
		expiration = task.Expiration
	case task.Expiration == nil:
		expiration = contest.Expiration
	case contest.Expiration.After(*task.Expiration):
		expiration = contest.Expiration
	default:
		expiration = task.Expiration
	}

	if contest.Available == Infinite && task.Available == Infinite {
		return Availability{Available: Infinite, Expiration: expiration}
	}
	// an infinite side behaves like one more token than the other side
	if contest.Available == Infinite {
		contest = Availability{Available: task.Available + 1}
	}
	if task.Available == Infinite {
		task = Availability{Available: contest.Available + 1}
	}

	switch {
	case contest.Available < task.Available:
		return Availability{Available: contest.Available, NextGen: contest.NextGen, Expiration: expiration}
	case task.Available < contest.Available:
		return Availability{Available: task.Available, NextGen: task.NextGen, Expiration: expiration}
	case contest.NextGen == nil || task.NextGen == nil:
		return Availability{Available: task.Available, Expiration: expiration}
	default:
		next := *task.NextGen
		if contest.NextGen.After(next) {
			next = *contest.NextGen
		}
		return Availability{Available: task.Available, NextGen: &next, Expiration: expiration}
	}
}

// ForUser computes a user's tokens on a task at now. Contests with a
// per-user time window start the generation clock when the user started.
func ForUser(ctx context.Context, db *gorm.DB, userID, taskID int64, now time.Time) (Availability, error) {
	var user database.User
	if err := db.WithContext(ctx).Preload("Contest").First(&user, userID).Error; err != nil {
		return Availability{}, database.Classify(fmt.Errorf("failed to load user %d: %w", userID, err))
	}
	var task database.Task
	if err := db.WithContext(ctx).First(&task, taskID).Error; err != nil {
		return Availability{}, database.Classify(fmt.Errorf("failed to load task %d: %w", taskID, err))
	}

	var subs []database.Submission
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Preload("Token").
		Find(&subs).Error
	if err != nil {
		return Availability{}, fmt.Errorf("failed to load submissions of user %d: %w", userID, err)
	}

	var all, onTask []time.Time
	for _, s := range subs {
		if !s.Tokened() {
			continue
		}
		all = append(all, s.Token.Timestamp)
		if s.TaskID == taskID {
			onTask = append(onTask, s.Token.Timestamp)
		}
	}

	start := user.Contest.Start
	if user.Contest.PerUserTime != nil && user.StartingTime != nil {
		start = *user.StartingTime
	}
	return Combine(
		Available(user.Contest.TokenRules, all, start, now),
		Available(task.TokenRules, onTask, start, now),
	), nil
}
