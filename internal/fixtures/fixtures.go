// Package fixtures seeds a database from a TOML contest description.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/filestore"
	"github.com/programme-lv/evalcore/internal/scoretypes"
	"github.com/programme-lv/evalcore/internal/tasktypes"
	"gorm.io/gorm"
)

// Tokens are token rules; durations use time.ParseDuration syntax.
type Tokens struct {
	Initial     *int   `toml:"token_initial"`
	Max         *int   `toml:"token_max"`
	Total       *int   `toml:"token_total"`
	MinInterval string `toml:"token_min_interval"`
	GenTime     string `toml:"token_gen_time"`
	GenNumber   int    `toml:"token_gen_number"`
}

type Contest struct {
	Name        string    `toml:"name"`
	Description string    `toml:"description"`
	Start       time.Time `toml:"start"`
	Stop        time.Time `toml:"stop"`
	PerUserTime string    `toml:"per_user_time"`
	Tokens
}

type Testcase struct {
	Codename string `toml:"codename"`
	Public   bool   `toml:"public"`
	Input    string `toml:"input"`
	Output   string `toml:"output"`
}

type File struct {
	Filename string `toml:"filename"`
	Content  string `toml:"content"`
}

type Dataset struct {
	Description         string     `toml:"description"`
	Active              bool       `toml:"active"`
	Autojudge           bool       `toml:"autojudge"`
	TimeLimit           *float64   `toml:"time_limit"`
	MemoryLimit         *int64     `toml:"memory_limit"`
	TaskType            string     `toml:"task_type"`
	TaskTypeParameters  string     `toml:"task_type_parameters"`
	ScoreType           string     `toml:"score_type"`
	ScoreTypeParameters string     `toml:"score_type_parameters"`
	Testcases           []Testcase `toml:"testcases"`
	Managers            []File     `toml:"managers"`
}

type Task struct {
	Name             string    `toml:"name"`
	Title            string    `toml:"title"`
	SubmissionFormat []string  `toml:"submission_format"`
	ScorePrecision   int       `toml:"score_precision"`
	Datasets         []Dataset `toml:"datasets"`
	Tokens
}

type Submission struct {
	Task      string     `toml:"task"`
	Language  string     `toml:"language"`
	Timestamp time.Time  `toml:"timestamp"`
	Token     *time.Time `toml:"token"`
	Files     []File     `toml:"files"`
}

type User struct {
	Username    string       `toml:"username"`
	FirstName   string       `toml:"first_name"`
	LastName    string       `toml:"last_name"`
	Hidden      bool         `toml:"hidden"`
	Submissions []Submission `toml:"submissions"`
}

// Seed is the root of a fixture file.
type Seed struct {
	Contest Contest `toml:"contest"`
	Tasks   []Task  `toml:"tasks"`
	Users   []User  `toml:"users"`
}

func Parse(data []byte) (*Seed, error) {
	var seed Seed
	if err := toml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := seed.validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

func ParseFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return Parse(data)
}

func (s *Seed) validate() error {
	if s.Contest.Name == "" {
		return fmt.Errorf("contest.name is required")
	}
	tasks := make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task without a name")
		}
		tasks[t.Name] = true
		active := 0
		for _, ds := range t.Datasets {
			if ds.Active {
				active++
			}
			tt, err := tasktypes.Get(ds.TaskType)
			if err != nil {
				return fmt.Errorf("task %s, dataset %q: %w", t.Name, ds.Description, err)
			}
			if err := tt.ValidateParameters([]byte(orDefault(ds.TaskTypeParameters, "[]"))); err != nil {
				return fmt.Errorf("task %s, dataset %q: %w", t.Name, ds.Description, err)
			}
			if err := scoretypes.Validate(ds.ScoreType, []byte(orDefault(ds.ScoreTypeParameters, "0"))); err != nil {
				return fmt.Errorf("task %s, dataset %q: %w", t.Name, ds.Description, err)
			}
		}
		if active > 1 {
			return fmt.Errorf("task %s has %d active datasets", t.Name, active)
		}
	}
	for _, u := range s.Users {
		for _, sub := range u.Submissions {
			if !tasks[sub.Task] {
				return fmt.Errorf("user %s submits to unknown task %q", u.Username, sub.Task)
			}
		}
	}
	return nil
}

func (t Tokens) rules() (database.TokenRules, error) {
	minInterval, err := duration(t.MinInterval)
	if err != nil {
		return database.TokenRules{}, err
	}
	genTime, err := duration(t.GenTime)
	if err != nil {
		return database.TokenRules{}, err
	}
	return database.TokenRules{
		TokenInitial:     t.Initial,
		TokenMax:         t.Max,
		TokenTotal:       t.Total,
		TokenMinInterval: minInterval,
		TokenGenTime:     genTime,
		TokenGenNumber:   t.GenNumber,
	}, nil
}

func duration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad duration %q: %w", s, err)
	}
	return d, nil
}

// Load stores the seed's files in the blob store, then inserts the
// contest in one transaction.
func Load(ctx context.Context, db *gorm.DB, files *filestore.FileStore, seed *Seed) (*database.Contest, error) {
	put := func(content, description string) (string, error) {
		return files.Put(ctx, []byte(content), description)
	}

	p, err := build(seed, put)
	if err != nil {
		return nil, err
	}
	err = database.InTx(ctx, db, func(tx *gorm.DB) error {
		return p.insert(tx)
	})
	if err != nil {
		return nil, err
	}
	return p.contest, nil
}

type putFunc func(content, description string) (string, error)

// plan is the seed turned into unsaved rows with blob digests filled in.
type plan struct {
	contest *database.Contest
	tasks   []taskPlan
	users   []userPlan
}

type taskPlan struct {
	task     *database.Task
	datasets []*database.Dataset
	active   int // index into datasets, -1 for none
}

type userPlan struct {
	user *database.User
	// task name of each submission, by index
	tasks []string
}

func build(seed *Seed, put putFunc) (*plan, error) {
	rules, err := seed.Contest.rules()
	if err != nil {
		return nil, err
	}
	p := &plan{contest: &database.Contest{
		Name:        seed.Contest.Name,
		Description: orDefault(seed.Contest.Description, seed.Contest.Name),
		Start:       seed.Contest.Start,
		Stop:        seed.Contest.Stop,
		TokenRules:  rules,
	}}
	if seed.Contest.PerUserTime != "" {
		d, err := duration(seed.Contest.PerUserTime)
		if err != nil {
			return nil, err
		}
		p.contest.PerUserTime = &d
	}

	for _, t := range seed.Tasks {
		tp, err := buildTask(t, put)
		if err != nil {
			return nil, err
		}
		p.tasks = append(p.tasks, tp)
	}

	for _, u := range seed.Users {
		up := userPlan{user: &database.User{
			Username:  u.Username,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Hidden:    u.Hidden,
		}}
		for _, s := range u.Submissions {
			sub := database.Submission{Language: s.Language, Timestamp: s.Timestamp}
			for _, f := range s.Files {
				digest, err := put(f.Content, fmt.Sprintf("Submission file %s sent by %s", f.Filename, u.Username))
				if err != nil {
					return nil, err
				}
				sub.Files = append(sub.Files, database.File{Filename: f.Filename, Digest: digest})
			}
			if s.Token != nil {
				sub.Token = &database.Token{Timestamp: *s.Token}
			}
			up.user.Submissions = append(up.user.Submissions, sub)
			up.tasks = append(up.tasks, s.Task)
		}
		p.users = append(p.users, up)
	}
	return p, nil
}

func buildTask(t Task, put putFunc) (taskPlan, error) {
	rules, err := t.rules()
	if err != nil {
		return taskPlan{}, err
	}
	tp := taskPlan{
		task: &database.Task{
			Name:           t.Name,
			Title:          orDefault(t.Title, t.Name),
			ScorePrecision: t.ScorePrecision,
			TokenRules:     rules,
		},
		active: -1,
	}
	for i, pattern := range t.SubmissionFormat {
		tp.task.SubmissionFormat = append(tp.task.SubmissionFormat, database.SubmissionFormatElement{Num: i, Filename: pattern})
	}
	for i, d := range t.Datasets {
		ds, err := buildDataset(t.Name, i+1, d, put)
		if err != nil {
			return taskPlan{}, err
		}
		if d.Active {
			tp.active = i
		}
		tp.datasets = append(tp.datasets, ds)
	}
	return tp, nil
}

func buildDataset(task string, version int, d Dataset, put putFunc) (*database.Dataset, error) {
	ds := &database.Dataset{
		Version:             version,
		Description:         orDefault(d.Description, fmt.Sprintf("Dataset %d", version)),
		Autojudge:           d.Autojudge,
		TimeLimit:           d.TimeLimit,
		MemoryLimit:         d.MemoryLimit,
		TaskType:            d.TaskType,
		TaskTypeParameters:  database.JSON(orDefault(d.TaskTypeParameters, "[]")),
		ScoreType:           d.ScoreType,
		ScoreTypeParameters: database.JSON(orDefault(d.ScoreTypeParameters, "0")),
	}

	for num, tc := range d.Testcases {
		codename := orDefault(tc.Codename, fmt.Sprintf("%03d", num))
		in, err := put(tc.Input, fmt.Sprintf("Input %s for task %s", codename, task))
		if err != nil {
			return nil, err
		}
		out, err := put(tc.Output, fmt.Sprintf("Output %s for task %s", codename, task))
		if err != nil {
			return nil, err
		}
		ds.Testcases = append(ds.Testcases, database.Testcase{
			Num: num, Codename: codename, Public: tc.Public, Input: in, Output: out,
		})
	}
	for _, m := range d.Managers {
		digest, err := put(m.Content, fmt.Sprintf("Task manager for %s", task))
		if err != nil {
			return nil, err
		}
		ds.Managers = append(ds.Managers, database.Manager{Filename: m.Filename, Digest: digest})
	}
	return ds, nil
}

func (p *plan) insert(tx *gorm.DB) error {
	c := p.contest
	if err := tx.Create(c).Error; err != nil {
		return fmt.Errorf("failed to create contest: %w", err)
	}

	taskIDs := make(map[string]int64, len(p.tasks))
	for _, tp := range p.tasks {
		task := tp.task
		task.ContestID = c.ID
		num, err := database.NextTaskNum(tx, c.ID)
		if err != nil {
			return err
		}
		task.Num = num
		if err := tx.Create(task).Error; err != nil {
			return fmt.Errorf("failed to create task %s: %w", task.Name, err)
		}
		taskIDs[task.Name] = task.ID

		for i, ds := range tp.datasets {
			ds.TaskID = task.ID
			if err := tx.Create(ds).Error; err != nil {
				return fmt.Errorf("failed to create dataset %q of task %s: %w", ds.Description, task.Name, err)
			}
			if i == tp.active {
				task.ActiveDatasetID = &ds.ID
				if err := tx.Model(task).Update("active_dataset_id", ds.ID).Error; err != nil {
					return fmt.Errorf("failed to activate dataset %q: %w", ds.Description, err)
				}
			}
			task.Datasets = append(task.Datasets, *ds)
		}
		c.Tasks = append(c.Tasks, *task)
	}

	for _, up := range p.users {
		user := up.user
		user.ContestID = c.ID
		for i := range user.Submissions {
			user.Submissions[i].TaskID = taskIDs[up.tasks[i]]
		}
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user %s: %w", user.Username, err)
		}
		c.Users = append(c.Users, *user)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
