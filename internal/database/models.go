package database

import (
	"time"

	"gorm.io/datatypes"
)

// TokenRules holds one level (contest-wide or per-task) of token
// parameters. A nil TokenInitial disables tokens at that level.
type TokenRules struct {
	TokenInitial     *int          `gorm:"check:token_initial >= 0"`
	TokenMax         *int          `gorm:"check:token_max > 0"`
	TokenTotal       *int          `gorm:"check:token_total > 0"`
	TokenMinInterval time.Duration `gorm:"not null;default:0"`
	TokenGenTime     time.Duration `gorm:"not null;default:0"`
	TokenGenNumber   int           `gorm:"not null;default:0"`
}

type Contest struct {
	ID          int64
	Name        string `gorm:"not null;uniqueIndex"`
	Description string `gorm:"not null"`

	TokenRules `gorm:"embedded"`

	Start       time.Time
	Stop        time.Time
	PerUserTime *time.Duration

	MaxSubmissionNumber   *int
	MaxUserTestNumber     *int
	MinSubmissionInterval *time.Duration
	MinUserTestInterval   *time.Duration

	ScorePrecision int `gorm:"not null;default:0"`

	Tasks []Task `gorm:"constraint:OnDelete:CASCADE"`
	Users []User `gorm:"constraint:OnDelete:CASCADE"`
}

type User struct {
	ID           int64
	ContestID    int64 `gorm:"not null;uniqueIndex:idx_user_contest_username"`
	Contest      *Contest
	Username     string `gorm:"not null;uniqueIndex:idx_user_contest_username"`
	FirstName    string
	LastName     string
	Hidden       bool `gorm:"not null;default:false"`
	StartingTime *time.Time

	Messages    []Message    `gorm:"constraint:OnDelete:CASCADE"`
	Submissions []Submission `gorm:"constraint:OnDelete:CASCADE"`
	UserTests   []UserTest   `gorm:"constraint:OnDelete:CASCADE"`
}

type Message struct {
	ID        int64
	UserID    int64 `gorm:"not null;index"`
	Timestamp time.Time
	Subject   string
	Text      string
}

// Task is one problem of a contest. ActiveDatasetID is a plain column
// rather than an association: tasks and datasets reference each other,
// and the dataset service owns the consistency of that reference.
type Task struct {
	ID        int64
	ContestID int64 `gorm:"not null;uniqueIndex:idx_task_contest_num;uniqueIndex:idx_task_contest_name"`
	Contest   *Contest
	Num       int    `gorm:"not null;uniqueIndex:idx_task_contest_num"`
	Name      string `gorm:"not null;uniqueIndex:idx_task_contest_name"`
	Title     string `gorm:"not null"`

	PrimaryStatements string

	TokenRules `gorm:"embedded"`

	MaxSubmissionNumber   *int
	MaxUserTestNumber     *int
	MinSubmissionInterval *time.Duration
	MinUserTestInterval   *time.Duration

	ScorePrecision int `gorm:"not null;default:0"`

	ActiveDatasetID *int64 `gorm:"index"`

	Datasets         []Dataset                 `gorm:"constraint:OnDelete:CASCADE"`
	Statements       []Statement               `gorm:"constraint:OnDelete:CASCADE"`
	Attachments      []Attachment              `gorm:"constraint:OnDelete:CASCADE"`
	SubmissionFormat []SubmissionFormatElement `gorm:"constraint:OnDelete:CASCADE"`
	Submissions      []Submission              `gorm:"constraint:OnDelete:CASCADE"`
	UserTests        []UserTest                `gorm:"constraint:OnDelete:CASCADE"`
}

type Statement struct {
	ID       int64
	TaskID   int64  `gorm:"not null;uniqueIndex:idx_statement_task_language"`
	Language string `gorm:"not null;uniqueIndex:idx_statement_task_language"`
	Digest   string `gorm:"not null"`
}

type Attachment struct {
	ID       int64
	TaskID   int64  `gorm:"not null;uniqueIndex:idx_attachment_task_filename"`
	Filename string `gorm:"not null;uniqueIndex:idx_attachment_task_filename"`
	Digest   string `gorm:"not null"`
}

// SubmissionFormatElement is one filename pattern a submission must
// provide; %l stands for the language extension.
type SubmissionFormatElement struct {
	ID       int64
	TaskID   int64  `gorm:"not null;uniqueIndex:idx_format_task_num"`
	Num      int    `gorm:"not null;uniqueIndex:idx_format_task_num"`
	Filename string `gorm:"not null"`
}

// Dataset is a versioned judging configuration of a task. Limits are
// nil for unconstrained runs (output-only tasks).
type Dataset struct {
	ID          int64
	TaskID      int64 `gorm:"not null;uniqueIndex:idx_dataset_task_version;uniqueIndex:idx_dataset_task_description"`
	Task        *Task
	Version     int    `gorm:"not null;uniqueIndex:idx_dataset_task_version"`
	Description string `gorm:"not null;uniqueIndex:idx_dataset_task_description"`
	Autojudge   bool   `gorm:"not null;default:false"`

	TimeLimit   *float64 `gorm:"check:time_limit > 0"`
	MemoryLimit *int64   `gorm:"check:memory_limit > 0"`

	TaskType            string `gorm:"not null"`
	TaskTypeParameters  JSON   `gorm:"not null"`
	ScoreType           string `gorm:"not null"`
	ScoreTypeParameters JSON   `gorm:"not null"`

	Testcases       []Testcase         `gorm:"constraint:OnDelete:CASCADE"`
	Managers        []Manager          `gorm:"constraint:OnDelete:CASCADE"`
	Results         []SubmissionResult `gorm:"constraint:OnDelete:CASCADE"`
	UserTestResults []UserTestResult   `gorm:"constraint:OnDelete:CASCADE"`
}

type Testcase struct {
	ID        int64
	DatasetID int64  `gorm:"not null;uniqueIndex:idx_testcase_dataset_num;uniqueIndex:idx_testcase_dataset_codename"`
	Num       int    `gorm:"not null;uniqueIndex:idx_testcase_dataset_num"`
	Codename  string `gorm:"not null;uniqueIndex:idx_testcase_dataset_codename"`
	Public    bool   `gorm:"not null;default:false"`
	Input     string `gorm:"not null"`
	Output    string `gorm:"not null"`
}

type Manager struct {
	ID        int64
	DatasetID int64  `gorm:"not null;uniqueIndex:idx_manager_dataset_filename"`
	Filename  string `gorm:"not null;uniqueIndex:idx_manager_dataset_filename"`
	Digest    string `gorm:"not null"`
}

type Submission struct {
	ID        int64
	UserID    int64 `gorm:"not null;index"`
	User      *User
	TaskID    int64 `gorm:"not null;index"`
	Task      *Task
	Timestamp time.Time `gorm:"not null"`
	Language  string
	Comment   string `gorm:"not null;default:''"`
	Official  bool   `gorm:"not null;default:true"`

	Files   []File             `gorm:"constraint:OnDelete:CASCADE"`
	Token   *Token             `gorm:"constraint:OnDelete:CASCADE"`
	Results []SubmissionResult `gorm:"constraint:OnDelete:CASCADE"`
}

type File struct {
	ID           int64
	SubmissionID int64  `gorm:"not null;uniqueIndex:idx_file_submission_filename"`
	Filename     string `gorm:"not null;uniqueIndex:idx_file_submission_filename"`
	Digest       string `gorm:"not null"`
}

type Token struct {
	ID           int64
	SubmissionID int64     `gorm:"not null;uniqueIndex"`
	Timestamp    time.Time `gorm:"not null"`
}

// SubmissionResult is the outcome of one submission judged under one
// dataset. Evaluation and score fields only mean something once the
// compilation outcome is "ok".
type SubmissionResult struct {
	ID           int64
	SubmissionID int64 `gorm:"not null;uniqueIndex:idx_result_submission_dataset"`
	Submission   *Submission
	DatasetID    int64 `gorm:"not null;uniqueIndex:idx_result_submission_dataset"`
	Dataset      *Dataset

	CompilationOutcome       *string
	CompilationText          string `gorm:"not null;default:''"`
	CompilationTries         int    `gorm:"not null;default:0"`
	CompilationTime          *float64
	CompilationWallClockTime *float64
	CompilationMemory        *int64
	CompilationShard         *int
	CompilationSandbox       *string

	EvaluationOutcome *string
	EvaluationTries   int `gorm:"not null;default:0"`

	Score               *float64
	ScoreDetails        datatypes.JSON
	PublicScore         *float64
	PublicScoreDetails  datatypes.JSON
	RankingScoreDetails datatypes.JSON

	Executables []Executable `gorm:"constraint:OnDelete:CASCADE"`
	Evaluations []Evaluation `gorm:"constraint:OnDelete:CASCADE"`
}

type Executable struct {
	ID                 int64
	SubmissionResultID int64  `gorm:"not null;uniqueIndex:idx_executable_result_filename"`
	Filename           string `gorm:"not null;uniqueIndex:idx_executable_result_filename"`
	Digest             string `gorm:"not null"`
}

// Evaluation is the outcome on the testcase numbered Num.
type Evaluation struct {
	ID                     int64
	SubmissionResultID     int64 `gorm:"not null;uniqueIndex:idx_evaluation_result_num"`
	Num                    int   `gorm:"not null;uniqueIndex:idx_evaluation_result_num"`
	Outcome                *string
	Text                   string `gorm:"not null;default:''"`
	ExecutionTime          *float64
	ExecutionWallClockTime *float64
	ExecutionMemory        *int64
	EvaluationShard        *int
	EvaluationSandbox      *string
}

type UserTest struct {
	ID        int64
	UserID    int64 `gorm:"not null;index"`
	User      *User
	TaskID    int64 `gorm:"not null;index"`
	Task      *Task
	Timestamp time.Time `gorm:"not null"`
	Language  string
	Input     string `gorm:"not null"`

	Files    []UserTestFile    `gorm:"constraint:OnDelete:CASCADE"`
	Managers []UserTestManager `gorm:"constraint:OnDelete:CASCADE"`
	Results  []UserTestResult  `gorm:"constraint:OnDelete:CASCADE"`
}

type UserTestFile struct {
	ID         int64
	UserTestID int64  `gorm:"not null;uniqueIndex:idx_utfile_usertest_filename"`
	Filename   string `gorm:"not null;uniqueIndex:idx_utfile_usertest_filename"`
	Digest     string `gorm:"not null"`
}

type UserTestManager struct {
	ID         int64
	UserTestID int64  `gorm:"not null;uniqueIndex:idx_utmanager_usertest_filename"`
	Filename   string `gorm:"not null;uniqueIndex:idx_utmanager_usertest_filename"`
	Digest     string `gorm:"not null"`
}

type UserTestResult struct {
	ID         int64
	UserTestID int64 `gorm:"not null;uniqueIndex:idx_utresult_usertest_dataset"`
	UserTest   *UserTest
	DatasetID  int64 `gorm:"not null;uniqueIndex:idx_utresult_usertest_dataset"`
	Dataset    *Dataset

	Output *string

	CompilationOutcome *string
	CompilationText    string `gorm:"not null;default:''"`
	CompilationTries   int    `gorm:"not null;default:0"`
	CompilationTime    *float64
	CompilationMemory  *int64

	EvaluationOutcome *string
	EvaluationText    string `gorm:"not null;default:''"`
	EvaluationTries   int    `gorm:"not null;default:0"`
	ExecutionTime     *float64
	ExecutionMemory   *int64

	Executables []UserTestExecutable `gorm:"constraint:OnDelete:CASCADE"`
}

type UserTestExecutable struct {
	ID               int64
	UserTestResultID int64  `gorm:"not null;uniqueIndex:idx_utexec_result_filename"`
	Filename         string `gorm:"not null;uniqueIndex:idx_utexec_result_filename"`
	Digest           string `gorm:"not null"`
}

// All lists every model in dependency order, for migrations and exports.
func All() []any {
	return []any{
		&Contest{}, &User{}, &Message{},
		&Task{}, &Statement{}, &Attachment{}, &SubmissionFormatElement{},
		&Dataset{}, &Testcase{}, &Manager{},
		&Submission{}, &File{}, &Token{},
		&SubmissionResult{}, &Executable{}, &Evaluation{},
		&UserTest{}, &UserTestFile{}, &UserTestManager{},
		&UserTestResult{}, &UserTestExecutable{},
	}
}
