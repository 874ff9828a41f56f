package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrConflict is returned when a commit loses a uniqueness or
	// foreign-key check. The caller's in-memory objects are stale after it.
	ErrConflict = errors.New("constraint violation")
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid value")
)

// Open connects to the relational store. Driver is "postgres" or "sqlite".
func Open(driver string, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if !strings.Contains(dsn, "foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(All()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// InTx runs fn in a transaction and classifies constraint failures,
// including those raised at commit, as ErrConflict.
func InTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return Classify(db.WithContext(ctx).Transaction(fn))
}

// Classify maps driver errors onto ErrConflict and ErrNotFound.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if isConflict(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func isConflict(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" || pgErr.Code == "23503"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed")
}

// ForUpdate locks the selected rows on databases that support it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func LoadTask(ctx context.Context, db *gorm.DB, id int64) (*Task, error) {
	var task Task
	err := db.WithContext(ctx).
		Preload("Contest").
		Preload("Datasets", orderBy("version")).
		First(&task, id).Error
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to load task %d: %w", id, err))
	}
	return &task, nil
}

// LoadDataset loads a dataset with everything job construction and
// scoring need: its task, testcases ordered by num, and managers.
func LoadDataset(ctx context.Context, db *gorm.DB, id int64) (*Dataset, error) {
	var ds Dataset
	err := db.WithContext(ctx).
		Preload("Task").
		Preload("Testcases", orderBy("num")).
		Preload("Managers", orderBy("filename")).
		First(&ds, id).Error
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to load dataset %d: %w", id, err))
	}
	return &ds, nil
}

func LoadDatasetByVersion(ctx context.Context, db *gorm.DB, taskID int64, version int) (*Dataset, error) {
	var ds Dataset
	err := db.WithContext(ctx).
		Where("task_id = ? AND version = ?", taskID, version).
		Select("id").
		First(&ds).Error
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to find dataset %d of task %d: %w", version, taskID, err))
	}
	return LoadDataset(ctx, db, ds.ID)
}

func LoadSubmission(ctx context.Context, db *gorm.DB, id int64) (*Submission, error) {
	var sub Submission
	err := db.WithContext(ctx).
		Preload("User").
		Preload("Task").
		Preload("Files", orderBy("filename")).
		Preload("Token").
		Preload("Results.Executables", orderBy("filename")).
		Preload("Results.Evaluations", orderBy("num")).
		First(&sub, id).Error
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to load submission %d: %w", id, err))
	}
	return &sub, nil
}

func LoadUserTest(ctx context.Context, db *gorm.DB, id int64) (*UserTest, error) {
	var ut UserTest
	err := db.WithContext(ctx).
		Preload("User").
		Preload("Task").
		Preload("Files", orderBy("filename")).
		Preload("Managers", orderBy("filename")).
		Preload("Results.Executables", orderBy("filename")).
		First(&ut, id).Error
	if err != nil {
		return nil, Classify(fmt.Errorf("failed to load user test %d: %w", id, err))
	}
	return &ut, nil
}

// TaskSubmissions loads every submission of a task with its token and the
// score fields of all its results.
func TaskSubmissions(ctx context.Context, db *gorm.DB, taskID int64) ([]Submission, error) {
	var subs []Submission
	err := db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Preload("User").
		Preload("Token").
		Preload("Results").
		Order("timestamp, id").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions of task %d: %w", taskID, err)
	}
	return subs, nil
}

// NextDatasetVersion returns the version number for a new dataset of the task.
func NextDatasetVersion(tx *gorm.DB, taskID int64) (int, error) {
	return nextNum(tx, &Dataset{}, "version", "task_id", taskID, 1)
}

func NextTestcaseNum(tx *gorm.DB, datasetID int64) (int, error) {
	return nextNum(tx, &Testcase{}, "num", "dataset_id", datasetID, 0)
}

func NextTaskNum(tx *gorm.DB, contestID int64) (int, error) {
	return nextNum(tx, &Task{}, "num", "contest_id", contestID, 0)
}

// AppendSubmissionFormat adds a filename pattern at the end of the task's
// submission format.
func AppendSubmissionFormat(tx *gorm.DB, taskID int64, filename string) (*SubmissionFormatElement, error) {
	num, err := nextNum(tx, &SubmissionFormatElement{}, "num", "task_id", taskID, 0)
	if err != nil {
		return nil, err
	}
	el := &SubmissionFormatElement{TaskID: taskID, Num: num, Filename: filename}
	if err := tx.Create(el).Error; err != nil {
		return nil, fmt.Errorf("failed to append submission format element: %w", err)
	}
	return el, nil
}

func nextNum(tx *gorm.DB, model any, column string, ownerColumn string, ownerID int64, first int) (int, error) {
	var max sql.NullInt64
	err := tx.Model(model).
		Where(ownerColumn+" = ?", ownerID).
		Select("MAX(" + column + ")").
		Row().Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next %s: %w", column, err)
	}
	if !max.Valid {
		return first, nil
	}
	return int(max.Int64) + 1, nil
}

func orderBy(column string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column)
	}
}
