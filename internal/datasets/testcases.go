package datasets

import (
	"context"
	"fmt"
	"strings"

	"github.com/programme-lv/evalcore/internal/database"
	"gorm.io/gorm"
)

type TestcaseParams struct {
	// Num defaults to one past the highest testcase number.
	Num *int
	// Codename defaults to Num padded to three digits.
	Codename string
	Public   bool
	Input    []byte
	Output   []byte
}

// AddTestcase stores the testcase files and appends the testcase to the
// dataset. The blob writes happen before any transaction is opened, and
// the dataset is looked up again afterwards.
func (s *Service) AddTestcase(ctx context.Context, datasetID int64, p TestcaseParams) (*database.Testcase, error) {
	if p.Num != nil && *p.Num < 0 {
		return nil, invalid("Invalid data", "testcase number must not be negative")
	}
	ds, err := database.LoadDataset(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}

	input, err := s.files.Put(ctx, p.Input, fmt.Sprintf("Testcase input for task %s", ds.Task.Name))
	if err != nil {
		return nil, fmt.Errorf("testcase storage failed: %w", err)
	}
	output, err := s.files.Put(ctx, p.Output, fmt.Sprintf("Testcase output for task %s", ds.Task.Name))
	if err != nil {
		return nil, fmt.Errorf("testcase storage failed: %w", err)
	}

	var tc database.Testcase
	err = database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var fresh database.Dataset
		if err := tx.Select("id").First(&fresh, datasetID).Error; err != nil {
			return fmt.Errorf("failed to load dataset %d: %w", datasetID, err)
		}
		num := 0
		if p.Num != nil {
			num = *p.Num
		} else if num, err = database.NextTestcaseNum(tx, fresh.ID); err != nil {
			return err
		}
		codename := strings.TrimSpace(p.Codename)
		if codename == "" {
			codename = fmt.Sprintf("%03d", num)
		}
		tc = database.Testcase{
			DatasetID: fresh.ID,
			Num:       num,
			Codename:  codename,
			Public:    p.Public,
			Input:     input,
			Output:    output,
		}
		return tx.Create(&tc).Error
	})
	if err != nil {
		return nil, failed("Testcase storage failed", err)
	}

	s.reinitialize(ctx)

	var stored database.Testcase
	if err := s.db.WithContext(ctx).First(&stored, tc.ID).Error; err != nil {
		return nil, database.Classify(fmt.Errorf("failed to reload testcase %d: %w", tc.ID, err))
	}
	return &stored, nil
}

func (s *Service) DeleteTestcase(ctx context.Context, testcaseID int64) error {
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Delete(&database.Testcase{}, testcaseID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("testcase %d: %w", testcaseID, database.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return failed("Testcase deletion failed", err)
	}
	s.reinitialize(ctx)
	return nil
}

// AddManager stores a manager file and attaches it to the dataset.
func (s *Service) AddManager(ctx context.Context, datasetID int64, filename string, data []byte) (*database.Manager, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" || strings.ContainsAny(filename, "/\\") {
		return nil, invalid("Invalid data", "manager filename %q is not a plain file name", filename)
	}
	ds, err := database.LoadDataset(ctx, s.db, datasetID)
	if err != nil {
		return nil, err
	}

	digest, err := s.files.Put(ctx, data, fmt.Sprintf("Task manager for %s", ds.Task.Name))
	if err != nil {
		return nil, fmt.Errorf("manager storage failed: %w", err)
	}

	var m database.Manager
	err = database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		var fresh database.Dataset
		if err := tx.Select("id").First(&fresh, datasetID).Error; err != nil {
			return fmt.Errorf("failed to load dataset %d: %w", datasetID, err)
		}
		m = database.Manager{DatasetID: fresh.ID, Filename: filename, Digest: digest}
		return tx.Create(&m).Error
	})
	if err != nil {
		return nil, failed("Manager storage failed", err)
	}

	var stored database.Manager
	if err := s.db.WithContext(ctx).First(&stored, m.ID).Error; err != nil {
		return nil, database.Classify(fmt.Errorf("failed to reload manager %d: %w", m.ID, err))
	}
	return &stored, nil
}

func (s *Service) DeleteManager(ctx context.Context, managerID int64) error {
	err := database.InTx(ctx, s.db, func(tx *gorm.DB) error {
		res := tx.Delete(&database.Manager{}, managerID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("manager %d: %w", managerID, database.ErrNotFound)
		}
		return nil
	})
	return failed("Manager deletion failed", err)
}
