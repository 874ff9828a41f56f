package main

import (
	"bytes"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/fatih/color"
	"github.com/programme-lv/evalcore/internal/database"
	"github.com/programme-lv/evalcore/internal/datasets"
	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestPrintDiff(t *testing.T) {
	color.NoColor = true

	diff := &datasets.Diff{
		Task:    &database.Task{Name: "sum", ActiveDatasetID: ptr(int64(1))},
		Dataset: &database.Dataset{ID: 2, Description: "stricter"},
		Changes: []datasets.Change{{
			Submission:     &database.Submission{ID: 7, UserID: 3, User: &database.User{Username: "alice"}},
			OldScore:       ptr(100.0),
			NewScore:       ptr(50.0),
			OldPublicScore: ptr(50.0),
			NewPublicScore: ptr(50.0),
		}},
		Notify: mapset.NewSet[int64](3),
	}

	var buf bytes.Buffer
	printDiff(&buf, diff)
	out := buf.String()
	assert.Contains(t, out, `dataset "stricter" against active dataset 1`)
	assert.Contains(t, out, "* submission 7")
	assert.Contains(t, out, "score 100 -> 50")
	assert.Contains(t, out, "public 50 -> 50")
	assert.Contains(t, out, "1 changed, 1 users to notify")

	buf.Reset()
	printDiff(&buf, &datasets.Diff{Task: &database.Task{Name: "sum"}, Dataset: &database.Dataset{}, Notify: mapset.NewSet[int64]()})
	assert.Contains(t, buf.String(), "task has no active dataset")
	assert.Contains(t, buf.String(), "no score changes")
}

func TestScoreChange(t *testing.T) {
	color.NoColor = true
	assert.Equal(t, "- -> 12.5", scoreChange(nil, ptr(12.5)))
	assert.Equal(t, "3 -> 3", scoreChange(ptr(3.0), ptr(3.0)))
}
