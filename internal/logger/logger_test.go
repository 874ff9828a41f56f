package logger_test

import (
	"bytes"
	"testing"

	"github.com/programme-lv/evalcore/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	log, err := logger.New("warn", &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("scorer broken", "task_id", 7)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "scorer broken")
	assert.Contains(t, buf.String(), "task_id")

	_, err = logger.New("loud", &buf)
	assert.Error(t, err)
}
