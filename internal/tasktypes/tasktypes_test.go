package tasktypes_test

import (
	"testing"

	"github.com/programme-lv/evalcore/internal/tasktypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoManagers(t *testing.T) {
	batch, err := tasktypes.Get("Batch")
	require.NoError(t, err)
	assert.Nil(t, batch.AutoManagers())

	comm, err := tasktypes.Get("Communication")
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, comm.AutoManagers())

	oo, err := tasktypes.Get("OutputOnly")
	require.NoError(t, err)
	assert.NotNil(t, oo.AutoManagers())
	assert.Empty(t, oo.AutoManagers())
}

func TestUnknownTaskType(t *testing.T) {
	_, err := tasktypes.Get("Interactive")
	require.ErrorIs(t, err, tasktypes.ErrUnknownTaskType)
}

func TestValidateParameters(t *testing.T) {
	batch, err := tasktypes.Get("Batch")
	require.NoError(t, err)

	require.NoError(t, batch.ValidateParameters([]byte(`["alone",["",""],"diff"]`)))
	require.NoError(t, batch.ValidateParameters([]byte(`["grader",["input.txt","output.txt"],"comparator"]`)))
	require.Error(t, batch.ValidateParameters([]byte(`{"compilation":"alone"}`)))
	require.Error(t, batch.ValidateParameters([]byte(`["alone",["",""]]`)))
	require.Error(t, batch.ValidateParameters([]byte(`["linked",["",""],"diff"]`)))
}

func TestNamesSorted(t *testing.T) {
	assert.Equal(t, []string{"Batch", "Communication", "OutputOnly", "TwoSteps"}, tasktypes.Names())
}
