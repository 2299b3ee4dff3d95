package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/internal/config"
)

func TestParseFullDocument(t *testing.T) {
	doc := `
[memory]
input_data_size = 16384
output_data_size = 16384
stack_size = 2097152
heap_size = 131072

[sandbox]
max_execution_time_ms = 1000
max_wait_for_cancellation_ms = 250
`
	d, err := config.Parse(doc)
	require.NoError(t, err)
	require.EqualValues(t, 16384, d.Memory.InputDataSize)
	require.EqualValues(t, 16384, d.Memory.OutputDataSize)
	require.EqualValues(t, 2097152, d.Memory.StackSize)
	require.EqualValues(t, 131072, d.Memory.HeapSize)
	require.Equal(t, 1000*time.Millisecond, d.MaxExecutionTime)
	require.Equal(t, 250*time.Millisecond, d.MaxWaitForCancellation)
}

func TestParseEmptyDocumentYieldsZeroDefaults(t *testing.T) {
	d, err := config.Parse("")
	require.NoError(t, err)
	require.Zero(t, d.Memory.InputDataSize)
	require.Zero(t, d.MaxExecutionTime)
}

func TestParseRejectsMalformedToml(t *testing.T) {
	_, err := config.Parse("not = [valid")
	require.Error(t, err)
}

func TestParsePartialMemoryTableLeavesOthersZero(t *testing.T) {
	d, err := config.Parse("[memory]\nheap_size = 65536\n")
	require.NoError(t, err)
	require.EqualValues(t, 65536, d.Memory.HeapSize)
	require.Zero(t, d.Memory.StackSize)
}
