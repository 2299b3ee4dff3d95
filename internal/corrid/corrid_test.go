package corrid_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/internal/corrid"
)

func TestNewReturnsDistinctParsableUUIDs(t *testing.T) {
	a := corrid.New()
	b := corrid.New()

	require.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	require.NoError(t, err)
	_, err = uuid.Parse(b)
	require.NoError(t, err)
}
