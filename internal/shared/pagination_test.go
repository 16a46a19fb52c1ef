package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClampLimit(t *testing.T) {
	require.Equal(t, 50, ClampLimit(0, 50, 200))
	require.Equal(t, 50, ClampLimit(-3, 50, 200))
	require.Equal(t, 10, ClampLimit(10, 50, 200))
	require.Equal(t, 200, ClampLimit(201, 50, 200))
}
