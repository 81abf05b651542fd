package records

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchResult_Merge(t *testing.T) {
	var total BatchResult[string]
	total.Succeeded = 2
	total.Fail("a", errors.New("bad a"))

	var chunk BatchResult[string]
	chunk.Succeeded = 3
	chunk.Fail("b", errors.New("bad b"))
	total.Merge(chunk)

	require.Equal(t, 5, total.Succeeded)
	require.Len(t, total.Failed, 2)
	require.Equal(t, "a", total.Failed[0].Record)
	require.Equal(t, "b", total.Failed[1].Record)
	require.EqualError(t, total.Failed[1].Reason, "bad b")
}
