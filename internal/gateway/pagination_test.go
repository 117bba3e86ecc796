package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int32) *int32   { return &n }
func strPtr(s string) *string { return &s }

func TestPageWindow_FirstAfter(t *testing.T) {
	start, end, err := pageWindow(PageArgs{First: intPtr(3)}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	assert.Equal(t, 3, end)

	cursor := encodeCursor(2)
	start, end, err = pageWindow(PageArgs{First: intPtr(3), After: &cursor}, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, start)
	assert.Equal(t, 6, end)
}

func TestPageWindow_LastBefore(t *testing.T) {
	cursor := encodeCursor(8)
	start, end, err := pageWindow(PageArgs{Last: intPtr(3), Before: &cursor}, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, start)
	assert.Equal(t, 8, end)
}

func TestPageWindow_BeyondEnd(t *testing.T) {
	cursor := encodeCursor(9)
	start, end, err := pageWindow(PageArgs{First: intPtr(5), After: &cursor}, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, start)
	assert.Equal(t, 10, end, "page past the end is empty, not an error")
}

func TestPageWindow_InvalidInput(t *testing.T) {
	_, _, err := pageWindow(PageArgs{First: intPtr(-1)}, 10)
	assert.Error(t, err)

	_, _, err = pageWindow(PageArgs{After: strPtr("not-base64!!")}, 10)
	assert.Error(t, err)

	garbage := encodeCursor(0)[:4]
	_, _, err = pageWindow(PageArgs{After: &garbage}, 10)
	assert.Error(t, err)
}

func TestCursor_RoundTrip(t *testing.T) {
	for _, offset := range []int{0, 1, 42, 9999} {
		decoded, err := decodeCursor(encodeCursor(offset))
		require.NoError(t, err)
		assert.Equal(t, offset, decoded)
	}
}

func TestLong_Unmarshal(t *testing.T) {
	var l Long
	require.NoError(t, l.UnmarshalGraphQL(float64(4000)))
	assert.EqualValues(t, 4000, l)

	require.NoError(t, l.UnmarshalGraphQL("123456789012"))
	assert.EqualValues(t, 123456789012, l)

	assert.Error(t, l.UnmarshalGraphQL(1.5), "fractional amounts are rejected")
	assert.Error(t, l.UnmarshalGraphQL(true))
}
