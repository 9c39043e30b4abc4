package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTimeMarshalJSON(t *testing.T) {
	ts := LocalTime(time.Date(2026, 8, 31, 9, 30, 5, 0, time.UTC))

	data, err := ts.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2026-08-31 09:30:05"`, string(data))
	assert.Equal(t, "2026-08-31 09:30:05", ts.String())
}
