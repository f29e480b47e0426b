package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	t.Parallel()

	s, err := NewSchedule("daily sales digest", "vinsolutions", "0 7 * * *")
	require.NoError(t, err)

	assert.Equal(t, ScheduleStatusActive, s.Status)
	assert.True(t, s.Enabled)
	assert.Nil(t, s.NextRunAt, "next run is computed by the scheduler")
}

func TestNewScheduleValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSchedule("", "vinsolutions", "0 7 * * *")
	assert.ErrorIs(t, err, ErrEmptyScheduleIntent)

	_, err = NewSchedule("daily sales digest", "vinsolutions", "")
	assert.ErrorIs(t, err, ErrEmptyCronExpr)
}

func TestScheduleIsDue(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	s, err := NewSchedule("daily sales digest", "vinsolutions", "0 7 * * *")
	require.NoError(t, err)

	assert.False(t, s.IsDue(now), "schedule without next_run_at is never due")

	s.NextRunAt = &past
	assert.True(t, s.IsDue(now))

	s.NextRunAt = &future
	assert.False(t, s.IsDue(now))

	s.NextRunAt = &past
	s.Enabled = false
	assert.False(t, s.IsDue(now), "disabled schedule is never due")

	s.Enabled = true
	s.Status = ScheduleStatusFailed
	assert.False(t, s.IsDue(now), "failed schedule requires manual retry")
}
