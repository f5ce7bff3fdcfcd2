package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"2025-03-10", "2025-03-10", nil},
		{" 2025-03-10 ", "2025-03-10", nil},
		{"2025-03-10T12:00:00Z", "2025-03-10", nil},
		{"", "", ErrMissingDate},
		{"10/03/2025", "", ErrInvalidDate},
		{"2025-02-30", "", ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTime(t *testing.T) {
	got, err := ParseTime("9:05")
	require.NoError(t, err)
	assert.Equal(t, "09:05", got)

	got, err = ParseTime("14:30:00")
	require.NoError(t, err)
	assert.Equal(t, "14:30", got)

	_, err = ParseTime("25:00")
	assert.ErrorIs(t, err, ErrInvalidTime)

	_, err = ParseTime("")
	assert.ErrorIs(t, err, ErrMissingTime)
}

func TestParseSlotTimeGranularity(t *testing.T) {
	_, err := ParseSlotTime("09:15")
	assert.NoError(t, err)

	_, err = ParseSlotTime("09:10")
	assert.ErrorIs(t, err, ErrGranularity)
}

func TestIsPastUsesClock(t *testing.T) {
	clock := FixedClock(time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC))

	assert.Equal(t, "2025-03-10", Today(clock))
	assert.True(t, IsPast(clock, "2025-03-09"))
	assert.False(t, IsPast(clock, "2025-03-10"))
	assert.False(t, IsPast(clock, "2025-03-11"))
}

func TestSteps(t *testing.T) {
	got, err := Steps("08:00", "09:00", 15)
	require.NoError(t, err)
	assert.Equal(t, []string{"08:00", "08:15", "08:30", "08:45"}, got)

	_, err = Steps("09:00", "08:00", 15)
	assert.Error(t, err)

	_, err = Steps("08:00", "09:00", 10)
	assert.ErrorIs(t, err, ErrGranularity)
}
