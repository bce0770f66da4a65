package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, p)

	p, err = ParsePriority(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)

	_, err = ParsePriority("urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, PriorityLow.Rank(), PriorityMedium.Rank())
	assert.Less(t, PriorityMedium.Rank(), PriorityHigh.Rank())
	assert.False(t, Priority("critical").IsValid())
}

func TestDate_RoundTripAndDays(t *testing.T) {
	d, err := ParseDate("2026-12-31")
	require.NoError(t, err)
	assert.Equal(t, "2027-01-01", d.AddDays(1).String())

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `"2026-12-31"`, string(b))

	var back Date
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Equal(d))

	_, err = ParseDate("31/12/2026")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestDateOf_UsesLocalCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 20:00 UTC on the 14th is already the 15th at UTC+10.
	instant := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC).In(loc)
	assert.Equal(t, "2026-10-15", DateOf(instant).String())
}

func TestTask_TouchNeverMovesBackwards(t *testing.T) {
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	task := Task{UpdatedAt: now}
	task.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, task.UpdatedAt)
	task.Touch(now.Add(time.Minute))
	assert.Equal(t, now.Add(time.Minute), task.UpdatedAt)
}

func TestTask_CloneDoesNotShare(t *testing.T) {
	d := Date{Year: 2026, Month: time.October, Day: 15}
	orig := Task{DueDate: &d, Weather: &Weather{Condition: "Rain"}}
	c := orig.Clone()
	c.DueDate.Day = 16
	c.Weather.Condition = "Clear"
	assert.Equal(t, 15, orig.DueDate.Day)
	assert.Equal(t, "Rain", orig.Weather.Condition)
}
