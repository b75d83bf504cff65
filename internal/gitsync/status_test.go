package gitsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStoreHistoryWindow(t *testing.T) {
	s := NewStatusStore(0)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		s.Update(Status{Alias: "Work", State: StateSuccess, Time: base.Add(time.Duration(i) * time.Hour)})
	}

	assert.Len(t, s.History("work", time.Time{}, time.Time{}), 3)
	assert.Len(t, s.History("work", base.Add(time.Hour), time.Time{}), 2)
	assert.Len(t, s.History("work", base, base.Add(30*time.Minute)), 1)
	assert.Empty(t, s.History("home", time.Time{}, time.Time{}))
	assert.Equal(t, base.Add(2*time.Hour), s.Current("WORK").Time)
}

func TestStatusStoreLimit(t *testing.T) {
	s := NewStatusStore(2)
	s.Update(Status{Alias: "a", State: StateSyncing})
	s.Update(Status{Alias: "a", State: StateFailed, LastError: "boom"})
	s.Update(Status{Alias: "a", State: StateSuccess})

	hist := s.History("a", time.Time{}, time.Time{})
	require.Len(t, hist, 2)
	assert.Equal(t, StateFailed, hist[0].State)
	assert.Equal(t, StateSuccess, hist[1].State)
	assert.False(t, hist[1].Time.IsZero())
}

func TestStatusStoreIdleDefault(t *testing.T) {
	st := NewStatusStore(0).Current("ghost")
	assert.Equal(t, "ghost", st.Alias)
	assert.Equal(t, StateIdle, st.State)
}
