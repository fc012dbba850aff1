package task

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/models"
)

func TestExecutor_Completes(t *testing.T) {
	e := NewExecutor()
	release := make(chan struct{})
	id := e.Submit("analyze", func(p *models.ProgressTracker) (string, error) {
		p.Update(50, "halfway")
		<-release
		return "ws-1", nil
	})

	st, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, "analyze", st.Name)
	assert.Equal(t, models.PhaseRunning, st.Phase)
	assert.ErrorIs(t, e.Remove(id), ErrRunning)

	close(release)
	e.Wait()

	st, err = e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCompleted, st.Phase)
	assert.Equal(t, "ws-1", st.Result)
	assert.Equal(t, float64(100), st.Percent)
	assert.False(t, st.FinishedAt.IsZero())

	require.NoError(t, e.Remove(id))
	_, err = e.Status(id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutor_FailureAndPanic(t *testing.T) {
	e := NewExecutor()
	failed := e.Submit("bad", func(p *models.ProgressTracker) (string, error) {
		return "", errors.New("boom")
	})
	panicked := e.Submit("worse", func(p *models.ProgressTracker) (string, error) {
		panic("kaput")
	})
	e.Wait()

	st, err := e.Status(failed)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, st.Phase)
	assert.Equal(t, "boom", st.Error)

	st, err = e.Status(panicked)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseFailed, st.Phase)
	assert.Contains(t, st.Error, "kaput")

	assert.Len(t, e.List(), 2)
}

func TestExecutor_ProgressStream(t *testing.T) {
	e := NewExecutor()
	start := make(chan struct{})
	id := e.Submit("stream", func(p *models.ProgressTracker) (string, error) {
		<-start
		p.Update(10, "one")
		p.Update(60, "two")
		return "done", nil
	})

	tr, err := e.Tracker(id)
	require.NoError(t, err)
	events := tr.Subscribe(16)
	close(start)

	var last models.ProgressEvent
	var seen []float64
	for ev := range events {
		seen = append(seen, ev.Percent)
		last = ev
	}
	assert.Equal(t, []float64{10, 60, 100}, seen)
	assert.Equal(t, models.PhaseCompleted, last.Phase)
	assert.Equal(t, "done", last.Result)

	late := tr.Subscribe(1)
	ev, ok := <-late
	require.True(t, ok)
	assert.Equal(t, models.PhaseCompleted, ev.Phase)
	_, ok = <-late
	assert.False(t, ok)
}

func TestExecutor_Unknown(t *testing.T) {
	e := NewExecutor()
	_, err := e.Tracker("x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, e.Remove("x"), ErrNotFound)
	assert.Empty(t, e.List())
}
