package workflow

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/flowpilot/testutil"
	"github.com/BaSui01/flowpilot/workflow/dsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func conditionOf(s string) dsl.Condition { return dsl.Condition(s) }

func TestEventLog_ConcurrentReaders(t *testing.T) {
	log := newEventLog()

	var wg sync.WaitGroup
	results := make([][]Event, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = testutil.Collect(log.all())
		}()
	}

	for i := 0; i < 5; i++ {
		log.append(StepStarted{StepRef: StepRef{StepIndex: i}})
	}
	log.close()
	log.append(StepStarted{}) // ignored after close
	wg.Wait()

	for _, r := range results {
		require.Len(t, r, 5)
		assert.Equal(t, 4, r[4].(StepStarted).StepIndex)
	}
	assert.Len(t, testutil.Collect(log.all()), 5)
}

func TestEventLog_EarlyBreak(t *testing.T) {
	log := newEventLog()
	log.append(StepStarted{})
	log.append(StepCompleted{})

	n := 0
	for range log.all() {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

func TestEventLog_BlocksUntilClosed(t *testing.T) {
	log := newEventLog()
	done := make(chan []Event)
	go func() { done <- testutil.Collect(log.all()) }()

	_, finished := testutil.WaitForChannel(done, 20*time.Millisecond)
	assert.False(t, finished)

	log.append(WorkflowCompleted{})
	log.close()
	events, ok := testutil.WaitForChannel(done, 5*time.Second)
	require.True(t, ok)
	assert.Len(t, events, 1)
}

func TestProgressLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	p := openProgressLog(dir, "exec-1", zap.NewNop())
	require.NotNil(t, p)

	p.record(StepStarted{StepRef: StepRef{StepID: "a"}})
	p.record(StepFailed{StepRef: StepRef{StepID: "a"}, Err: assert.AnError})
	p.Close()

	data, err := os.ReadFile(filepath.Join(dir, "exec-1.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"event":"step_started"`)
	assert.Contains(t, string(data), `"event":"step_failed"`)
}

func TestProgressLog_Disabled(t *testing.T) {
	assert.Nil(t, openProgressLog("", "exec-1", zap.NewNop()))

	// a file where the directory should be
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	p := openProgressLog(blocker, "exec-1", zap.NewNop())
	assert.Nil(t, p)

	// nil logs are safe to use
	p.record(StepStarted{})
	p.Close()
}
