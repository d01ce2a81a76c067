package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modal-labs/conveyor/model"
	"github.com/modal-labs/conveyor/runtime/execution"
)

func TestRunOpts_Event(t *testing.T) {
	testCases := []struct {
		description string
		opts        runOpts
		expect      *model.Event
	}{
		{
			description: "default branch",
			opts:        runOpts{branch: "main"},
			expect:      &model.Event{Kind: model.EventKindPush, Branch: "main", Ref: "refs/heads/main"},
		},
		{
			description: "branch with commit",
			opts:        runOpts{branch: "feature/x", commit: "4f2a9cc"},
			expect:      &model.Event{Kind: model.EventKindPush, Branch: "feature/x", Ref: "refs/heads/feature/x", Commit: "4f2a9cc"},
		},
		{
			description: "tag overrides branch",
			opts:        runOpts{branch: "main", tag: "v1.2.3"},
			expect:      &model.Event{Kind: model.EventKindPush, Tag: "v1.2.3", Ref: "refs/tags/v1.2.3"},
		},
		{
			description: "ref overrides tag and branch",
			opts:        runOpts{branch: "main", tag: "v1.2.3", ref: "refs/heads/dev"},
			expect:      &model.Event{Kind: model.EventKindPush, Branch: "dev", Ref: "refs/heads/dev"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			assert.EqualValues(t, testCase.expect, testCase.opts.event())
		})
	}
}

func TestRunOpts_EngineOptions(t *testing.T) {
	ctx := context.Background()
	logger := newLogger(&bytes.Buffer{}, log.InfoLevel)

	t.Run("default is auto", func(t *testing.T) {
		opts := runOpts{}
		options, stop, err := opts.engineOptions(ctx, logger)
		require.NoError(t, err)
		defer stop()
		assert.Len(t, options, 1)
	})

	t.Run("workers and deny policy", func(t *testing.T) {
		opts := runOpts{workers: 4, policy: "deny"}
		options, stop, err := opts.engineOptions(ctx, logger)
		require.NoError(t, err)
		defer stop()
		assert.Len(t, options, 3)
	})

	t.Run("ask policy wires an approval service", func(t *testing.T) {
		opts := runOpts{policy: "ask"}
		options, stop, err := opts.engineOptions(ctx, logger)
		require.NoError(t, err)
		stop()
		assert.Len(t, options, 3)
	})

	t.Run("unknown policy", func(t *testing.T) {
		opts := runOpts{policy: "maybe"}
		_, _, err := opts.engineOptions(ctx, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown policy mode")
	})
}

func TestPrintRunOutput(t *testing.T) {
	output := &execution.RunOutput{
		RunID:     "2f3e",
		State:     execution.StateFailed,
		Jobs:      map[string]execution.State{"rust": execution.StateFailed, "rustfmt": execution.StateCompleted},
		Errors:    map[string]string{"rust": "step clippy failed: exit status 101"},
		TimeTaken: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	printRunOutput(&buf, "ci", output)

	text := buf.String()
	assert.Contains(t, text, "ci failed (run 2f3e, took 1.5s)")
	assert.Contains(t, text, "rustfmt")
	assert.Contains(t, text, "step clippy failed: exit status 101")
}
