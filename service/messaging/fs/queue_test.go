package fs

import (
	"context"
	"fmt"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/viant/afs"
)

type jobDispatch struct {
	RunID   string `json:"runId"`
	Job     string `json:"job"`
	Attempt int    `json:"attempt"`
}

func TestQueue(t *testing.T) {
	tempDir, err := os.MkdirTemp("/tmp", "queue-test")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	fs := afs.New()
	ctx := context.Background()

	config := Config{
		BasePath:   tempDir,
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	}

	queue, err := NewQueue[jobDispatch](fs, config)
	assert.NoError(t, err)
	assert.NotNil(t, queue)

	dirs := []string{
		queue.pendingDir,
		queue.processingDir,
		queue.completedDir,
		queue.failedDir,
		queue.dlqDir,
	}

	for _, dir := range dirs {
		exists, err := fs.Exists(ctx, dir)
		assert.NoError(t, err)
		assert.True(t, exists, fmt.Sprintf("Directory %s should exist", dir))
	}

	testCases := []jobDispatch{
		{RunID: "run-1", Job: "build", Attempt: 1},
		{RunID: "run-1", Job: "test", Attempt: 1},
		{RunID: "run-1", Job: "lint", Attempt: 1},
	}

	for _, payload := range testCases {
		err := queue.Publish(ctx, &payload)
		assert.NoError(t, err)
	}

	objects, err := fs.List(ctx, queue.pendingDir)
	assert.NoError(t, err)
	assert.Equal(t, 3, len(objects)-1, "Should have 3 files in pending directory")

	for i := 0; i < len(testCases); i++ {
		message, err := queue.Consume(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, message)

		payload := message.T()
		assert.NotNil(t, payload)
		assert.Contains(t, []string{"build", "test", "lint"}, payload.Job)

		err = message.Ack()
		assert.NoError(t, err)

		completedObjects, err := fs.List(ctx, queue.completedDir)
		assert.NoError(t, err)
		assert.Equal(t, i+1, len(completedObjects)-1, "Should have completed objects")
	}

	// Failure and retry
	payload := jobDispatch{RunID: "run-2", Job: "build", Attempt: 1}
	err = queue.Publish(ctx, &payload)
	assert.NoError(t, err)

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)

	err = message.Nack(nil)
	assert.NoError(t, err)

	failedObjects, err := fs.List(ctx, queue.failedDir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(failedObjects)-1, "Should have one file in failed directory")

	// The failed message is retried ahead of pending ones
	message, err = queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)

	err = message.Nack(nil)
	assert.NoError(t, err)

	message, err = queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)

	// Third nack exceeds MaxRetries
	err = message.Nack(nil)
	assert.NoError(t, err)

	dlqObjects, err := fs.List(ctx, queue.dlqDir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(dlqObjects)-1, "Should have one file in DLQ directory")

	message, err = queue.Consume(ctx)
	assert.NoError(t, err)
	assert.Nil(t, message, "Should have no more messages to consume")
}

func TestQueueInitialization(t *testing.T) {
	fs := afs.New()
	_, err := NewQueue[jobDispatch](fs, Config{})
	assert.Error(t, err, "Should error with empty BasePath")

	tempDir := path.Join(os.TempDir(), fmt.Sprintf("queue-init-test-%d", time.Now().UnixNano()))
	config := Config{
		BasePath:   tempDir,
		MaxRetries: 2,
	}

	queue, err := NewQueue[jobDispatch](fs, config)
	assert.NoError(t, err)
	assert.NotNil(t, queue)

	os.RemoveAll(tempDir)
}
