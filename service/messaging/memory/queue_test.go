package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type jobDispatch struct {
	RunID   string
	Job     string
	Attempt int
}

func TestQueue(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[jobDispatch](config)

	ctx := context.Background()
	payload := jobDispatch{
		RunID:   "run-1",
		Job:     "build",
		Attempt: 1,
	}

	err := queue.Publish(ctx, &payload)
	assert.NoError(t, err)
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, 0, queue.Size())

	msgData := message.T()
	assert.Equal(t, payload.RunID, msgData.RunID)
	assert.Equal(t, payload.Job, msgData.Job)
	assert.Equal(t, payload.Attempt, msgData.Attempt)

	err = message.Ack()
	assert.NoError(t, err)

	// Double ack should error
	err = message.Ack()
	assert.Error(t, err)
}

func TestQueueRetries(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 2
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[jobDispatch](config)

	ctx := context.Background()
	payload := jobDispatch{RunID: "run-2", Job: "test"}

	err := queue.Publish(ctx, &payload)
	assert.NoError(t, err)

	// Nack until the retry limit is exceeded
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		message, err := queue.Consume(ctx)
		assert.NoError(t, err)
		assert.NotNil(t, message)

		err = message.Nack(fmt.Errorf("attempt %d failed", attempt))
		assert.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
	}

	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, 1, queue.DLQSize())
}

func TestQueueConcurrency(t *testing.T) {
	config := DefaultConfig()
	config.RetryDelay = 10 * time.Millisecond
	queue := NewQueue[jobDispatch](config)

	ctx := context.Background()
	concurrency := 10
	messagesPerProducer := 10

	var wg sync.WaitGroup
	wg.Add(concurrency * 2)

	var consumedCount int
	var consumedMu sync.Mutex

	for i := 0; i < concurrency; i++ {
		go func() {
			defer wg.Done()

			for j := 0; j < messagesPerProducer; j++ {
				message, err := queue.Consume(ctx)
				if err != nil {
					t.Errorf("Error consuming: %v", err)
					continue
				}
				if message == nil {
					time.Sleep(10 * time.Millisecond)
					j--
					continue
				}

				err = message.Ack()
				assert.NoError(t, err)

				consumedMu.Lock()
				consumedCount++
				consumedMu.Unlock()
			}
		}()
	}

	for i := 0; i < concurrency; i++ {
		go func(producerID int) {
			defer wg.Done()

			for j := 0; j < messagesPerProducer; j++ {
				payload := jobDispatch{
					RunID:   fmt.Sprintf("run-%d", producerID),
					Job:     fmt.Sprintf("job-%d", j),
					Attempt: j,
				}

				if err := queue.Publish(ctx, &payload); err != nil {
					t.Errorf("Error publishing: %v", err)
				}
				time.Sleep(1 * time.Millisecond)
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Test timed out")
	}

	assert.Equal(t, concurrency*messagesPerProducer, consumedCount)
	assert.Equal(t, 0, queue.Size())
}

func TestQueueContextCancellation(t *testing.T) {
	queue := NewQueue[jobDispatch](DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := jobDispatch{RunID: "run-3"}
	err := queue.Publish(ctx, &payload)
	assert.Error(t, err)

	ctxWithTimeout, cancelTimeout := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelTimeout()

	// Consume should return once the context is done
	_, err = queue.Consume(ctxWithTimeout)
	assert.Error(t, err)

	// Queue stays usable after cancellation
	emptyCtx := context.Background()
	err = queue.Publish(emptyCtx, &payload)
	assert.NoError(t, err)

	message, err := queue.Consume(emptyCtx)
	assert.NoError(t, err)
	assert.NotNil(t, message)
}
