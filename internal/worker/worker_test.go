package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studioflow/internal/database"
	"studioflow/internal/models"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{}
	worker := NewSyncWorker(db, mirror, nil, RetryPolicy{}, nil)

	booking := testBooking(1)
	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, TaskUpsert, booking.ID, booking, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if mirror.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", mirror.upsertCalls)
	}
	assert.Equal(t, "Sala A", mirror.lastBooking.RoomName)
	assert.True(t, mirror.lastBooking.TotalPrice.Equal(decimal.RequireFromString("200.00")))
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{err: errors.New("boom")}
	worker := NewSyncWorker(db, mirror, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, TaskUpsert, 2, testBooking(2), ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}

	// Not due yet, so polling must skip it.
	n, err := worker.pollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{err: errors.New("fatal")}
	worker := NewSyncWorker(db, mirror, nil, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	require.NoError(t, worker.EnqueueTask(ctx, TaskUpsert, 3, testBooking(3), ""))
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != database.SyncStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}

	failed, err := db.GetFailedSyncTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].LastError)
	assert.Equal(t, "fatal", *failed[0].LastError)
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	worker := NewSyncWorker(db, &fakeMirror{}, nil, RetryPolicy{MaxRetries: 5}, nil)

	ctx := context.Background()
	task := models.SyncTask{TaskType: TaskUpsert, BookingID: 9, Payload: "not json"}
	require.NoError(t, db.CreateSyncTask(ctx, &task))

	worker.processTask(ctx, &task)

	status, retryCount, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, database.SyncStatusFailed, status)
	assert.Zero(t, retryCount)
}

func TestSyncWorker_Apply(t *testing.T) {
	mirror := &fakeMirror{}
	worker := NewSyncWorker(nil, mirror, nil, RetryPolicy{MaxRetries: 3}, nil)
	ctx := context.Background()

	t.Run("Upsert", func(t *testing.T) {
		err := worker.apply(ctx, TaskUpsert, syncPayload{Booking: &models.Booking{ID: 1, RoomName: "Sala A"}})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if mirror.upsertCalls != 1 {
			t.Fatalf("expected 1 upsert call, got %d", mirror.upsertCalls)
		}
	})

	t.Run("UpsertWithoutBooking", func(t *testing.T) {
		assert.Error(t, worker.apply(ctx, TaskUpsert, syncPayload{BookingID: 1}))
	})

	t.Run("Delete", func(t *testing.T) {
		err := worker.apply(ctx, TaskDelete, syncPayload{BookingID: 123})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if mirror.deleteCalls != 1 {
			t.Fatalf("expected 1 delete call, got %d", mirror.deleteCalls)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		err := worker.apply(ctx, TaskUpdateStatus, syncPayload{BookingID: 123, Status: models.StatusConfirmed})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if mirror.statusCalls != 1 {
			t.Fatalf("expected 1 status call, got %d", mirror.statusCalls)
		}
		assert.Equal(t, models.StatusConfirmed, mirror.lastStatus)
	})

	t.Run("UpdateStatusWithoutStatus", func(t *testing.T) {
		assert.Error(t, worker.apply(ctx, TaskUpdateStatus, syncPayload{BookingID: 123}))
	})

	t.Run("Unknown", func(t *testing.T) {
		assert.Error(t, worker.apply(ctx, "reindex", syncPayload{BookingID: 1}))
	})
}

func TestSyncWorker_EnqueueTask(t *testing.T) {
	db := newTestDB(t)
	worker := NewSyncWorker(db, &fakeMirror{}, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	booking := testBooking(1)

	t.Run("ValidTask", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, TaskUpsert, 1, booking, ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	})

	t.Run("BookingIDFromBooking", func(t *testing.T) {
		require.NoError(t, worker.EnqueueTask(ctx, TaskUpsert, 0, testBooking(7), ""))
		tasks, err := db.GetPendingSyncTasks(ctx, 10)
		require.NoError(t, err)
		var ids []int64
		for _, task := range tasks {
			ids = append(ids, task.BookingID)
		}
		assert.Contains(t, ids, int64(7))
	})

	t.Run("InvalidTaskType", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, "", 1, booking, ""); err == nil {
			t.Fatalf("expected error for empty task type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, TaskUpsert, 0, nil, ""); err == nil {
			t.Fatalf("expected error for missing booking id")
		}
	})
}

func TestSyncWorker_RedisQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	mirror := &fakeMirror{}
	worker := NewSyncWorker(db, mirror, client, RetryPolicy{}, nil)

	ctx := context.Background()
	require.NoError(t, worker.EnqueueTask(ctx, TaskDelete, 42, nil, ""))

	_, local := worker.tryLocalQueue()
	assert.False(t, local, "task should go through redis, not the local queue")

	task, ok := worker.tryRedis(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(42), task.BookingID)

	worker.processTask(ctx, &task)
	assert.Equal(t, 1, mirror.deleteCalls)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	assert.Equal(t, database.SyncStatusCompleted, status)
}

func TestSyncWorker_DeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	worker := NewSyncWorker(db, &fakeMirror{err: errors.New("sheet gone")}, client, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	require.NoError(t, worker.EnqueueTask(ctx, TaskUpdateStatus, 5, nil, models.StatusCanceled))
	task, ok := worker.tryRedis(ctx)
	require.True(t, ok)

	worker.processTask(ctx, &task)

	items, err := mr.List(deadLetterKey)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var dead models.SyncTask
	require.NoError(t, json.Unmarshal([]byte(items[0]), &dead))
	assert.Equal(t, task.ID, dead.ID)
}

func TestSyncWorker_PollPicksUpOrphanedTasks(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{}
	worker := NewSyncWorker(db, mirror, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	raw, err := json.Marshal(syncPayload{BookingID: 11, Status: models.StatusCompleted})
	require.NoError(t, err)
	task := models.SyncTask{TaskType: TaskUpdateStatus, BookingID: 11, Payload: string(raw)}
	require.NoError(t, db.CreateSyncTask(ctx, &task))

	n, err := worker.pollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, mirror.statusCalls)

	n, err = worker.pollOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncWorker_StartStops(t *testing.T) {
	db := newTestDB(t)
	mirror := &fakeMirror{}
	worker := NewSyncWorker(db, mirror, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, worker.EnqueueTask(ctx, TaskUpsert, 1, testBooking(1), ""))

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return mirror.upserts() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}

	if d := policy.NextDelay(1); d != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d)
	}
	if d := policy.NextDelay(2); d != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d)
	}
	if d := policy.NextDelay(5); d != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d)
	}
}

func TestRetryPolicyDo(t *testing.T) {
	errBusy := errors.New("busy")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errBusy) }
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	ctx := context.Background()

	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		calls := 0
		err := policy.Do(ctx, retryable, func() error {
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := policy.Do(ctx, retryable, func() error {
			calls++
			return errBusy
		})
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 3, calls)
	})

	t.Run("NonRetryable", func(t *testing.T) {
		calls := 0
		err := policy.Do(ctx, retryable, func() error {
			calls++
			return errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("ContextCanceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour}.Do(cctx, retryable, func() error {
			calls++
			return errBusy
		})
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, 1, calls)
	})
}

func TestDecodePayload(t *testing.T) {
	decoded, err := decodePayload(`{"booking_id":123,"status":"confirmed"}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.BookingID != 123 || decoded.Status != "confirmed" {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}

	if _, err := decodePayload(`invalid json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

// Helpers

type fakeMirror struct {
	mu          sync.Mutex
	err         error
	upsertCalls int
	deleteCalls int
	statusCalls int
	lastBooking *models.Booking
	lastStatus  string
}

func (f *fakeMirror) UpsertBooking(_ context.Context, b *models.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	f.lastBooking = b
	return f.err
}

func (f *fakeMirror) DeleteBookingRow(_ context.Context, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.err
}

func (f *fakeMirror) UpdateBookingStatus(_ context.Context, _ int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	f.lastStatus = status
	return f.err
}

func (f *fakeMirror) upserts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

func testBooking(id int64) *models.Booking {
	start := time.Date(2030, 5, 10, 10, 0, 0, 0, time.UTC)
	return &models.Booking{
		ID:          id,
		RoomID:      1,
		RoomName:    "Sala A",
		RequesterID: 1,
		StartTime:   start,
		EndTime:     start.Add(2 * time.Hour),
		TotalPrice:  decimal.RequireFromString("200.00"),
		Status:      models.StatusPending,
		CreatedAt:   start.Add(-24 * time.Hour),
		UpdatedAt:   start.Add(-24 * time.Hour),
		Version:     1,
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.Nop()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
