package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/config"
	"mailflow/internal/model"
	"mailflow/internal/queue"
)

type fakeScheduleMessages struct {
	created      []*model.Message
	jobIDs       map[string]string
	failedBatch  string
	failedReason string
}

func (f *fakeScheduleMessages) CreateBatch(ctx context.Context, messages []*model.Message) error {
	f.created = messages
	return nil
}

func (f *fakeScheduleMessages) SetJobID(ctx context.Context, id, jobID string) error {
	if f.jobIDs == nil {
		f.jobIDs = make(map[string]string)
	}
	f.jobIDs[id] = jobID
	return nil
}

func (f *fakeScheduleMessages) FailBatch(ctx context.Context, batchID, reason string) error {
	f.failedBatch = batchID
	f.failedReason = reason
	return nil
}

type fakeScheduleBatches struct {
	created *model.Batch
}

func (f *fakeScheduleBatches) Create(ctx context.Context, b *model.Batch) error {
	f.created = b
	return nil
}

type fakeScheduleSenders struct {
	byID       *model.Sender
	byIDErr    error
	defaultOne *model.Sender
	anyOne     *model.Sender
}

func (f *fakeScheduleSenders) FindByID(ctx context.Context, id string) (*model.Sender, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byID, nil
}

func (f *fakeScheduleSenders) FindDefaultActive(ctx context.Context, userID string) (*model.Sender, error) {
	if f.defaultOne == nil {
		return nil, pgx.ErrNoRows
	}
	return f.defaultOne, nil
}

func (f *fakeScheduleSenders) FindAnyActive(ctx context.Context, userID string) (*model.Sender, error) {
	if f.anyOne == nil {
		return nil, pgx.ErrNoRows
	}
	return f.anyOne, nil
}

type fakeBulkEnqueuer struct {
	items []queue.BulkItem
	err   error
}

func (f *fakeBulkEnqueuer) EnqueueBulk(ctx context.Context, items []queue.BulkItem) ([]string, error) {
	f.items = items
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = queue.JobID(item.Job.MessageID, item.Job.Attempt)
	}
	return ids, nil
}

func newScheduleService(msgs *fakeScheduleMessages, batches *fakeScheduleBatches, senders *fakeScheduleSenders, q *fakeBulkEnqueuer) *ScheduleService {
	return NewScheduleService(msgs, batches, senders, q,
		config.WorkerConfig{Concurrency: 5, MaxRetries: 3, InitialRetryDelayMs: 5000},
		config.SchedulerConfig{Timezone: "UTC"},
		zap.NewNop(),
	)
}

func TestScheduleBatch(t *testing.T) {
	msgs := &fakeScheduleMessages{}
	batches := &fakeScheduleBatches{}
	senders := &fakeScheduleSenders{defaultOne: &model.Sender{ID: "s1", UserID: "u1", IsActive: true}}
	q := &fakeBulkEnqueuer{}
	svc := newScheduleService(msgs, batches, senders, q)

	start := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	res, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{
		Recipients:   []string{"a@x.io", "b@x.io", "c@x.io"},
		Subject:      "hi",
		Body:         "<p>hi</p>",
		StartTime:    start,
		DelaySeconds: 30,
		HourlyLimit:  100,
	})
	if err != nil {
		t.Fatalf("ScheduleBatch: %v", err)
	}

	if res.Batch.TotalEmails != 3 || res.Batch.ScheduledEmails != 3 {
		t.Errorf("batch totals = %d/%d; want 3/3", res.Batch.TotalEmails, res.Batch.ScheduledEmails)
	}
	if len(res.Messages) != 3 || len(msgs.created) != 3 {
		t.Fatalf("messages created = %d; want 3", len(msgs.created))
	}

	for i, m := range res.Messages {
		want := start.Add(time.Duration(i) * 30 * time.Second)
		if !m.ScheduledAt.Equal(want) {
			t.Errorf("message %d scheduled at %v; want %v", i, m.ScheduledAt, want)
		}
		if m.SenderID == nil || *m.SenderID != "s1" {
			t.Errorf("message %d sender = %v; want s1", i, m.SenderID)
		}
		if m.BatchIndex != i {
			t.Errorf("message %d batch index = %d", i, m.BatchIndex)
		}
		if m.JobID == nil || *m.JobID != queue.JobID(m.ID, 1) {
			t.Errorf("message %d job id = %v; want deterministic id", i, m.JobID)
		}
	}

	if len(q.items) != 3 {
		t.Fatalf("enqueued %d items; want 3", len(q.items))
	}
	if q.items[1].Opts.Priority != 1 || q.items[1].Job.Attempt != 1 {
		t.Errorf("item 1 priority=%d attempt=%d; want 1/1", q.items[1].Opts.Priority, q.items[1].Job.Attempt)
	}
	if q.items[0].Opts.Attempts != 3 {
		t.Errorf("item attempts = %d; want 3", q.items[0].Opts.Attempts)
	}
}

func TestScheduleBatchPastStartClampsToNow(t *testing.T) {
	senders := &fakeScheduleSenders{anyOne: &model.Sender{ID: "s1", UserID: "u1", IsActive: true}}
	svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, senders, &fakeBulkEnqueuer{})

	before := time.Now()
	res, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{
		Recipients:  []string{"a@x.io"},
		StartTime:   time.Now().Add(-time.Hour),
		HourlyLimit: 10,
	})
	if err != nil {
		t.Fatalf("ScheduleBatch: %v", err)
	}
	if res.Batch.StartTime.Before(before) {
		t.Errorf("start time %v stayed in the past", res.Batch.StartTime)
	}
}

func TestScheduleBatchSenderResolution(t *testing.T) {
	t.Run("explicit sender not found", func(t *testing.T) {
		senders := &fakeScheduleSenders{byIDErr: pgx.ErrNoRows}
		svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, senders, &fakeBulkEnqueuer{})
		_, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}, SenderID: "gone"})
		if !errors.Is(err, ErrInvalidSender) {
			t.Errorf("err = %v; want ErrInvalidSender", err)
		}
	})

	t.Run("explicit sender owned by someone else", func(t *testing.T) {
		senders := &fakeScheduleSenders{byID: &model.Sender{ID: "s9", UserID: "other", IsActive: true}}
		svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, senders, &fakeBulkEnqueuer{})
		_, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}, SenderID: "s9"})
		if !errors.Is(err, ErrInvalidSender) {
			t.Errorf("err = %v; want ErrInvalidSender", err)
		}
	})

	t.Run("explicit sender inactive", func(t *testing.T) {
		senders := &fakeScheduleSenders{byID: &model.Sender{ID: "s1", UserID: "u1", IsActive: false}}
		svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, senders, &fakeBulkEnqueuer{})
		_, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}, SenderID: "s1"})
		if !errors.Is(err, ErrInvalidSender) {
			t.Errorf("err = %v; want ErrInvalidSender", err)
		}
	})

	t.Run("no sender at all", func(t *testing.T) {
		svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, &fakeScheduleSenders{}, &fakeBulkEnqueuer{})
		_, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}})
		if !errors.Is(err, ErrNoSender) {
			t.Errorf("err = %v; want ErrNoSender", err)
		}
	})

	t.Run("falls back to any active sender", func(t *testing.T) {
		senders := &fakeScheduleSenders{anyOne: &model.Sender{ID: "s2", UserID: "u1", IsActive: true}}
		svc := newScheduleService(&fakeScheduleMessages{}, &fakeScheduleBatches{}, senders, &fakeBulkEnqueuer{})
		res, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}})
		if err != nil {
			t.Fatalf("ScheduleBatch: %v", err)
		}
		if *res.Messages[0].SenderID != "s2" {
			t.Errorf("sender = %s; want s2", *res.Messages[0].SenderID)
		}
	})
}

func TestScheduleBatchEnqueueFailureFailsBatch(t *testing.T) {
	msgs := &fakeScheduleMessages{}
	senders := &fakeScheduleSenders{defaultOne: &model.Sender{ID: "s1", UserID: "u1", IsActive: true}}
	q := &fakeBulkEnqueuer{err: errors.New("redis down")}
	svc := newScheduleService(msgs, &fakeScheduleBatches{}, senders, q)

	_, err := svc.ScheduleBatch(context.Background(), "u1", ScheduleRequest{Recipients: []string{"a@x.io"}})
	if err == nil {
		t.Fatal("ScheduleBatch succeeded despite enqueue failure")
	}
	if msgs.failedBatch == "" {
		t.Error("batch messages were not failed after enqueue error")
	}
}
