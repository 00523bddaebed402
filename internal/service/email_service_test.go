package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/internal/model"
	"mailflow/internal/repository"
)

type fakeEmailMessages struct {
	msg     *model.Message
	findErr error
	counts  map[string]int
	deleted bool
	delOK   bool
}

func (f *fakeEmailMessages) FindByIDForUser(ctx context.Context, id, userID string) (*model.Message, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.msg, nil
}

func (f *fakeEmailMessages) List(ctx context.Context, userID string, opts repository.ListOptions) ([]*model.Message, int, error) {
	return nil, 0, nil
}

func (f *fakeEmailMessages) CountByStatus(ctx context.Context, userID string) (map[string]int, error) {
	return f.counts, nil
}

func (f *fakeEmailMessages) Delete(ctx context.Context, id, userID string) (bool, error) {
	f.deleted = true
	return f.delOK, nil
}

type fakeEmailBatches struct {
	batch *model.Batch
	err   error
}

func (f *fakeEmailBatches) FindByID(ctx context.Context, id string) (*model.Batch, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) Remove(ctx context.Context, jobID string) error {
	f.removed = append(f.removed, jobID)
	return nil
}

func newEmailService(msgs *fakeEmailMessages, batches *fakeEmailBatches, rm *fakeRemover) *EmailService {
	return NewEmailService(msgs, batches, rm, zap.NewNop())
}

func TestCancelScheduledMessage(t *testing.T) {
	jobID := "email-m1-attempt-1"
	msgs := &fakeEmailMessages{
		msg:   &model.Message{ID: "m1", Status: model.StatusScheduled, JobID: &jobID},
		delOK: true,
	}
	rm := &fakeRemover{}
	svc := newEmailService(msgs, &fakeEmailBatches{}, rm)

	if err := svc.Cancel(context.Background(), "u1", "m1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !msgs.deleted {
		t.Error("message row was not deleted")
	}
	if len(rm.removed) != 1 || rm.removed[0] != jobID {
		t.Errorf("removed jobs = %v; want [%s]", rm.removed, jobID)
	}
}

func TestCancelStatusRules(t *testing.T) {
	cases := []struct {
		status  string
		wantErr error
	}{
		{model.StatusProcessing, ErrNotCancellable},
		{model.StatusSent, ErrNotCancellable},
		{model.StatusFailed, ErrNotCancellable},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			msgs := &fakeEmailMessages{msg: &model.Message{ID: "m1", Status: tc.status}, delOK: true}
			svc := newEmailService(msgs, &fakeEmailBatches{}, &fakeRemover{})
			if err := svc.Cancel(context.Background(), "u1", "m1"); !errors.Is(err, tc.wantErr) {
				t.Errorf("Cancel(%s) = %v; want %v", tc.status, err, tc.wantErr)
			}
			if msgs.deleted {
				t.Errorf("delete attempted for %s message", tc.status)
			}
		})
	}
}

func TestCancelNotFound(t *testing.T) {
	msgs := &fakeEmailMessages{findErr: pgx.ErrNoRows}
	svc := newEmailService(msgs, &fakeEmailBatches{}, &fakeRemover{})
	if err := svc.Cancel(context.Background(), "u1", "m1"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("Cancel = %v; want ErrMessageNotFound", err)
	}
}

func TestCancelLostRace(t *testing.T) {
	msgs := &fakeEmailMessages{msg: &model.Message{ID: "m1", Status: model.StatusScheduled}, delOK: false}
	svc := newEmailService(msgs, &fakeEmailBatches{}, &fakeRemover{})
	if err := svc.Cancel(context.Background(), "u1", "m1"); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("Cancel = %v; want ErrNotCancellable when dispatcher won", err)
	}
}

func TestStats(t *testing.T) {
	msgs := &fakeEmailMessages{counts: map[string]int{
		model.StatusScheduled:   3,
		model.StatusSent:        5,
		model.StatusFailed:      1,
		model.StatusRateLimited: 2,
	}}
	svc := newEmailService(msgs, &fakeEmailBatches{}, &fakeRemover{})

	stats, err := svc.Stats(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 11 {
		t.Errorf("Total = %d; want 11", stats.Total)
	}
	if stats.Sent != 5 || stats.RateLimited != 2 {
		t.Errorf("Sent=%d RateLimited=%d; want 5/2", stats.Sent, stats.RateLimited)
	}
}

func TestGetBatchOwnership(t *testing.T) {
	batches := &fakeEmailBatches{batch: &model.Batch{ID: "b1", UserID: "other"}}
	svc := newEmailService(&fakeEmailMessages{}, batches, &fakeRemover{})
	if _, err := svc.GetBatch(context.Background(), "u1", "b1"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("GetBatch = %v; want ErrBatchNotFound for foreign batch", err)
	}
}
