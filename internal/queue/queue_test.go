package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, zap.NewNop()), mr
}

func TestEnqueueDuplicateRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	job := SendJob{MessageID: "m1", Attempt: 1}

	if _, err := q.Enqueue(ctx, job, Options{}); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, job, Options{}); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("second Enqueue = %v; want ErrDuplicateJob", err)
	}

	ids, err := q.Due(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("delayed set holds %d entries; want 1", len(ids))
	}
}

func TestEnqueueRollsBackPayloadOnDelayedSetFailure(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	job := SendJob{MessageID: "m1", Attempt: 2}

	// A string at the delayed-set key makes ZADD fail after the payload
	// write succeeded.
	if err := mr.Set(delayedKey, "wrong-type"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(ctx, job, Options{}); err == nil {
		t.Fatal("Enqueue succeeded against a corrupt delayed set")
	}
	if mr.Exists(payloadKey(JobID("m1", 2))) {
		t.Fatal("payload survived the failed enqueue")
	}

	// Once the failure clears, the same job must enqueue cleanly instead
	// of being rejected as a duplicate of the residue.
	mr.Del(delayedKey)
	id, err := q.Enqueue(ctx, job, Options{})
	if err != nil {
		t.Fatalf("re-enqueue after failure: %v", err)
	}
	ids, err := q.Due(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("delayed set = %v; want [%s]", ids, id)
	}
}

func TestEnqueueBulkRollsBackOnDelayedSetFailure(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	items := []BulkItem{
		{Job: SendJob{MessageID: "m1", Attempt: 1}},
		{Job: SendJob{MessageID: "m2", Attempt: 1}},
	}

	if err := mr.Set(delayedKey, "wrong-type"); err != nil {
		t.Fatal(err)
	}
	if _, err := q.EnqueueBulk(ctx, items); err == nil {
		t.Fatal("EnqueueBulk succeeded against a corrupt delayed set")
	}
	for _, id := range []string{JobID("m1", 1), JobID("m2", 1)} {
		if mr.Exists(payloadKey(id)) {
			t.Errorf("payload %s survived the failed bulk enqueue", id)
		}
	}

	mr.Del(delayedKey)
	jobIDs, err := q.EnqueueBulk(ctx, items)
	if err != nil {
		t.Fatalf("re-enqueue after failure: %v", err)
	}
	ids, err := q.Due(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != len(jobIDs) {
		t.Errorf("delayed set holds %d entries; want %d", len(ids), len(jobIDs))
	}
}

func TestRemoveDropsPayloadAndMember(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, SendJob{MessageID: "m1", Attempt: 1}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Remove(ctx, id); err != nil {
		t.Fatal(err)
	}

	if mr.Exists(payloadKey(id)) {
		t.Error("payload survived Remove")
	}
	ids, err := q.Due(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("delayed set = %v; want empty", ids)
	}
}
