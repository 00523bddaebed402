package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"mailflow/internal/model"
)

type fakeSenderStore struct {
	count    int
	created  *model.Sender
	updated  *model.Sender
	byID     *model.Sender
	byIDErr  error
	deleted  bool
	deleteOK bool
}

func (f *fakeSenderStore) Create(ctx context.Context, s *model.Sender) error {
	f.created = s
	return nil
}

func (f *fakeSenderStore) Update(ctx context.Context, s *model.Sender) error {
	f.updated = s
	return nil
}

func (f *fakeSenderStore) FindByID(ctx context.Context, id string) (*model.Sender, error) {
	if f.byIDErr != nil {
		return nil, f.byIDErr
	}
	return f.byID, nil
}

func (f *fakeSenderStore) ListByUser(ctx context.Context, userID string) ([]*model.Sender, error) {
	return nil, nil
}

func (f *fakeSenderStore) CountByUser(ctx context.Context, userID string) (int, error) {
	return f.count, nil
}

func (f *fakeSenderStore) Delete(ctx context.Context, id, userID string) (bool, error) {
	f.deleted = true
	return f.deleteOK, nil
}

type fakeUsage struct {
	referenced bool
}

func (f *fakeUsage) HasMessagesForSender(ctx context.Context, senderID string) (bool, error) {
	return f.referenced, nil
}

func TestCreateFirstSenderBecomesDefault(t *testing.T) {
	store := &fakeSenderStore{count: 0}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	s, err := svc.Create(context.Background(), "u1", SenderInput{Email: "a@x.io", Name: "A", IsActive: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.IsDefault {
		t.Error("first sender was not made default")
	}
}

func TestCreateLaterSenderKeepsRequestedDefault(t *testing.T) {
	store := &fakeSenderStore{count: 2}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	s, err := svc.Create(context.Background(), "u1", SenderInput{Email: "b@x.io", IsActive: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.IsDefault {
		t.Error("later sender forced default without being asked")
	}
}

func TestDeleteLastReferencedSenderRefused(t *testing.T) {
	store := &fakeSenderStore{count: 1, deleteOK: true}
	svc := NewSenderService(store, &fakeUsage{referenced: true}, zap.NewNop())

	if err := svc.Delete(context.Background(), "u1", "s1"); !errors.Is(err, ErrLastSender) {
		t.Errorf("Delete = %v; want ErrLastSender", err)
	}
	if store.deleted {
		t.Error("delete reached the store despite refusal")
	}
}

func TestDeleteLastUnreferencedSenderAllowed(t *testing.T) {
	store := &fakeSenderStore{count: 1, deleteOK: true}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	if err := svc.Delete(context.Background(), "u1", "s1"); err != nil {
		t.Errorf("Delete = %v; want nil for unreferenced last sender", err)
	}
}

func TestDeleteSenderNotFound(t *testing.T) {
	store := &fakeSenderStore{count: 2, deleteOK: false}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	if err := svc.Delete(context.Background(), "u1", "ghost"); !errors.Is(err, ErrSenderNotFound) {
		t.Errorf("Delete = %v; want ErrSenderNotFound", err)
	}
}

func TestGetSenderOwnership(t *testing.T) {
	store := &fakeSenderStore{byID: &model.Sender{ID: "s1", UserID: "other"}}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	if _, err := svc.Get(context.Background(), "u1", "s1"); !errors.Is(err, ErrSenderNotFound) {
		t.Errorf("Get = %v; want ErrSenderNotFound for foreign sender", err)
	}

	store.byIDErr = pgx.ErrNoRows
	if _, err := svc.Get(context.Background(), "u1", "s1"); !errors.Is(err, ErrSenderNotFound) {
		t.Errorf("Get = %v; want ErrSenderNotFound for missing sender", err)
	}
}

func TestUpdateSenderKeepsPasswordWhenOmitted(t *testing.T) {
	pw := "secret"
	store := &fakeSenderStore{byID: &model.Sender{ID: "s1", UserID: "u1", SMTPPassword: &pw}}
	svc := NewSenderService(store, &fakeUsage{}, zap.NewNop())

	s, err := svc.Update(context.Background(), "u1", "s1", SenderInput{Email: "a@x.io", IsActive: true})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if s.SMTPPassword == nil || *s.SMTPPassword != "secret" {
		t.Error("omitted password overwrote the stored one")
	}
}
