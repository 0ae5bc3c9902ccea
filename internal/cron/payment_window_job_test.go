package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/swapdesk/swapdesk-backend/pkg/db/models"
	"github.com/swapdesk/swapdesk-backend/pkg/enums"
	"github.com/swapdesk/swapdesk-backend/pkg/logger"
	"github.com/swapdesk/swapdesk-backend/pkg/outbox"
)

func TestPaymentWindowJobRefundsStaleTransactions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	stale := models.Transaction{
		ID:          uuid.New(),
		ListingID:   uuid.New(),
		BuyerID:     uuid.New(),
		SellerID:    uuid.New(),
		AmountCents: 150000,
		State:       enums.TransactionStatePending,
	}
	reader := &fakePendingReader{rows: []models.Transaction{stale}}
	advancer := &fakeAdvancer{won: map[uuid.UUID]bool{stale.ID: true}}
	releaser := &fakeReleaser{released: true}
	emitter := &fakeCronEmitter{}
	job := newPaymentWindowJob(t, reader, advancer, releaser, emitter, 24*time.Hour)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-24 * time.Hour)
	if !reader.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, reader.lastCutoff)
	}
	if len(advancer.calls) != 1 {
		t.Fatalf("expected one advance call, got %d", len(advancer.calls))
	}
	call := advancer.calls[0]
	if call.from != enums.TransactionStatePending || call.to != enums.TransactionStateRefunded {
		t.Fatalf("unexpected transition %s -> %s", call.from, call.to)
	}
	if _, ok := call.extra["refunded_at"]; !ok {
		t.Fatalf("expected refunded_at column write")
	}
	if len(releaser.ids) != 1 || releaser.ids[0] != stale.ListingID {
		t.Fatalf("expected listing release for %s", stale.ListingID)
	}
	if len(emitter.events) != 2 {
		t.Fatalf("expected refund + release events, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType != enums.EventTransactionRefunded {
		t.Fatalf("first event should be refund, got %s", emitter.events[0].EventType)
	}
	if emitter.events[1].EventType != enums.EventListingReleased {
		t.Fatalf("second event should be listing release, got %s", emitter.events[1].EventType)
	}
}

func TestPaymentWindowJobSkipsTransactionsThatPaidMeanwhile(t *testing.T) {
	stale := models.Transaction{
		ID:        uuid.New(),
		ListingID: uuid.New(),
		State:     enums.TransactionStatePending,
	}
	reader := &fakePendingReader{rows: []models.Transaction{stale}}
	advancer := &fakeAdvancer{won: map[uuid.UUID]bool{}}
	releaser := &fakeReleaser{released: true}
	emitter := &fakeCronEmitter{}
	job := newPaymentWindowJob(t, reader, advancer, releaser, emitter, time.Hour)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(releaser.ids) != 0 {
		t.Fatalf("listing must stay reserved when the guard loses")
	}
	if len(emitter.events) != 0 {
		t.Fatalf("no events expected when the guard loses, got %d", len(emitter.events))
	}
}

func TestPaymentWindowJobContinuesPastRowErrors(t *testing.T) {
	bad := models.Transaction{ID: uuid.New(), ListingID: uuid.New()}
	good := models.Transaction{ID: uuid.New(), ListingID: uuid.New()}
	reader := &fakePendingReader{rows: []models.Transaction{bad, good}}
	advancer := &fakeAdvancer{
		won:  map[uuid.UUID]bool{good.ID: true},
		errs: map[uuid.UUID]error{bad.ID: errors.New("boom")},
	}
	releaser := &fakeReleaser{released: true}
	emitter := &fakeCronEmitter{}
	job := newPaymentWindowJob(t, reader, advancer, releaser, emitter, time.Hour)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected combined error")
	}
	if len(emitter.events) != 2 {
		t.Fatalf("good row should still be processed, got %d events", len(emitter.events))
	}
}

func newPaymentWindowJob(t *testing.T, reader *fakePendingReader, advancer *fakeAdvancer, releaser *fakeReleaser, emitter *fakeCronEmitter, window time.Duration) *paymentWindowJob {
	t.Helper()
	jobIface, err := NewPaymentWindowJob(PaymentWindowJobParams{
		Logger:             logger.New(logger.Options{ServiceName: "test"}),
		DB:                 cronTestTxRunner{},
		PendingReader:      reader,
		Outbox:             emitter,
		Window:             window,
		EscrowRepoFactory:  func(tx *gorm.DB) transactionAdvancer { return advancer },
		ListingRepoFactory: func(tx *gorm.DB) listingReleaser { return releaser },
	})
	if err != nil {
		t.Fatalf("NewPaymentWindowJob: %v", err)
	}
	job, ok := jobIface.(*paymentWindowJob)
	if !ok {
		t.Fatalf("expected paymentWindowJob, got %T", jobIface)
	}
	return job
}

type fakePendingReader struct {
	rows       []models.Transaction
	lastCutoff time.Time
}

func (f *fakePendingReader) FindPendingBefore(_ context.Context, cutoff time.Time) ([]models.Transaction, error) {
	f.lastCutoff = cutoff
	return f.rows, nil
}

type advanceCall struct {
	id    uuid.UUID
	from  enums.TransactionState
	to    enums.TransactionState
	extra map[string]any
}

type fakeAdvancer struct {
	won   map[uuid.UUID]bool
	errs  map[uuid.UUID]error
	calls []advanceCall
}

func (f *fakeAdvancer) Advance(_ context.Context, id uuid.UUID, from, to enums.TransactionState, extra map[string]any) (bool, error) {
	if err, ok := f.errs[id]; ok {
		return false, err
	}
	f.calls = append(f.calls, advanceCall{id: id, from: from, to: to, extra: extra})
	return f.won[id], nil
}

type fakeReleaser struct {
	released bool
	ids      []uuid.UUID
}

func (f *fakeReleaser) Release(_ context.Context, id uuid.UUID) (bool, error) {
	f.ids = append(f.ids, id)
	return f.released, nil
}

type fakeCronEmitter struct {
	events []outbox.DomainEvent
}

func (f *fakeCronEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type cronTestTxRunner struct{}

func (cronTestTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
