package repository

import (
	"testing"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
)

func TestPaymentEventRepositoryCreateIfAbsent(t *testing.T) {
	db := setupRepositoryTestDB(t, "payment_event")
	repo := NewPaymentEventRepository(db)

	first := &models.PaymentEvent{EventID: "evt_1", OrderID: 1, EventType: constants.PaymentEventAuthorized, Result: constants.PaymentEventResultApplied, ReceivedAt: time.Now()}
	created, err := repo.CreateIfAbsent(first)
	if err != nil || !created {
		t.Fatalf("first insert want created got created=%v err=%v", created, err)
	}
	dup := &models.PaymentEvent{EventID: "evt_1", OrderID: 1, EventType: constants.PaymentEventAuthorized, Result: constants.PaymentEventResultApplied, ReceivedAt: time.Now()}
	created, err = repo.CreateIfAbsent(dup)
	if err != nil {
		t.Fatalf("duplicate insert failed: %v", err)
	}
	if created {
		t.Fatalf("duplicate event should not be created")
	}

	events, err := repo.ListByOrder(1)
	if err != nil || len(events) != 1 {
		t.Fatalf("list by order want 1 got %d err=%v", len(events), err)
	}
}

func TestPromotionalCodeRepositoryIncrementUsageLimit(t *testing.T) {
	db := setupRepositoryTestDB(t, "promo_usage")
	repo := NewPromotionalCodeRepository(db)
	promo := &models.PromotionalCode{Code: " spring10 ", RuleType: constants.PromoRulePercentage, UsageLimit: 1, IsActive: true}
	if err := repo.Create(promo); err != nil {
		t.Fatalf("create promo failed: %v", err)
	}

	got, err := repo.GetByCode("Spring10")
	if err != nil || got == nil {
		t.Fatalf("lookup should be case-insensitive: promo=%v err=%v", got, err)
	}
	rows, err := repo.IncrementUsage(promo.ID)
	if err != nil || rows != 1 {
		t.Fatalf("first usage want rows=1 got rows=%d err=%v", rows, err)
	}
	rows, err = repo.IncrementUsage(promo.ID)
	if err != nil {
		t.Fatalf("second usage failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("usage limit should stop the second increment")
	}
}
