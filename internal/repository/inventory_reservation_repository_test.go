package repository

import (
	"testing"
	"time"

	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/models"
)

func TestInventoryReservationRepositorySumLiveIgnoresExpired(t *testing.T) {
	db := setupRepositoryTestDB(t, "reservation_sum")
	repo := NewInventoryReservationRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	rows := []models.InventoryReservation{
		{ID: "rsv_live", StockItemID: 1, Quantity: 2, HolderID: "cart:1", Status: constants.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)},
		{ID: "rsv_stale", StockItemID: 1, Quantity: 3, HolderID: "cart:2", Status: constants.ReservationStatusActive, ExpiresAt: now.Add(-time.Minute)},
		{ID: "rsv_done", StockItemID: 1, Quantity: 4, HolderID: "cart:3", Status: constants.ReservationStatusCommitted, ExpiresAt: now.Add(time.Minute)},
		{ID: "rsv_other", StockItemID: 2, Quantity: 5, HolderID: "cart:4", Status: constants.ReservationStatusActive, ExpiresAt: now.Add(time.Minute)},
	}
	for i := range rows {
		if err := repo.Create(&rows[i]); err != nil {
			t.Fatalf("create reservation failed: %v", err)
		}
	}

	sum, err := repo.SumLive(1, now)
	if err != nil {
		t.Fatalf("sum live failed: %v", err)
	}
	if sum != 2 {
		t.Fatalf("sum live want 2 got %d", sum)
	}

	expired, err := repo.ListExpiredActive(1, now, 10)
	if err != nil {
		t.Fatalf("list expired failed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != "rsv_stale" {
		t.Fatalf("unexpected expired list: %+v", expired)
	}
}

func TestInventoryReservationRepositoryTransitionLiveRejectsExpired(t *testing.T) {
	db := setupRepositoryTestDB(t, "reservation_transition")
	repo := NewInventoryReservationRepository(db)
	now := time.Now().UTC().Truncate(time.Second)

	stale := models.InventoryReservation{ID: "rsv_a", StockItemID: 1, Quantity: 1, HolderID: "cart:1", Status: constants.ReservationStatusActive, ExpiresAt: now.Add(-time.Second)}
	if err := repo.Create(&stale); err != nil {
		t.Fatalf("create reservation failed: %v", err)
	}
	rows, err := repo.TransitionLive(stale.ID, constants.ReservationStatusCommitted, now, nil)
	if err != nil {
		t.Fatalf("transition live failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expired reservation should not be committed")
	}
	rows, err = repo.Extend(stale.ID, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("extend failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expired reservation should not be extended")
	}

	rows, err = repo.TransitionStatus(stale.ID, constants.ReservationStatusActive, constants.ReservationStatusExpired, nil)
	if err != nil || rows != 1 {
		t.Fatalf("expire want rows=1 got rows=%d err=%v", rows, err)
	}
	rows, err = repo.TransitionStatus(stale.ID, constants.ReservationStatusActive, constants.ReservationStatusExpired, nil)
	if err != nil {
		t.Fatalf("second expire failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("second expire should be a no-op")
	}
}

func TestInventoryReservationRepositoryUpdateHolder(t *testing.T) {
	db := setupRepositoryTestDB(t, "reservation_holder")
	repo := NewInventoryReservationRepository(db)
	now := time.Now().UTC()

	row := models.InventoryReservation{ID: "rsv_h", StockItemID: 1, Quantity: 1, HolderID: "cart:1", Status: constants.ReservationStatusActive, ExpiresAt: now.Add(time.Hour)}
	if err := repo.Create(&row); err != nil {
		t.Fatalf("create reservation failed: %v", err)
	}
	rows, err := repo.UpdateHolder(row.ID, "cart:9", "cart:2")
	if err != nil {
		t.Fatalf("update holder failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("holder mismatch should not transfer")
	}
	rows, err = repo.UpdateHolder(row.ID, "cart:1", "cart:2")
	if err != nil || rows != 1 {
		t.Fatalf("transfer want rows=1 got rows=%d err=%v", rows, err)
	}
	held, err := repo.ListByHolder("cart:2", constants.ReservationStatusActive)
	if err != nil || len(held) != 1 {
		t.Fatalf("list by holder want 1 got %d err=%v", len(held), err)
	}
}
