package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/motorcart-next/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupRepositoryTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createStockItem(t *testing.T, db *gorm.DB, vehicleID uint, total int) *models.StockItem {
	t.Helper()
	item := &models.StockItem{VehicleID: vehicleID, TotalStock: total}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("create stock item failed: %v", err)
	}
	return item
}

func reloadStockItem(t *testing.T, db *gorm.DB, id uint) models.StockItem {
	t.Helper()
	var item models.StockItem
	if err := db.First(&item, id).Error; err != nil {
		t.Fatalf("reload stock item failed: %v", err)
	}
	return item
}

func TestStockItemRepositoryReserveRespectsAvailability(t *testing.T) {
	db := setupRepositoryTestDB(t, "stock_reserve")
	repo := NewStockItemRepository(db)
	item := createStockItem(t, db, 1, 3)

	rows, err := repo.Reserve(item.ID, 2)
	if err != nil || rows != 1 {
		t.Fatalf("reserve 2 want rows=1 got rows=%d err=%v", rows, err)
	}
	rows, err = repo.Reserve(item.ID, 2)
	if err != nil {
		t.Fatalf("reserve over availability failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("reserve over availability should affect 0 rows, got %d", rows)
	}
	rows, err = repo.Reserve(item.ID, 1)
	if err != nil || rows != 1 {
		t.Fatalf("reserve last unit want rows=1 got rows=%d err=%v", rows, err)
	}

	got := reloadStockItem(t, db, item.ID)
	if got.ReservedQty != 3 || got.Available() != 0 {
		t.Fatalf("unexpected counters: reserved=%d available=%d", got.ReservedQty, got.Available())
	}
}

func TestStockItemRepositoryCommitAndRestock(t *testing.T) {
	db := setupRepositoryTestDB(t, "stock_commit")
	repo := NewStockItemRepository(db)
	item := createStockItem(t, db, 1, 5)

	if _, err := repo.Reserve(item.ID, 2); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	rows, err := repo.CommitReserved(item.ID, 2)
	if err != nil || rows != 1 {
		t.Fatalf("commit want rows=1 got rows=%d err=%v", rows, err)
	}
	got := reloadStockItem(t, db, item.ID)
	if got.ReservedQty != 0 || got.CommittedQty != 2 {
		t.Fatalf("after commit reserved=%d committed=%d", got.ReservedQty, got.CommittedQty)
	}

	rows, err = repo.Restock(item.ID, 3)
	if err != nil {
		t.Fatalf("restock over committed failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("restock over committed should affect 0 rows, got %d", rows)
	}
	rows, err = repo.Restock(item.ID, 2)
	if err != nil || rows != 1 {
		t.Fatalf("restock want rows=1 got rows=%d err=%v", rows, err)
	}
	got = reloadStockItem(t, db, item.ID)
	if got.CommittedQty != 0 || got.Available() != 5 {
		t.Fatalf("after restock committed=%d available=%d", got.CommittedQty, got.Available())
	}
}

func TestStockItemRepositorySetTotalStockBelowHeld(t *testing.T) {
	db := setupRepositoryTestDB(t, "stock_total")
	repo := NewStockItemRepository(db)
	item := createStockItem(t, db, 1, 4)

	if _, err := repo.Reserve(item.ID, 3); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	rows, err := repo.SetTotalStock(item.ID, 2, nil)
	if err != nil {
		t.Fatalf("set total failed: %v", err)
	}
	if rows != 0 {
		t.Fatalf("total below held quantity should be rejected")
	}
	rows, err = repo.SetTotalStock(item.ID, 10, map[string]interface{}{"updated_by": "admin:1"})
	if err != nil || rows != 1 {
		t.Fatalf("raise total want rows=1 got rows=%d err=%v", rows, err)
	}
	got := reloadStockItem(t, db, item.ID)
	if got.TotalStock != 10 || got.UpdatedBy != "admin:1" {
		t.Fatalf("unexpected stock item after update: %+v", got)
	}
}

func TestStockItemRepositoryGetByVehicleNotFound(t *testing.T) {
	db := setupRepositoryTestDB(t, "stock_lookup")
	repo := NewStockItemRepository(db)
	createStockItem(t, db, 7, 1)

	item, err := repo.GetByVehicle(7, 0)
	if err != nil || item == nil {
		t.Fatalf("base stock item lookup failed: item=%v err=%v", item, err)
	}
	item, err = repo.GetByVehicle(7, 99)
	if err != nil {
		t.Fatalf("missing lookup failed: %v", err)
	}
	if item != nil {
		t.Fatalf("missing configuration should return nil")
	}
}
