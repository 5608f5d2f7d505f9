package models

import (
	"fmt"
	"testing"
	"time"
)

func TestOpenDBZeroPoolKeepsSharedMemoryDatabase(t *testing.T) {
	dsn := fmt.Sprintf("file:models_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := OpenDB("sqlite", dsn, DBPoolConfig{}, false)
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	t.Cleanup(func() { _ = CloseDB(db) })

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	var count int64
	if err := db.Model(&Vehicle{}).Count(&count).Error; err != nil {
		t.Fatalf("vehicles table should survive between statements: %v", err)
	}
	if count != 0 {
		t.Fatalf("want empty vehicles table got %d", count)
	}
}

func TestOpenDBRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenDB("oracle", "", DBPoolConfig{}, false); err == nil {
		t.Fatalf("unknown driver should be rejected")
	}
}
