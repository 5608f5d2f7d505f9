package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/motorcart-next/internal/config"
	"github.com/motorcart-next/internal/constants"
	"github.com/motorcart-next/internal/logger"
	"github.com/motorcart-next/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func main() {
	// 连接数据库
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	base := logger.New(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger(base)
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, strings.EqualFold(cfg.Server.Mode, "debug"))
	if err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}
	defer func() { _ = models.CloseDB(db) }()

	// 自动迁移
	if err := models.AutoMigrate(db); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	if err := db.Transaction(seedCatalog); err != nil {
		stdLog.Fatalf("Failed to seed catalog: %v", err)
	}
	if err := seedPromoCodes(db); err != nil {
		stdLog.Fatalf("Failed to seed promo codes: %v", err)
	}
	fmt.Println("Seed data created successfully!")
}

type seedVehicle struct {
	vehicle models.Vehicle
	stock   int
	configs []seedConfiguration
}

type seedConfiguration struct {
	name    string
	delta   string
	options map[string]interface{}
	stock   int
}

func money(value string) models.Money {
	return models.NewMoney(decimal.RequireFromString(value))
}

func seedCatalog(tx *gorm.DB) error {
	vehicles := []seedVehicle{
		{
			vehicle: models.Vehicle{Make: "Rivera", Model: "Tourer", Year: 2026, Trim: "LX", BasePrice: money("42000"), Currency: "USD", IsActive: true, CreatedBy: "seed"},
			stock:   6,
			configs: []seedConfiguration{
				{name: "Winter Package", delta: "1800", options: map[string]interface{}{"heated_seats": true, "tow_hitch": false}, stock: 3},
				{name: "Tow Package", delta: "2400", options: map[string]interface{}{"tow_hitch": true, "max_tow_lbs": 5000}, stock: 2},
			},
		},
		{
			vehicle: models.Vehicle{Make: "Kestrel", Model: "EV Hatch", Year: 2026, Trim: "Long Range", BasePrice: money("36500"), Currency: "USD", IsActive: true, CreatedBy: "seed"},
			stock:   10,
			configs: []seedConfiguration{
				{name: "Fast Charge Kit", delta: "950", options: map[string]interface{}{"charger_kw": 19.2}, stock: 4},
			},
		},
		{
			vehicle: models.Vehicle{Make: "Halden", Model: "Ranger Pickup", Year: 2025, Trim: "Crew Cab", BasePrice: money("51250"), Currency: "USD", IsActive: true, CreatedBy: "seed"},
			stock:   1,
		},
	}

	for i := range vehicles {
		item := &vehicles[i]
		if err := tx.Where("make = ? AND model = ? AND year = ?", item.vehicle.Make, item.vehicle.Model, item.vehicle.Year).
			FirstOrCreate(&item.vehicle).Error; err != nil {
			return err
		}
		if err := ensureStock(tx, item.vehicle.ID, 0, item.stock); err != nil {
			return err
		}
		for _, cfg := range item.configs {
			configuration := models.VehicleConfiguration{
				VehicleID:  item.vehicle.ID,
				Name:       cfg.name,
				Options:    models.JSON(cfg.options),
				PriceDelta: money(cfg.delta),
				IsActive:   true,
			}
			if err := tx.Where("vehicle_id = ? AND name = ?", configuration.VehicleID, configuration.Name).
				FirstOrCreate(&configuration).Error; err != nil {
				return err
			}
			if err := ensureStock(tx, item.vehicle.ID, configuration.ID, cfg.stock); err != nil {
				return err
			}
		}
		fmt.Printf("Seeded vehicle %s %s (%d)\n", item.vehicle.Make, item.vehicle.Model, item.vehicle.Year)
	}
	return nil
}

func ensureStock(tx *gorm.DB, vehicleID, configurationID uint, total int) error {
	stock := models.StockItem{
		VehicleID:         vehicleID,
		ConfigurationID:   configurationID,
		TotalStock:        total,
		LowStockThreshold: 1,
		CreatedBy:         "seed",
	}
	return tx.Where("vehicle_id = ? AND configuration_id = ?", vehicleID, configurationID).
		FirstOrCreate(&stock).Error
}

func seedPromoCodes(db *gorm.DB) error {
	now := time.Now().UTC()
	ends := now.AddDate(0, 3, 0)
	maxDiscount := money("2500")
	codes := []models.PromotionalCode{
		{Code: "SPRING10", RuleType: constants.PromoRulePercentage, Value: money("10"), MaxDiscount: &maxDiscount, StartsAt: &now, EndsAt: &ends, IsActive: true, CreatedBy: "seed"},
		{Code: "LOYAL500", RuleType: constants.PromoRuleFlat, Value: money("500"), MinSubtotal: money("30000"), UsageLimit: 100, IsActive: true, CreatedBy: "seed"},
	}
	for i := range codes {
		if err := db.Where("code = ?", codes[i].Code).FirstOrCreate(&codes[i]).Error; err != nil {
			return err
		}
	}
	fmt.Printf("Seeded %d promo codes\n", len(codes))
	return nil
}
