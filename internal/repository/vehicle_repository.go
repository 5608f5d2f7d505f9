package repository

import (
	"errors"

	"github.com/motorcart-next/internal/models"

	"gorm.io/gorm"
)

// VehicleRepository 车型与配置数据访问接口
type VehicleRepository interface {
	GetByID(id uint) (*models.Vehicle, error)
	GetConfiguration(vehicleID, configurationID uint) (*models.VehicleConfiguration, error)
	ListConfigurations(vehicleID uint) ([]models.VehicleConfiguration, error)
	Create(vehicle *models.Vehicle) error
	CreateConfiguration(configuration *models.VehicleConfiguration) error
	WithTx(tx *gorm.DB) VehicleRepository
}

// GormVehicleRepository GORM 实现
type GormVehicleRepository struct {
	db *gorm.DB
}

// NewVehicleRepository 创建车型仓库
func NewVehicleRepository(db *gorm.DB) *GormVehicleRepository {
	return &GormVehicleRepository{db: db}
}

// WithTx 绑定事务
func (r *GormVehicleRepository) WithTx(tx *gorm.DB) VehicleRepository {
	if tx == nil {
		return r
	}
	return &GormVehicleRepository{db: tx}
}

// GetByID 根据 ID 获取车型
func (r *GormVehicleRepository) GetByID(id uint) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	if err := r.db.First(&vehicle, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &vehicle, nil
}

// GetConfiguration 获取车型下的指定配置
func (r *GormVehicleRepository) GetConfiguration(vehicleID, configurationID uint) (*models.VehicleConfiguration, error) {
	var configuration models.VehicleConfiguration
	if err := r.db.Where("id = ? AND vehicle_id = ?", configurationID, vehicleID).First(&configuration).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &configuration, nil
}

// ListConfigurations 获取车型的全部配置
func (r *GormVehicleRepository) ListConfigurations(vehicleID uint) ([]models.VehicleConfiguration, error) {
	var configurations []models.VehicleConfiguration
	if err := r.db.Where("vehicle_id = ?", vehicleID).Order("id asc").Find(&configurations).Error; err != nil {
		return nil, err
	}
	return configurations, nil
}

// Create 创建车型
func (r *GormVehicleRepository) Create(vehicle *models.Vehicle) error {
	return r.db.Create(vehicle).Error
}

// CreateConfiguration 创建配置
func (r *GormVehicleRepository) CreateConfiguration(configuration *models.VehicleConfiguration) error {
	return r.db.Create(configuration).Error
}
