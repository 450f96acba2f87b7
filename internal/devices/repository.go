package devices

import (
	"context"
	"fmt"

	"github.com/talkincode/routerman/internal/domain"
	"gorm.io/gorm"
)

// DeviceRepository interface for device data access
type DeviceRepository interface {
	// GetByID retrieves a device by ID
	GetByID(ctx context.Context, id int64) (*domain.NetDevice, error)

	// GetActive retrieves the currently selected device
	GetActive(ctx context.Context) (*domain.NetDevice, error)

	// ListEnabled retrieves all enabled devices
	ListEnabled(ctx context.Context) ([]domain.NetDevice, error)

	// Updates applies column updates to a device row
	Updates(ctx context.Context, id int64, updates map[string]interface{}) error
}

// GormDeviceRepository is the database-backed repository
type GormDeviceRepository struct {
	DB *gorm.DB
}

func NewGormDeviceRepository(db *gorm.DB) *GormDeviceRepository {
	return &GormDeviceRepository{DB: db}
}

func (r *GormDeviceRepository) GetByID(ctx context.Context, id int64) (*domain.NetDevice, error) {
	var dev domain.NetDevice
	if err := r.DB.WithContext(ctx).First(&dev, id).Error; err != nil {
		return nil, fmt.Errorf("devices: device %d: %w", id, err)
	}
	return &dev, nil
}

func (r *GormDeviceRepository) GetActive(ctx context.Context) (*domain.NetDevice, error) {
	var dev domain.NetDevice
	if err := r.DB.WithContext(ctx).Where("active = ?", true).First(&dev).Error; err != nil {
		return nil, fmt.Errorf("devices: no active device: %w", err)
	}
	return &dev, nil
}

func (r *GormDeviceRepository) ListEnabled(ctx context.Context) ([]domain.NetDevice, error) {
	var devs []domain.NetDevice
	if err := r.DB.WithContext(ctx).Where("status = ?", "enabled").Find(&devs).Error; err != nil {
		return nil, fmt.Errorf("devices: list enabled: %w", err)
	}
	return devs, nil
}

func (r *GormDeviceRepository) Updates(ctx context.Context, id int64, updates map[string]interface{}) error {
	return r.DB.WithContext(ctx).Model(&domain.NetDevice{}).Where("id = ?", id).Updates(updates).Error
}
