package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/talkincode/routerman/internal/domain"
	"gorm.io/gorm"
)

// GormStore persists metric points in the net_metric table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Insert(ctx context.Context, deviceID int64, p Point) error {
	row := domain.NetMetric{
		DeviceId:   deviceID,
		MetricType: string(p.Type),
		Ts:         p.Timestamp,
		Value:      p.Value,
		Metadata:   p.Metadata,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("telemetry: insert metric: %w", err)
	}
	return nil
}

func (s *GormStore) Last(ctx context.Context, deviceID int64, t MetricType) (*Point, error) {
	var row domain.NetMetric
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND metric_type = ?", deviceID, t).
		Order("ts DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: query last metric: %w", err)
	}
	p := toPoint(row)
	return &p, nil
}

func (s *GormStore) Range(ctx context.Context, deviceID int64, t MetricType) ([]Point, error) {
	var rows []domain.NetMetric
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND metric_type = ?", deviceID, t).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("telemetry: query metric range: %w", err)
	}
	points := make([]Point, len(rows))
	for i, row := range rows {
		points[i] = toPoint(row)
	}
	return points, nil
}

func (s *GormStore) DeleteBefore(ctx context.Context, deviceID int64, t MetricType, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("device_id = ? AND metric_type = ? AND ts < ?", deviceID, t, cutoff).
		Delete(&domain.NetMetric{})
	if res.Error != nil {
		return 0, fmt.Errorf("telemetry: prune metrics: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toPoint(row domain.NetMetric) Point {
	return Point{
		Type:      MetricType(row.MetricType),
		Value:     row.Value,
		Timestamp: row.Ts,
		Metadata:  row.Metadata,
	}
}
