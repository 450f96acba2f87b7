package domain

import "time"

// NetMetric stores one time-series telemetry point sampled from a device
type NetMetric struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DeviceId   int64     `gorm:"index:idx_net_metric_key" json:"device_id"`
	MetricType string    `gorm:"index:idx_net_metric_key" json:"metric_type"`
	Ts         time.Time `gorm:"index:idx_net_metric_key" json:"ts"`
	Value      float64   `json:"value"`
	Metadata   string    `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName Specify table name
func (NetMetric) TableName() string {
	return "net_metric"
}
