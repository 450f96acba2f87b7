package domain

import "time"

// NetCommandLog audit record for a device mutation issued through the API
// client (session terminate, probe, etc.)
type NetCommandLog struct {
	ID         int64     `json:"id,string"`
	DeviceId   int64     `gorm:"index" json:"device_id,string"`
	Action     string    `json:"action"`      // Domain action (terminate_session, api_probe, ...)
	Command    string    `json:"command"`     // Command path sent to the device
	Status     string    `json:"status"`      // success/failed
	ErrorMsg   string    `json:"error_msg"`   // Error message when failed
	ExecutedAt time.Time `json:"executed_at"` // Execution time
	CreatedAt  time.Time `json:"created_at"`
}

// TableName Specify table name
func (NetCommandLog) TableName() string {
	return "net_command_log"
}
