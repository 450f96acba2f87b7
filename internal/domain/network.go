package domain

import "time"

// Network module related models

// NetDevice router device data model, a RouterOS-capable gateway managed
// over the binary API
type NetDevice struct {
	ID              int64     `json:"id,string" form:"id"`                        // Primary key ID
	Name            string    `json:"name" form:"name"`                           // Device name
	Ipaddr          string    `json:"ipaddr" form:"ipaddr"`                       // Device IP
	ApiPort         int       `json:"api_port" form:"api_port"`                   // Device API Port
	ApiTLS          bool      `json:"api_tls" form:"api_tls"`                     // Use TLS for API connection
	ApiState        string    `json:"api_state" form:"api_state"`                 // Device API State (enabled/disabled)
	Username        string    `json:"username" form:"username"`                   // Device login username
	Password        string    `json:"password" form:"password"`                   // Device login password
	ApiLastProbeAt  time.Time `json:"api_last_probe_at"`                          // Last API probe time
	ApiLastResult   string    `json:"api_last_result" form:"api_last_result"`     // Last API probe result (ok/failed)
	ApiLastMessage  string    `json:"api_last_message" form:"api_last_message"`   // Last API probe message or error
	SnmpPort        int       `json:"snmp_port" form:"snmp_port"`                 // Device SNMP Port
	SnmpCommunity   string    `json:"snmp_community" form:"snmp_community"`       // Device SNMP Community string
	SnmpState       string    `json:"snmp_state" form:"snmp_state"`               // Device SNMP State (enabled/disabled)
	Model           string    `json:"model" form:"model"`                         // Device model
	SnmpLastProbeAt time.Time `json:"snmp_last_probe_at"`                         // Last SNMP probe time
	SnmpLastResult  string    `json:"snmp_last_result" form:"snmp_last_result"`   // Last SNMP probe result (ok/failed)
	SnmpLastMessage string    `json:"snmp_last_message" form:"snmp_last_message"` // Last SNMP probe message or error
	VendorCode      string    `json:"vendor_code" form:"vendor_code"`             // Device vendor code
	Status          string    `json:"status" form:"status"`                       // Device status (enabled/disabled)
	Active          bool      `json:"active" form:"active"`                       // Currently selected device
	Latency         int       `json:"latency" form:"latency"`                     // Device latency in milliseconds
	Tags            string    `json:"tags" form:"tags"`                           // Tags
	Remark          string    `json:"remark" form:"remark"`                       // Remark
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetDevice) TableName() string {
	return "net_device"
}

// NetScheduler scheduler task data model for managing scheduled jobs
type NetScheduler struct {
	ID          int64     `json:"id,string" form:"id"`              // Primary key ID
	Name        string    `json:"name" form:"name"`                 // Scheduler name
	TaskType    string    `json:"task_type" form:"task_type"`       // Task type (telemetry_sample, latency_check, snmp_model, api_probe)
	Interval    int       `json:"interval" form:"interval"`         // Interval in seconds
	Status      string    `json:"status" form:"status"`             // Status (enabled/disabled)
	LastRunAt   time.Time `json:"last_run_at"`                      // Last execution time
	NextRunAt   time.Time `json:"next_run_at"`                      // Next scheduled execution time
	LastResult  string    `json:"last_result" form:"last_result"`   // Last execution result (success/failed)
	LastMessage string    `json:"last_message" form:"last_message"` // Last execution message or error
	Config      string    `json:"config" form:"config"`             // JSON config for task-specific settings
	Remark      string    `json:"remark" form:"remark"`             // Remark
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName Specify table name
func (NetScheduler) TableName() string {
	return "net_scheduler"
}
