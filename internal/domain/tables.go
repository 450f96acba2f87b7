package domain

var Tables = []interface{}{
	// Network
	&NetDevice{},
	&NetScheduler{},
	&NetCommandLog{},
	// Telemetry
	&NetMetric{},
}
