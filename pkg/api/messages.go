package api

// Load reporting

type LoadReportRequest struct {
	ServiceName string `cbor:"service_name"`
	Scope       string `cbor:"scope,omitempty"`
}

type ServerStats struct {
	RequestCapacity int32 `cbor:"request_capacity"`
	CurrentRequests int32 `cbor:"current_requests"`
	// CPU utilization of the host in 0..1
	ServerUtilization float64 `cbor:"server_utilization"`
}

type LoadReportResponse struct {
	ServerStats *ServerStats `cbor:"server_stats,omitempty"`
	// >= 0 overrides the ranking computed from ServerStats
	KnownLoadRate  float64 `cbor:"known_load_rate"`
	TimestampTicks int64   `cbor:"timestamp_ticks"`
}

// Service discovery

type DiscoverServicesRequest struct {
	ServiceName string `cbor:"service_name"`
	MaxCount    int32  `cbor:"max_count"`
}

type ServiceLocationMsg struct {
	Scope       string `cbor:"scope"`
	ServiceName string `cbor:"service_name"`
	HostName    string `cbor:"host_name"`
	Port        int32  `cbor:"port"`
}

type DiscoverServicesResponse struct {
	ServiceLocations []*ServiceLocationMsg `cbor:"service_locations"`
}

// Process administration

type CancelRequest struct {
	UserName    string `cbor:"user_name"`
	Environment string `cbor:"environment"`
}

type CancelAllRequest struct{}

type CancelResponse struct {
	Success bool `cbor:"success"`
}
