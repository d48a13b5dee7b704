// Package influxdb provides InfluxDB connectivity for Fleetgate.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, metric writing, and health monitoring.
//
// # Purpose
//
// This package handles time-series telemetry for:
//   - Inbound device message rates and payload sizes
//   - Access control decision outcomes
//
// # Usage
//
//	cfg := config.InfluxDB{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "fleetgate",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteMessageMetric("7f3c92e1", "thermometer", "devices/7f3c92e1/data", 48)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via a
// callback. Connection and health check errors are returned directly.
package influxdb
