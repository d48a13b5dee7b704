package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteMessageMetric records an inbound device message.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Payload contents are never stored here, only the size, so telemetry
// stays cheap regardless of what devices send.
//
// Example:
//
//	client.WriteMessageMetric("7f3c92e1", "thermometer", "devices/7f3c92e1/data", 48)
func (c *Client) WriteMessageMetric(deviceID, deviceType, topic string, payloadBytes int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_messages",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]interface{}{
			"topic":         topic,
			"payload_bytes": payloadBytes,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDecisionMetric records the outcome of an access control decision.
//
// Used for dashboarding allow/deny rates per device without querying
// the audit table.
func (c *Client) WriteDecisionMetric(deviceID string, allowed bool) {
	if !c.IsConnected() {
		return
	}

	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}

	point := write.NewPoint(
		"access_decisions",
		map[string]string{
			"device_id": deviceID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
