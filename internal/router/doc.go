// Package router dispatches device traffic between the MQTT transport
// and the registry, and gates outbound sends through the access control
// decision engine.
//
// # Inbound
//
// Devices announce themselves on the registration topic. The router
// resolves the device (creating it on first contact), subscribes the
// device's data topic, and publishes an acknowledgment carrying the
// canonical device ID and a signed enrollment token. Subsequent data
// topic events are persisted as inbound messages and refresh the
// device's last-seen timestamp. Malformed payloads are logged and
// dropped.
//
// # Outbound
//
// SendToDevice evaluates the calling user against the target device
// before anything touches the transport. Denials and transport failures
// both produce a send-fail audit record with the reason; a successful
// publish produces exactly one send-ok record. An abandoned send
// (caller context expired) leaves no outcome record.
package router
