package mqtt

import "fmt"

// Topic prefixes for the Fleetgate MQTT namespace.
//
// Device-facing topics live under "devices/"; operational topics for the
// core itself live under "fleetgate/".
const (
	// TopicPrefixDevices is the base for all device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixSystem is the base for Fleetgate system topics.
	TopicPrefixSystem = "fleetgate/system"
)

// Topics provides builders for Fleetgate MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Register returns the well-known registration topic devices announce
// themselves on.
//
// Topic: devices/register
func (Topics) Register() string {
	return fmt.Sprintf("%s/register", TopicPrefixDevices)
}

// DeviceData returns the data topic for a specific device. Devices publish
// readings here; outbound commands from operators are published here too.
//
// Example: devices/7f3c92e1/data
func (Topics) DeviceData(deviceID string) string {
	return fmt.Sprintf("%s/%s/data", TopicPrefixDevices, deviceID)
}

// DeviceRegistered returns the acknowledgment topic for a device's
// registration. The core publishes the canonical device ID, the data
// topic to subscribe to, and an enrollment token here.
//
// Example: devices/7f3c92e1/registered
func (Topics) DeviceRegistered(deviceID string) string {
	return fmt.Sprintf("%s/%s/registered", TopicPrefixDevices, deviceID)
}

// AllDeviceData returns a pattern matching every device data topic.
//
// Pattern: devices/+/data
func (Topics) AllDeviceData() string {
	return fmt.Sprintf("%s/+/data", TopicPrefixDevices)
}

// SystemStatus returns the core's status topic, used for the online
// message and the Last Will and Testament.
//
// Topic: fleetgate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
