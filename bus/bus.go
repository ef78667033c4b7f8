// Package bus names the per-sensor message channels and publishes onto an
// MQTT broker.
package bus

import (
	"context"
	"fmt"
)

// Every message the sensor sends is QoS 1 and never retained.
const (
	QoS      byte = 1
	Retained      = false
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics holds the names derived from a sensor identity.
type Topics struct {
	Data     string
	Status   string
	ClientID string
}

func TopicsFor(sensorID int) Topics {
	return Topics{
		Data:     fmt.Sprintf("sensors/audio/%d", sensorID),
		Status:   fmt.Sprintf("sensors/status/%d", sensorID),
		ClientID: fmt.Sprintf("sensor-%d", sensorID),
	}
}

// Publisher defines the message-bus operations the sensor relies on.
// Reconnects and keepalives are the implementation's business.
type Publisher interface {
	// Connect blocks until the broker accepted the session or ctx ends.
	Connect(ctx context.Context) error

	// Publish hands payload to the client without waiting for delivery.
	// Only failures known at call time are returned.
	Publish(topic string, payload []byte) error

	// Disconnect flushes pending work and closes the session.
	Disconnect()
}
