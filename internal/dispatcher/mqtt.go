package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/motionlab-io/motiond/internal/models"
)

// MQTTTransport publishes events to a broker topic at QoS 1. The broker
// acknowledgment stands in for the collector's; the stored record ID is not
// visible to the publisher, so Deliver returns an empty ID.
type MQTTTransport struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTTransport connects to the broker and returns a ready transport.
func NewMQTTTransport(brokerURL, topic, clientID string, timeout time.Duration) (*MQTTTransport, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true).
		SetCleanSession(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", brokerURL, err)
	}

	return &MQTTTransport{client: client, topic: topic, timeout: timeout}, nil
}

// Deliver implements Transport.
func (t *MQTTTransport) Deliver(ctx context.Context, event models.MotionEvent) (string, error) {
	body, err := json.Marshal(models.PayloadFromEvent(event))
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to encode event: %w", err))
	}

	token := t.client.Publish(t.topic, 1, false, body)
	if !token.WaitTimeout(t.timeout) {
		return "", fmt.Errorf("timed out publishing event %s", event.Key())
	}
	if err := token.Error(); err != nil {
		return "", fmt.Errorf("failed to publish event %s: %w", event.Key(), err)
	}
	return "", nil
}

// Close disconnects from the broker, allowing in-flight messages to finish.
func (t *MQTTTransport) Close() {
	t.client.Disconnect(250)
}
