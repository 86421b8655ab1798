// Package notify publishes upload outcomes to an MQTT broker so dashboards
// and other ground tools can follow them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/logging"
)

const (
	qos    = 1
	retain = false

	connectTimeout = 5 * time.Second
	quiesceMillis  = 250
)

// MQTTOptions configures NewMQTT
type MQTTOptions struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	Logger   inter.Logger
}

// MQTTNotifier implements inter.Notifier on a paho client
type MQTTNotifier struct {
	client mqtt.Client
	topic  string
	log    inter.Logger
}

var _ inter.Notifier = (*MQTTNotifier)(nil)

// uploadEvent is the published JSON document
type uploadEvent struct {
	inter.UploadRecord
	Succeeded  bool    `json:"succeeded"`
	DurationMs float64 `json:"duration_ms"`
}

// NewMQTT connects to the broker and returns a notifier
func NewMQTT(opts MQTTOptions) (*MQTTNotifier, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt: no broker configured")
	}
	if opts.Topic == "" {
		return nil, errors.New("mqtt: no topic configured")
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetProtocolVersion(4) // MQTT 3.1.1
	if opts.Username != "" {
		co.SetUsername(opts.Username).SetPassword(opts.Password)
	}

	client := mqtt.NewClient(co)
	tok := client.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", opts.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", opts.Broker, err)
	}
	return newMQTTNotifier(client, opts.Topic, opts.Logger), nil
}

func newMQTTNotifier(client mqtt.Client, topic string, log inter.Logger) *MQTTNotifier {
	if log == nil {
		log = logging.Nop()
	}
	return &MQTTNotifier{client: client, topic: topic, log: log}
}

// Publish sends rec as JSON and waits for the broker's acknowledgement or ctx
func (n *MQTTNotifier) Publish(ctx context.Context, rec inter.UploadRecord) error {
	payload, err := json.Marshal(uploadEvent{
		UploadRecord: rec,
		Succeeded:    rec.Succeeded(),
		DurationMs:   float64(rec.FinishedAt.Sub(rec.StartedAt)) / float64(time.Millisecond),
	})
	if err != nil {
		return err
	}

	tok := n.client.Publish(n.topic, qos, retain, payload)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", rec.ID, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", rec.ID, err)
	}
	n.log.Debug("upload published", "topic", n.topic, "upload_id", rec.ID)
	return nil
}

func (n *MQTTNotifier) Close() {
	n.client.Disconnect(quiesceMillis)
}

// Nop discards notifications; used when no broker is configured
type Nop struct{}

func (Nop) Publish(context.Context, inter.UploadRecord) error { return nil }
func (Nop) Close()                                            {}
