package audit

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMQTTConnectTimeout = 10 * time.Second
	defaultMQTTPublishTimeout = 5 * time.Second
	defaultMQTTKeepAlive      = 60 * time.Second
	defaultMQTTTopicPrefix    = "authcore/audit"
	mqttDisconnectQuiesceMS   = 1000
)

// ErrMQTTConnect is returned by DialMQTT when the broker cannot be reached.
var ErrMQTTConnect = errors.New("mqtt connection failed")

// MQTTConfig describes the broker connection used by [DialMQTT].
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TLS         bool
	TopicPrefix string
	QoS         byte
	Timeout     time.Duration
}

// Publisher is the subset of a paho client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// DialMQTT connects a paho client with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig) (pahomqtt.Client, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultMQTTConnectTimeout)
	opts.SetKeepAlive(defaultMQTTKeepAlive)
	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultMQTTConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, defaultMQTTConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return client, nil
}

// CloseMQTT disconnects after letting in-flight publishes finish.
func CloseMQTT(client pahomqtt.Client) {
	if client != nil {
		client.Disconnect(mqttDisconnectQuiesceMS)
	}
}

// MQTTSink publishes each event as JSON to <prefix>/<event_type>.
type MQTTSink struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	onError func(error)
}

// NewMQTTSink wraps pub. onError may be nil.
func NewMQTTSink(pub Publisher, cfg MQTTConfig, onError func(error)) *MQTTSink {
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = defaultMQTTTopicPrefix
	}
	qos := cfg.QoS
	if qos > 2 {
		qos = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMQTTPublishTimeout
	}
	return &MQTTSink{pub: pub, prefix: prefix, qos: qos, timeout: timeout, onError: onError}
}

// Topic returns the topic an event type is published to.
func (s *MQTTSink) Topic(eventType string) string {
	return s.prefix + "/" + eventType
}

func (s *MQTTSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.pub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.fail(err)
		return
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	token := s.pub.Publish(s.Topic(event.EventType), s.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		s.fail(fmt.Errorf("mqtt publish %s: timeout after %v", event.EventType, timeout))
		return
	}
	if err := token.Error(); err != nil {
		s.fail(fmt.Errorf("mqtt publish %s: %w", event.EventType, err))
	}
}

func (s *MQTTSink) fail(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}
