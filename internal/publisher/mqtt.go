package publisher

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgoulah/delcoscraper/internal/config"
)

const publishTimeout = 10 * time.Second

// sender is the part of the MQTT client the publisher uses
type sender interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher publishes sensor states to Home Assistant over MQTT discovery
type Publisher struct {
	client          mqtt.Client
	sender          sender
	topicPrefix     string
	discoveryPrefix string
	logger          *zap.Logger
}

// New connects to the MQTT broker
func New(cfg config.MQTTConfig, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT publishing is not enabled in config")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("delcoscraper")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", err)
	}

	return &Publisher{
		client:          client,
		sender:          client,
		topicPrefix:     cfg.GetTopicPrefix(),
		discoveryPrefix: cfg.GetDiscoveryPrefix(),
		logger:          logger,
	}, nil
}

// StateTopic returns the topic a sensor's state is published on
func (p *Publisher) StateTopic(key string) string {
	return fmt.Sprintf("%s/%s/state", p.topicPrefix, key)
}

// ConfigTopic returns the discovery topic for a sensor
func (p *Publisher) ConfigTopic(key string) string {
	return fmt.Sprintf("%s/sensor/delco_water/%s/config", p.discoveryPrefix, key)
}

// PublishSensors announces every sensor and publishes the states present
// in values. Both are retained so Home Assistant picks them up on restart.
func (p *Publisher) PublishSensors(accountID string, values map[string]decimal.Decimal) (int, error) {
	published := 0
	for _, s := range Sensors {
		cfg, err := discoveryPayload(s, accountID, p.StateTopic(s.Key))
		if err != nil {
			return published, err
		}
		if err := p.publish(p.ConfigTopic(s.Key), cfg); err != nil {
			return published, err
		}

		value, ok := values[s.Key]
		if !ok {
			p.logger.Debug("no value for sensor", zap.String("sensor", s.Key))
			continue
		}
		state := value.StringFixed(int32(s.Precision))
		if err := p.publish(p.StateTopic(s.Key), state); err != nil {
			return published, err
		}
		p.logger.Debug("published sensor", zap.String("sensor", s.Key), zap.String("state", state))
		published++
	}
	return published, nil
}

func (p *Publisher) publish(topic string, payload interface{}) error {
	token := p.sender.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
