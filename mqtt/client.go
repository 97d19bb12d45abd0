package mqtt

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TopicRoot string
}

// AvailabilityTopic carries "online" while the client is connected and
// "offline" as the broker will message.
const AvailabilityTopic = "availability"

// MessageHandler receives the payload of a subscribed topic. The topic is
// relative to the client's topic root.
type MessageHandler func(topic string, payload []byte)

type Client struct {
	topicRoot string
	opts      *paho.ClientOptions
	client    paho.Client
	logger    zerolog.Logger

	mu       sync.Mutex
	handlers map[string]MessageHandler
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	opts := paho.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)

	c := &Client{
		topicRoot: cfg.TopicRoot,
		opts:      opts,
		logger:    logger.With().Str("component", "mqtt").Logger(),
		handlers:  map[string]MessageHandler{},
	}
	opts.SetWill(c.Topic(AvailabilityTopic), "offline", 1, true)

	// subscriptions are lost when the broker drops a clean session
	opts.SetOnConnectHandler(func(pc paho.Client) {
		c.logger.Info().Str("broker", cfg.BrokerURL).Msg("connected to broker")
		pc.Publish(c.Topic(AvailabilityTopic), 1, true, "online")
		c.mu.Lock()
		handlers := maps.Clone(c.handlers)
		c.mu.Unlock()
		for topic, handler := range handlers {
			if err := c.subscribe(pc, topic, handler); err != nil {
				c.logger.Error().Err(err).Str("topic", topic).Msg("unable to resubscribe")
			}
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn().Err(err).Msg("connection to broker lost")
	})

	return c
}

func (c *Client) Connect() error {
	c.client = paho.NewClient(c.opts)
	token := c.client.Connect()
	token.Wait()
	err := token.Error()
	if err != nil {
		return fmt.Errorf("connect error: %w", err)
	}

	return nil
}

func (c *Client) Disconnect() {
	if c.client == nil {
		return
	}

	// the will is not sent on a clean disconnect
	c.client.Publish(c.Topic(AvailabilityTopic), 1, true, "offline").WaitTimeout(time.Second)
	c.client.Disconnect(250)
}

// Topic scopes a relative topic under the topic root.
func (c *Client) Topic(topic string) string {
	if c.topicRoot == "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", c.topicRoot, topic)
}

func validateRelative(topic string) error {
	if len(topic) == 0 {
		return fmt.Errorf("topic is empty")
	}
	if topic[0] == '/' {
		return fmt.Errorf("expected relative topic (cannot begin with slash)")
	}
	return nil
}

// Publish JSON encodes payload and publishes it below the topic root.
func (c *Client) Publish(topic string, payload any, retained bool) error {
	if err := validateRelative(topic); err != nil {
		return err
	}
	return c.PublishAbsolute(c.Topic(topic), payload, retained)
}

// PublishAbsolute publishes outside the topic root, as needed for Home
// Assistant discovery messages.
func (c *Client) PublishAbsolute(topic string, payload any, retained bool) error {
	if c.client == nil {
		return fmt.Errorf("client not connected")
	}
	if len(topic) == 0 {
		return fmt.Errorf("topic is empty")
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("unable to encode payload for %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 0, retained, payloadBytes)
	go func() {
		token.Wait()
		err := token.Error()
		if err != nil {
			c.logger.Error().Err(err).Str("topic", topic).Msg("error publishing")
		}
	}()

	return nil
}

// Subscribe registers handler for a topic below the topic root. The
// subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if c.client == nil {
		return fmt.Errorf("client not connected")
	}
	if err := validateRelative(topic); err != nil {
		return err
	}

	c.mu.Lock()
	c.handlers[topic] = handler
	c.mu.Unlock()
	return c.subscribe(c.client, topic, handler)
}

func (c *Client) subscribe(pc paho.Client, topic string, handler MessageHandler) error {
	scopedTopic := c.Topic(topic)
	token := pc.Subscribe(scopedTopic, 1, func(_ paho.Client, msg paho.Message) {
		c.logger.Debug().Str("topic", msg.Topic()).Bytes("payload", msg.Payload()).Msg("received message")
		handler(topic, msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unable to subscribe to %s: %w", scopedTopic, err)
	}
	return nil
}
