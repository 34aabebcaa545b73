package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MQTT broker configuration
type Config struct {
	Enabled   bool   `env:"ENABLED, default=false"`                           // connect to the broker at all
	ServerURL string `env:"SERVER_URL, default=mqtt://broker.hivemq.com:1883"` // MQTT server URL
	Username  string `env:"USERNAME"`                                         // MQTT Username to use when connecting to server
	Password  string `env:"PASSWORD"`                                         // MQTT Password to use when connecting to server
	ClientID  string `env:"CLIENT_ID"`                                        // generated when empty

	KeepAlive uint16 `env:"KEEP_ALIVE, default=60"` // seconds between keepalive packets

	// topic prefixes, the device id is appended
	TelemetryTopic string `env:"TELEMETRY_TOPIC, default=lab/telemetry/"`
	CommandTopic   string `env:"COMMAND_TOPIC, default=lab/cmd/"`
}

// Validate checks the parts of the configuration needed to connect.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid MQTT server URL %q: %w", c.ServerURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid MQTT server URL %q: scheme and host required", c.ServerURL)
	}
	if c.TelemetryTopic == "" || c.CommandTopic == "" {
		return errors.New("MQTT telemetry and command topics must not be empty")
	}
	return nil
}

func (c Config) telemetryTopic(deviceID string) string { return c.TelemetryTopic + deviceID }
func (c Config) commandTopic(deviceID string) string   { return c.CommandTopic + deviceID }

// ErrNotConnected is returned by Publish before Connect succeeded.
var ErrNotConnected = errors.New("mqtt client not connected")

const (
	qos = byte(0) // qos to utilise when publishing and subscribing, telemetry is fire and forget

	reconnectPoll = 500 * time.Millisecond
)

// Handler is called for every message received on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client is a reconnecting MQTT connection with a fixed set of
// subscriptions, renewed whenever the connection comes up.
type Client struct {
	config        Config
	client        *autopaho.ConnectionManager
	isConnected   atomic.Bool
	subscriptions []string
	handler       Handler
}

func NewClient(cfg Config, subscriptions []string, handler Handler) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "telemetry-cache-" + uuid.NewString()
	}
	return &Client{
		config:        cfg,
		subscriptions: subscriptions,
		handler:       handler,
	}
}

// IsConnected reports whether the broker connection is currently up.
func (c *Client) IsConnected() bool {
	return c.isConnected.Load()
}

// Connect starts the connection manager and blocks until the first
// connection is up or ctx is done. Reconnects happen in the background.
func (c *Client) Connect(ctx context.Context) error {
	parsedURL, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return fmt.Errorf("failed to parse server URL (%s): %w", c.config.ServerURL, err)
	}

	subscriptions := make([]paho.SubscribeOptions, 0, len(c.subscriptions))
	for _, topic := range c.subscriptions {
		subscriptions = append(subscriptions, paho.SubscribeOptions{Topic: topic, QoS: qos})
	}

	router := func(msg *paho.Publish) {
		log.Debug().Msgf("Received message on %s: %s", msg.Topic, msg.Payload)
		if c.handler != nil {
			c.handler(msg.Topic, msg.Payload)
		}
	}

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:                    []*url.URL{parsedURL},
		KeepAlive:                     c.config.KeepAlive,
		CleanStartOnInitialConnection: true,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			log.Info().Msg("MQTT connection up")
			c.isConnected.Store(true)
			if len(subscriptions) == 0 {
				return
			}
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: subscriptions,
			}); err != nil {
				log.Error().Msgf("Failed to subscribe: %s", err)
				return
			}
			log.Info().Msgf("MQTT subscription made: %v", c.subscriptions)
		},

		OnConnectError: func(err error) {
			c.isConnected.Store(false)
			log.Error().Msgf("Error whilst attempting connection: %s", err)
		},

		ClientConfig: paho.ClientConfig{
			ClientID: c.config.ClientID,
			Router:   paho.NewStandardRouterWithDefault(router),
			OnClientError: func(err error) {
				c.isConnected.Store(false)
				log.Error().Msgf("Client error: %s", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				c.isConnected.Store(false)
				if d.Properties != nil {
					log.Error().Msgf("Server requested disconnect: %s", d.Properties.ReasonString)
				} else {
					log.Error().Msgf("Server requested disconnect with reason code: %d", d.ReasonCode)
				}
			},
		},
	}

	if c.config.Username != "" {
		cliCfg.ConnectUsername = c.config.Username
		cliCfg.ConnectPassword = []byte(c.config.Password)
	}

	log.Info().Msgf("Connect to MQTT broker %s as %s...", parsedURL.Host, c.config.ClientID)
	c.client, err = autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	// Wait for the connection to come up
	if err = c.client.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// AwaitConnection blocks until the connection is up or ctx is done.
func (c *Client) AwaitConnection(ctx context.Context) error {
	for !c.isConnected.Load() {
		log.Debug().Msg("Waiting for MQTT connection ...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectPoll):
		}
	}
	return nil
}

func (c *Client) Disconnect(ctx context.Context) {
	if c.client != nil {
		if err := c.client.Disconnect(ctx); err != nil {
			log.Error().Msgf("Failed to disconnect: %s", err)
		}
	}
	c.isConnected.Store(false)
	log.Info().Msg("Disconnected from MQTT broker")
}

// Publish sends payload to topic, waiting for the connection to come up.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.client == nil {
		return ErrNotConnected
	}
	if err := c.AwaitConnection(ctx); err != nil {
		return err
	}

	if _, err := c.client.Publish(ctx, &paho.Publish{
		QoS:     qos,
		Topic:   topic,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	log.Debug().Msgf("Published to %s: %s", topic, payload)
	return nil
}
