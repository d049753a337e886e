package bus

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler receives each parsed inbound event. It is invoked on the
// transport's receive goroutine, so implementations must hand slow
// work (recognition, persistence) to their own workers.
type Handler func(Event)

// ClientConfig carries the transport settings for Connect.
type ClientConfig struct {
	BrokerURL    string
	ClientID     string
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

// Client wraps the MQTT transport. It reconnects with bounded backoff,
// re-subscribes the controller's topic set on every (re)connection and
// exposes connection state as a readable flag.
type Client struct {
	inner     mqtt.Client
	logger    *slog.Logger
	handler   Handler
	connected atomic.Bool
}

// NewClient builds the bus client. Call Connect to start the session.
func NewClient(cfg ClientConfig, handler Handler, logger *slog.Logger) *Client {
	c := &Client{logger: logger, handler: handler}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.MinReconnect).
		SetMaxReconnectInterval(cfg.MaxReconnect).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	c.inner = mqtt.NewClient(opts)
	return c
}

// Connect starts the session. The transport keeps retrying in the
// background, so a broker that is down at start-up is not fatal.
func (c *Client) Connect() error {
	token := c.inner.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("bus connect: %w", err)
	}
	return nil
}

// Disconnect publishes the retained offline status and closes the
// session.
func (c *Client) Disconnect() {
	if c.inner.IsConnected() {
		tok := c.inner.Publish(TopicStatus, 1, true, StatusDisconnected)
		tok.WaitTimeout(time.Second)
	}
	c.inner.Disconnect(500)
	c.connected.Store(false)
}

// IsConnected reports whether the transport session is up.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Publish sends one message, blocking until the transport accepts it.
func (c *Client) Publish(topic string, qos byte, retain bool, payload string) error {
	token := c.inner.Publish(topic, qos, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// onConnect runs on every successful (re)connection: the fixed topic
// set is re-subscribed and the retained online status is published.
func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.logger.Info("connected to message bus")

	for _, topic := range []string{TopicData, TopicAlert} {
		token := client.Subscribe(topic, 1, c.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("subscribe failed", "topic", topic, "error", err)
		}
	}

	client.Publish(TopicStatus, 1, true, StatusConnected)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.logger.Warn("message bus connection lost", "error", err)
}

// onMessage parses and dispatches one inbound message. A malformed
// payload is logged and skipped; it never kills the receive loop.
func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	event, err := ParseEvent(msg.Payload())
	if err != nil {
		c.logger.Error("dropping malformed bus message",
			"topic", msg.Topic(), "error", err)
		return
	}
	c.handler(event)
}
