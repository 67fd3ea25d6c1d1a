package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/aircat-gateway/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the client writes to.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives messages on a subscribed topic. It runs on a paho
// goroutine; a returned error is logged and the message is still acked.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a paho connection bound to the gateway's topic tree.
//
// It announces itself on the system status topic, keeps a retained offline
// will registered, and replays its subscriptions after every reconnect.
// Safe for concurrent use.
type Client struct {
	paho   pahomqtt.Client
	opts   *pahomqtt.ClientOptions
	cfg    config.MQTTConfig
	topics Topics

	connected atomic.Bool

	hookMu       sync.RWMutex
	logger       Logger
	onConnect    func()
	onDisconnect func(err error)

	subMu sync.Mutex
	subs  map[string]subscription
}

// Connect dials the broker and waits up to ten seconds for the session.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)
	c.opts.SetOnConnectHandler(func(pahomqtt.Client) { c.connectionUp() })
	c.opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.connectionLost(err) })
	c.paho = pahomqtt.NewClient(c.opts)

	if err := await(c.paho.Connect(), connectTimeout); err != nil {
		// Connect retries in the background; stop it.
		c.paho.Disconnect(0)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The on-connect hook runs asynchronously. Publishing may start now.
	c.connected.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	topics := NewTopics(cfg.TopicPrefix)
	return &Client{
		opts:   clientOptions(cfg, topics),
		cfg:    cfg,
		topics: topics,
		subs:   make(map[string]subscription),
	}
}

// await blocks until token completes or timeout passes.
func await(token pahomqtt.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return token.Error()
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.connected.Load() && c.paho.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close announces a graceful offline status, which replaces the will, and
// disconnects. Safe on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		if err := c.publishStatus(statusOffline, reasonShutdown); err != nil {
			c.warn("publishing offline status", "error", err)
		}
	}
	c.paho.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// SetOnConnect registers fn to run after the first connect and every reconnect.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler failures and reconnect problems are logged.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) connectionUp() {
	c.connected.Store(true)
	c.resubscribe()
	if err := c.publishStatus(statusOnline, ""); err != nil {
		c.warn("publishing online status", "error", err)
	}

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) connectionLost(err error) {
	c.connected.Store(false)
	c.warn("MQTT connection lost", "broker", brokerURL(c.cfg), "error", err)

	c.hookMu.RLock()
	fn := c.onDisconnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// resubscribe replays tracked subscriptions on a fresh clean session.
func (c *Client) resubscribe() {
	c.subMu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.subMu.Unlock()

	for topic, s := range subs {
		if err := await(c.paho.Subscribe(topic, s.qos, c.wrap(s.handler)), opTimeout); err != nil {
			c.warn("restoring subscription", "topic", topic, "error", err)
		}
	}
}

func (c *Client) publishStatus(status, reason string) error {
	payload := buildStatusPayload(c.cfg.Broker.ClientID, status, reason)
	return await(c.paho.Publish(c.topics.SystemStatus(), byte(c.cfg.QoS), true, payload), opTimeout)
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

func (c *Client) warn(msg string, args ...any) {
	if l := c.log(); l != nil {
		l.Warn(msg, args...)
	}
}

// wrap adapts handler to paho. Handler panics are logged, never propagated
// into paho's router.
func (c *Client) wrap(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if p := recover(); p != nil {
				if l := c.log(); l != nil {
					l.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", p)
				}
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.warn("MQTT handler failed", "topic", msg.Topic(), "error", err)
		}
	}
}
