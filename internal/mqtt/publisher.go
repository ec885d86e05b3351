package mqtt

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/hotword-go/internal/errors"
	"github.com/tphakala/hotword-go/internal/events"
	"github.com/tphakala/hotword-go/internal/logger"
	"github.com/tphakala/hotword-go/internal/observability/metrics"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// payload kinds used as metric labels
const (
	kindResult = "result"
	kindStatus = "status"
)

// ResultPayload is the JSON document published for each detection result.
type ResultPayload struct {
	Action    string    `json:"action"`
	Result    int       `json:"result"`
	Previous  int       `json:"previous"`
	Label     string    `json:"label,omitempty"`
	Hotword   bool      `json:"hotword"`
	SessionID string    `json:"sessionId"`
	Cycle     uint64    `json:"cycle"`
	Time      time.Time `json:"time"`
}

// StatusPayload is the retained JSON document on the status topic.
type StatusPayload struct {
	Connection string    `json:"connection"`
	State      string    `json:"state,omitempty"`
	Text       string    `json:"text,omitempty"`
	Time       time.Time `json:"time"`
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics records connection and publish metrics.
func WithMetrics(m *metrics.MQTTMetrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithLogger sets the publisher logger.
func WithLogger(log logger.Logger) Option {
	return func(p *Publisher) { p.log = log }
}

// withClientFactory replaces the paho client constructor.
func withClientFactory(f func(*paho.ClientOptions) paho.Client) Option {
	return func(p *Publisher) { p.newClient = f }
}

// Publisher is an events.Consumer that forwards results to an MQTT broker.
type Publisher struct {
	cfg       Config
	metrics   *metrics.MQTTMetrics
	log       logger.Logger
	newClient func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
}

// New creates a publisher. Call Connect before registering it on the event bus.
func New(cfg Config, opts ...Option) (*Publisher, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.Newf("mqtt publisher needs a broker and a topic").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(cfg.Broker); err != nil {
		return nil, errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", cfg.Broker).
			Build()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = def.DisconnectTimeout
	}

	p := &Publisher{cfg: cfg, newClient: paho.NewClient}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module("mqtt")
	}
	return p, nil
}

// Connect resolves the broker host and connects. The client reconnects on its
// own after a successful first connection.
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil && p.client.IsConnected() {
		return nil
	}

	u, _ := url.Parse(p.cfg.Broker)
	if host := u.Hostname(); host != "" && net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryMQTTConnection).
				NetworkContext(p.cfg.Broker, 0).
				Context("operation", "resolve_broker").
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	opts.SetUsername(p.cfg.Username)
	opts.SetPassword(p.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(p.cfg.ConnectTimeout)
	opts.SetWill(p.cfg.StatusTopic(), p.statusJSON(StatusPayload{Connection: statusOffline}), 1, true)
	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		if p.metrics != nil {
			p.metrics.Reconnects.Inc()
		}
	})

	client := p.newClient(opts)
	if err := p.wait(ctx, client.Connect(), p.cfg.ConnectTimeout); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("broker", p.cfg.Broker).
			Build()
	}
	p.client = client
	p.log.Info("Connected to MQTT broker", logger.String("broker", p.cfg.Broker))
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client != nil && p.client.IsConnected()
}

// Disconnect publishes the offline status and closes the connection.
func (p *Publisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return
	}
	if p.client.IsConnected() {
		tok := p.client.Publish(p.cfg.StatusTopic(), 1, true, p.statusJSON(StatusPayload{Connection: statusOffline}))
		tok.WaitTimeout(p.cfg.PublishTimeout)
		p.client.Disconnect(uint(p.cfg.DisconnectTimeout.Milliseconds()))
	}
	p.client = nil
	if p.metrics != nil {
		p.metrics.SetConnected(false)
	}
}

// Name implements events.Consumer.
func (p *Publisher) Name() string {
	return "mqtt"
}

// ProcessEvent implements events.Consumer. Results go to the results topic,
// status changes to the retained status topic. Errors are not forwarded.
func (p *Publisher) ProcessEvent(e events.Event) error {
	switch e.Kind {
	case events.KindResult:
		payload, err := json.Marshal(ResultPayload{
			Action:    "result",
			Result:    e.Score,
			Previous:  e.Previous,
			Label:     e.Label,
			Hotword:   e.IsHotword(),
			SessionID: e.SessionID,
			Cycle:     e.Cycle,
			Time:      e.Time,
		})
		if err != nil {
			return err
		}
		return p.publish(kindResult, p.cfg.Topic, p.cfg.Retain, payload)
	case events.KindStatus:
		return p.publish(kindStatus, p.cfg.StatusTopic(), true, []byte(p.statusJSON(StatusPayload{
			Connection: statusOnline,
			State:      e.State,
			Text:       e.Text,
			Time:       e.Time,
		})))
	default:
		return nil
	}
}

func (p *Publisher) publish(kind, topic string, retain bool, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		err := errors.Newf("not connected to MQTT broker").
			Component("mqtt").
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
		p.observe(kind, 0, err)
		return err
	}

	start := time.Now()
	err := p.wait(context.Background(), client.Publish(topic, 0, retain, payload), p.cfg.PublishTimeout)
	p.observe(kind, time.Since(start), err)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	p.log.Debug("Published to MQTT", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// wait blocks until the token completes, the timeout passes or ctx ends.
func (p *Publisher) wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timer.C:
		return errors.Newf("mqtt operation timed out after %v", timeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) observe(kind string, d time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	var reason string
	switch {
	case err == nil:
	case errors.IsCategory(err, errors.CategoryMQTTConnection):
		reason = metrics.ReasonNotConnected
	case errors.IsCategory(err, errors.CategoryTimeout):
		reason = metrics.ReasonTimeout
	default:
		reason = metrics.ReasonRejected
	}
	p.metrics.ObservePublish(kind, d, reason)
}

func (p *Publisher) statusJSON(s StatusPayload) string {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	data, _ := json.Marshal(s)
	return string(data)
}

func (p *Publisher) onConnect(client paho.Client) {
	if p.metrics != nil {
		p.metrics.SetConnected(true)
	}
	client.Publish(p.cfg.StatusTopic(), 1, true, p.statusJSON(StatusPayload{Connection: statusOnline}))
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.log.Warn("Connection to MQTT broker lost", logger.String("broker", p.cfg.Broker), logger.Error(err))
	if p.metrics != nil {
		p.metrics.SetConnected(false)
		p.metrics.ConnectionLost.Inc()
	}
}
