// Package mqtt publishes mode transitions and throttled samples to a broker
// and listens for remote fault acknowledgements.
package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/logger"
	"codeberg.org/mutker/vawtctl/internal/metrics"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	paho "github.com/eclipse/paho.mqtt.golang"
)

type Publisher struct {
	client paho.Client
	cfg    Config
	runID  string
	logger logger.Logger

	mu    sync.Mutex
	onAck func()
	ticks int
}

func NewPublisher(cfg Config, runID string, log logger.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}

	p := &Publisher{
		cfg:    cfg,
		runID:  runID,
		logger: log.With("mqtt"),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetOnConnectHandler(p.onConnect)

	p.client = paho.NewClient(opts)

	return p, nil
}

// OnAcknowledge registers the callback run for each ack request. It runs on
// the client's goroutine and must not block.
func (p *Publisher) OnAcknowledge(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAck = fn
}

func (p *Publisher) Connect() error {
	p.logger.Info().Str("broker", p.cfg.Broker).Msg("Connecting to MQTT broker")

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.New().WithMessage(ErrConnect, "timed out connecting to "+p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.New().Wrap(ErrConnect, err)
	}

	return nil
}

// Record publishes a transition retained on the state topic.
func (p *Publisher) Record(ctx context.Context, tr turbine.Transition) error {
	return p.publish(ctx, p.cfg.Topic("state"), true, NewStateMessage(p.runID, tr))
}

// Sample publishes every SampleEvery-th record on the sample topic.
func (p *Publisher) Sample(ctx context.Context, rec turbine.LogRecord) error {
	if p.cfg.SampleEvery == 0 {
		return nil
	}

	p.mu.Lock()
	p.ticks++
	due := (p.ticks-1)%p.cfg.SampleEvery == 0
	p.mu.Unlock()

	if !due {
		return nil
	}
	return p.publish(ctx, p.cfg.Topic("sample"), false, NewSampleMessage(p.runID, rec))
}

// Samples adapts the publisher to a per-tick record sink. Closing the sink
// leaves the publisher connected.
func (p *Publisher) Samples() metrics.Collector {
	return sampleSink{p}
}

type sampleSink struct {
	p *Publisher
}

func (s sampleSink) Record(ctx context.Context, rec turbine.LogRecord) error {
	return s.p.Sample(ctx, rec)
}

func (sampleSink) Close() error { return nil }

func (p *Publisher) Close() error {
	p.logger.Info().Msg("Disconnecting from MQTT broker")
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, msg any) error {
	errFactory := errors.New()

	payload, err := json.Marshal(msg)
	if err != nil {
		return errFactory.Wrap(ErrEncode, err)
	}

	// Publishing never blocks the control loop on a slow broker
	if !p.client.IsConnectionOpen() {
		p.logger.Debug().Str("topic", topic).Msg("Broker not connected, message dropped")
		return nil
	}

	token := p.client.Publish(topic, byte(p.cfg.QoS), retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errFactory.Wrap(ErrPublish, err)
		}
	case <-ctx.Done():
		return errFactory.Wrap(ErrPublish, ctx.Err())
	}

	return nil
}

func (p *Publisher) onConnect(client paho.Client) {
	topic := p.cfg.Topic("ack")
	p.logger.Info().Str("topic", topic).Msg("MQTT connected, subscribing to acknowledgements")

	if token := client.Subscribe(topic, byte(p.cfg.QoS), p.handleAck); token.Wait() && token.Error() != nil {
		p.logger.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe")
	}
}

func (p *Publisher) onConnectionLost(_ paho.Client, err error) {
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) handleAck(_ paho.Client, msg paho.Message) {
	if !ParseAck(msg.Payload()) {
		p.logger.Warn().Str("payload", string(msg.Payload())).Msg("Ignoring unrecognized ack payload")
		return
	}

	p.mu.Lock()
	fn := p.onAck
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}
