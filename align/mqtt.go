package align

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTService accepts registration requests on <prefix>/register/request
// and publishes each result to <prefix>/register/result/<id>.
type MQTTService struct {
	client    mqtt.Client
	config    MQTTConfig
	runner    Runner
	engine    EngineOptions
	publisher *Publisher
	logger    *log.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu          sync.RWMutex
	isConnected bool
}

// NewMQTTService builds a service for cfg. It returns nil, nil when no broker
// is configured; call Start to connect.
func NewMQTTService(cfg MQTTConfig, runner Runner, engine EngineOptions, logger *log.Logger) (*MQTTService, error) {
	if cfg.Broker == "" {
		if logger != nil {
			logger.Info("MQTT disabled: no broker configured")
		}
		return nil, nil
	}
	if runner == nil {
		return nil, fmt.Errorf("MQTT enabled but no registration runner provided")
	}

	s := newMQTTService(nil, cfg, runner, engine, logger)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		s.logger.Info("reconnecting")
	})

	s.client = mqtt.NewClient(opts)
	s.publisher.client = s.client
	return s, nil
}

// newMQTTService wires a service around an existing client; tests pass a
// MockClient.
func newMQTTService(client mqtt.Client, cfg MQTTConfig, runner Runner, engine EngineOptions, logger *log.Logger) *MQTTService {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("mqtt")
	ctx, cancel := context.WithCancel(context.Background())
	return &MQTTService{
		client:    client,
		config:    cfg,
		runner:    runner,
		engine:    engine,
		publisher: NewPublisher(client, cfg, logger),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start connects in the background, retrying with exponential backoff.
func (s *MQTTService) Start() {
	go s.connectWithRetry()
}

// Publisher returns the service's publisher.
func (s *MQTTService) Publisher() *Publisher {
	return s.publisher
}

func (s *MQTTService) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		s.logger.Info("connecting", "broker", s.config.Broker)

		token := s.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				s.setConnected(true)
				return
			}
			s.logger.Warn("connection failed", "err", token.Error())
		} else {
			s.logger.Warn("connection timeout")
		}

		s.logger.Info("retrying", "in", retryDelay)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (s *MQTTService) onConnect(client mqtt.Client) {
	s.setConnected(true)

	topic := RequestTopic(s.config.TopicPrefix)
	token := client.Subscribe(topic, s.config.QoS, s.handleRequest)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		s.logger.Error("subscribe failed", "topic", topic, "err", token.Error())
		return
	}
	s.logger.Info("subscribed", "topic", topic)
}

func (s *MQTTService) onConnectionLost(_ mqtt.Client, err error) {
	s.logger.Warn("connection interrupted, auto-reconnect will retry", "err", err)
	s.setConnected(false)
}

// handleRequest decodes one request and runs it off the paho callback
// goroutine. Undecodable payloads are answered on the "invalid" result topic.
func (s *MQTTService) handleRequest(_ mqtt.Client, msg mqtt.Message) {
	var req RegistrationRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		s.logger.Warn("undecodable request", "topic", msg.Topic(), "err", err)
		_ = s.publisher.PublishResult("invalid", RegistrationResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.engine.Defaults(&req)

	s.logger.Debug("request received", "id", req.ID, "points", len(req.Src)/2)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		res, err := s.runner.Do(s.ctx, req)
		if err != nil {
			s.logger.Warn("registration failed", "id", req.ID, "err", err)
		}
		if perr := s.publisher.PublishResult(req.ID, res, err); perr != nil {
			s.logger.Error("publishing result", "id", req.ID, "err", perr)
		}
	}()
}

// IsConnected reports whether the broker connection is up.
func (s *MQTTService) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isConnected
}

func (s *MQTTService) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isConnected = connected
}

// Stop cancels in-flight registrations, waits for their results to be
// published and disconnects.
func (s *MQTTService) Stop() {
	s.cancel()
	s.inflight.Wait()
	if s.client != nil && s.client.IsConnected() {
		s.logger.Info("disconnecting")
		s.client.Disconnect(250)
	}
	s.setConnected(false)
}
