package align

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ResultMessage is the payload published for every registration request
// received over MQTT. Exactly one of Result and Error is set.
type ResultMessage struct {
	ID        string              `json:"id"`
	Result    *RegistrationResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Publisher publishes registration results and accepted alignments.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte
	logger *log.Logger
}

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, cfg MQTTConfig, logger *log.Logger) *Publisher {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{client: client, prefix: prefix, qos: cfg.QoS, logger: logger}
}

// RequestTopic is where registration requests arrive.
func RequestTopic(prefix string) string {
	return prefix + "/register/request"
}

// ResultTopic is where the result for request id is published.
func ResultTopic(prefix, id string) string {
	return fmt.Sprintf("%s/register/result/%s", prefix, id)
}

// AlignmentTopic carries the latest accepted alignment of a scan.
func AlignmentTopic(prefix, scanID string) string {
	return fmt.Sprintf("%s/alignment/%s", prefix, scanID)
}

// PublishResult publishes the outcome of request id. Results are not
// retained.
func (p *Publisher) PublishResult(id string, res RegistrationResult, runErr error) error {
	msg := ResultMessage{ID: id, Timestamp: time.Now().Unix()}
	if runErr != nil {
		msg.Error = runErr.Error()
		if res.Cancelled {
			msg.Result = &res
		}
	} else {
		msg.Result = &res
	}
	return p.publish(ResultTopic(p.prefix, id), false, msg)
}

// PublishAlignment publishes the accepted transform of scanID, retained so
// late subscribers see the latest value.
func (p *Publisher) PublishAlignment(scanID string, a SavedAlignment) error {
	return p.publish(AlignmentTopic(p.prefix, scanID), true, a)
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}
