package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MockMQTTToken implements mqtt.Token for testing
type MockMQTTToken struct {
	err     error
	timeout bool
}

func (m *MockMQTTToken) Wait() bool {
	return true
}

func (m *MockMQTTToken) WaitTimeout(duration time.Duration) bool {
	return !m.timeout
}

func (m *MockMQTTToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *MockMQTTToken) Error() error {
	return m.err
}

// MockMQTTClient implements MQTTClient for testing
type MockMQTTClient struct {
	ConnectFunc    func() mqtt.Token
	PublishFunc    func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnectedVal bool

	published []publishedMsg
}

type publishedMsg struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	if m.ConnectFunc != nil {
		return m.ConnectFunc()
	}
	m.IsConnectedVal = true
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.IsConnectedVal = false
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	if m.PublishFunc != nil {
		return m.PublishFunc(topic, qos, retained, payload)
	}
	m.published = append(m.published, publishedMsg{topic: topic, qos: qos, payload: payload.([]byte)})
	return &MockMQTTToken{}
}

func (m *MockMQTTClient) IsConnected() bool {
	return m.IsConnectedVal
}

func newTestLink(t *testing.T, mock *MockMQTTClient) *MQTTWorkerLink {
	t.Helper()
	link, err := NewMQTTWorkerLinkWithClient(
		MQTTConfig{BrokerURL: "tcp://localhost:1883", TopicPrefix: "solesync/worker"},
		slog.Default(),
		func(opts *mqtt.ClientOptions) MQTTClient { return mock },
	)
	if err != nil {
		t.Fatalf("NewMQTTWorkerLinkWithClient failed: %v", err)
	}
	return link
}

func TestMQTTWorkerLinkPost(t *testing.T) {
	mock := &MockMQTTClient{}
	link := newTestLink(t, mock)

	msg := NewWorkerMessage(MessageConnectionRestored, "")
	if err := link.Post(context.Background(), msg); err != nil {
		t.Fatalf("Post failed: %v", err)
	}

	if len(mock.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(mock.published))
	}
	p := mock.published[0]
	if p.topic != "solesync/worker/connection_restored" {
		t.Errorf("unexpected topic %q", p.topic)
	}
	if p.qos != 1 {
		t.Errorf("expected QoS 1, got %d", p.qos)
	}

	var decoded WorkerMessage
	if err := json.Unmarshal(p.payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.Type != MessageConnectionRestored {
		t.Errorf("expected type %q, got %q", MessageConnectionRestored, decoded.Type)
	}
	if decoded.ID == "" {
		t.Error("expected message ID to be set")
	}
}

func TestMQTTWorkerLinkPostDisconnected(t *testing.T) {
	mock := &MockMQTTClient{}
	link := newTestLink(t, mock)
	mock.IsConnectedVal = false

	if err := link.Post(context.Background(), NewWorkerMessage(MessageEnableOfflineMode, "")); err == nil {
		t.Fatal("expected error posting while disconnected")
	}
}

func TestMQTTWorkerLinkConnectFailed(t *testing.T) {
	mock := &MockMQTTClient{
		ConnectFunc: func() mqtt.Token {
			return &MockMQTTToken{err: fmt.Errorf("connection refused")}
		},
	}

	_, err := NewMQTTWorkerLinkWithClient(
		MQTTConfig{BrokerURL: "tcp://localhost:1883"},
		slog.Default(),
		func(opts *mqtt.ClientOptions) MQTTClient { return mock },
	)
	if err == nil {
		t.Fatal("expected error for failed connection")
	}
}

func TestMQTTWorkerLinkPublishError(t *testing.T) {
	mock := &MockMQTTClient{
		PublishFunc: func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
			return &MockMQTTToken{err: fmt.Errorf("broker rejected publish")}
		},
	}
	link := newTestLink(t, mock)

	if err := link.Post(context.Background(), NewWorkerMessage(MessageConnectionRestored, "")); err == nil {
		t.Fatal("expected publish error to surface")
	}
}

func TestMQTTWorkerLinkRequiresBroker(t *testing.T) {
	_, err := NewMQTTWorkerLinkWithClient(MQTTConfig{}, slog.Default(), func(opts *mqtt.ClientOptions) MQTTClient {
		return &MockMQTTClient{}
	})
	if err == nil {
		t.Fatal("expected error for missing broker URL")
	}
}

func TestNotifyWorkerNilLink(t *testing.T) {
	// No worker configured: must be silent, not a panic.
	NotifyWorker(context.Background(), nil, NewWorkerMessage(MessageConnectionRestored, ""), slog.Default())
}

type failingLink struct {
	calls int
}

func (f *failingLink) Post(context.Context, WorkerMessage) error {
	f.calls++
	return fmt.Errorf("worker unavailable")
}

func (f *failingLink) Close() error { return nil }

func TestNotifyWorkerSwallowsErrors(t *testing.T) {
	link := &failingLink{}
	NotifyWorker(context.Background(), link, NewWorkerMessage(MessageEnableOfflineMode, "going dark"), slog.Default())
	if link.calls != 1 {
		t.Fatalf("expected 1 post attempt, got %d", link.calls)
	}
}

func TestNewWorkerMessage(t *testing.T) {
	before := time.Now().UTC()
	msg := NewWorkerMessage(MessageConnectionRestored, "back online")

	if msg.ID == "" {
		t.Error("expected ID to be set")
	}
	if msg.Type != MessageConnectionRestored {
		t.Errorf("unexpected type %q", msg.Type)
	}
	if msg.Detail != "back online" {
		t.Errorf("unexpected detail %q", msg.Detail)
	}
	if msg.At.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp %v predates construction", msg.At)
	}
}
