package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/config"
	"github.com/forgewatch/forgewatch/server/internal/engine"
)

var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

type recordingIngester struct {
	mu      sync.Mutex
	batches []types.Batch
}

func (r *recordingIngester) Ingest(b types.Batch) engine.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	res := engine.Result{}
	for id := range b {
		res.Applied = append(res.Applied, id)
	}
	return res
}

func (r *recordingIngester) all() []types.Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Batch(nil), r.batches...)
}

// --- kafka ------------------------------------------------------------------

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	errs      []error
	committed []int64
	closed    bool
	done      chan struct{}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	if len(f.msgs) == 0 && f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func runKafka(t *testing.T, r *fakeReader, ing Ingester) {
	t.Helper()
	r.done = make(chan struct{})
	done := r.done
	k := newKafka(r, "readings", ing)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		k.Run(ctx)
		close(stopped)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not all committed")
	}
	cancel()
	<-stopped
}

func TestKafka_BatchAndKeyedMessages(t *testing.T) {
	ing := &recordingIngester{}
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"m1":{"status":"RUNNING"},"m2":{"status":"IDLE"}}`)},
		{Offset: 2, Key: []byte("m3"), Value: []byte(`{"status":"alarm","alarms":["E-STOP"]}`)},
	}}
	runKafka(t, r, ing)

	got := ing.all()
	if len(got) != 2 {
		t.Fatalf("batches = %d, want 2", len(got))
	}
	if len(got[0]) != 2 {
		t.Errorf("first batch = %+v", got[0])
	}
	if m3 := got[1]["m3"]; m3.Status != types.StatusAlarm || len(m3.Alarms) != 1 {
		t.Errorf("keyed reading = %+v", m3)
	}
	if len(r.committed) != 2 || !r.closed {
		t.Errorf("committed = %v, closed = %v", r.committed, r.closed)
	}
}

func TestKafka_MalformedMessageCommittedNotApplied(t *testing.T) {
	ing := &recordingIngester{}
	r := &fakeReader{msgs: []kafka.Message{
		{Offset: 7, Value: []byte(`not json`)},
		{Offset: 8, Value: []byte(`{"m1":{"status":"NOPE"}}`)},
		{Offset: 9, Value: []byte(`{}`)},
	}}
	runKafka(t, r, ing)

	if n := len(ing.all()); n != 0 {
		t.Errorf("applied %d batches from malformed messages", n)
	}
	if len(r.committed) != 3 {
		t.Errorf("committed = %v, want all three offsets", r.committed)
	}
}

func TestKafka_FetchErrorRetried(t *testing.T) {
	ing := &recordingIngester{}
	r := &fakeReader{
		errs: []error{errors.New("broker down")},
		msgs: []kafka.Message{{Offset: 1, Value: []byte(`{"m1":{"status":"RUNNING"}}`)}},
	}
	runKafka(t, r, ing)

	if n := len(ing.all()); n != 1 {
		t.Errorf("batches = %d, want 1 after retry", n)
	}
}

func TestDecodeMessage_StampsIngestTime(t *testing.T) {
	b, err := decodeMessage([]byte("m1"), []byte(`{"status":"RUNNING"}`), baseTime)
	if err != nil {
		t.Fatalf("decodeMessage: %v", err)
	}
	if !b["m1"].Timestamp.Equal(baseTime) {
		t.Errorf("timestamp = %v", b["m1"].Timestamp)
	}
}

// --- mqtt -------------------------------------------------------------------

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func newTestMQTT(t *testing.T, ing Ingester) *MQTT {
	t.Helper()
	m, err := NewMQTT(config.MQTTConfig{Broker: "tcp://localhost:1883", Topic: config.DefaultMQTTTopic}, ing)
	if err != nil {
		t.Fatalf("NewMQTT: %v", err)
	}
	return m
}

func TestMQTT_HandleRoutesByTopic(t *testing.T) {
	ing := &recordingIngester{}
	m := newTestMQTT(t, ing)

	m.handle(nil, fakeMessage{
		topic:   "forgewatch/machines/machine7/data",
		payload: []byte(`{"status":"RUNNING","spindle":{"speed":8000}}`),
	})

	got := ing.all()
	if len(got) != 1 {
		t.Fatalf("batches = %d, want 1", len(got))
	}
	if r, ok := got[0]["machine7"]; !ok || r.Spindle.Speed != 8000 {
		t.Errorf("batch = %+v", got[0])
	}
}

func TestMQTT_HandleDropsInvalid(t *testing.T) {
	ing := &recordingIngester{}
	m := newTestMQTT(t, ing)

	m.handle(nil, fakeMessage{topic: "forgewatch/machines/m1/data", payload: []byte(`{"status":7}`)})
	m.handle(nil, fakeMessage{topic: "forgewatch/machines", payload: []byte(`{"status":"RUNNING"}`)})

	if n := len(ing.all()); n != 0 {
		t.Errorf("batches = %d, want 0", n)
	}
}

func TestNewMQTT_TopicNeedsOneWildcard(t *testing.T) {
	for _, topic := range []string{"forgewatch/machines/data", "a/+/+/data", "forgewatch/#"} {
		if _, err := NewMQTT(config.MQTTConfig{Topic: topic}, &recordingIngester{}); err == nil {
			t.Errorf("NewMQTT accepted %q", topic)
		}
	}
}

func TestMQTT_ClientOptionsDeliverInOrder(t *testing.T) {
	t.Setenv("FW_MQTT_PASSWORD", "s3cret")
	m, err := NewMQTT(config.MQTTConfig{
		Broker:      "tcp://broker:1883",
		Topic:       config.DefaultMQTTTopic,
		ClientID:    "fw-test",
		Username:    "fw",
		PasswordEnv: "FW_MQTT_PASSWORD",
	}, &recordingIngester{})
	if err != nil {
		t.Fatalf("NewMQTT: %v", err)
	}

	opts := m.clientOptions()
	if !opts.Order {
		t.Error("ordered delivery disabled")
	}
	if opts.ClientID != "fw-test" || opts.Username != "fw" || opts.Password != "s3cret" {
		t.Errorf("options = client %q user %q password %q", opts.ClientID, opts.Username, opts.Password)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
}
