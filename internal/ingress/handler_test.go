package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/fabnode/internal/config"
	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/queue"
	"github.com/chatfabric/fabnode/internal/session"
	"github.com/chatfabric/fabnode/internal/writeserializer"
)

// fakeQueue is a minimal queue.Queue fake; it never fails a Send.
type fakeQueue struct {
	mu   sync.Mutex
	sent []queue.Entry
}

func (f *fakeQueue) GetURL(ctx context.Context, name string) (string, error) {
	return "https://sqs.example/" + name, nil
}

func (f *fakeQueue) Send(ctx context.Context, url string, entry queue.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, entry)
	return nil
}

func (f *fakeQueue) SendBatch(ctx context.Context, url string, entries []queue.Entry) (queue.BatchResult, error) {
	return queue.BatchResult{}, nil
}

func (f *fakeQueue) Receive(ctx context.Context, url string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]queue.ReceivedMessage, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(ctx context.Context, url, receiptHandle string) error {
	return nil
}

func (f *fakeQueue) GetAttributes(ctx context.Context, url string) (queue.Attributes, error) {
	return queue.Attributes{}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeQueue) {
	t.Helper()

	registry := session.NewRegistry()
	wsMetrics := &writeserializer.Metrics{}
	pool := writeserializer.NewPool(2, registry, wsMetrics)
	t.Cleanup(pool.Close)

	q := &fakeQueue{}
	producer := queue.NewProducer(q, queue.ProducerConfig{QueuePrefix: "room-"}, &queue.ProducerMetrics{})
	t.Cleanup(producer.Close)

	wsCfg := config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
	}
	handler := NewHandler(registry, pool, producer, "node-1", 10, wsCfg, 16, &Metrics{})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, q
}

func dial(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func validFrame() domain.ChatFrame {
	return domain.ChatFrame{
		UserID:          "42",
		Username:        "alice",
		Text:            "hello room",
		ClientTimestamp: time.Now().UTC().Format(time.RFC3339),
		Kind:            domain.KindText,
	}
}

func TestIngress_ValidFrameReceivesAck(t *testing.T) {
	srv, q := newTestServer(t)
	conn := dial(t, srv, "1")

	frame := validFrame()
	body, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))

	_, resp, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack domain.AckResponse
	require.NoError(t, json.Unmarshal(resp, &ack))
	assert.Equal(t, "SUCCESS", ack.Status)
	_, uuidErr := uuid.Parse(ack.MessageID)
	assert.NoError(t, uuidErr)
	require.NotNil(t, ack.OriginalMessage)
	assert.Equal(t, frame, *ack.OriginalMessage)

	q.mu.Lock()
	assert.Len(t, q.sent, 1)
	q.mu.Unlock()
}

func TestIngress_InvalidFrameReceivesErrorAndSubsequentFrameStillSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "1")

	bad := validFrame()
	bad.Username = "a"
	body, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))

	_, resp, err := conn.ReadMessage()
	require.NoError(t, err)

	var errResp domain.ErrorResponse
	require.NoError(t, json.Unmarshal(resp, &errResp))
	assert.Equal(t, "ERROR", errResp.Status)
	assert.Nil(t, errResp.ServerTimestamp)

	good := validFrame()
	body, err = json.Marshal(good)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, body))

	_, resp, err = conn.ReadMessage()
	require.NoError(t, err)
	var ack domain.AckResponse
	require.NoError(t, json.Unmarshal(resp, &ack))
	assert.Equal(t, "SUCCESS", ack.Status)
}

func TestIngress_UnknownRoomClosesTransport(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv, "999")

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %T: %v", err, err)
	assert.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
}

func TestParseRoomID(t *testing.T) {
	cases := []struct {
		path    string
		wantID  int
		wantOK  bool
	}{
		{"/chat/5", 5, true},
		{"/chat/5/", 5, true},
		{"/chat/", 0, false},
		{"/chat/abc", 0, false},
	}
	for _, c := range cases {
		id, ok := parseRoomID(c.path)
		assert.Equal(t, c.wantOK, ok, c.path)
		if c.wantOK {
			assert.Equal(t, c.wantID, id, c.path)
		}
	}
}
