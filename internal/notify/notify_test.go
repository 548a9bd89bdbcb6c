package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/internal/logging"
)

type capture struct {
	mu        sync.Mutex
	bodies    []string
	events    []string
	signature string
}

func captureServer(c *capture) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, string(body))
		c.events = append(c.events, r.Header.Get("X-Delivery-Event"))
		c.signature = r.Header.Get("X-Delivery-Signature")
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestNotifyProviderStatusChanged(t *testing.T) {
	c := &capture{}
	server := captureServer(c)
	defer server.Close()

	service := NewService(config.NotifyConfig{
		Endpoints: []string{server.URL},
		Timeout:   5 * time.Second,
	}, nil)

	service.NotifyProviderStatusChanged("edge-us", "healthy", "unhealthy", 42.5)

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, EventProviderStatusChanged, c.events[0])

	var event Event
	require.NoError(t, json.Unmarshal([]byte(c.bodies[0]), &event))
	assert.NotEmpty(t, event.ID)

	data := event.Data.(map[string]interface{})
	assert.Equal(t, "edge-us", data["provider"])
	assert.Equal(t, "unhealthy", data["new_status"])
	assert.Equal(t, 42.5, data["score"])
}

func TestNotifySignsPayload(t *testing.T) {
	c := &capture{}
	server := captureServer(c)
	defer server.Close()

	service := NewService(config.NotifyConfig{
		Endpoints: []string{server.URL},
		Secret:    "test-secret",
	}, nil)

	service.NotifyAllProvidersUnhealthy()

	require.Eventually(t, func() bool { return c.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	h := hmac.New(sha256.New, []byte("test-secret"))
	h.Write([]byte(c.bodies[0]))
	expected := "sha256=" + hex.EncodeToString(h.Sum(nil))
	assert.Equal(t, expected, c.signature)
}

func TestNotifyFansOutToAllEndpoints(t *testing.T) {
	c1, c2 := &capture{}, &capture{}
	s1, s2 := captureServer(c1), captureServer(c2)
	defer s1.Close()
	defer s2.Close()

	service := NewService(config.NotifyConfig{
		Endpoints: []string{s1.URL, s2.URL},
	}, nil)

	service.NotifyDistributionFailed("edge-us", "videos/abc/seg1.ts", "connection reset")

	require.Eventually(t, func() bool {
		return c1.count() == 1 && c2.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyUnmarshalablePayloadIsDropped(t *testing.T) {
	c := &capture{}
	server := captureServer(c)
	defer server.Close()

	logger, err := logging.NewLogger(logging.Config{Level: "error", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	service := NewService(config.NotifyConfig{
		Endpoints: []string{server.URL},
	}, logger)

	// Channels cannot be marshaled; the event is logged and dropped
	// without reaching any endpoint.
	service.Notify(EventDistributionFailed, map[string]interface{}{
		"bad": make(chan int),
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestNotifyNoEndpointsIsNoop(t *testing.T) {
	service := NewService(config.NotifyConfig{}, nil)

	// Must not panic or block
	service.NotifyProviderStatusChanged("edge-us", "healthy", "degraded", 70)
}
