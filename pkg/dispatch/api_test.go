package dispatch

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/ssh"

	"openclaw/pkg/channel"
	"openclaw/pkg/fallback"
)

func newTestAPI(withFallback bool) *API {
	server := channel.NewServer(30*time.Second, 10*time.Second, func(token string) (string, bool) {
		return "", false
	})
	var tunnel *fallback.Tunnel
	if withFallback {
		cfg := &ssh.ClientConfig{
			User:            "deploy",
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // test target, no real host
			Timeout:         time.Second,
		}
		tunnel = fallback.NewTunnel("127.0.0.1:1", cfg, "openclaw-agent -one-shot")
	}
	link := &AgentLink{Server: server, Fallback: tunnel, AgentID: "agent-1"}
	return NewAPI(link)
}

func TestHandleStatus_NoFallback(t *testing.T) {
	api := newTestAPI(false)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"agent_connected":false,"ssh_fallback_enabled":false,"ssh_fallback_healthy":false,"ssh_fallback_target":""}`, rec.Body.String())
}

func TestHandleStatus_FallbackConfiguredButUnreachable(t *testing.T) {
	api := newTestAPI(true)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"agent_connected":false,"ssh_fallback_enabled":true,"ssh_fallback_healthy":false,"ssh_fallback_target":"deploy@127.0.0.1:1"}`, rec.Body.String())
}

func TestHandleAction_NoAgentNoFallback(t *testing.T) {
	api := newTestAPI(false)
	body := bytes.NewBufferString(`{"action":"git_status","params":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/action", body)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAction_MissingActionField(t *testing.T) {
	api := newTestAPI(false)
	body := bytes.NewBufferString(`{"params":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/action", body)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAction_InvalidJSON(t *testing.T) {
	api := newTestAPI(false)
	body := bytes.NewBufferString(`not json`)
	req := httptest.NewRequest(http.MethodPost, "/action", body)
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
