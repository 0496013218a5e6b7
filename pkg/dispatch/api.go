// Package dispatch exposes the Gateway's loopback-only HTTP control plane:
// submit an action to the connected Local Agent (or a configured SSH
// fallback), check connection status, and trip or release the emergency
// stop latch.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"openclaw/pkg/channel"
	"openclaw/pkg/fallback"
	"openclaw/pkg/logx"
	"openclaw/pkg/proto"
)

// AgentLink is the thing the API dispatches actions through: either the
// live websocket Channel for a connected agent, or the SSH fallback.Tunnel
// when nothing is connected.
type AgentLink struct {
	Server   *channel.Server
	Fallback *fallback.Tunnel
	AgentID  string
	Timeout  time.Duration
}

// API implements http.Handler for the Gateway's control-plane endpoints.
type API struct {
	link   *AgentLink
	mux    *http.ServeMux
	logger *logx.Logger
}

// NewAPI builds the control-plane handler, wiring /status, /action,
// /emergency-stop and /resume.
func NewAPI(link *AgentLink) *API {
	a := &API{link: link, mux: http.NewServeMux(), logger: logx.NewLogger("dispatch-api")}
	a.mux.HandleFunc("/status", a.handleStatus)
	a.mux.HandleFunc("/action", a.handleAction)
	a.mux.HandleFunc("/emergency-stop", a.handleEmergencyStop)
	a.mux.HandleFunc("/resume", a.handleResume)
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.mux.ServeHTTP(w, r) }

type statusResponse struct {
	AgentConnected     bool   `json:"agent_connected"`
	SSHFallbackEnabled bool   `json:"ssh_fallback_enabled"`
	SSHFallbackHealthy bool   `json:"ssh_fallback_healthy"`
	SSHFallbackTarget  string `json:"ssh_fallback_target"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		AgentConnected:     a.link.Server.Connected(a.link.AgentID),
		SSHFallbackEnabled: a.link.Fallback != nil,
	}
	if a.link.Fallback != nil {
		resp.SSHFallbackHealthy, resp.SSHFallbackTarget = a.link.Fallback.HealthCheck(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

type actionRequest struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Confirmed bool           `json:"confirmed"`
}

func (a *API) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing 'action' field"})
		return
	}

	result, err := a.link.Dispatch(r.Context(), req.Action, req.Params, req.Confirmed)
	switch {
	case err == context.DeadlineExceeded:
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "agent did not respond in time"})
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	case result.Err != "":
		writeJSON(w, http.StatusOK, actionErrorResponse{Status: "error", Error: result.Err})
	default:
		writeJSON(w, http.StatusOK, actionResponse{
			Status: "ok",
			Action: req.Action,
			Result: actionResultBody{ReturnCode: result.ExitCode, Stdout: result.Stdout, Stderr: result.Stderr},
		})
	}
}

// actionResponse and actionErrorResponse are the HTTP-facing shapes for a
// successful or rejected/failed action — distinct from proto.ActionResult,
// which is the wire format between Gateway and Agent and uses different
// field names (exit_code, not returncode) for its own reasons.
type actionResponse struct {
	Status string           `json:"status"`
	Action string           `json:"action"`
	Result actionResultBody `json:"result"`
}

type actionResultBody struct {
	ReturnCode int    `json:"returncode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

type actionErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Dispatch sends action to the connected Agent (or the SSH fallback when
// nothing is connected) and blocks for its result. Shared by the HTTP
// /action handler and the Gateway's in-process tool loop, which both need
// to turn a tool call into an Agent-side action request.
func (l *AgentLink) Dispatch(ctx context.Context, action string, params map[string]any, confirmed bool) (*proto.ActionResult, error) {
	msg := proto.NewActionMsg(proto.MsgTypeAction, "gateway", l.AgentID)
	msg.Action = action
	msg.Params = params
	if confirmed {
		msg.Metadata = map[string]string{"confirmed": "true"}
	}

	if !l.Server.Connected(l.AgentID) {
		if l.Fallback == nil {
			return nil, fmt.Errorf("no agent connected and no SSH fallback configured")
		}
		return l.Fallback.ExecuteAction(ctx, msg)
	}

	return l.dispatchAndWait(ctx, msg)
}

// dispatchAndWait sends msg on the agent's channel and blocks until a RESULT
// frame correlated to it arrives or the timeout elapses.
func (l *AgentLink) dispatchAndWait(ctx context.Context, msg *proto.ActionMsg) (*proto.ActionResult, error) {
	ch, ok := l.Server.Get(l.AgentID)
	if !ok {
		return nil, fmt.Errorf("agent disconnected before dispatch")
	}

	timeout := l.Timeout
	if timeout == 0 {
		timeout = 130 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ch.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("sending action: %w", err)
	}

	for {
		select {
		case reply, open := <-ch.Recv():
			if !open {
				return nil, fmt.Errorf("agent disconnected while waiting for result")
			}
			if reply.CorrelationID != msg.ID {
				continue // frame for a different in-flight request
			}
			if reply.Type == proto.MsgTypeApprovalRequest {
				continue // operator confirm flow surfaces separately; keep waiting on the RESULT
			}
			if reply.Result == nil {
				return nil, fmt.Errorf("agent sent an empty result")
			}
			return reply.Result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (a *API) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	a.sendControlFrame(w, r, proto.MsgTypeEmergencyStop, "emergency_stop_sent")
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.sendControlFrame(w, r, proto.MsgTypeResume, "resume_sent")
}

func (a *API) sendControlFrame(w http.ResponseWriter, r *http.Request, msgType proto.MsgType, okStatus string) {
	if !a.link.Server.Connected(a.link.AgentID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_applicable_in_ssh_mode"})
		return
	}
	ch, _ := a.link.Server.Get(a.link.AgentID)
	msg := proto.NewActionMsg(msgType, "gateway", a.link.AgentID)
	if err := ch.Send(r.Context(), msg); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": okStatus})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warnf("writing JSON response: %v", err)
	}
}
