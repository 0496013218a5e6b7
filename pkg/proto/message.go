// Package proto defines the wire protocol carried over the Action Dispatch
// Channel between the Gateway and a Local Execution Agent.
package proto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"openclaw/pkg/logx"
)

// MsgType identifies the kind of frame carried on the channel.
type MsgType string

// Frame types exchanged between Gateway and Local Agent.
const (
	MsgTypeAction            MsgType = "ACTION"             // Gateway -> Agent: run this action
	MsgTypeResult            MsgType = "RESULT"              // Agent -> Gateway: action finished
	MsgTypeApprovalRequest   MsgType = "APPROVAL_REQUEST"    // Agent -> Gateway: operator confirm needed
	MsgTypeApprovalResponse  MsgType = "APPROVAL_RESPONSE"   // Gateway -> Agent: operator decision
	MsgTypeStatus            MsgType = "STATUS"              // Agent -> Gateway: heartbeat/capabilities
	MsgTypeError             MsgType = "ERROR"               // either direction: protocol-level error
	MsgTypePing              MsgType = "PING"
	MsgTypePong              MsgType = "PONG"
	MsgTypeEmergencyStop     MsgType = "EMERGENCY_STOP"      // Gateway -> Agent: latch the e-stop
	MsgTypeResume            MsgType = "RESUME"              // Gateway -> Agent: release the e-stop
)

// ActionMsg is the single envelope type carried by the channel in both
// directions. Which fields are populated depends on Type.
type ActionMsg struct {
	ID            string            `json:"id"`
	Type          MsgType           `json:"type"`
	CorrelationID string            `json:"correlation_id,omitempty"` // ties a RESULT/RESPONSE back to its request
	From          string            `json:"from"`
	To            string            `json:"to"`
	Timestamp     time.Time         `json:"timestamp"`
	Action        string            `json:"action,omitempty"`
	Params        map[string]any    `json:"params,omitempty"`
	Result        *ActionResult     `json:"result,omitempty"`
	Approval      *ApprovalRequest  `json:"approval,omitempty"`
	Decision      *ApprovalDecision `json:"decision,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ActionResult carries an executed action's outcome back to the Gateway.
type ActionResult struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Err      string `json:"error,omitempty"` // protocol/dispatch error, distinct from a nonzero ExitCode
}

// ApprovalRequest is sent by the agent when a CONFIRM-tier action needs
// operator sign-off before it runs.
type ApprovalRequest struct {
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Reason      string         `json:"reason"`
	RequestedAt time.Time      `json:"requested_at"`
}

// ApprovalDecision is the operator's response to an ApprovalRequest.
type ApprovalDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// NewActionMsg creates a new envelope with a fresh ID and UTC timestamp.
func NewActionMsg(msgType MsgType, from, to string) *ActionMsg {
	return &ActionMsg{
		ID:        uuid.NewString(),
		Type:      msgType,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the message to JSON bytes.
func (m *ActionMsg) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, logx.Wrap(err, "marshal ActionMsg")
	}
	return data, nil
}

// FromJSON decodes JSON bytes into a new ActionMsg.
func FromJSON(data []byte) (*ActionMsg, error) {
	var m ActionMsg
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal ActionMsg: %w", err)
	}
	return &m, nil
}

// Validate checks that the envelope has the fields every frame must carry.
func (m *ActionMsg) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if m.From == "" || m.To == "" {
		return fmt.Errorf("from and to are required")
	}
	switch m.Type {
	case MsgTypeAction, MsgTypeResult, MsgTypeApprovalRequest, MsgTypeApprovalResponse,
		MsgTypeStatus, MsgTypeError, MsgTypePing, MsgTypePong, MsgTypeEmergencyStop, MsgTypeResume:
	default:
		return fmt.Errorf("invalid message type: %s", m.Type)
	}
	return nil
}

// Reply builds a response envelope correlated to m, addressed back to m.From.
func (m *ActionMsg) Reply(msgType MsgType) *ActionMsg {
	reply := NewActionMsg(msgType, m.To, m.From)
	reply.CorrelationID = m.ID
	return reply
}
