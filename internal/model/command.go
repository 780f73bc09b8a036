package model

import "encoding/json"

// Control command types accepted on the command channel.
const (
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdReloadSettings = "reload-settings"
	CmdSwitchMode     = "switch-mode"
	CmdAddSymbol      = "add-symbol"
	CmdRemoveSymbol   = "remove-symbol"
	CmdForceBackfill  = "force-backfill"
	CmdClearCache     = "clear-cache"
)

// Command is one control-channel request.
type Command struct {
	CorrelationID string          `json:"correlationId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     int64           `json:"timestamp"` // ms, sender clock
	Priority      int             `json:"priority,omitempty"`
}

// Response statuses. Exactly one ack precedes exactly one terminal status.
const (
	StatusAck     = "ack"
	StatusSuccess = "success"
	StatusError   = "error"
)

// CommandResponse is published on the response channel for a command.
type CommandResponse struct {
	CorrelationID string          `json:"correlationId"`
	Status        string          `json:"status"`
	Data          json.RawMessage `json:"data,omitempty"`
	Message       string          `json:"message,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

// JSON returns the JSON-encoded response.
func (r *CommandResponse) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
