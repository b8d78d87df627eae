package api

import (
	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/model"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	Session    string          `json:"session"`
	IntervalMS int64           `json:"interval_ms"`
	DurationMS int64           `json:"duration_ms"`
	State      string          `json:"state"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(sessionID string, intervalMS, durationMS int64, state string, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		Session:    sessionID,
		IntervalMS: intervalMS,
		DurationMS: durationMS,
		State:      state,
		Features:   features,
	}
}

// SampleMessage wraps one tick's sample for transport.
type SampleMessage struct {
	Type string `json:"type"`
	model.Sample
}

// NewSampleMessage constructs a sample payload.
func NewSampleMessage(sample model.Sample) SampleMessage {
	return SampleMessage{
		Type:   "sample",
		Sample: sample,
	}
}

// SummaryMessage carries the running session summary.
type SummaryMessage struct {
	Type string `json:"type"`
	session.Summary
}

// NewSummaryMessage constructs a summary payload.
func NewSummaryMessage(sum session.Summary) SummaryMessage {
	return SummaryMessage{
		Type:    "summary",
		Summary: sum,
	}
}

// DiagnosisMessage is sent once, after the session is finalized.
type DiagnosisMessage struct {
	Type string `json:"type"`
	diagnosis.Result
}

// NewDiagnosisMessage constructs a diagnosis payload.
func NewDiagnosisMessage(res diagnosis.Result) DiagnosisMessage {
	return DiagnosisMessage{
		Type:   "diagnosis",
		Result: res,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
