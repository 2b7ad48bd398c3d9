package wschannel

import (
	"encoding/json"
	"fmt"

	"github.com/btwld/docling-sdk-sub000/internal/docling"
	"github.com/btwld/docling-sdk-sub000/internal/domain"
)

// Inbound message kinds
const (
	kindConnection = "connection"
	kindUpdate     = "update"
	kindError      = "error"
	kindPing       = "ping"
	kindPong       = "pong"
)

var pingFrame = []byte(`{"message":"ping"}`)

// Message is one decoded frame from the status endpoint. The set of kinds is closed:
// every Visitor must handle each of them.
type Message interface {
	Accept(v Visitor)
}

// Visitor handles each message kind
type Visitor interface {
	VisitConnection(m ConnectionMessage)
	VisitUpdate(m UpdateMessage)
	VisitError(m ErrorMessage)
	VisitHeartbeat(m HeartbeatMessage)
	VisitUnknown(m UnknownMessage)
}

// ConnectionMessage is sent once the server has attached the socket to the task
type ConnectionMessage struct {
	Job domain.Job
}

// UpdateMessage carries a status change
type UpdateMessage struct {
	Job domain.Job
}

// ErrorMessage is a server-side error notice for the task
type ErrorMessage struct {
	Text string
}

// HeartbeatMessage is a ping or pong frame
type HeartbeatMessage struct {
	Kind string
}

// UnknownMessage is anything that could not be understood
type UnknownMessage struct {
	Raw string
	Err error
}

func (m ConnectionMessage) Accept(v Visitor) { v.VisitConnection(m) }
func (m UpdateMessage) Accept(v Visitor)     { v.VisitUpdate(m) }
func (m ErrorMessage) Accept(v Visitor)      { v.VisitError(m) }
func (m HeartbeatMessage) Accept(v Visitor)  { v.VisitHeartbeat(m) }
func (m UnknownMessage) Accept(v Visitor)    { v.VisitUnknown(m) }

type wireMessage struct {
	Message string              `json:"message"`
	Task    *docling.TaskStatus `json:"task,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// ParseMessage decodes a frame. It never fails: undecodable frames become UnknownMessage.
func ParseMessage(data []byte) Message {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return UnknownMessage{Raw: string(data), Err: &domain.ProtocolError{Raw: string(data), Err: err}}
	}

	switch wire.Message {
	case kindConnection, kindUpdate:
		job, err := wire.Task.Job()
		if err != nil {
			return UnknownMessage{Raw: string(data), Err: err}
		}
		if wire.Message == kindConnection {
			return ConnectionMessage{Job: job}
		}
		return UpdateMessage{Job: job}
	case kindError:
		return ErrorMessage{Text: wire.Error}
	case kindPing, kindPong:
		return HeartbeatMessage{Kind: wire.Message}
	default:
		return UnknownMessage{
			Raw: string(data),
			Err: &domain.ProtocolError{Raw: string(data), Err: fmt.Errorf("unknown message kind %q", wire.Message)},
		}
	}
}
