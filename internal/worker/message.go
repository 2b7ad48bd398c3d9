package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/btwld/docling-sdk-sub000/internal/progress"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrInvalidMessage marks deliveries that can never be processed
var ErrInvalidMessage = errors.New("invalid tracking message")

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// JobMessage is one tracking request taken from the queue
type JobMessage struct {
	JobID    string `json:"job_id"`
	Mode     string `json:"mode,omitempty"`
	delivery amqp.Delivery
}

// ParseMessage decodes and validates a delivery body
func ParseMessage(body []byte) (*JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !jobIDPattern.MatchString(msg.JobID) {
		return nil, fmt.Errorf("%w: bad job_id %q", ErrInvalidMessage, msg.JobID)
	}
	if msg.Mode != "" {
		if _, err := progress.ParseMode(msg.Mode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	}
	return &msg, nil
}
