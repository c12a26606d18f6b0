package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// ErrMalformedMessage marks a body that can never be processed, however often
// it is redelivered.
var ErrMalformedMessage = errors.New("events: malformed message")

// snsEnvelope is the body SQS receives when subscribed to an SNS topic.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// eventBridgeEnvelope is the body SQS receives as an EventBridge rule target.
type eventBridgeEnvelope struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail-type"`
	Detail     json.RawMessage `json:"detail"`
}

// EncodeFanout renders the fan-out wire shape.
func EncodeFanout(msg saga.FanoutMessage) (string, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("events: encode fanout message: %w", err)
	}
	return string(body), nil
}

// DecodeFanout parses a fan-out body, unwrapping an SNS notification if present.
func DecodeFanout(body string) (saga.FanoutMessage, error) {
	raw := []byte(body)
	var env snsEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Type == "Notification" && env.Message != "" {
		raw = []byte(env.Message)
	}

	var msg saga.FanoutMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return saga.FanoutMessage{}, fmt.Errorf("%w: fanout: %v", ErrMalformedMessage, err)
	}
	msg.CountryCode = strings.ToUpper(strings.TrimSpace(msg.CountryCode))
	switch {
	case msg.AppointmentID == "":
		return saga.FanoutMessage{}, fmt.Errorf("%w: fanout: appointmentId missing", ErrMalformedMessage)
	case msg.CountryCode == "":
		return saga.FanoutMessage{}, fmt.Errorf("%w: fanout: countryCode missing", ErrMalformedMessage)
	case msg.ScheduleID <= 0:
		return saga.FanoutMessage{}, fmt.Errorf("%w: fanout: scheduleId must be positive", ErrMalformedMessage)
	}
	return msg, nil
}

// EncodeStatus renders the status event wire shape.
func EncodeStatus(evt saga.StatusEvent) (string, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("events: encode status event: %w", err)
	}
	return string(body), nil
}

// DecodeStatus parses a status body, unwrapping an EventBridge envelope whose
// detail is either an object or a JSON string.
func DecodeStatus(body string) (saga.StatusEvent, error) {
	raw := []byte(body)
	var env eventBridgeEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Detail) > 0 {
		raw = env.Detail
		if bytes.HasPrefix(bytes.TrimSpace(raw), []byte(`"`)) {
			var inner string
			if err := json.Unmarshal(raw, &inner); err != nil {
				return saga.StatusEvent{}, fmt.Errorf("%w: status detail: %v", ErrMalformedMessage, err)
			}
			raw = []byte(inner)
		}
	}

	var evt saga.StatusEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return saga.StatusEvent{}, fmt.Errorf("%w: status: %v", ErrMalformedMessage, err)
	}
	evt.CountryCode = strings.ToUpper(strings.TrimSpace(evt.CountryCode))
	if evt.AppointmentID == "" {
		return saga.StatusEvent{}, fmt.Errorf("%w: status: appointmentId missing", ErrMalformedMessage)
	}
	if !evt.Status.Terminal() {
		return saga.StatusEvent{}, fmt.Errorf("%w: status: %q is not terminal", ErrMalformedMessage, evt.Status)
	}
	return evt, nil
}
