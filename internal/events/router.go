package events

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/appointment-saga/internal/queue"
	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

// FanoutRouter delivers fan-out messages to the queue of their country.
type FanoutRouter struct {
	routes map[string]queue.Client
	logger *logging.Logger
}

// NewFanoutRouter builds a router from a country code to queue mapping.
func NewFanoutRouter(routes map[string]queue.Client, logger *logging.Logger) *FanoutRouter {
	if len(routes) == 0 {
		panic("events: at least one fanout route required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	normalized := make(map[string]queue.Client, len(routes))
	for code, q := range routes {
		if q == nil {
			panic("events: nil queue for country " + code)
		}
		normalized[strings.ToUpper(strings.TrimSpace(code))] = q
	}
	return &FanoutRouter{routes: normalized, logger: logger}
}

// Dispatch publishes msg to the partition for msg.CountryCode. An unknown
// country fails with saga.ErrUnsupportedCountry.
func (r *FanoutRouter) Dispatch(ctx context.Context, msg saga.FanoutMessage) error {
	code := strings.ToUpper(strings.TrimSpace(msg.CountryCode))
	q, ok := r.routes[code]
	if !ok {
		return fmt.Errorf("%w: %q", saga.ErrUnsupportedCountry, msg.CountryCode)
	}
	msg.CountryCode = code
	body, err := EncodeFanout(msg)
	if err != nil {
		return err
	}
	if err := q.Send(ctx, body); err != nil {
		return fmt.Errorf("events: dispatch to %s: %w", code, err)
	}
	r.logger.Debug("fanout message dispatched", "appointment_id", msg.AppointmentID, "country", code)
	return nil
}

// Supports reports whether a route exists for code.
func (r *FanoutRouter) Supports(code string) bool {
	_, ok := r.routes[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// Countries lists the routed country codes in sorted order.
func (r *FanoutRouter) Countries() []string {
	codes := make([]string, 0, len(r.routes))
	for code := range r.routes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
