package appointments

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrValidation wraps every request validation failure.
var ErrValidation = errors.New("appointments: invalid request")

// ValidationError describes the first invalid field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CreateRequest is a validated appointment request.
type CreateRequest struct {
	OwnerID     string `json:"ownerId"`
	ScheduleID  int64  `json:"scheduleId"`
	CountryCode string `json:"countryCode"`
}

var ownerIDPattern = regexp.MustCompile(`^[0-9]{5}$`)

// Validator checks raw request bodies against the supported countries.
type Validator struct {
	countries map[string]struct{}
	names     []string
}

// NewValidator accepts only the given country codes.
func NewValidator(countries []string) *Validator {
	v := &Validator{countries: make(map[string]struct{}, len(countries))}
	for _, code := range countries {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if _, dup := v.countries[code]; !dup {
			v.countries[code] = struct{}{}
			v.names = append(v.names, code)
		}
	}
	sort.Strings(v.names)
	return v
}

// rawRequest keeps field values undecoded so JSON types can be checked. The
// insuredId and countryISO names are accepted from older clients.
type rawRequest struct {
	OwnerID     json.RawMessage `json:"ownerId"`
	InsuredID   json.RawMessage `json:"insuredId"`
	ScheduleID  json.RawMessage `json:"scheduleId"`
	CountryCode json.RawMessage `json:"countryCode"`
	CountryISO  json.RawMessage `json:"countryISO"`
}

// Parse decodes and validates a JSON request body.
func (v *Validator) Parse(body []byte) (CreateRequest, error) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return CreateRequest{}, &ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	var req CreateRequest
	owner, err := stringField("ownerId", firstPresent(raw.OwnerID, raw.InsuredID))
	if err != nil {
		return CreateRequest{}, err
	}
	if !ownerIDPattern.MatchString(owner) {
		return CreateRequest{}, &ValidationError{Field: "ownerId", Reason: "must be a 5-digit string"}
	}
	req.OwnerID = owner

	schedule, err := positiveIntField("scheduleId", raw.ScheduleID)
	if err != nil {
		return CreateRequest{}, err
	}
	req.ScheduleID = schedule

	country, err := stringField("countryCode", firstPresent(raw.CountryCode, raw.CountryISO))
	if err != nil {
		return CreateRequest{}, err
	}
	req.CountryCode = strings.ToUpper(strings.TrimSpace(country))
	if err := v.Validate(req); err != nil {
		return CreateRequest{}, err
	}
	return req, nil
}

// Validate checks an already decoded request.
func (v *Validator) Validate(req CreateRequest) error {
	if !ownerIDPattern.MatchString(req.OwnerID) {
		return &ValidationError{Field: "ownerId", Reason: "must be a 5-digit string"}
	}
	if req.ScheduleID <= 0 {
		return &ValidationError{Field: "scheduleId", Reason: "must be a positive integer"}
	}
	if _, ok := v.countries[strings.ToUpper(req.CountryCode)]; !ok {
		return &ValidationError{Field: "countryCode", Reason: "must be one of " + strings.Join(v.names, ", ")}
	}
	return nil
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && !bytes.Equal(v, []byte("null")) {
			return v
		}
	}
	return nil
}

func stringField(name string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", &ValidationError{Field: name, Reason: "is required"}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &ValidationError{Field: name, Reason: "must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return "", &ValidationError{Field: name, Reason: "is required"}
	}
	return s, nil
}

func positiveIntField(name string, raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, &ValidationError{Field: name, Reason: "is required"}
	}
	if raw[0] == '"' {
		return 0, &ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return n, nil
}
