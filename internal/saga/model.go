package saga

import "time"

// Record is the appointment summary kept in the primary record store.
type Record struct {
	ID           string `dynamodbav:"appointmentId" json:"appointmentId"`
	OwnerID      string `dynamodbav:"ownerId" json:"ownerId"`
	ScheduleID   int64  `dynamodbav:"scheduleId" json:"scheduleId"`
	CountryCode  string `dynamodbav:"countryCode" json:"countryCode"`
	Status       Status `dynamodbav:"status" json:"status"`
	CreatedAt    string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    string `dynamodbav:"updatedAt" json:"updatedAt"`
	ErrorMessage string `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
}

// Detail is the country-specific appointment row written by a country processor.
type Detail struct {
	AppointmentID   string    `json:"appointmentId"`
	OwnerID         string    `json:"ownerId"`
	ScheduleID      int64     `json:"scheduleId"`
	CenterID        int64     `json:"centerId"`
	SpecialtyID     int64     `json:"specialtyId"`
	MedicID         int64     `json:"medicId"`
	AppointmentDate time.Time `json:"appointmentDate"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ScheduleDetail is what a schedule resolver returns for a schedule id.
type ScheduleDetail struct {
	CenterID        int64     `json:"centerId"`
	SpecialtyID     int64     `json:"specialtyId"`
	MedicID         int64     `json:"medicId"`
	AppointmentDate time.Time `json:"appointmentDate"`
}

// FanoutMessage is published once by the initiator to the country partition.
type FanoutMessage struct {
	AppointmentID string `json:"appointmentId"`
	OwnerID       string `json:"ownerId"`
	ScheduleID    int64  `json:"scheduleId"`
	CountryCode   string `json:"countryCode"`
}

// StatusEvent is emitted by a country processor on the shared status channel.
type StatusEvent struct {
	AppointmentID string    `json:"appointmentId"`
	Status        Status    `json:"status"`
	CountryCode   string    `json:"countryCode"`
	ProcessedAt   time.Time `json:"processedAt"`
}

// Transition is an accepted change of a record's status, kept for audit.
type Transition struct {
	AppointmentID string    `json:"appointmentId"`
	CountryCode   string    `json:"countryCode"`
	From          Status    `json:"from,omitempty"`
	To            Status    `json:"to"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// Timestamp formats t the way records store it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
