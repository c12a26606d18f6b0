package appointments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

const maxRequestBody = 64 << 10

// Response is the envelope of every appointment endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OwnerListing is the payload of the owner query.
type OwnerListing struct {
	OwnerID      string        `json:"ownerId"`
	Count        int           `json:"count"`
	Appointments []saga.Record `json:"appointments"`
}

// Handler serves the appointment HTTP API.
type Handler struct {
	service   *Service
	validator *Validator
	logger    *logging.Logger
}

func NewHandler(service *Service, validator *Validator, logger *logging.Logger) *Handler {
	if service == nil {
		panic("appointments: service cannot be nil")
	}
	if validator == nil {
		panic("appointments: validator cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, validator: validator, logger: logger}
}

// Routes mounts the appointment endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/owner/{ownerId}", h.ListByOwner)
	r.Get("/{appointmentId}", h.Get)
	return r
}

// Create handles POST /appointments.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Bad Request", Error: err.Error()})
		return
	}
	req, err := h.validator.Parse(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Bad Request", Error: err.Error()})
		return
	}

	record, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to create appointment", "error", err, "owner_id", req.OwnerID)
		resp := Response{Message: "failed to create appointment", Error: "internal error"}
		if errors.Is(err, saga.ErrDispatchFailed) && record != nil {
			resp.Error = DispatchFailureMessage
			resp.Data = record
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Message: "appointment is being processed", Data: record})
}

// Get handles GET /appointments/{appointmentId}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "appointmentId")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, Response{Message: "appointmentId is required", Error: "missing appointmentId"})
		return
	}
	record, err := h.service.Get(r.Context(), id)
	if errors.Is(err, saga.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, Response{Message: "appointment not found", Error: "not found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to fetch appointment", "error", err, "appointment_id", id)
		writeJSON(w, http.StatusInternalServerError, Response{Message: "failed to fetch appointment", Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "appointment retrieved", Data: record})
}

// ListByOwner handles GET /appointments/owner/{ownerId}.
func (h *Handler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerId")
	if !ownerIDPattern.MatchString(ownerID) {
		writeJSON(w, http.StatusBadRequest, Response{Message: "Bad Request", Error: "ownerId must be a 5-digit string"})
		return
	}
	records, err := h.service.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err, "owner_id", ownerID)
		writeJSON(w, http.StatusInternalServerError, Response{Message: "failed to list appointments", Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "appointments retrieved", Data: OwnerListing{
		OwnerID:      ownerID,
		Count:        len(records),
		Appointments: records,
	}})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
