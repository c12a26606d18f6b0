package countries

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/appointment-saga/internal/saga"
)

// HTTPResolver fetches schedule details from GET {baseURL}/schedules/{id}.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
}

var _ ScheduleResolver = (*HTTPResolver)(nil)

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if strings.TrimSpace(baseURL) == "" {
		panic("countries: schedule resolver url required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, scheduleID int64) (saga.ScheduleDetail, error) {
	url := r.baseURL + "/schedules/" + strconv.FormatInt(scheduleID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return saga.ScheduleDetail{}, fmt.Errorf("countries: build schedule request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return saga.ScheduleDetail{}, fmt.Errorf("countries: schedule request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return saga.ScheduleDetail{}, fmt.Errorf("countries: schedule %d: %w", scheduleID, saga.ErrScheduleNotFound)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return saga.ScheduleDetail{}, fmt.Errorf("countries: schedule service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var detail saga.ScheduleDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return saga.ScheduleDetail{}, fmt.Errorf("countries: decode schedule %d: %w", scheduleID, err)
	}
	return detail, nil
}
