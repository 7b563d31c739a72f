package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

type statusResponse struct {
	RunID             string  `json:"runId"`
	SystemLoadPercent float64 `json:"systemLoadPercent"`
	TaskCount         int     `json:"taskCount"`
}

type taskResponse struct {
	ID                       int     `json:"id"`
	Name                     string  `json:"name"`
	Enabled                  bool    `json:"enabled"`
	DesiredPeriodUs          uint64  `json:"desiredPeriodUs"`
	StaticPriority           int     `json:"staticPriority"`
	AverageExecutionTimeUs   float64 `json:"averageExecutionTimeUs"`
	MaxExecutionTimeUs       int64   `json:"maxExecutionTimeUs"`
	TotalExecutionTimeUs     int64   `json:"totalExecutionTimeUs"`
	AverageDeltaTimeUs       float64 `json:"averageDeltaTimeUs"`
	MovingAverageCycleTimeUs float64 `json:"movingAverageCycleTimeUs"`
}

func fetchStatus(addr string) (statusResponse, error) {
	var out statusResponse

	if err := getJSON(addr+"/status", &out); err != nil {
		return statusResponse{}, err
	}

	return out, nil
}

func fetchTasks(addr string) ([]taskResponse, error) {
	var out []taskResponse

	if err := getJSON(addr+"/tasks", &out); err != nil {
		return nil, err
	}

	return out, nil
}

func setEnabled(addr string, id int, on bool) error {
	verb := "disable"
	if on {
		verb = "enable"
	}

	return postJSON(fmt.Sprintf("%s/tasks/%d/%s", addr, id, verb), nil)
}

func reschedule(addr string, id int, periodUs uint64) error {
	body, err := json.Marshal(struct {
		PeriodUs uint64 `json:"periodUs"`
	}{PeriodUs: periodUs})
	if err != nil {
		return fmt.Errorf("encode reschedule request: %w", err)
	}

	return postJSON(fmt.Sprintf("%s/tasks/%d/reschedule", addr, id), bytes.NewReader(body))
}

func getJSON(url string, out any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}

	return nil
}

func postJSON(url string, body io.Reader) error {
	resp, err := httpClient.Post(url, "application/json", body)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: unexpected status %s", url, resp.Status)
	}

	return nil
}
