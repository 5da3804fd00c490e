package scheduler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Functione encode JSON encodes and writes given object with given status.
func encode[T any](w http.ResponseWriter, status int, v T) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// Function decode decodes given HTTP request body into an expected type.
func decode[T any](r *http.Request) (T, error) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode json: %w", err)
	}
	return v, nil
}

// Generic HTTP GET request with resp body deserialization from JSON into given
// type. Non-200 response is an error which contains the response body.
func httpGetJSON[T any](client *http.Client, url string) (*T, int, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, http.StatusBadRequest,
			fmt.Errorf("failed to perform GET request: %w", err)
	}
	defer resp.Body.Close()
	return readJSON[T](resp, http.StatusOK)
}

// Send HTTP POST request with given object serialized to JSON and deserialize
// response body, when its status is expectedStatus.
func httpPostJSON[In, Out any](
	client *http.Client, url string, in In, expectedStatus int,
) (*Out, int, error) {
	jsonInput, jErr := json.Marshal(in)
	if jErr != nil {
		return nil, 0, fmt.Errorf("cannot serialize input: %w", jErr)
	}
	resp, err := client.Post(url, "application/json", bytes.NewBuffer(jsonInput))
	if err != nil {
		return nil, http.StatusBadRequest,
			fmt.Errorf("cannot perform POST request: %w", err)
	}
	defer resp.Body.Close()
	return readJSON[Out](resp, expectedStatus)
}

func readJSON[T any](resp *http.Response, expectedStatus int) (*T, int, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode,
			fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != expectedStatus {
		return nil, resp.StatusCode,
			fmt.Errorf("unexpected status code: %d. Body: %s",
				resp.StatusCode, bytes.TrimSpace(body))
	}
	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, resp.StatusCode,
			fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return &result, resp.StatusCode, nil
}
