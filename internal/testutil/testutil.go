// Package testutil provides assertion helpers shared by FormPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// AssertHTTPStatus checks the HTTP status code.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse and checks its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return response
	}
	if response.Status == "" {
		t.Errorf("response missing 'status' field")
	} else if response.Status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// DecodeResult re-decodes an APIResponse result into target.
func DecodeResult(t TB, resp models.APIResponse, target any) {
	t.Helper()
	MustUnmarshalJSON(t, MustMarshalJSON(t, resp.Result), target)
}

// CreateHTTPRequest builds a request with an optional JSON body.
func CreateHTTPRequest(t TB, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		buf.Write(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// AssertOutcomeCount checks how many outcomes the store holds.
func AssertOutcomeCount(t TB, st store.Store, expected int, context string) {
	t.Helper()
	outcomes, err := st.GetOutcomes()
	if err != nil {
		t.Fatalf("%s: failed to get outcomes: %v", context, err)
		return
	}
	if len(outcomes) != expected {
		t.Errorf("%s: expected %d outcomes, got %d", context, expected, len(outcomes))
	}
}

// MustMarshalJSON marshals v or fails the test.
func MustMarshalJSON(t TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals data into target or fails the test.
func MustUnmarshalJSON(t TB, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
