package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garnizeh/mar/api"
	"github.com/garnizeh/mar/pkg/models"
)

const testSecret = "testsecret"

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := api.SignToken(testSecret, time.Hour, &models.User{ID: userID, Email: userID + "@example.com", Role: role})
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

// do sends body (marshalled unless it is a string) to h and returns the
// status and raw response body.
func do(t *testing.T, h http.Handler, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	res := w.Result()
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	return res.StatusCode, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
}
