package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("invalid_input", "amount must be positive\n", http.StatusBadRequest).
		WithDetails(map[string]any{"violations": []string{"amount"}})
	WriteError(context.Background(), rr, err)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_input" || body["message"] != "amount must be positive" {
		t.Fatalf("unexpected body %v", body)
	}
	details, ok := body["details"].(map[string]any)
	if !ok || details["violations"] == nil {
		t.Fatalf("expected details, got %v", body)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Amount string `json:"amount"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10"}`))
	if err := DecodeJSON(req, 0, &dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if dst.Amount != "10" {
		t.Fatalf("unexpected amount %q", dst.Amount)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	if err := DecodeJSON(req, 0, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1234567890"}`))
	if err := DecodeJSON(req, 8, &dst); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("  "))
	if err := DecodeJSON(req, 0, &dst); err != nil {
		t.Fatalf("expected empty body to be accepted, got %v", err)
	}
}
