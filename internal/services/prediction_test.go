package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/cradlesense-backend/internal/breaker"
)

func newTestPredictionClient(t *testing.T, handler http.Handler, cfg breaker.Config) (*PredictionClient, *breaker.CircuitBreaker, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cb := breaker.New(cfg)
	client, err := NewPredictionClient(PredictionClientOptions{
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	}, cb)
	if err != nil {
		t.Fatalf("NewPredictionClient: %v", err)
	}
	return client, cb, srv
}

func TestPredictSuccess(t *testing.T) {
	var gotHistory string
	var gotAuth string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotAuth = r.Header.Get("Authorization")
		gotHistory = r.FormValue("history_data")
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Errorf("audio part missing: %v", err)
		}
		if r.FormValue("date_of_birth") == "" {
			t.Errorf("date_of_birth missing")
		}
		json.NewEncoder(w).Encode(Prediction{
			Prediction:     "hungry",
			Confidence:     0.91,
			AllPredictions: map[string]float64{"hungry": 0.91, "tired": 0.06, "discomfort": 0.03},
			ModelVersion:   "v3",
			ProcessingTime: 0.42,
		})
	})

	srv := httptest.NewServer(handler)
	defer srv.Close()
	cb := breaker.New(breaker.Config{})
	client, err := NewPredictionClient(PredictionClientOptions{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		HTTPClient: srv.Client(),
	}, cb)
	if err != nil {
		t.Fatalf("NewPredictionClient: %v", err)
	}

	history := []PredictionHistoryItem{{Prediction: "tired", Confidence: 0.8, Timestamp: time.Now().Add(-time.Hour)}}
	out, err := client.Predict(context.Background(), strings.NewReader("RIFFfake"), PredictRequest{
		BabyID:      uuid.New(),
		DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Filename:    "cry.wav",
		History:     history,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if out.Prediction != "hungry" || out.Confidence != 0.91 {
		t.Fatalf("unexpected prediction: %+v", out)
	}
	if len(out.AllPredictions) != 3 {
		t.Fatalf("expected full distribution, got %v", out.AllPredictions)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth, got %q", gotAuth)
	}
	var sent []PredictionHistoryItem
	if err := json.Unmarshal([]byte(gotHistory), &sent); err != nil || len(sent) != 1 {
		t.Fatalf("history not forwarded as JSON: %q err=%v", gotHistory, err)
	}
	if cb.State() != breaker.StateClosed {
		t.Fatalf("success must keep breaker CLOSED, got %s", cb.State())
	}
}

func TestPredictHistoryCapped(t *testing.T) {
	var sent []PredictionHistoryItem
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		json.Unmarshal([]byte(r.FormValue("history_data")), &sent)
		json.NewEncoder(w).Encode(Prediction{Prediction: "tired", Confidence: 0.5})
	})
	client, _, _ := newTestPredictionClient(t, handler, breaker.Config{})

	history := make([]PredictionHistoryItem, 25)
	for i := range history {
		history[i] = PredictionHistoryItem{Prediction: "tired", Confidence: 0.5}
	}
	_, err := client.Predict(context.Background(), strings.NewReader("x"), PredictRequest{
		DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		History:     history,
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(sent) != MaxHistoryItems {
		t.Fatalf("expected history capped at %d, got %d", MaxHistoryItems, len(sent))
	}
}

func TestPredictNon2xxCountsAsFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	})
	client, cb, _ := newTestPredictionClient(t, handler, breaker.Config{FailureThreshold: 2})

	req := PredictRequest{DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	_, err := client.Predict(context.Background(), strings.NewReader("x"), req)
	if err == nil {
		t.Fatalf("expected error for 500")
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %T %v", err, err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError || httpErr.Message != "model not loaded" {
		t.Fatalf("unexpected parsed error: %+v", httpErr)
	}
	if cb.State() != breaker.StateClosed {
		t.Fatalf("one failure below threshold must stay CLOSED, got %s", cb.State())
	}

	if _, err := client.Predict(context.Background(), strings.NewReader("x"), req); err == nil {
		t.Fatalf("expected error for 500")
	}
	if cb.State() != breaker.StateOpen {
		t.Fatalf("threshold reached, expected OPEN, got %s", cb.State())
	}
}

func TestPredictMalformedBodyCountsAsFailure(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	client, cb, _ := newTestPredictionClient(t, handler, breaker.Config{FailureThreshold: 1})

	_, err := client.Predict(context.Background(), strings.NewReader("x"), PredictRequest{
		DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if cb.State() != breaker.StateOpen {
		t.Fatalf("malformed 2xx must count as failure, got %s", cb.State())
	}
}

func TestPredictDeniedWhileOpen(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	client, cb, _ := newTestPredictionClient(t, handler, breaker.Config{FailureThreshold: 1, Cooldown: time.Hour})

	req := PredictRequest{DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	if _, err := client.Predict(context.Background(), strings.NewReader("x"), req); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
	if cb.State() != breaker.StateOpen {
		t.Fatalf("expected OPEN, got %s", cb.State())
	}

	// A denied call must not touch the network.
	_, err := client.Predict(context.Background(), strings.NewReader("x"), req)
	if !errors.Is(err, ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("denied call reached the network, calls=%d", calls)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("audio source gone")
}

func TestPredictBodyBuildFailureDoesNotBurnTrial(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	client, cb, _ := newTestPredictionClient(t, handler, breaker.Config{
		FailureThreshold: 1,
		Cooldown:         time.Millisecond,
	})

	cb.OnFailure()
	if cb.State() != breaker.StateOpen {
		t.Fatalf("expected OPEN")
	}
	time.Sleep(5 * time.Millisecond)

	// The cooldown has elapsed, so the next admitted call would move the
	// breaker to HALF_OPEN. A body-build failure must happen before
	// admission and leave the breaker untouched.
	_, err := client.Predict(context.Background(), failingReader{}, PredictRequest{
		DateOfBirth: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err == nil {
		t.Fatalf("expected body build error")
	}
	if calls != 0 {
		t.Fatalf("local failure must not reach the network")
	}
	if cb.State() != breaker.StateOpen {
		t.Fatalf("trial admission burned by local failure, state=%s", cb.State())
	}
}

func TestPredictMissingBirthDateRejectedLocally(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ })
	client, _, _ := newTestPredictionClient(t, handler, breaker.Config{})

	_, err := client.Predict(context.Background(), strings.NewReader("x"), PredictRequest{})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("local rejection must not call upstream")
	}
}

func TestProbesAndClasses(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/ready":
			w.Write([]byte(`{"status":"ok"}`))
		case "/classes":
			json.NewEncoder(w).Encode(map[string]any{"classes": []string{"hungry", "tired", "discomfort"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client, _, _ := newTestPredictionClient(t, handler, breaker.Config{})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	if err := client.ReadinessCheck(context.Background()); err != nil {
		t.Fatalf("ReadinessCheck: %v", err)
	}
	classes, err := client.ListClasses(context.Background())
	if err != nil {
		t.Fatalf("ListClasses: %v", err)
	}
	if len(classes) != 3 || classes[0] != "hungry" {
		t.Fatalf("unexpected classes: %v", classes)
	}
	if !client.IsAvailable(context.Background()) {
		t.Fatalf("expected available")
	}
}

func TestIsAvailableFalseWhileOpen(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	client, cb, _ := newTestPredictionClient(t, handler, breaker.Config{FailureThreshold: 1, Cooldown: time.Hour})

	cb.OnFailure()
	if cb.State() != breaker.StateOpen {
		t.Fatalf("expected OPEN")
	}
	if client.IsAvailable(context.Background()) {
		t.Fatalf("expected unavailable while OPEN even with healthy endpoints")
	}
}
