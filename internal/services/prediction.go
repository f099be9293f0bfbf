package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/cradlesense-backend/internal/breaker"
)

// PredictionHistoryItem is one prior completed analysis sent alongside a
// predict call so the model can score with temporal context.
type PredictionHistoryItem struct {
	Prediction string    `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Context    string    `json:"context,omitempty"`
}

// MaxHistoryItems bounds the history window sent with a predict call.
const MaxHistoryItems = 10

type PredictRequest struct {
	BabyID      uuid.UUID
	DateOfBirth time.Time
	Filename    string
	History     []PredictionHistoryItem
}

type Prediction struct {
	Prediction     string             `json:"prediction"`
	Confidence     float64            `json:"confidence"`
	AllPredictions map[string]float64 `json:"all_predictions"`
	FeatureShape   []int              `json:"feature_shape,omitempty"`
	ModelVersion   string             `json:"model_version,omitempty"`
	ProcessingTime float64            `json:"processing_time,omitempty"`
}

type PredictionClientOptions struct {
	BaseURL string
	APIKey  string

	// ProbeTimeout bounds health/ready/classes probes; PredictTimeout bounds
	// the actual inference call, which is expected to take much longer.
	ProbeTimeout   time.Duration
	PredictTimeout time.Duration

	HTTPClient *http.Client
}

// PredictionClient wraps the external cry-prediction service. All outbound
// calls are gated by the circuit breaker: a denied call returns
// ErrServiceUnavailable without touching the network and without reporting
// an outcome; an attempted call reports exactly one success or failure.
type PredictionClient struct {
	baseURL        string
	apiKey         string
	probeTimeout   time.Duration
	predictTimeout time.Duration
	httpClient     *http.Client
	breaker        *breaker.CircuitBreaker
}

func NewPredictionClient(opts PredictionClientOptions, cb *breaker.CircuitBreaker) (*PredictionClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("baseURL required")
	}
	if cb == nil {
		return nil, errors.New("circuit breaker required")
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	predictTimeout := opts.PredictTimeout
	if predictTimeout <= 0 {
		predictTimeout = 60 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &PredictionClient{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(opts.APIKey),
		probeTimeout:   probeTimeout,
		predictTimeout: predictTimeout,
		httpClient:     hc,
		breaker:        cb,
	}, nil
}

func (c *PredictionClient) BaseURL() string { return c.baseURL }

// BreakerState reports the circuit breaker's current state.
func (c *PredictionClient) BreakerState() breaker.State { return c.breaker.State() }

// Predict submits one audio recording for classification. A well-formed
// response counts as a breaker success even when the label itself is
// low-confidence; transport errors and non-2xx responses count as failures.
func (c *PredictionClient) Predict(ctx context.Context, audio io.Reader, req PredictRequest) (*Prediction, error) {
	if audio == nil {
		return nil, errors.New("audio reader is nil")
	}
	if req.DateOfBirth.IsZero() {
		return nil, fmt.Errorf("%w: date of birth required", ErrPrecondition)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "recording.wav"
	}
	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, err
	}
	if err := mw.WriteField("date_of_birth", req.DateOfBirth.Format(time.RFC3339)); err != nil {
		return nil, err
	}
	if req.BabyID != uuid.Nil {
		if err := mw.WriteField("baby_id", req.BabyID.String()); err != nil {
			return nil, err
		}
	}
	if len(req.History) > 0 {
		history := req.History
		if len(history) > MaxHistoryItems {
			history = history[:MaxHistoryItems]
		}
		hb, err := json.Marshal(history)
		if err != nil {
			return nil, err
		}
		if err := mw.WriteField("history_data", string(hb)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	ctx2, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+"/predict", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	// Admission happens last: a local failure above must not consume a
	// HALF_OPEN trial slot.
	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: circuit open", ErrServiceUnavailable)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.breaker.OnFailure()
		return nil, err
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		c.breaker.OnFailure()
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.OnFailure()
		return nil, parseHTTPError(resp.StatusCode, raw)
	}

	var out Prediction
	if err := json.Unmarshal(raw, &out); err != nil {
		c.breaker.OnFailure()
		return nil, fmt.Errorf("failed to parse prediction response: %w", err)
	}
	c.breaker.OnSuccess()
	return &out, nil
}

func (c *PredictionClient) HealthCheck(ctx context.Context) error {
	return c.probe(ctx, "/health", nil)
}

func (c *PredictionClient) ReadinessCheck(ctx context.Context) error {
	return c.probe(ctx, "/ready", nil)
}

func (c *PredictionClient) ListClasses(ctx context.Context) ([]string, error) {
	var out struct {
		Classes []string `json:"classes"`
	}
	if err := c.probe(ctx, "/classes", &out); err != nil {
		return nil, err
	}
	return out.Classes, nil
}

// IsAvailable reports whether the service is worth calling right now: the
// circuit must not be OPEN and both liveness probes must succeed.
func (c *PredictionClient) IsAvailable(ctx context.Context) bool {
	if c.breaker.State() == breaker.StateOpen {
		return false
	}
	if err := c.HealthCheck(ctx); err != nil {
		return false
	}
	if err := c.ReadinessCheck(ctx); err != nil {
		return false
	}
	return true
}

func (c *PredictionClient) probe(ctx context.Context, path string, out any) error {
	if !c.breaker.Allow() {
		return fmt.Errorf("%w: circuit open", ErrServiceUnavailable)
	}

	ctx2, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx2, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.OnFailure()
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		c.breaker.OnFailure()
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breaker.OnFailure()
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, parseHTTPError(resp.StatusCode, raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			c.breaker.OnFailure()
			return err
		}
	}
	c.breaker.OnSuccess()
	return nil
}
