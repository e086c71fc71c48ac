package export

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/banshee-data/split.report/internal/db"
	"github.com/banshee-data/split.report/internal/httputil"
	"github.com/banshee-data/split.report/internal/monitoring"
	"github.com/banshee-data/split.report/internal/passes"
	"github.com/banshee-data/split.report/internal/timeutil"
)

var (
	ErrNoRaceContext = errors.New("no race context configured")
	ErrMissingToken  = errors.New("missing auth token; refusing to upload")
	ErrNoEndpoint    = errors.New("no upload endpoint configured")
	ErrBreakerOpen   = errors.New("upload circuit breaker is open")
)

// Outcome classifies an HTTP status from the split server.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeRetry     Outcome = "retry"
	OutcomePermanent Outcome = "permanent"
)

// Classify maps a status code to an Outcome: 200 and 201 succeed, 408, 429
// and 5xx are retried, anything else is a permanent failure.
func Classify(code int) Outcome {
	switch {
	case code == http.StatusOK || code == http.StatusCreated:
		return OutcomeSuccess
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return OutcomeRetry
	case code >= 500 && code < 600:
		return OutcomeRetry
	default:
		return OutcomePermanent
	}
}

// UploadError reports a non-success response.
type UploadError struct {
	StatusCode int
	Outcome    Outcome
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (HTTP %d, %s): %s", e.StatusCode, e.Outcome, e.Body)
}

// Retryable reports whether err is worth another attempt. Network errors
// and an open breaker are retryable; refused configuration is not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.Outcome == OutcomeRetry
	}
	if errors.Is(err, ErrNoRaceContext) || errors.Is(err, ErrMissingToken) || errors.Is(err, ErrNoEndpoint) {
		return false
	}
	return true
}

// Source is the storage the uploader reads from. *db.DB implements it.
type Source interface {
	LatestRaceContext() (db.RaceContext, error)
	FinalizedPasses(sinceMs int64) ([]passes.PassRecord, error)
	Racers() (map[int]db.Racer, error)
	SampleCounts() (map[int64]int, error)
}

// UploadStatus is served by the API.
type UploadStatus struct {
	Attempts      int       `json:"attempts"`
	Successes     int       `json:"successes"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
	LastStatus    int       `json:"last_status"`
	LastError     string    `json:"last_error,omitempty"`
	LastBatchID   string    `json:"last_batch_id,omitempty"`
	LastCount     int       `json:"last_count"`
	Pending       bool      `json:"pending"`
	BreakerState  string    `json:"breaker_state"`
}

// Uploader posts finalized splits to the race server. Requests go through
// a circuit breaker that opens after consecutive retryable failures.
type Uploader struct {
	Client        httputil.HTTPClient
	Source        Source
	DefaultURL    string
	Timeout       time.Duration
	RetryInterval time.Duration
	Clock         timeutil.Clock
	Metrics       *monitoring.Metrics

	breaker *gobreaker.CircuitBreaker
	notify  chan struct{}

	mu     sync.Mutex
	status UploadStatus
}

// NewUploader returns an uploader with a breaker that trips after three
// consecutive failures and probes again after 30 seconds.
func NewUploader(client httputil.HTTPClient, source Source, defaultURL string, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	u := &Uploader{
		Client:        client,
		Source:        source,
		DefaultURL:    defaultURL,
		Timeout:       timeout,
		RetryInterval: 15 * time.Second,
		Clock:         timeutil.RealClock{},
		notify:        make(chan struct{}, 1),
	}
	u.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "split-upload",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		// Permanent rejections say nothing about server health.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			monitoring.Logf("[upload] circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return u
}

// Status returns a copy of the upload counters.
func (u *Uploader) Status() UploadStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := u.status
	st.BreakerState = u.breaker.State().String()
	return st
}

// Notify asks Run to upload soon. It never blocks and has the signature of
// a Recorder finalization callback.
func (u *Uploader) Notify(passes.PassRecord) {
	select {
	case u.notify <- struct{}{}:
	default:
	}
}

// Upload sends every finalized pass since the gun for the latest race
// context. It returns the number of racers sent.
func (u *Uploader) Upload(ctx context.Context) (int, error) {
	race, err := u.Source.LatestRaceContext()
	if errors.Is(err, db.ErrNotFound) {
		return 0, ErrNoRaceContext
	}
	if err != nil {
		return 0, err
	}
	if race.AuthToken == "" {
		monitoring.Logf("[upload] %v", ErrMissingToken)
		return 0, ErrMissingToken
	}
	endpoint := race.BaseURL
	if endpoint == "" {
		endpoint = u.DefaultURL
	}
	if endpoint == "" {
		return 0, ErrNoEndpoint
	}

	records, err := u.Source.FinalizedPasses(race.GunTimeMs)
	if err != nil {
		return 0, fmt.Errorf("failed to load passes: %w", err)
	}
	racers, err := u.Source.Racers()
	if err != nil {
		return 0, fmt.Errorf("failed to load racers: %w", err)
	}
	counts, err := u.Source.SampleCounts()
	if err != nil {
		return 0, fmt.Errorf("failed to count samples: %w", err)
	}

	payload := BuildUploadPayload(race, records, racers, counts)
	code, err := u.Send(ctx, endpoint, race.AuthToken, payload)

	u.mu.Lock()
	u.status.Attempts++
	u.status.LastAttemptAt = u.Clock.Now()
	u.status.LastStatus = code
	u.status.LastBatchID = payload.BatchID
	u.status.LastCount = len(payload.SplitData.Racers)
	if err != nil {
		u.status.LastError = err.Error()
	} else {
		u.status.Successes++
		u.status.LastError = ""
	}
	u.mu.Unlock()

	if err != nil {
		return 0, err
	}
	monitoring.Logf("[upload] sent %d racers for race %d (batch %s, HTTP %d)", len(payload.SplitData.Racers), race.RaceID, payload.BatchID, code)
	return len(payload.SplitData.Racers), nil
}

// Send posts payload to endpoint through the breaker and returns the HTTP
// status, or 0 when no response was received.
func (u *Uploader) Send(ctx context.Context, endpoint, token string, payload UploadPayload) (int, error) {
	if token == "" {
		return 0, ErrMissingToken
	}
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.post(ctx, endpoint, token, payload)
	})
	code, _ := res.(int)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		u.Metrics.IncUpload("breaker_open")
		return 0, ErrBreakerOpen
	}
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			u.Metrics.IncUpload(string(ue.Outcome))
			return ue.StatusCode, err
		}
		u.Metrics.IncUpload("network")
		return 0, err
	}
	u.Metrics.IncUpload(string(OutcomeSuccess))
	return code, nil
}

func (u *Uploader) post(ctx context.Context, endpoint, token string, payload UploadPayload) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()

	req, err := httputil.NewJSONRequest(ctx, http.MethodPost, endpoint, token, payload)
	if err != nil {
		return 0, err
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upload request failed: %w", err)
	}
	body := httputil.DrainAndClose(resp, 4096)
	outcome := Classify(resp.StatusCode)
	if outcome != OutcomeSuccess {
		return resp.StatusCode, &UploadError{StatusCode: resp.StatusCode, Outcome: outcome, Body: string(body)}
	}
	return resp.StatusCode, nil
}

// Run uploads after every Notify and retries retryable failures every
// RetryInterval until one succeeds. It returns when ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) error {
	ticker := u.Clock.NewTicker(u.RetryInterval)
	defer ticker.Stop()

	pending := false
	attempt := func() {
		_, err := u.Upload(ctx)
		switch {
		case err == nil:
			pending = false
		case Retryable(err):
			monitoring.Logf("[upload] %v; will retry", err)
			pending = true
		default:
			monitoring.Logf("[upload] %v; will not retry", err)
			pending = false
		}
		u.mu.Lock()
		u.status.Pending = pending
		u.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.notify:
			attempt()
		case <-ticker.C():
			if pending {
				attempt()
			}
		}
	}
}
