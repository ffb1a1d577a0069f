package restclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func TestDecodeErrorShapes(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		raw     string
		code    string
		message string
		is      error
	}{
		{"flat", 400, `{"code":"INVALID_ARGUMENT","details":"bid too low"}`, "INVALID_ARGUMENT", "bid too low", domainerrors.ErrValidation},
		{"list", 400, `{"errors":[{"code":"InvalidInput","message":"bad sku"}]}`, "InvalidInput", "bad sku", domainerrors.ErrValidation},
		{"typed object", 529, `{"error":{"type":"overloaded_error","message":"try later"}}`, "OVERLOADED_ERROR", "try later", domainerrors.ErrUnavailable},
		{"throttled code", 400, `{"code":"THROTTLED","message":"slow down"}`, "THROTTLED", "slow down", domainerrors.ErrRateLimited},
		{"plain text", 502, `upstream reset`, "", "upstream reset", domainerrors.ErrUnavailable},
		{"empty body", 404, ``, "", "Not Found", domainerrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DecodeError("op", tc.status, []byte(tc.raw))
			var apiErr *domainerrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.code, apiErr.Code)
			assert.Equal(t, tc.message, apiErr.Message)
			assert.ErrorIs(t, err, tc.is)
		})
	}

	long := DecodeError("op", 500, []byte(strings.Repeat("x", 1000)))
	assert.Len(t, long.(*domainerrors.APIError).Message, 256)
}

func TestCallerRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "default", r.Header.Get("X-Client"))
		assert.Equal(t, "override", r.Header.Get("X-Scope"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	caller := New(Options{
		BaseURL:     server.URL + "/",
		AccessToken: "tok",
		Header:      http.Header{"X-Client": []string{"default"}, "X-Scope": []string{"default"}},
		MaxRetries:  3,
		RetryBase:   100 * time.Millisecond,
		Sleeper:     sleeper,
	})

	var out struct {
		ID string `json:"id"`
	}
	err := caller.Do(context.Background(), Request{
		Operation: "things.create",
		Method:    http.MethodPost,
		Path:      "/things",
		Header:    http.Header{"X-Scope": []string{"override"}},
		Body:      map[string]string{"name": "a"},
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, "42", out.ID)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.waits)
	assert.Equal(t, server.URL, caller.BaseURL())
}

func TestCallerDoesNotRetryValidationErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":"INVALID_ARGUMENT","message":"nope"}`))
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	caller := New(Options{BaseURL: server.URL, MaxRetries: 3, Sleeper: sleeper})
	err := caller.Do(context.Background(), Request{Operation: "things.get", Method: http.MethodGet, Path: "/things/1"}, nil)

	assert.ErrorIs(t, err, domainerrors.ErrValidation)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, sleeper.waits)
}

func TestCallerCapsBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	sleeper := &recordingSleeper{}
	caller := New(Options{BaseURL: server.URL, MaxRetries: 4, RetryBase: 2 * time.Second, Sleeper: sleeper})
	err := caller.Do(context.Background(), Request{Operation: "things.list", Method: http.MethodGet, Path: "/things"}, nil)

	assert.ErrorIs(t, err, domainerrors.ErrRateLimited)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, sleeper.waits)
}
