package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
)

// memTransport is an in-process pub/sub fabric: every subscriber to a
// channel gets a copy of each published payload.
type memTransport struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemTransport() *memTransport {
	return &memTransport{subs: make(map[string][]chan []byte)}
}

func (t *memTransport) Publish(_ context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	targets := append([]chan []byte(nil), t.subs[channel]...)
	t.mu.Unlock()

	for _, ch := range targets {
		buf := append([]byte(nil), payload...)
		go func(ch chan []byte) { ch <- buf }(ch)
	}
	return nil
}

func (t *memTransport) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 16)
	t.mu.Lock()
	t.subs[channel] = append(t.subs[channel], ch)
	t.mu.Unlock()

	var once sync.Once
	stop := func() error {
		once.Do(func() {
			t.mu.Lock()
			subs := t.subs[channel]
			for i, c := range subs {
				if c == ch {
					t.subs[channel] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
			close(ch)
		})
		return nil
	}
	return ch, stop, nil
}

type stagePayload struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

func startRouter(t *testing.T, fabric *memTransport, instanceID string, timeout time.Duration) *Router {
	t.Helper()
	r := NewRouter(instanceID, fabric, timeout)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func TestRequestResponse(t *testing.T) {
	fabric := newMemTransport()

	serving := NewRouter("interaction-1", fabric, time.Second)
	serving.Handle(EventStageCreate, func(_ context.Context, env Envelope) (any, *ErrorPayload) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return nil, &ErrorPayload{Code: CodeBadRequest, Error: err.Error()}
		}
		return stagePayload{Code: "123456", Title: req.Title}, nil
	})
	require.NoError(t, serving.Start(context.Background()))
	t.Cleanup(serving.Stop)

	requesting := startRouter(t, fabric, "control-1", time.Second)

	raw, err := requesting.Request(context.Background(), "interaction-1", EventStageCreate,
		map[string]string{"title": "Friday Quiz"})
	require.NoError(t, err)

	var stage stagePayload
	require.NoError(t, json.Unmarshal(raw, &stage))
	assert.Equal(t, "123456", stage.Code)
	assert.Equal(t, "Friday Quiz", stage.Title)

	assert.Equal(t, 0, requesting.PendingActions())
}

func TestRequestErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		payload  *ErrorPayload
		wantCode apperrors.ErrorCode
	}{
		{
			name:     "bad request code maps to bad request",
			payload:  &ErrorPayload{Code: CodeBadRequest, Error: "stage not found"},
			wantCode: apperrors.ErrCodeBadRequest,
		},
		{
			name:     "validation code maps to validation error",
			payload:  &ErrorPayload{Code: CodeValidationError, Error: map[string]string{"title": "required"}},
			wantCode: apperrors.ErrCodeValidation,
		},
		{
			name:     "unknown code maps to service response error",
			payload:  &ErrorPayload{Code: 42, Error: "exploded"},
			wantCode: apperrors.ErrCodeServiceResponse,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fabric := newMemTransport()

			serving := NewRouter("interaction-1", fabric, time.Second)
			serving.Handle(EventStageJoin, func(context.Context, Envelope) (any, *ErrorPayload) {
				return nil, tc.payload
			})
			require.NoError(t, serving.Start(context.Background()))
			t.Cleanup(serving.Stop)

			requesting := startRouter(t, fabric, "control-1", time.Second)

			_, err := requesting.Request(context.Background(), "interaction-1", EventStageJoin,
				map[string]string{"code": "000000"})
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, apperrors.GetCode(err))
		})
	}
}

func TestRequestEmptyResponseIsServiceError(t *testing.T) {
	fabric := newMemTransport()

	serving := NewRouter("interaction-1", fabric, time.Second)
	serving.Handle(EventStageJoin, func(context.Context, Envelope) (any, *ErrorPayload) {
		return nil, nil
	})
	require.NoError(t, serving.Start(context.Background()))
	t.Cleanup(serving.Stop)

	requesting := startRouter(t, fabric, "control-1", time.Second)

	_, err := requesting.Request(context.Background(), "interaction-1", EventStageJoin, nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeServiceResponse, apperrors.GetCode(err))
}

func TestRequestTimeout(t *testing.T) {
	fabric := newMemTransport()
	requesting := startRouter(t, fabric, "control-1", 50*time.Millisecond)

	start := time.Now()
	_, err := requesting.Request(context.Background(), "interaction-gone", EventStageCreate, nil)
	require.Error(t, err)

	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.GetCode(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, requesting.PendingActions(), "timed out action must not leak")
}

func TestRequestContextCancel(t *testing.T) {
	fabric := newMemTransport()
	requesting := startRouter(t, fabric, "control-1", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := requesting.Request(ctx, "interaction-gone", EventStageCreate, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, requesting.PendingActions())
}

func TestStaleResponseIsDropped(t *testing.T) {
	fabric := newMemTransport()
	requesting := startRouter(t, fabric, "control-1", time.Second)

	// A response for an action nobody is waiting on.
	payload, err := json.Marshal(Envelope{ActionID: "ghost", Event: EventStageCreate, Data: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, fabric.Publish(context.Background(), "actions:control-1", payload))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, requesting.PendingActions())
}

func TestConcurrentRequests(t *testing.T) {
	fabric := newMemTransport()

	serving := NewRouter("interaction-1", fabric, time.Second)
	serving.Handle(EventStageJoin, func(_ context.Context, env Envelope) (any, *ErrorPayload) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return nil, &ErrorPayload{Code: CodeBadRequest, Error: err.Error()}
		}
		return stagePayload{Code: req.Code}, nil
	})
	require.NoError(t, serving.Start(context.Background()))
	t.Cleanup(serving.Stop)

	requesting := startRouter(t, fabric, "control-1", time.Second)

	const n = 16
	var wg sync.WaitGroup
	codes := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := string(rune('a'+i)) + "-code"
			raw, err := requesting.Request(context.Background(), "interaction-1", EventStageJoin,
				map[string]string{"code": want})
			if err != nil {
				errs[i] = err
				return
			}
			var stage stagePayload
			if err := json.Unmarshal(raw, &stage); err != nil {
				errs[i] = err
				return
			}
			codes[i] = stage.Code
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, string(rune('a'+i))+"-code", codes[i], "responses must correlate by action id")
	}
	assert.Equal(t, 0, requesting.PendingActions())
}
