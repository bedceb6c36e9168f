package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/redis"
)

const brokerName = "ActionRouter"

// Handler processes one routed request. It returns the response data, or an
// ErrorPayload that is sent back verbatim.
type Handler func(ctx context.Context, env Envelope) (any, *ErrorPayload)

// Router is one instance's endpoint on the action mesh. The same router
// both issues requests to other instances and serves the events registered
// on it; an instance with no handlers is a pure requester.
type Router struct {
	instanceID string
	transport  Transport
	timeout    time.Duration

	mu       sync.Mutex
	pending  map[string]chan Envelope
	handlers map[string]Handler

	stop   func() error
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRouter(instanceID string, transport Transport, timeout time.Duration) *Router {
	return &Router{
		instanceID: instanceID,
		transport:  transport,
		timeout:    timeout,
		pending:    make(map[string]chan Envelope),
		handlers:   make(map[string]Handler),
	}
}

// Handle registers the handler for a routed event. Must be called before
// Start.
func (r *Router) Handle(event string, h Handler) {
	r.handlers[event] = h
}

// Start subscribes the router to its own instance channel and begins
// dispatching. It returns once the subscription is established.
func (r *Router) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	frames, stop, err := r.transport.Subscribe(ctx, redis.ActionChannel(r.instanceID))
	if err != nil {
		cancel()
		return err
	}

	r.cancel = cancel
	r.stop = stop
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for payload := range frames {
			r.dispatch(ctx, payload)
		}
	}()

	log.Info().Str("instanceId", r.instanceID).Msg("action router started")
	return nil
}

// Stop tears the subscription down and waits for the dispatch loop.
func (r *Router) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.stop()
	<-r.done
}

func (r *Router) dispatch(ctx context.Context, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Error().Err(err).Msg("malformed action envelope")
		return
	}

	// Requests carry the requester's instance id; everything else is a
	// response to one of our own pending actions.
	if env.ReqInstanceID != "" {
		r.mu.Lock()
		handler, ok := r.handlers[env.Event]
		r.mu.Unlock()
		if !ok {
			log.Warn().
				Str("event", env.Event).
				Str("actionId", env.ActionID).
				Msg("no handler for routed event")
			return
		}
		go r.serve(ctx, handler, env)
		return
	}

	r.mu.Lock()
	ch, ok := r.pending[env.ActionID]
	if ok {
		delete(r.pending, env.ActionID)
	}
	r.mu.Unlock()

	if !ok {
		// Late response after the requester gave up. Normal under load.
		log.Debug().Str("actionId", env.ActionID).Msg("dropping stale action response")
		return
	}
	ch <- env
}

// serve runs a handler and publishes its result back to the requester.
func (r *Router) serve(ctx context.Context, handler Handler, req Envelope) {
	resp := Envelope{ActionID: req.ActionID, Event: req.Event}

	data, errPayload := handler(ctx, req)
	if errPayload != nil {
		resp.Error = errPayload
	} else {
		raw, err := json.Marshal(data)
		if err != nil {
			log.Error().Err(err).Str("event", req.Event).Msg("marshal action response")
			resp.Error = &ErrorPayload{Code: CodeBadRequest, Error: "unserializable response"}
		} else {
			resp.Data = raw
		}
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("marshal action envelope")
		return
	}

	if err := r.transport.Publish(ctx, redis.ActionChannel(req.ReqInstanceID), payload); err != nil {
		log.Error().Err(err).
			Str("actionId", req.ActionID).
			Str("target", req.ReqInstanceID).
			Msg("publish action response")
	}
}

// Request routes an action to the target instance and waits for its
// response. The registration is removed on every exit path, so an
// abandoned action never leaks a pending slot.
func (r *Router) Request(ctx context.Context, targetInstanceID, event string, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.BadRequest("unserializable action data")
	}

	actionID := uuid.NewString()
	env := Envelope{
		ActionID:      actionID,
		Event:         event,
		ReqInstanceID: r.instanceID,
		Data:          raw,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, apperrors.Internal("marshal action envelope")
	}

	ch := make(chan Envelope, 1)
	r.mu.Lock()
	r.pending[actionID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, actionID)
		r.mu.Unlock()
	}()

	if err := r.transport.Publish(ctx, redis.ActionChannel(targetInstanceID), payload); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeServiceResponse, "action publish failed", err)
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return decodeResponse(event, resp)
	case <-timer.C:
		return nil, apperrors.Timeout(event)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decodeResponse maps a response envelope onto the application error
// taxonomy. Unknown error codes and empty responses surface as service
// response errors carrying the raw envelope for diagnosis.
func decodeResponse(event string, env Envelope) (json.RawMessage, error) {
	if env.Error != nil {
		switch env.Error.Code {
		case CodeBadRequest:
			return nil, apperrors.BadRequest(env.Error.Message())
		case CodeValidationError:
			return nil, apperrors.ValidationError(env.Error.Message())
		default:
			return nil, apperrors.ServiceResponse(brokerName, event, env.Error.Message(), env)
		}
	}

	if len(env.Data) == 0 {
		return nil, apperrors.ServiceResponse(brokerName, event, "No data received", env)
	}

	return env.Data, nil
}

// PendingActions reports how many requests are awaiting responses.
func (r *Router) PendingActions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
