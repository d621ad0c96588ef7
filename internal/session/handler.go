// Package session implements the per-connection protocol state machine.
//
// A Handler owns the shared dependencies (context store, model backend,
// query policy). Each connection opens its own Session, which processes
// frames strictly one at a time and emits exactly one reply per frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ellenfel/Model-Context-Protocol/internal/backend"
	"github.com/ellenfel/Model-Context-Protocol/internal/policy"
	"github.com/ellenfel/Model-Context-Protocol/internal/protocol"
	"github.com/ellenfel/Model-Context-Protocol/internal/store"
)

// ErrSessionClosed is returned when a frame arrives after Close.
var ErrSessionClosed = errors.New("session closed")

// Policy admits or rejects queries before they reach the backend.
type Policy interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// Handler dispatches protocol messages for all connections.
type Handler struct {
	store               store.Store
	backend             backend.Backend
	policy              Policy
	logger              *slog.Logger
	backendTimeout      time.Duration
	defaultModelID      string
	strictContextUpdate bool
	now                 func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger.With(slog.String("component", "session"))
	}
}

// WithPolicy installs a query policy. Without one every query is admitted.
func WithPolicy(p Policy) Option {
	return func(h *Handler) {
		h.policy = p
	}
}

// WithBackendTimeout bounds each backend call. Zero disables the bound.
func WithBackendTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.backendTimeout = d
	}
}

// WithDefaultModelID sets the model used by an init without a context.
func WithDefaultModelID(id string) Option {
	return func(h *Handler) {
		if id != "" {
			h.defaultModelID = id
		}
	}
}

// WithStrictContextUpdate makes a context_update without a context an
// INVALID_MESSAGE error instead of an "unchanged" acknowledgement.
func WithStrictContextUpdate(strict bool) Option {
	return func(h *Handler) {
		h.strictContextUpdate = strict
	}
}

// WithClock replaces the clock used for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a handler over the given store and backend.
func New(st store.Store, be backend.Backend, opts ...Option) *Handler {
	h := &Handler{
		store:          st,
		backend:        be,
		logger:         slog.Default().With(slog.String("component", "session")),
		backendTimeout: 30 * time.Second,
		defaultModelID: protocol.DefaultModelID,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Release removes the context stored for a connection id. It is safe to call
// for ids that were never opened or are already released.
func (h *Handler) Release(ctx context.Context, id string) error {
	return h.store.Remove(ctx, id)
}

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the protocol state of one connection.
type Session struct {
	id     string
	h      *Handler
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// Open starts a session for the connection id.
func (h *Handler) Open(id string) *Session {
	return &Session{
		id:     id,
		h:      h,
		logger: h.logger.With(slog.String("connectionID", id)),
		state:  StateUninitialized,
	}
}

// ID returns the connection id of the session.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle processes one raw frame and returns the reply to send. Per-message
// failures are returned as error messages; the only error result is
// ErrSessionClosed.
func (s *Session) Handle(ctx context.Context, raw []byte) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}

	msg, err := protocol.Parse(raw)
	if err != nil {
		s.logger.Info("failed to parse message", slog.String("err", err.Error()))
		return errorReply(err), nil
	}
	return s.dispatch(ctx, msg), nil
}

// HandleMessage processes an already decoded message.
func (s *Session) HandleMessage(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	return s.dispatch(ctx, msg), nil
}

// Close moves the session to Closed and discards its context.
// Closing twice is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	return s.h.Release(ctx, s.id)
}

func (s *Session) dispatch(ctx context.Context, msg *protocol.Message) (reply *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while handling message",
				slog.String("type", string(msg.Type)),
				slog.Any("panic", r))
			reply = errorReply(protocol.InvalidMessage(fmt.Errorf("internal error: %v", r)))
		}
	}()

	var err error
	switch msg.Type {
	case protocol.KindInit:
		reply, err = s.handleInit(ctx, msg)
	case protocol.KindQuery:
		reply, err = s.handleQuery(ctx, msg)
	case protocol.KindContextUpdate:
		reply, err = s.handleContextUpdate(ctx, msg)
	default:
		err = protocol.UnknownMessageType(msg.Type)
	}
	if err != nil {
		s.logger.Info("message failed",
			slog.String("type", string(msg.Type)),
			slog.String("err", err.Error()))
		return errorReply(err)
	}
	return reply
}

func (s *Session) handleInit(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	mc := msg.Context.Clone()
	if mc == nil {
		mc = protocol.NewDefaultContext()
		mc.ModelID = s.h.defaultModelID
	}

	if err := s.h.store.Put(ctx, s.id, mc); err != nil {
		return nil, protocol.InvalidMessage(err)
	}
	s.state = StateActive
	s.logger.Debug("context initialized", slog.String("modelID", mc.ModelID))

	return protocol.NewMessage(protocol.KindInit, protocol.StatusPayload{
		Status:  protocol.StatusInitialized,
		Context: mc,
	}, mc)
}

func (s *Session) handleQuery(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	mc, err := s.context(ctx)
	if err != nil {
		return nil, err
	}

	query, err := msg.QueryPayload()
	if err != nil {
		return nil, err
	}

	if s.h.policy != nil {
		decision, err := s.h.policy.Evaluate(ctx, policy.Input{
			ModelID:    mc.ModelID,
			Prompt:     query.Prompt,
			Options:    query.Options,
			HistoryLen: len(mc.History),
		})
		if err != nil {
			return nil, protocol.InvalidMessage(err)
		}
		if !decision.Allow {
			return nil, protocol.QueryBlocked(decision.Reason)
		}
	}

	askedAt := s.timestamp(mc)
	result, err := s.generate(ctx, mc, query)
	if err != nil {
		return nil, err
	}

	mc.History = append(mc.History, protocol.HistoryEntry{
		Role:      protocol.RoleUser,
		Content:   query.Prompt,
		Timestamp: askedAt,
	})
	mc.History = append(mc.History, protocol.HistoryEntry{
		Role:      protocol.RoleAssistant,
		Content:   result.Text,
		Timestamp: s.timestamp(mc),
	})

	if err := s.h.store.Put(ctx, s.id, mc); err != nil {
		return nil, protocol.InvalidMessage(err)
	}

	return protocol.NewMessage(protocol.KindResponse, protocol.ResponsePayload{
		Text: result.Text,
		Metadata: &protocol.ResponseMetadata{
			Tokens:         result.Tokens,
			ProcessingTime: result.ProcessingTime,
			Model:          mc.ModelID,
		},
	}, mc)
}

func (s *Session) generate(ctx context.Context, mc *protocol.ModelContext, query *protocol.QueryPayload) (*backend.Result, error) {
	callCtx := ctx
	if s.h.backendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.h.backendTimeout)
		defer cancel()
	}

	result, err := s.h.backend.Generate(callCtx, &backend.Request{
		ModelID: mc.ModelID,
		Prompt:  query.Prompt,
		Options: query.Options,
		History: mc.History,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.BackendFailure("Model backend timed out", err)
		}
		return nil, protocol.BackendFailure("Model backend failed", err)
	}
	if result == nil {
		return nil, protocol.BackendFailure("Model backend failed", errors.New("empty result"))
	}
	return result, nil
}

func (s *Session) handleContextUpdate(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	current, err := s.context(ctx)
	if err != nil {
		return nil, err
	}

	if msg.Context == nil {
		if s.h.strictContextUpdate {
			return nil, protocol.InvalidMessage(errors.New("context_update requires a context"))
		}
		return protocol.NewMessage(protocol.KindContextUpdate, protocol.StatusPayload{
			Status: protocol.StatusUnchanged,
		}, current)
	}

	mc := msg.Context.Clone()
	if err := s.h.store.Put(ctx, s.id, mc); err != nil {
		return nil, protocol.InvalidMessage(err)
	}
	s.logger.Debug("context replaced", slog.String("modelID", mc.ModelID))

	return protocol.NewMessage(protocol.KindContextUpdate, protocol.StatusPayload{
		Status: protocol.StatusUpdated,
	}, mc)
}

// context loads the stored context, reporting NO_CONTEXT when there is none.
func (s *Session) context(ctx context.Context) (*protocol.ModelContext, error) {
	mc, ok, err := s.h.store.Get(ctx, s.id)
	if err != nil {
		return nil, protocol.InvalidMessage(err)
	}
	if !ok {
		return nil, protocol.NoContext()
	}
	return mc, nil
}

// timestamp reads the clock in seconds, never going behind the newest
// history entry of mc.
func (s *Session) timestamp(mc *protocol.ModelContext) float64 {
	ts := float64(s.h.now().UnixNano()) / float64(time.Second)
	if last := mc.LastTimestamp(); ts < last {
		return last
	}
	return ts
}

func errorReply(err error) *protocol.Message {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		perr = protocol.InvalidMessage(err)
	}
	return protocol.NewErrorMessage(perr)
}
