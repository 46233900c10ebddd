// Package services – CallService
//
// This file implements the CallService, the orchestration core of call
// signaling. It enforces the call session state machine (PENDING → ONGOING →
// ENDED), issues media tokens for the two participants, and drives the two
// best-effort notification channels (realtime events and push). All state
// transitions are committed through conditional updates so that two parties
// racing to transition the same session resolve deterministically: exactly
// one wins, the loser observes a state-guard error.
//
// Side-effect ordering is deliberate. For accept/reject/end the authoritative
// transition commits first; token issuance and notifications happen after, so
// a slow or failing external call can never leave the state machine in an
// indeterminate position. Initiate is the one exception: a token failure
// there triggers a compensating delete of the just-created record so the
// caller observes no partial state.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/hivedesk/go-call-backend/internal/domain"
	"github.com/hivedesk/go-call-backend/internal/repo"
)

// Realtime event names published to per-user channels. Events for the same
// call directed at the same user are published synchronously and
// sequentially, so a subscriber observes them in program order.
const (
	EventIncomingCall = "incoming-call"
	EventCallAccepted = "call-accepted"
	EventCallRejected = "call-rejected"
	EventCallEnded    = "call-ended"
)

// CallRepo defines the repository contract required by CallService.
// Implementations are responsible for persistence of call records, including
// the conditional status updates that guard concurrent transitions.
type CallRepo interface {
	// CreateCall inserts a new PENDING call row.
	CreateCall(ctx context.Context, db *gorm.DB, callerID, calleeID, channelName string, now time.Time) (*domain.Call, error)

	// GetCall fetches a call by ID.
	GetCall(ctx context.Context, db *gorm.DB, id string) (*domain.Call, error)

	// DeleteCall removes a call row (compensating action only).
	DeleteCall(ctx context.Context, db *gorm.DB, id string) error

	// AcceptCall transitions PENDING→ONGOING iff still PENDING at commit time.
	AcceptCall(ctx context.Context, db *gorm.DB, id string, startedAt time.Time) error

	// RejectCall transitions PENDING→ENDED iff still PENDING at commit time.
	RejectCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error

	// EndCall transitions PENDING|ONGOING→ENDED iff still active at commit time.
	EndCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time) error

	// CountCalls returns the total number of calls involving userID.
	CountCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// ListCallsPage returns a page of calls involving userID, newest first.
	ListCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Call, error)
}

// UserDirectory is the slice of the user store that call signaling consumes:
// existence checks, display data for notifications, and device tokens.
type UserDirectory interface {
	// GetUser fetches a user by ID, returning repo.ErrNotFound when absent.
	GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error)

	// GetUsers fetches users by ID in one query, keyed by ID.
	GetUsers(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.User, error)
}

// TokenIssuer mints time-bounded media credentials scoped to exactly one
// channel and one participant identity. Implementations must be stateless and
// safe for concurrent use; both participants of a call may request tokens at
// the same time.
type TokenIssuer interface {
	Issue(channelName, identity string, ttl time.Duration) (string, error)
}

// EventPublisher delivers a named event with a JSON payload to the realtime
// channel belonging to a user. Delivery is fire-and-forget from the service's
// point of view: the service logs failures and never propagates them.
type EventPublisher interface {
	Publish(ctx context.Context, userID, event string, payload any) error
}

// PushNotifier performs best-effort out-of-band delivery to a registered
// device, used to wake clients that are not connected to the realtime
// channel. Its failure must never fail the enclosing signaling operation.
type PushNotifier interface {
	Send(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// CallGrant is returned by Initiate and Accept: the call record together with
// the media channel, the requesting participant's publish token, and the
// resolved participant summaries.
type CallGrant struct {
	Call        *domain.Call   `json:"call"`
	ChannelName string         `json:"channel_name"`
	Token       string         `json:"token"`
	Caller      domain.Summary `json:"caller"`
	Callee      domain.Summary `json:"callee"`
}

// HistoryEntry is one call in a user's history, with lightweight summaries of
// both participants resolved from the directory.
type HistoryEntry struct {
	Call   domain.Call    `json:"call"`
	Caller domain.Summary `json:"caller"`
	Callee domain.Summary `json:"callee"`
}

// IncomingCall is the cold-start projection of a still-ringing call, exposed
// only to its callee (push-notification taps land here before the client has
// seen any realtime event).
type IncomingCall struct {
	CallID      string         `json:"call_id"`
	ChannelName string         `json:"channel_name"`
	Caller      domain.Summary `json:"caller"`
}

// CallService coordinates call session state, media credentials, and
// notifications. All collaborators are injected; tests substitute fakes.
type CallService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the call repository used by this service.
	Repo CallRepo
	// Users resolves participants and their device tokens.
	Users UserDirectory
	// Tokens issues channel-scoped media credentials.
	Tokens TokenIssuer
	// Realtime publishes signaling events to per-user channels.
	Realtime EventPublisher
	// Push delivers best-effort wake-up notifications.
	Push PushNotifier

	// TokenTTL bounds issued media credentials.
	TokenTTL time.Duration
	// Now supplies the current time; injected for deterministic timestamps.
	Now func() time.Time
	// Log receives swallowed notification failures.
	Log zerolog.Logger
}

// NewCallService constructs a CallService with sane defaults (1h token TTL,
// wall-clock time, disabled logger).
func NewCallService(db *gorm.DB, r CallRepo, users UserDirectory, tokens TokenIssuer, rt EventPublisher, push PushNotifier) *CallService {
	return &CallService{
		DB:       db,
		Repo:     r,
		Users:    users,
		Tokens:   tokens,
		Realtime: rt,
		Push:     push,
		TokenTTL: time.Hour,
		Now:      time.Now,
		Log:      zerolog.Nop(),
	}
}

// now returns the injected clock's current time in UTC.
func (s *CallService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// newChannelName generates a globally unique media channel token. Channel
// names are never reused across attempts.
func newChannelName() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Initiate starts a call from callerID to calleeID.
//
// Semantics:
//   - callerID and calleeID must differ (ErrSelfCall) and calleeID must name
//     an existing user (ErrCalleeNotFound); both checked before any mutation.
//   - A fresh channel name is generated and a PENDING record created.
//   - A caller media token is issued. If issuance fails the record is deleted
//     again (compensating delete) and ErrTokenIssuance surfaces: the client
//     must observe no partial state.
//   - On success an incoming-call event is published to the callee's realtime
//     channel and a push notification is attempted against the callee's
//     registered device. Both are best effort: failures are logged, never
//     returned.
func (s *CallService) Initiate(ctx context.Context, callerID, calleeID string) (*CallGrant, error) {
	if callerID == calleeID {
		return nil, ErrSelfCall
	}

	caller, err := s.Users.GetUser(ctx, s.DB, callerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCalleeNotFound
		}
		return nil, err
	}
	callee, err := s.Users.GetUser(ctx, s.DB, calleeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCalleeNotFound
		}
		return nil, err
	}

	channel := newChannelName()
	call, err := s.Repo.CreateCall(ctx, s.DB, callerID, calleeID, channel, s.now())
	if err != nil {
		return nil, err
	}

	token, err := s.Tokens.Issue(channel, callerID, s.TokenTTL)
	if err != nil {
		// Compensate: the client must not observe a half-initiated call.
		if delErr := s.Repo.DeleteCall(ctx, s.DB, call.ID); delErr != nil {
			s.Log.Error().Err(delErr).Str("call_id", call.ID).Msg("compensating delete failed")
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}

	callTransitions.WithLabelValues("initiate").Inc()

	s.publish(ctx, calleeID, EventIncomingCall, map[string]any{
		"call_id":      call.ID,
		"channel_name": channel,
		"caller":       caller.Summary(),
		"caller_token": token,
	})
	s.notify(ctx, callee, "Incoming call", caller.DisplayName+" is calling you", map[string]string{
		"call_id":      call.ID,
		"channel_name": channel,
	})

	return &CallGrant{
		Call:        call,
		ChannelName: channel,
		Token:       token,
		Caller:      caller.Summary(),
		Callee:      callee.Summary(),
	}, nil
}

// Accept answers a pending call on behalf of actorID.
//
// Semantics:
//   - The call must exist (ErrCallNotFound), actorID must be its callee
//     (ErrNotCallee) and the call must still be PENDING (ErrCallNotPending).
//   - The PENDING→ONGOING transition commits atomically with StartedAt; under
//     a race the loser gets ErrCallNotPending and nothing is mutated.
//   - A callee media token is issued after the commit. If issuance fails the
//     transition is NOT rolled back — the caller side has already observed
//     acceptance — and ErrTokenIssuance surfaces distinctly from state errors.
//   - On success a call-accepted event is published to the caller (best effort).
func (s *CallService) Accept(ctx context.Context, callID, actorID string) (*CallGrant, error) {
	call, err := s.Repo.GetCall(ctx, s.DB, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	if actorID != call.CalleeID {
		return nil, ErrNotCallee
	}
	if call.Status != domain.CallPending {
		return nil, ErrCallNotPending
	}

	startedAt := s.now()
	if err := s.Repo.AcceptCall(ctx, s.DB, callID, startedAt); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil, ErrCallNotPending
		}
		return nil, err
	}
	call.Status = domain.CallOngoing
	call.StartedAt = &startedAt
	callTransitions.WithLabelValues("accept").Inc()

	token, err := s.Tokens.Issue(call.ChannelName, actorID, s.TokenTTL)
	if err != nil {
		// Deliberately no rollback: un-accepting a call the caller already
		// saw accepted would be worse than a retryable token failure.
		return nil, fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}

	s.publish(ctx, call.CallerID, EventCallAccepted, map[string]any{
		"call_id":      call.ID,
		"channel_name": call.ChannelName,
	})

	grant := &CallGrant{Call: call, ChannelName: call.ChannelName, Token: token}
	if users, err := s.Users.GetUsers(ctx, s.DB, []string{call.CallerID, call.CalleeID}); err == nil {
		if u, ok := users[call.CallerID]; ok {
			grant.Caller = u.Summary()
		}
		if u, ok := users[call.CalleeID]; ok {
			grant.Callee = u.Summary()
		}
	}
	return grant, nil
}

// Reject declines a pending call on behalf of actorID.
//
// The call must exist, actorID must be its callee, and the call must still be
// PENDING; the PENDING→ENDED transition commits atomically with EndedAt and
// StartedAt stays unset. On success a call-rejected event is published to the
// caller (best effort).
func (s *CallService) Reject(ctx context.Context, callID, actorID string) error {
	call, err := s.Repo.GetCall(ctx, s.DB, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCallNotFound
		}
		return err
	}
	if actorID != call.CalleeID {
		return ErrNotCallee
	}
	if call.Status != domain.CallPending {
		return ErrCallNotPending
	}

	if err := s.Repo.RejectCall(ctx, s.DB, callID, s.now()); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return ErrCallNotPending
		}
		return err
	}

	callTransitions.WithLabelValues("reject").Inc()
	s.publish(ctx, call.CallerID, EventCallRejected, map[string]any{
		"call_id": call.ID,
	})
	return nil
}

// End hangs up a call on behalf of actorID, from either the PENDING or the
// ONGOING state.
//
// The call must exist and actorID must be one of its two participants
// (ErrNotParticipant); a call already in a terminal state yields
// ErrCallNotActive. The transition commits atomically with EndedAt; under a
// race the loser gets ErrCallNotActive. On success a call-ended event is
// published to the other participant (best effort).
func (s *CallService) End(ctx context.Context, callID, actorID string) error {
	call, err := s.Repo.GetCall(ctx, s.DB, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrCallNotFound
		}
		return err
	}
	if !call.Participant(actorID) {
		return ErrNotParticipant
	}
	if !call.Status.Active() {
		return ErrCallNotActive
	}

	if err := s.Repo.EndCall(ctx, s.DB, callID, s.now()); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return ErrCallNotActive
		}
		return err
	}

	callTransitions.WithLabelValues("end").Inc()
	s.publish(ctx, call.Peer(actorID), EventCallEnded, map[string]any{
		"call_id": call.ID,
	})
	return nil
}

// Pending returns the cold-start view of a still-ringing call, but only to
// its callee. Any other combination (missing call, different requester, call
// no longer PENDING) uniformly yields ErrCallNotFound so that probing
// requests cannot distinguish the cases.
func (s *CallService) Pending(ctx context.Context, callID, actorID string) (*IncomingCall, error) {
	call, err := s.Repo.GetCall(ctx, s.DB, callID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	if actorID != call.CalleeID || call.Status != domain.CallPending {
		return nil, ErrCallNotFound
	}

	caller, err := s.Users.GetUser(ctx, s.DB, call.CallerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}

	return &IncomingCall{
		CallID:      call.ID,
		ChannelName: call.ChannelName,
		Caller:      caller.Summary(),
	}, nil
}

// History returns a page of calls in which userID participated, newest first,
// together with the total count and participant summaries. It applies
// defaults for invalid page/pageSize; the transport layer additionally caps
// pageSize.
func (s *CallService) History(ctx context.Context, userID string, page, pageSize int) ([]HistoryEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountCalls(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []HistoryEntry{}, 0, nil
	}

	calls, err := s.Repo.ListCallsPage(ctx, s.DB, userID, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}

	// Resolve both participants of every call in one directory query.
	seen := make(map[string]struct{}, len(calls)*2)
	ids := make([]string, 0, len(calls)*2)
	for _, c := range calls {
		for _, id := range []string{c.CallerID, c.CalleeID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	users, err := s.Users.GetUsers(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]HistoryEntry, 0, len(calls))
	for _, c := range calls {
		e := HistoryEntry{Call: c}
		if u, ok := users[c.CallerID]; ok {
			e.Caller = u.Summary()
		} else {
			e.Caller = domain.Summary{ID: c.CallerID}
		}
		if u, ok := users[c.CalleeID]; ok {
			e.Callee = u.Summary()
		} else {
			e.Callee = domain.Summary{ID: c.CalleeID}
		}
		entries = append(entries, e)
	}
	return entries, total, nil
}

// publish delivers a realtime event, absorbing any failure. The state
// transition is the source of truth; the event is a best-effort signal to
// connected clients.
func (s *CallService) publish(ctx context.Context, userID, event string, payload any) {
	if s.Realtime == nil {
		return
	}
	if err := s.Realtime.Publish(ctx, userID, event, payload); err != nil {
		s.Log.Warn().Err(err).Str("event", event).Str("user_id", userID).Msg("realtime publish failed")
	}
}

// notify attempts a push notification against the user's registered device,
// absorbing any failure. Users without a registered device are skipped.
func (s *CallService) notify(ctx context.Context, user *domain.User, title, body string, data map[string]string) {
	if s.Push == nil || user.DeviceToken == "" {
		return
	}
	if err := s.Push.Send(ctx, user.DeviceToken, title, body, data); err != nil {
		s.Log.Warn().Err(err).Str("user_id", user.ID).Msg("push delivery failed")
	}
}
