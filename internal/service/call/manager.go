// Package call owns the lifecycle of audio/video call sessions and relays
// their signaling traffic. The media stream itself is peer-to-peer; only
// setup and teardown pass through here.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelinkhq/carelink/backend/internal/apperr"
	"github.com/carelinkhq/carelink/backend/internal/gateway"
	"github.com/carelinkhq/carelink/backend/internal/model/call"
	"github.com/carelinkhq/carelink/backend/internal/model/identity"
	"github.com/carelinkhq/carelink/backend/internal/store"
)

// Notifier posts automated notices into the pair's conversation, e.g. the
// call trace written on completion.
type Notifier interface {
	PostSystemNotice(ctx context.Context, fromID string, fromRole identity.Role, toID, body string)
}

// Manager drives the session state machine:
//
//	scheduled -> ringing    on CreateRoom
//	ringing   -> connected  on JoinRoom by the other participant
//	ringing   -> cancelled  on explicit cancel, ring timeout or presence loss
//	connected -> completed  on EndCall
//
// completed and cancelled are terminal; only notes may change afterwards.
type Manager struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer  // ring timers by session id
	ringing map[string]call.Session // ringing sessions, for presence-loss scans

	store       *store.CallStore
	registry    *gateway.Registry
	notifier    Notifier
	ringTimeout time.Duration
	log         *slog.Logger
}

func NewManager(store *store.CallStore, registry *gateway.Registry, notifier Notifier, ringTimeout time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		timers:      make(map[string]*time.Timer),
		ringing:     make(map[string]call.Session),
		store:       store,
		registry:    registry,
		notifier:    notifier,
		ringTimeout: ringTimeout,
		log:         log,
	}
}

// CreateRoom opens a fresh session for the pair and rings the callee. The
// caller must be one of the two participants; a pair can hold only one
// non-terminal session at a time.
func (m *Manager) CreateRoom(ctx context.Context, patientID, clinicianID string, callType call.Type, callerID string) (call.Session, error) {
	if !callType.Valid() {
		return call.Session{}, fmt.Errorf("call type %q: %w", callType, apperr.ErrValidation)
	}
	if patientID == "" || clinicianID == "" || patientID == clinicianID {
		return call.Session{}, fmt.Errorf("a session needs one patient and one clinician: %w", apperr.ErrValidation)
	}
	if callerID != patientID && callerID != clinicianID {
		return call.Session{}, fmt.Errorf("caller %s is not part of the pair: %w", callerID, apperr.ErrForbidden)
	}

	sess := call.Session{
		ID:          uuid.NewString(),
		PatientID:   patientID,
		ClinicianID: clinicianID,
		Status:      call.StatusScheduled,
		Type:        callType,
		StartedAt:   time.Now().UTC(),
	}

	m.mu.Lock()
	if err := m.store.Create(sess); err != nil {
		m.mu.Unlock()
		return call.Session{}, err
	}
	sess.Status = call.StatusRinging
	if err := m.store.Update(sess); err != nil {
		m.mu.Unlock()
		return call.Session{}, err
	}
	m.ringing[sess.ID] = sess
	sessionID := sess.ID
	m.timers[sessionID] = time.AfterFunc(m.ringTimeout, func() {
		m.expire(sessionID)
	})
	m.mu.Unlock()

	callee := sess.Peer(callerID)
	reachable := m.registry.Deliver(ctx, callee, gateway.Event{
		Type: gateway.EventCallInvite,
		Data: gateway.CallInvite{SessionID: sess.ID, FromUserID: callerID, CallType: callType},
	})
	if !reachable {
		// The session keeps ringing; the timeout cleans it up if the
		// callee never shows.
		m.log.Info("callee unreachable for invite", "session_id", sess.ID, "callee", callee)
	}
	return sess, nil
}

// JoinRoom moves a ringing session to connected. Only the two registered
// participants may join.
func (m *Manager) JoinRoom(ctx context.Context, sessionID, joinerID string) (call.Session, error) {
	m.mu.Lock()
	sess, err := m.transitionLocked(sessionID, joinerID, apperr.ErrExpired, func(sess *call.Session) error {
		if sess.Status != call.StatusRinging {
			return fmt.Errorf("cannot join a %s session: %w", sess.Status, apperr.ErrInvalidState)
		}
		sess.Status = call.StatusConnected
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return call.Session{}, err
	}

	m.registry.Deliver(ctx, sess.Peer(joinerID), gateway.Event{
		Type: gateway.EventCallAccepted,
		Data: gateway.CallAccepted{SessionID: sess.ID, JoinerID: joinerID},
	})
	return sess, nil
}

// EndCall completes a connected session, stamping end time and duration.
// Either participant may end; the second concurrent caller observes the
// already-terminal state and fails with ErrInvalidState, leaving the record
// untouched.
func (m *Manager) EndCall(ctx context.Context, sessionID, enderID string) (call.Session, error) {
	m.mu.Lock()
	sess, err := m.transitionLocked(sessionID, enderID, apperr.ErrInvalidState, func(sess *call.Session) error {
		if sess.Status != call.StatusConnected {
			return fmt.Errorf("cannot end a %s session: %w", sess.Status, apperr.ErrInvalidState)
		}
		end := time.Now().UTC()
		sess.Status = call.StatusCompleted
		sess.EndedAt = &end
		sess.Duration = end.Sub(sess.StartedAt)
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return call.Session{}, err
	}

	m.registry.Deliver(ctx, sess.Peer(enderID), gateway.Event{
		Type: gateway.EventCallEnded,
		Data: gateway.CallEnded{SessionID: sess.ID, Duration: sess.Duration},
	})
	if m.notifier != nil {
		role := identity.RoleClinician
		if enderID == sess.PatientID {
			role = identity.RolePatient
		}
		body := fmt.Sprintf("%s call ended after %s", sess.Type, sess.Duration.Round(time.Second))
		m.notifier.PostSystemNotice(ctx, enderID, role, sess.Peer(enderID), body)
	}
	return sess, nil
}

// Cancel aborts a session that has not connected yet. A connected call can
// only be ended, never cancelled.
func (m *Manager) Cancel(ctx context.Context, sessionID, requesterID string) (call.Session, error) {
	m.mu.Lock()
	sess, err := m.cancelLocked(sessionID, requesterID)
	m.mu.Unlock()
	if err != nil {
		return call.Session{}, err
	}

	m.registry.Deliver(ctx, sess.Peer(requesterID), gateway.Event{
		Type: gateway.EventCallCancelled,
		Data: gateway.CallCancelled{SessionID: sess.ID, Reason: "cancelled"},
	})
	return sess, nil
}

// UpdateNotes is the one mutation terminal sessions still accept.
func (m *Manager) UpdateNotes(_ context.Context, sessionID, requesterID, notes string) (call.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.store.Get(sessionID)
	if err != nil {
		return call.Session{}, err
	}
	if !sess.HasParticipant(requesterID) {
		return call.Session{}, fmt.Errorf("user %s is not part of session %s: %w", requesterID, sessionID, apperr.ErrForbidden)
	}
	sess.Notes = notes
	if err := m.store.Update(sess); err != nil {
		return call.Session{}, err
	}
	return sess, nil
}

// History pages through the requester's call sessions, newest first.
func (m *Manager) History(_ context.Context, requesterID string, cursor *string) ([]call.Session, *string, error) {
	return m.store.ListByParticipant(requesterID, cursor)
}

// HandlePresenceLost cancels every ringing session the departed user was part
// of. Installed as the registry's offline hook: a callee who drops before
// joining must not leave the caller ringing forever.
func (m *Manager) HandlePresenceLost(userID string) {
	m.mu.Lock()
	var lost []call.Session
	for _, sess := range m.ringing {
		if sess.HasParticipant(userID) {
			lost = append(lost, sess)
		}
	}
	var cancelled []call.Session
	for _, sess := range lost {
		updated, err := m.cancelLocked(sess.ID, sess.PatientID)
		if err != nil {
			m.log.Warn("failed to cancel ringing session on presence loss",
				"session_id", sess.ID, "user_id", userID, "error", err)
			continue
		}
		cancelled = append(cancelled, updated)
	}
	m.mu.Unlock()

	ctx := context.Background()
	for _, sess := range cancelled {
		m.registry.Deliver(ctx, sess.Peer(userID), gateway.Event{
			Type: gateway.EventCallCancelled,
			Data: gateway.CallCancelled{SessionID: sess.ID, Reason: "offline"},
		})
	}
}

// Recover reaps sessions a previous process left non-terminal: their
// connections and ring timers are gone, so nothing else can ever move them.
// Ringing and scheduled sessions become cancelled; connected ones complete
// with the recovery time as end.
func (m *Manager) Recover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orphans, err := m.store.ActiveSessions()
	if err != nil {
		return err
	}
	for _, sess := range orphans {
		switch sess.Status {
		case call.StatusConnected:
			end := time.Now().UTC()
			sess.EndedAt = &end
			sess.Duration = end.Sub(sess.StartedAt)
			sess.Status = call.StatusCompleted
		default:
			sess.Status = call.StatusCancelled
		}
		if err := m.store.Update(sess); err != nil {
			return err
		}
		m.log.Info("reaped orphaned call session", "session_id", sess.ID, "status", sess.Status)
	}
	return nil
}

// Stop releases every pending ring timer. Used during shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// expire fires when a ringing session saw no join within the ring timeout.
// The timer may race a concurrent transition; the state re-check under the
// lock makes the late firing a no-op.
func (m *Manager) expire(sessionID string) {
	m.mu.Lock()
	sess, ok := m.ringing[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	updated, err := m.cancelLocked(sessionID, sess.PatientID)
	m.mu.Unlock()
	if err != nil {
		m.log.Warn("failed to expire ringing session", "session_id", sessionID, "error", err)
		return
	}

	ctx := context.Background()
	ev := gateway.Event{
		Type: gateway.EventCallCancelled,
		Data: gateway.CallCancelled{SessionID: sessionID, Reason: "timeout"},
	}
	m.registry.Deliver(ctx, updated.PatientID, ev)
	m.registry.Deliver(ctx, updated.ClinicianID, ev)
}

// cancelLocked performs the non-terminal -> cancelled transition. Caller
// holds m.mu.
func (m *Manager) cancelLocked(sessionID, requesterID string) (call.Session, error) {
	return m.transitionLocked(sessionID, requesterID, apperr.ErrInvalidState, func(sess *call.Session) error {
		if sess.Status == call.StatusConnected {
			return fmt.Errorf("a connected session must be ended, not cancelled: %w", apperr.ErrInvalidState)
		}
		sess.Status = call.StatusCancelled
		return nil
	})
}

// transitionLocked loads the session, authorizes the requester, applies the
// mutation and persists it. Terminal states reject every transition with
// terminalErr: a join against a finished session reports it as expired, an
// end or cancel as a state violation. Any move out of ringing invalidates
// the ring timer, so a timer can never fire against a since-mutated session.
// Caller holds m.mu.
func (m *Manager) transitionLocked(sessionID, requesterID string, terminalErr error, mutate func(*call.Session) error) (call.Session, error) {
	sess, err := m.store.Get(sessionID)
	if err != nil {
		return call.Session{}, err
	}
	if !sess.HasParticipant(requesterID) {
		return call.Session{}, fmt.Errorf("user %s is not part of session %s: %w", requesterID, sessionID, apperr.ErrForbidden)
	}
	if sess.Status.Terminal() {
		return call.Session{}, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, terminalErr)
	}

	wasRinging := sess.Status == call.StatusRinging
	if err := mutate(&sess); err != nil {
		return call.Session{}, err
	}
	if err := m.store.Update(sess); err != nil {
		return call.Session{}, err
	}

	if wasRinging && sess.Status != call.StatusRinging {
		delete(m.ringing, sessionID)
		if t, ok := m.timers[sessionID]; ok {
			t.Stop()
			delete(m.timers, sessionID)
		}
	}
	return sess, nil
}
