package fix

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// -------------------------------------------------------------------------
// Session Options
// -------------------------------------------------------------------------

// Default policy values applied when the settings leave a key unset.
const (
	// DefaultLogonTimeout bounds the wait for a Logon reply.
	DefaultLogonTimeout = 10 * time.Second

	// DefaultLogoutTimeout bounds the wait for a Logout reply.
	DefaultLogoutTimeout = 2 * time.Second

	// DefaultMaxLatency bounds |now - SendingTime| when CheckLatency is on.
	DefaultMaxLatency = 120 * time.Second

	// testRequestThreshold scales HeartBtInt for the TestRequest
	// escalation: no traffic for 1.2 intervals provokes a TestRequest.
	testRequestThreshold = 1.2

	// disconnectThreshold scales HeartBtInt for the disconnect
	// escalation: silence for 2.4 intervals drops the connection.
	disconnectThreshold = 2.4
)

// SessionOptions carries the per-session policy resolved by the factory
// from the session settings. Zero LogonTimeout, LogoutTimeout and
// MaxLatency are replaced by defaults in NewSession.
type SessionOptions struct {
	Initiator bool

	HeartBtInt    time.Duration
	LogonTimeout  time.Duration
	LogoutTimeout time.Duration

	SessionTime TimeRange
	LogonTime   TimeRange

	ResetOnLogon      bool
	ResetOnLogout     bool
	ResetOnDisconnect bool
	RefreshOnLogon    bool
	PersistMessages   bool

	CheckCompID               bool
	CheckLatency              bool
	MaxLatency                time.Duration
	ValidateLengthAndChecksum bool
	UseDataDictionary         bool

	SendRedundantResendRequests bool
	MillisecondsInTimestamp     bool

	// DefaultApplVerID stamps outbound application messages on FIXT
	// sessions (ApplVerID selection).
	DefaultApplVerID string
}

// -------------------------------------------------------------------------
// Session Errors
// -------------------------------------------------------------------------

var (
	// ErrNotConnected indicates a send was attempted with no transport.
	ErrNotConnected = errors.New("session not connected")

	// ErrSessionDisabled indicates a logon was attempted while disabled.
	ErrSessionDisabled = errors.New("session disabled")

	// ErrAlreadyConnected indicates a second transport tried to bind.
	ErrAlreadyConnected = errors.New("session already has a transport")
)

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is the FIX session state machine. It owns the logon handshake,
// sequence-number bookkeeping, gap detection and resend, heartbeats, test
// requests, session-time enforcement, and the persistence coupling.
//
// A session is a critical section: the driver's read loop and any
// externally initiated Send serialize on the internal mutex. Status flags
// used by cross-session queries are mirrored in atomics so the registry can
// read them without taking the session lock.
type Session struct {
	mu sync.Mutex

	id    SessionID
	opts  SessionOptions
	app   Application
	store MessageStore

	// transportDict validates session-layer structure; appDict validates
	// application messages. Identical for classic FIX; distinct for FIXT.
	transportDict *DataDictionary
	appDict       *DataDictionary

	responder Responder
	logger    *slog.Logger
	metrics   MetricsReporter

	status   Status
	enabled  atomic.Bool
	loggedOn atomic.Bool

	sentLogon     bool
	sentLogout    bool
	resetReceived bool
	resetSent     bool

	lastSent     time.Time
	lastReceived time.Time
	statusAt     time.Time // when status last changed; drives timeouts

	awaitingTestResponse bool
	testRequestCounter   int

	resend resendRange

	// pending holds messages received ahead of next-target while a resend
	// is outstanding. They are replayed in order as the target catches up.
	pending map[int]*Message
}

// NewSession builds a session from its resolved policy. The store is opened
// by the factory; the dictionaries may be nil when UseDataDictionary is off.
func NewSession(
	id SessionID,
	opts SessionOptions,
	app Application,
	store MessageStore,
	transportDict, appDict *DataDictionary,
	logger *slog.Logger,
	metrics MetricsReporter,
) *Session {
	if opts.LogonTimeout <= 0 {
		opts.LogonTimeout = DefaultLogonTimeout
	}
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = DefaultLogoutTimeout
	}
	if opts.MaxLatency <= 0 {
		opts.MaxLatency = DefaultMaxLatency
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	s := &Session{
		id:            id,
		opts:          opts,
		app:           app,
		store:         store,
		transportDict: transportDict,
		appDict:       appDict,
		logger: logger.With(
			slog.String("session", id.String()),
		),
		metrics: metrics,
		status:  StatusDisconnected,
	}
	s.enabled.Store(true)
	s.metrics.RegisterSession(id.String())
	app.OnCreate(id)
	return s
}

// -------------------------------------------------------------------------
// Lock-free accessors
// -------------------------------------------------------------------------

// ID returns the session identifier.
func (s *Session) ID() SessionID { return s.id }

// IsLoggedOn reports whether the handshake has completed (atomic read).
func (s *Session) IsLoggedOn() bool { return s.loggedOn.Load() }

// IsEnabled reports whether the session accepts logons (atomic read).
func (s *Session) IsEnabled() bool { return s.enabled.Load() }

// Enable permits logons. Used by the admin surface and engine restart.
func (s *Session) Enable() { s.enabled.Store(true) }

// Disable blocks future logons and logs out an active connection.
func (s *Session) Disable() {
	s.enabled.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusLoggedOn {
		s.initiateLogout("session disabled")
	}
}

// Status returns the current handshake status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SeqNums returns (nextSender, nextTarget) for monitoring.
func (s *Session) SeqNums() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, _ := s.store.NextSenderMsgSeqNum()
	target, _ := s.store.NextTargetMsgSeqNum()
	return sender, target
}

// InLogonWindow reports whether a logon may be initiated now.
func (s *Session) InLogonWindow(now time.Time) bool {
	if s.opts.LogonTime.IsZero() {
		return true
	}
	return s.opts.LogonTime.IsInRange(now)
}

// IsInitiator reports the session's connection role.
func (s *Session) IsInitiator() bool { return s.opts.Initiator }

// -------------------------------------------------------------------------
// Transport binding
// -------------------------------------------------------------------------

// Connect attaches a transport. Initiators immediately send Logon and move
// to LogonSent; acceptors wait for the counterparty's Logon.
func (s *Session) Connect(responder Responder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responder != nil {
		return fmt.Errorf("session %s: %w", s.id, ErrAlreadyConnected)
	}
	if !s.enabled.Load() {
		return fmt.Errorf("session %s: %w", s.id, ErrSessionDisabled)
	}

	s.responder = responder
	s.sentLogon = false
	s.sentLogout = false
	s.resetReceived = false
	s.resetSent = false
	s.resend = resendRange{}
	s.pending = make(map[int]*Message)
	s.awaitingTestResponse = false
	now := time.Now()
	s.lastSent = now
	s.lastReceived = now

	if s.opts.Initiator {
		if err := s.maybeScheduleReset(now); err != nil {
			s.logger.Error("schedule reset failed", slog.String("error", err.Error()))
		}
		s.sendLogon(false)
		s.setStatus(StatusLogonSent)
		s.logger.Info("logon sent, awaiting reply")
	}
	// Acceptors stay Disconnected with the transport attached until the
	// counterparty's Logon arrives.
	return nil
}

// setStatus records a status change and its timestamp.
func (s *Session) setStatus(st Status) {
	s.status = st
	s.statusAt = time.Now()
	s.loggedOn.Store(st == StatusLoggedOn)
	s.metrics.SetLoggedOn(s.id.String(), st == StatusLoggedOn)
}

// maybeScheduleReset applies the day-schedule policy: when the store's
// creation time and now fall in different session-window occurrences, the
// sequence numbers reset before the next logon.
func (s *Session) maybeScheduleReset(now time.Time) error {
	if s.opts.SessionTime.IsZero() {
		return nil
	}
	created, err := s.store.CreationTime()
	if err != nil {
		return err
	}
	if !s.opts.SessionTime.IsInSameRange(created, now) {
		s.logger.Info("session window rolled over, resetting sequence numbers")
		return s.store.Reset()
	}
	return nil
}

// -------------------------------------------------------------------------
// Inbound pipeline
// -------------------------------------------------------------------------

// ProcessIncoming runs one framed message through the inbound pipeline:
// checksum/length verification, parse, identity checks, latency check,
// sequence handling, dictionary validation, and dispatch. The driver calls
// this from the connection's read loop.
func (s *Session) ProcessIncoming(raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.ValidateLengthAndChecksum {
		if err := VerifyLengthAndCheckSum(raw); err != nil {
			s.logger.Warn("dropping message with bad length or checksum",
				slog.String("error", err.Error()),
			)
			return
		}
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		s.logger.Warn("dropping unparseable message",
			slog.String("error", err.Error()),
		)
		return
	}

	s.lastReceived = time.Now()
	s.metrics.IncMessagesReceived(s.id.String())
	s.handleMessage(msg)
}

// handleMessage is the post-parse pipeline. Caller holds the lock.
func (s *Session) handleMessage(msg *Message) {
	msgType := msg.MsgType()

	// The first message on a connection must be a Logon, on both roles.
	if !s.loggedOn.Load() && s.status != StatusLogoutSent && msgType != MsgTypeLogon {
		s.logger.Warn("first message is not a logon, disconnecting",
			slog.String("msg_type", msgType),
		)
		s.disconnect()
		return
	}

	if !s.checkIdentity(msg) {
		return
	}
	if !s.checkLatency(msg, msgType) {
		return
	}
	if !s.checkSeqNum(msg, msgType) {
		return
	}
	if !s.validateStructure(msg, msgType) {
		return
	}

	s.dispatch(msg, msgType)
	s.drainPending()
}

// drainPending replays buffered ahead-of-sequence messages once the target
// sequence number catches up to them, preserving strict delivery order.
func (s *Session) drainPending() {
	for len(s.pending) > 0 {
		target, err := s.store.NextTargetMsgSeqNum()
		if err != nil {
			s.storeFailure(err)
			return
		}
		msg, ok := s.pending[target]
		if !ok {
			return
		}
		delete(s.pending, target)
		s.dispatch(msg, msg.MsgType())
	}
}

// checkIdentity verifies BeginString and the CompID pair. A mismatch is a
// fatal session error: Logout with reason text, then disconnect.
func (s *Session) checkIdentity(msg *Message) bool {
	beginString, _ := msg.Header.Get(TagBeginString)
	if beginString != s.id.BeginString {
		s.logoutAndDisconnect(fmt.Sprintf(
			"Incorrect BeginString: %s, expected %s", beginString, s.id.BeginString))
		return false
	}
	if !s.opts.CheckCompID {
		return true
	}
	sender, _ := msg.Header.Get(TagSenderCompID)
	target, _ := msg.Header.Get(TagTargetCompID)
	if sender != s.id.TargetCompID || target != s.id.SenderCompID {
		s.logoutAndDisconnect(fmt.Sprintf(
			"CompID problem: %s->%s", sender, target))
		return false
	}
	return true
}

// checkLatency enforces the SendingTime accuracy window. Rejects the
// message and disconnects; a Logon gets Logout-and-disconnect instead.
func (s *Session) checkLatency(msg *Message, msgType string) bool {
	if !s.opts.CheckLatency {
		return true
	}
	sendingTime, ok := msg.Header.Get(TagSendingTime)
	if !ok {
		s.sendReject(msg, RejectRequiredTagMissing, TagSendingTime)
		return false
	}
	ts, err := ParseUTCTimestamp(sendingTime)
	if err != nil {
		s.sendReject(msg, RejectIncorrectDataFormat, TagSendingTime)
		return false
	}
	delta := time.Since(ts)
	if delta < 0 {
		delta = -delta
	}
	if delta <= s.opts.MaxLatency {
		return true
	}
	if msgType == MsgTypeLogon {
		s.logoutAndDisconnect("SendingTime accuracy problem on Logon")
	} else {
		s.sendReject(msg, RejectSendingTimeAccuracy, TagSendingTime)
		s.disconnect()
	}
	return false
}

// validateStructure runs the data-dictionary checks when enabled. A failed
// check answers with Reject(3) carrying the SessionRejectReason; the
// message still consumes its sequence number.
func (s *Session) validateStructure(msg *Message, msgType string) bool {
	if !s.opts.UseDataDictionary {
		return true
	}
	dict := s.appDict
	if IsAdminMsgType(msgType) {
		dict = s.transportDict
	}
	if dict == nil {
		return true
	}
	if err := dict.Validate(msg); err != nil {
		var rej *RejectError
		if errors.As(err, &rej) {
			s.logger.Warn("message failed validation",
				slog.String("msg_type", msgType),
				slog.Int("tag", int(rej.Tag)),
				slog.String("reason", rej.Reason.String()),
			)
			s.incrementTargetSeqNum(msg)
			s.sendRejectReason(msg, rej)
			return false
		}
		s.logger.Error("validation error", slog.String("error", err.Error()))
		return false
	}
	return true
}

// checkSeqNum applies the sequence-number rules:
//
//	== next-target: accept.
//	>  next-target: process only SequenceReset-Reset; otherwise issue a
//	   ResendRequest covering the gap and wait for the resent copies.
//	<  next-target with PossDupFlag=Y: ignore (duplicate of processed data).
//	<  next-target with PossDupFlag=N: fatal; Logout with the expected and
//	   received numbers in the text, then disconnect.
func (s *Session) checkSeqNum(msg *Message, msgType string) bool {
	seqNum, err := msg.SeqNum()
	if err != nil {
		s.sendReject(msg, RejectRequiredTagMissing, TagMsgSeqNum)
		return false
	}
	target, err := s.store.NextTargetMsgSeqNum()
	if err != nil {
		s.storeFailure(err)
		return false
	}

	// SequenceReset-Reset is exempt from gap handling: it exists to repair
	// the sequence numbering itself.
	if msgType == MsgTypeSequenceReset && !msg.Body.GetBool(TagGapFillFlag) {
		return true
	}

	// Logon runs its own sequence check after applying ResetSeqNumFlag and
	// the reset-on-logon policies, which may move next-target first.
	if msgType == MsgTypeLogon {
		return true
	}

	switch {
	case seqNum == target:
		return true

	case seqNum > target:
		s.logger.Info("sequence gap detected",
			slog.Int("expected", target),
			slog.Int("received", seqNum),
		)
		s.pending[seqNum] = msg
		s.requestResend(target, seqNum-1)
		return false

	default: // seqNum < target
		if msg.PossDup() {
			s.logger.Debug("ignoring possible duplicate",
				slog.Int("seq_num", seqNum),
			)
			return false
		}
		s.logoutAndDisconnect(fmt.Sprintf(
			"MsgSeqNum too low, expecting %d received %d", target, seqNum))
		return false
	}
}

// dispatch routes the message to the admin handler or the application.
func (s *Session) dispatch(msg *Message, msgType string) {
	switch msgType {
	case MsgTypeLogon:
		s.handleLogon(msg)
	case MsgTypeLogout:
		s.handleLogout(msg)
	case MsgTypeHeartbeat:
		s.handleHeartbeat(msg)
	case MsgTypeTestRequest:
		s.handleTestRequest(msg)
	case MsgTypeResendRequest:
		s.handleResendRequest(msg)
	case MsgTypeSequenceReset:
		s.handleSequenceReset(msg)
	case MsgTypeReject:
		s.handleSessionReject(msg)
	default:
		s.handleApp(msg)
	}
}

// incrementTargetSeqNum advances next-target by one. A store failure
// drops the connection.
func (s *Session) incrementTargetSeqNum(msg *Message) {
	if err := s.store.IncrNextTargetMsgSeqNum(); err != nil {
		s.storeFailure(err)
	}
	_ = msg
}

// -------------------------------------------------------------------------
// Logon handshake
// -------------------------------------------------------------------------

// handleLogon completes the handshake for both roles.
func (s *Session) handleLogon(msg *Message) {
	if !s.enabled.Load() {
		s.logoutAndDisconnect("Session is not enabled")
		return
	}
	now := time.Now()
	if !s.opts.SessionTime.IsZero() && !s.opts.SessionTime.IsInRange(now) {
		s.logoutAndDisconnect("Logon outside of session time")
		return
	}

	resetRequested := msg.Body.GetBool(TagResetSeqNumFlag)
	if resetRequested {
		s.resetReceived = true
		s.logger.Info("counterparty requested sequence reset on logon")
		if err := s.store.Reset(); err != nil {
			s.storeFailure(err)
			return
		}
	}

	if !s.opts.Initiator {
		if err := s.acceptorLogon(msg, now); err != nil {
			return
		}
	}

	// Application veto: FromAdmin may reject the logon.
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		if errors.Is(err, ErrRejectLogon) {
			s.logoutAndDisconnect("Logon rejected: " + err.Error())
			return
		}
		s.logger.Warn("fromAdmin error on logon", slog.String("error", err.Error()))
	}

	seqNum, _ := msg.SeqNum()
	target, err := s.store.NextTargetMsgSeqNum()
	if err != nil {
		s.storeFailure(err)
		return
	}
	if seqNum < target && !msg.PossDup() {
		s.logoutAndDisconnect(fmt.Sprintf(
			"MsgSeqNum too low, expecting %d received %d", target, seqNum))
		return
	}

	if !s.opts.Initiator && !s.sentLogon {
		s.sendLogon(s.resetReceived)
	}

	s.setStatus(StatusLoggedOn)
	s.logger.Info("logged on")
	s.app.OnLogon(s.id)

	if seqNum == target {
		s.incrementTargetSeqNum(msg)
	} else if seqNum > target {
		s.requestResend(target, seqNum-1)
	}
}

// acceptorLogon applies the acceptor side of the handshake: reset policies,
// store refresh, and HeartBtInt adoption.
func (s *Session) acceptorLogon(msg *Message, now time.Time) error {
	if err := s.maybeScheduleReset(now); err != nil {
		s.storeFailure(err)
		return err
	}
	if s.opts.RefreshOnLogon {
		if err := s.store.Refresh(); err != nil {
			s.storeFailure(err)
			return err
		}
	}
	if s.opts.ResetOnLogon && !s.resetReceived {
		if err := s.store.Reset(); err != nil {
			s.storeFailure(err)
			return err
		}
	}

	// Adopt the counterparty's heartbeat interval.
	if v, ok := msg.Body.Get(TagHeartBtInt); ok {
		if secs, err := ParseInt(v); err == nil && secs > 0 {
			s.opts.HeartBtInt = time.Duration(secs) * time.Second
		}
	}
	return nil
}

// sendLogon emits the Logon admin message. reset mirrors the counterparty's
// ResetSeqNumFlag so both sides restart at 1 together.
func (s *Session) sendLogon(reset bool) {
	if s.opts.Initiator && s.opts.ResetOnLogon {
		if err := s.store.Reset(); err != nil {
			s.storeFailure(err)
			return
		}
		reset = true
	}
	msg := NewMessage(MsgTypeLogon)
	msg.Body.SetInt(TagEncryptMethod, 0)
	msg.Body.SetInt(TagHeartBtInt, int(s.opts.HeartBtInt/time.Second))
	if reset {
		msg.Body.SetBool(TagResetSeqNumFlag, true)
		s.resetSent = true
	}
	if s.id.IsFIXT() && s.opts.DefaultApplVerID != "" {
		msg.Body.Set(TagDefaultApplVerID, s.opts.DefaultApplVerID)
	}
	s.sentLogon = true
	s.sendAdmin(msg)
}

// -------------------------------------------------------------------------
// Logout
// -------------------------------------------------------------------------

// initiateLogout sends a Logout and waits for the counterparty's reply.
func (s *Session) initiateLogout(text string) {
	msg := NewMessage(MsgTypeLogout)
	if text != "" {
		msg.Body.Set(TagText, text)
	}
	s.sentLogout = true
	s.sendAdmin(msg)
	s.setStatus(StatusLogoutSent)
	s.logger.Info("logout sent", slog.String("text", text))
}

// handleLogout answers a counterparty Logout and tears the transport down.
func (s *Session) handleLogout(msg *Message) {
	s.incrementTargetSeqNum(msg)
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on logout", slog.String("error", err.Error()))
	}

	if s.sentLogout {
		s.logger.Info("logout reply received")
	} else {
		s.logger.Info("logout received, replying")
		reply := NewMessage(MsgTypeLogout)
		s.sentLogout = true
		s.sendAdmin(reply)
	}
	if s.opts.ResetOnLogout {
		if err := s.store.Reset(); err != nil {
			s.storeFailure(err)
		}
	}
	s.disconnect()
}

// logoutAndDisconnect sends a Logout carrying the fatal reason and drops
// the transport without waiting for a reply.
func (s *Session) logoutAndDisconnect(text string) {
	msg := NewMessage(MsgTypeLogout)
	if text != "" {
		msg.Body.Set(TagText, text)
	}
	s.sentLogout = true
	s.sendAdmin(msg)
	s.logger.Warn("logout", slog.String("text", text))
	s.disconnect()
}

// -------------------------------------------------------------------------
// Heartbeat / TestRequest
// -------------------------------------------------------------------------

// handleHeartbeat clears the outstanding test-request flag.
func (s *Session) handleHeartbeat(msg *Message) {
	s.incrementTargetSeqNum(msg)
	s.awaitingTestResponse = false
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on heartbeat", slog.String("error", err.Error()))
	}
}

// handleTestRequest answers with a Heartbeat echoing the TestReqID.
func (s *Session) handleTestRequest(msg *Message) {
	s.incrementTargetSeqNum(msg)
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on test request", slog.String("error", err.Error()))
	}
	reply := NewMessage(MsgTypeHeartbeat)
	if id, ok := msg.Body.Get(TagTestReqID); ok {
		reply.Body.Set(TagTestReqID, id)
	}
	s.sendAdmin(reply)
}

// CheckTimers inspects the session clocks. The driver calls this once per
// second per session:
//
//	lastSent    >= HeartBtInt        -> send Heartbeat
//	lastReceived >= HeartBtInt * 1.2 -> send TestRequest
//	lastReceived >= HeartBtInt * 2.4 -> disconnect
//
// Logon and logout timeouts and the session-time window are enforced on the
// same tick.
func (s *Session) CheckTimers(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusLogonSent:
		if now.Sub(s.statusAt) > s.opts.LogonTimeout {
			s.logger.Warn("timed out waiting for logon reply")
			s.disconnect()
		}
		return
	case StatusLogoutSent:
		if now.Sub(s.statusAt) > s.opts.LogoutTimeout {
			s.logger.Warn("timed out waiting for logout reply")
			s.disconnect()
		}
		return
	case StatusLoggedOn:
	default:
		return
	}

	if !s.opts.SessionTime.IsZero() && !s.opts.SessionTime.IsInRange(now) {
		s.logger.Info("outside session time, logging out")
		s.initiateLogout("Session time expired")
		return
	}

	if s.opts.HeartBtInt <= 0 {
		return
	}
	hb := s.opts.HeartBtInt
	sinceRecv := now.Sub(s.lastReceived)

	if float64(sinceRecv) >= float64(hb)*disconnectThreshold {
		s.logger.Warn("timed out waiting for heartbeat")
		s.disconnect()
		return
	}
	if float64(sinceRecv) >= float64(hb)*testRequestThreshold && !s.awaitingTestResponse {
		s.testRequestCounter++
		req := NewMessage(MsgTypeTestRequest)
		req.Body.Set(TagTestReqID, "TEST-"+strconv.Itoa(s.testRequestCounter))
		s.sendAdmin(req)
		s.awaitingTestResponse = true
		return
	}
	if now.Sub(s.lastSent) >= hb {
		s.sendAdmin(NewMessage(MsgTypeHeartbeat))
	}
}

// -------------------------------------------------------------------------
// Resend
// -------------------------------------------------------------------------

// requestResend emits a ResendRequest for [begin, end]. Redundant requests
// inside the open range are suppressed unless SendRedundantResendRequests.
func (s *Session) requestResend(begin, end int) {
	if s.resend.active && !s.opts.SendRedundantResendRequests && s.resend.covers(end) {
		s.logger.Debug("resend already outstanding",
			slog.Int("begin", s.resend.begin),
			slog.Int("end", s.resend.end),
		)
		return
	}
	msg := NewMessage(MsgTypeResendRequest)
	msg.Body.SetInt(TagBeginSeqNo, begin)
	msg.Body.SetInt(TagEndSeqNo, end)
	s.resend = resendRange{active: true, begin: begin, end: end}
	s.metrics.IncResendRequests(s.id.String())
	s.sendAdmin(msg)
	s.logger.Info("resend requested",
		slog.Int("begin", begin),
		slog.Int("end", end),
	)
}

// handleResendRequest replays the requested range from the store. Admin and
// unpersisted messages collapse into SequenceReset-GapFill; application
// messages are re-sent with PossDupFlag=Y and OrigSendingTime preserved.
func (s *Session) handleResendRequest(msg *Message) {
	s.incrementTargetSeqNum(msg)
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on resend request", slog.String("error", err.Error()))
	}

	begin, err1 := msg.Body.GetInt(TagBeginSeqNo)
	end, err2 := msg.Body.GetInt(TagEndSeqNo)
	if err1 != nil || err2 != nil {
		s.sendReject(msg, RejectRequiredTagMissing, TagBeginSeqNo)
		return
	}

	sender, err := s.store.NextSenderMsgSeqNum()
	if err != nil {
		s.storeFailure(err)
		return
	}
	lastSent := sender - 1
	if end == 0 || end > lastSent {
		end = lastSent
	}
	s.logger.Info("resending",
		slog.Int("begin", begin),
		slog.Int("end", end),
	)

	stored, err := s.store.Get(begin, end)
	if err != nil {
		// The store cannot serve the range (e.g. after reset): repair the
		// counterparty's expectation with a hard SequenceReset.
		s.logger.Warn("store cannot serve resend range, sending reset",
			slog.String("error", err.Error()),
		)
		s.sendSequenceReset(begin, lastSent+1, false)
		return
	}

	gapStart := 0
	for n := begin; n <= end; n++ {
		raw, ok := stored[n]
		if ok {
			orig, perr := ParseMessage(raw)
			if perr == nil && !orig.IsAdmin() {
				if gapStart != 0 {
					s.sendSequenceReset(gapStart, n, true)
					gapStart = 0
				}
				s.resendMessage(orig, n)
				continue
			}
		}
		if gapStart == 0 {
			gapStart = n
		}
	}
	if gapStart != 0 {
		s.sendSequenceReset(gapStart, end+1, true)
	}
}

// resendMessage re-emits one stored application message with the duplicate
// markers set and the original SendingTime preserved.
func (s *Session) resendMessage(orig *Message, seqNum int) {
	if sendingTime, ok := orig.Header.Get(TagSendingTime); ok {
		orig.Header.Set(TagOrigSendingTime, sendingTime)
	}
	orig.Header.SetBool(TagPossDupFlag, true)
	orig.Header.Set(TagSendingTime,
		FormatUTCTimestamp(time.Now(), s.opts.MillisecondsInTimestamp))
	orig.Header.SetInt(TagMsgSeqNum, seqNum)
	s.push(orig.Serialize())
}

// sendSequenceReset emits a SequenceReset. gapFill selects GapFill mode
// (duplicate-marked, seqnum-bearing) versus hard reset mode.
func (s *Session) sendSequenceReset(seqNum, newSeqNo int, gapFill bool) {
	msg := NewMessage(MsgTypeSequenceReset)
	msg.Body.SetInt(TagNewSeqNo, newSeqNo)
	msg.Body.SetBool(TagGapFillFlag, gapFill)
	s.stampHeader(msg)
	msg.Header.SetInt(TagMsgSeqNum, seqNum)
	if gapFill {
		msg.Header.SetBool(TagPossDupFlag, true)
	}
	if err := s.app.ToAdmin(msg, s.id); err != nil {
		s.logger.Warn("toAdmin error on sequence reset", slog.String("error", err.Error()))
	}
	s.push(msg.Serialize())
}

// handleSequenceReset applies both SequenceReset modes:
//
//	GapFillFlag=Y: next-target moves forward to NewSeqNo; moving backward
//	is rejected as ValueIsIncorrect.
//	GapFillFlag=N: next-target is set unconditionally when NewSeqNo is
//	higher; equal warns; lower is rejected.
func (s *Session) handleSequenceReset(msg *Message) {
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on sequence reset", slog.String("error", err.Error()))
	}

	newSeqNo, err := msg.Body.GetInt(TagNewSeqNo)
	if err != nil {
		s.sendReject(msg, RejectRequiredTagMissing, TagNewSeqNo)
		return
	}
	gapFill := msg.Body.GetBool(TagGapFillFlag)
	target, terr := s.store.NextTargetMsgSeqNum()
	if terr != nil {
		s.storeFailure(terr)
		return
	}

	switch {
	case newSeqNo > target:
		s.logger.Info("sequence reset",
			slog.Bool("gap_fill", gapFill),
			slog.Int("new_seq_no", newSeqNo),
		)
		if err := s.store.SetNextTargetMsgSeqNum(newSeqNo); err != nil {
			s.storeFailure(err)
			return
		}
	case newSeqNo == target:
		s.logger.Warn("sequence reset to current target", slog.Int("new_seq_no", newSeqNo))
	default:
		s.sendReject(msg, RejectValueIsIncorrect, TagNewSeqNo)
		return
	}

	// A completed gap fill closes the outstanding resend range.
	if s.resend.active && newSeqNo > s.resend.end && s.resend.end != 0 {
		s.resend = resendRange{}
	}
}

// -------------------------------------------------------------------------
// Reject / application dispatch
// -------------------------------------------------------------------------

// handleSessionReject surfaces an inbound Reject(3) to the application.
func (s *Session) handleSessionReject(msg *Message) {
	s.incrementTargetSeqNum(msg)
	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.logger.Warn("fromAdmin error on reject", slog.String("error", err.Error()))
	}
}

// handleApp delivers an application message through FromApp, mapping the
// sentinel errors to session-level rejects.
func (s *Session) handleApp(msg *Message) {
	s.incrementTargetSeqNum(msg)

	// The resend range closes once the replayed stream catches up.
	if s.resend.active {
		if seqNum, err := msg.SeqNum(); err == nil && s.resend.end != 0 && seqNum >= s.resend.end {
			s.resend = resendRange{}
		}
	}

	err := s.app.FromApp(msg, s.id)
	if err == nil {
		return
	}
	var rej *RejectError
	switch {
	case errors.As(err, &rej):
		s.sendRejectReason(msg, rej)
	case errors.Is(err, ErrFieldNotFound):
		s.sendReject(msg, RejectRequiredTagMissing, 0)
	case errors.Is(err, ErrIncorrectDataFormat):
		s.sendReject(msg, RejectIncorrectDataFormat, 0)
	case errors.Is(err, ErrIncorrectTagValue):
		s.sendReject(msg, RejectValueIsIncorrect, 0)
	case errors.Is(err, ErrUnsupportedMessageType):
		s.sendBusinessReject(msg)
	default:
		s.logger.Warn("fromApp error", slog.String("error", err.Error()))
	}
}

// sendReject emits a session-level Reject(3) for the offending message.
func (s *Session) sendReject(ref *Message, reason RejectReason, tag Tag) {
	s.sendRejectReason(ref, &RejectError{Reason: reason, Tag: tag})
}

// sendRejectReason emits a Reject(3) from a RejectError.
func (s *Session) sendRejectReason(ref *Message, rej *RejectError) {
	msg := NewMessage(MsgTypeReject)
	if seqNum, err := ref.SeqNum(); err == nil {
		msg.Body.SetInt(TagRefSeqNum, seqNum)
	}
	if refType := ref.MsgType(); refType != "" {
		msg.Body.Set(TagRefMsgType, refType)
	}
	if rej.Tag != 0 {
		msg.Body.SetInt(TagRefTagID, int(rej.Tag))
	}
	msg.Body.SetInt(TagSessionRejectRsn, int(rej.Reason))
	msg.Body.Set(TagText, rej.Error())
	s.metrics.IncRejects(s.id.String())
	s.sendAdmin(msg)
}

// sendBusinessReject answers an unsupported application message type.
func (s *Session) sendBusinessReject(ref *Message) {
	msg := NewMessage("j") // BusinessMessageReject
	if seqNum, err := ref.SeqNum(); err == nil {
		msg.Body.SetInt(TagRefSeqNum, seqNum)
	}
	msg.Body.Set(TagRefMsgType, ref.MsgType())
	msg.Body.SetInt(TagBusinessRejectRsn, 3) // unsupported message type
	s.metrics.IncRejects(s.id.String())
	s.sendAdmin(msg)
}

// -------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------

// Send stamps, validates with the application, persists, and transmits an
// application message. Safe to call from any goroutine.
func (s *Session) Send(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(msg, false)
}

// sendAdmin transmits a session-layer message. Caller holds the lock.
func (s *Session) sendAdmin(msg *Message) {
	if err := s.send(msg, true); err != nil {
		s.logger.Warn("admin send failed", slog.String("error", err.Error()))
	}
}

// send is the shared outbound path: header stamp, application callback,
// serialization, persistence, sequence increment, transmit.
func (s *Session) send(msg *Message, admin bool) error {
	s.stampHeader(msg)

	var cbErr error
	if admin {
		cbErr = s.app.ToAdmin(msg, s.id)
	} else {
		cbErr = s.app.ToApp(msg, s.id)
	}
	if cbErr != nil {
		if errors.Is(cbErr, ErrDoNotSend) {
			s.logger.Debug("send suppressed by application",
				slog.String("msg_type", msg.MsgType()),
			)
			return nil
		}
		s.logger.Warn("outbound callback error", slog.String("error", cbErr.Error()))
	}

	raw := msg.Serialize()
	seqNum, err := msg.SeqNum()
	if err != nil {
		return err
	}

	if s.opts.PersistMessages && persistable(msg.MsgType()) {
		if err := s.store.Set(seqNum, raw); err != nil {
			s.storeFailure(err)
			return err
		}
	}
	if err := s.store.IncrNextSenderMsgSeqNum(); err != nil {
		s.storeFailure(err)
		return err
	}

	return s.push(raw)
}

// persistable reports whether the message type is written to the store.
// Transient admin traffic never replays, so it is exempt.
func persistable(msgType string) bool {
	switch msgType {
	case MsgTypeLogon, MsgTypeLogout, MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest:
		return false
	}
	return true
}

// stampHeader fills the standard header: identity, sequence number, and
// SendingTime. ApplVerID is added for FIXT application messages.
func (s *Session) stampHeader(msg *Message) {
	msg.Header.Set(TagBeginString, s.id.BeginString)
	msg.Header.Set(TagSenderCompID, s.id.SenderCompID)
	msg.Header.Set(TagTargetCompID, s.id.TargetCompID)
	if !msg.Header.Has(TagMsgSeqNum) {
		if sender, err := s.store.NextSenderMsgSeqNum(); err == nil {
			msg.Header.SetInt(TagMsgSeqNum, sender)
		}
	}
	msg.Header.Set(TagSendingTime,
		FormatUTCTimestamp(time.Now(), s.opts.MillisecondsInTimestamp))
	if s.id.IsFIXT() && !msg.IsAdmin() && s.opts.DefaultApplVerID != "" {
		if !msg.Header.Has(TagApplVerID) {
			msg.Header.Set(TagApplVerID, s.opts.DefaultApplVerID)
		}
	}
}

// push hands serialized bytes to the responder. A failed write is a
// transport failure: the session disconnects and keeps its sequence
// numbers so the counterparty recovers the gap by resend.
func (s *Session) push(raw []byte) error {
	if s.responder == nil {
		return fmt.Errorf("session %s: %w", s.id, ErrNotConnected)
	}
	if !s.responder.Send(raw) {
		s.logger.Warn("transport write failed, disconnecting")
		s.disconnect()
		return fmt.Errorf("session %s: transport write failed: %w", s.id, ErrNotConnected)
	}
	s.lastSent = time.Now()
	s.metrics.IncMessagesSent(s.id.String())
	return nil
}

// -------------------------------------------------------------------------
// Disconnect / reset
// -------------------------------------------------------------------------

// Logout initiates a graceful logout from outside the driver (admin
// surface, engine stop).
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusLoggedOn {
		s.initiateLogout("")
	}
}

// Drop force-closes the transport without a Logout exchange.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnect()
}

// OnTransportClosed is called by the driver when the socket dies under the
// session (EOF, read error).
func (s *Session) OnTransportClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.connected() || s.responder != nil {
		s.disconnect()
	}
}

// disconnect moves to Disconnected, fires OnLogout when the handshake had
// completed, and applies ResetOnDisconnect. Caller holds the lock.
func (s *Session) disconnect() {
	wasLoggedOn := s.status == StatusLoggedOn || s.status == StatusLogoutSent
	if s.responder != nil {
		s.responder.Disconnect()
		s.responder = nil
	}
	if s.status == StatusDisconnected && !wasLoggedOn {
		return
	}
	s.setStatus(StatusDisconnected)
	s.sentLogon = false
	s.sentLogout = false
	s.awaitingTestResponse = false
	s.resend = resendRange{}
	s.pending = nil
	s.metrics.IncDisconnects(s.id.String())
	s.logger.Info("disconnected")

	if s.opts.ResetOnDisconnect {
		if err := s.store.Reset(); err != nil {
			s.logger.Error("reset on disconnect failed", slog.String("error", err.Error()))
		}
	}
	if wasLoggedOn {
		s.app.OnLogout(s.id)
	}
}

// ResetSeqNums resets the durable state to a fresh session: both sequence
// numbers at 1 and the store truncated.
func (s *Session) ResetSeqNums() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Reset()
}

// Close releases the session's store. The registry calls this at engine
// shutdown.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.connected() {
		s.disconnect()
	}
	s.metrics.UnregisterSession(s.id.String())
	return s.store.Close()
}

// storeFailure handles a persistence error: the connection drops but the
// sequence numbers stay as they are, so the counterparty resends the gap on
// the next logon.
func (s *Session) storeFailure(err error) {
	s.logger.Error("message store failure", slog.String("error", err.Error()))
	s.disconnect()
}
