package fix

import "errors"

// -------------------------------------------------------------------------
// Callback Control-Flow Errors
// -------------------------------------------------------------------------

// Sentinel errors the application returns from callbacks to signal protocol
// intent. The session inspects these with errors.Is and reacts per the
// disconnection and reject policies.
var (
	// ErrDoNotSend suppresses an outbound send from ToApp/ToAdmin. The
	// message is dropped without consuming a sequence number.
	ErrDoNotSend = errors.New("do not send")

	// ErrRejectLogon from FromAdmin on a Logon makes the session send
	// Logout and disconnect without transitioning to logged on.
	ErrRejectLogon = errors.New("logon rejected")

	// ErrFieldNotFound indicates a required field is absent.
	ErrFieldNotFound = errors.New("field not found")

	// ErrIncorrectDataFormat indicates a field value does not decode as
	// its declared type.
	ErrIncorrectDataFormat = errors.New("incorrect data format for value")

	// ErrIncorrectTagValue indicates a field value is outside the declared
	// enum set.
	ErrIncorrectTagValue = errors.New("value is incorrect for this tag")

	// ErrUnsupportedMessageType indicates the application cannot handle
	// the message type; the session answers with BusinessMessageReject.
	ErrUnsupportedMessageType = errors.New("unsupported message type")
)

// RejectError carries a session reject reason and the offending tag out of
// the dictionary validator or an application callback. The session converts
// it into a Reject(3) with SessionRejectReason set.
type RejectError struct {
	Reason RejectReason
	Tag    Tag
	Text   string
}

// Error implements the error interface.
func (e *RejectError) Error() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Reason.String()
}

// newRejectError builds a RejectError for the given reason and tag.
func newRejectError(reason RejectReason, tag Tag) *RejectError {
	return &RejectError{Reason: reason, Tag: tag}
}

// -------------------------------------------------------------------------
// Application — the embedding application's callback surface
// -------------------------------------------------------------------------

// Application receives session lifecycle events and message traffic. The
// engine guarantees that for any one session, callbacks are invoked by one
// goroutine at a time.
//
// FromAdmin and FromApp may return the sentinel errors above to reject or
// redirect processing. ToAdmin and ToApp may mutate the outbound message
// before it is sealed; returning ErrDoNotSend suppresses it.
type Application interface {
	// OnCreate fires once when the session is constructed by the factory.
	OnCreate(sessionID SessionID)

	// OnLogon fires when the logon handshake completes.
	OnLogon(sessionID SessionID)

	// OnLogout fires when the session leaves the logged-on state.
	OnLogout(sessionID SessionID)

	// ToAdmin is called before an administrative message is sent.
	ToAdmin(msg *Message, sessionID SessionID) error

	// FromAdmin is called for every inbound administrative message.
	FromAdmin(msg *Message, sessionID SessionID) error

	// ToApp is called before an application message is sent.
	ToApp(msg *Message, sessionID SessionID) error

	// FromApp is called for every accepted inbound application message,
	// in strict sequence-number order.
	FromApp(msg *Message, sessionID SessionID) error
}

// NullApplication is a no-op Application. Embed it to implement only the
// callbacks a given application cares about.
type NullApplication struct{}

func (NullApplication) OnCreate(SessionID)                 {}
func (NullApplication) OnLogon(SessionID)                  {}
func (NullApplication) OnLogout(SessionID)                 {}
func (NullApplication) ToAdmin(*Message, SessionID) error  { return nil }
func (NullApplication) FromAdmin(*Message, SessionID) error { return nil }
func (NullApplication) ToApp(*Message, SessionID) error    { return nil }
func (NullApplication) FromApp(*Message, SessionID) error  { return nil }
