package fix

import "strings"

// -------------------------------------------------------------------------
// SessionID — (BeginString, SenderCompID, TargetCompID [, Qualifier])
// -------------------------------------------------------------------------

// SessionID identifies a FIX session within the engine. The triple
// (BeginString, SenderCompID, TargetCompID) plus the optional qualifier is
// globally unique within a process. SessionIDs are immutable values.
type SessionID struct {
	BeginString  string
	SenderCompID string
	TargetCompID string
	Qualifier    string
}

// NewSessionID creates a SessionID without a qualifier.
func NewSessionID(beginString, senderCompID, targetCompID string) SessionID {
	return SessionID{
		BeginString:  beginString,
		SenderCompID: senderCompID,
		TargetCompID: targetCompID,
	}
}

// String renders the session ID in the canonical
// BeginString-Sender-Target[-Qualifier] form used for store file stems and
// log output.
func (id SessionID) String() string {
	var b strings.Builder
	b.WriteString(id.BeginString)
	b.WriteByte('-')
	b.WriteString(id.SenderCompID)
	b.WriteByte('-')
	b.WriteString(id.TargetCompID)
	if id.Qualifier != "" {
		b.WriteByte('-')
		b.WriteString(id.Qualifier)
	}
	return b.String()
}

// IsFIXT reports whether the session runs over the FIXT transport, which
// carries application versions selected by ApplVerID.
func (id SessionID) IsFIXT() bool {
	return id.BeginString == BeginStringFIXT11
}

// Reversed returns the counterparty's view of this session: sender and
// target swapped. Acceptors resolve inbound logons through this mapping.
func (id SessionID) Reversed() SessionID {
	return SessionID{
		BeginString:  id.BeginString,
		SenderCompID: id.TargetCompID,
		TargetCompID: id.SenderCompID,
		Qualifier:    id.Qualifier,
	}
}
