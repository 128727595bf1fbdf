// Package fix implements the core FIX session layer: the field and message
// codecs, the data-dictionary validator, the message stores, and the session
// state machine (FIX 4.0-4.4 and FIXT 1.1 per the FIX session protocol).
package fix

// -------------------------------------------------------------------------
// Wire Constants
// -------------------------------------------------------------------------

// SOH is the FIX field delimiter (ASCII 0x01).
const SOH byte = 0x01

// userDefinedTagBase is the first user-defined tag number. Tags at or above
// this value are permitted when ValidateUserDefinedFields is off.
const userDefinedTagBase = 5000

// BeginString values for the supported protocol versions.
const (
	BeginStringFIX40  = "FIX.4.0"
	BeginStringFIX41  = "FIX.4.1"
	BeginStringFIX42  = "FIX.4.2"
	BeginStringFIX43  = "FIX.4.3"
	BeginStringFIX44  = "FIX.4.4"
	BeginStringFIXT11 = "FIXT.1.1"
)

// -------------------------------------------------------------------------
// Tag — standard header, trailer, and session-layer tags
// -------------------------------------------------------------------------

// Tag is a FIX field tag number. Tags are positive integers.
type Tag int

// Standard session-layer tags.
const (
	TagBeginSeqNo         Tag = 7
	TagBeginString        Tag = 8
	TagBodyLength         Tag = 9
	TagCheckSum           Tag = 10
	TagEndSeqNo           Tag = 16
	TagMsgSeqNum          Tag = 34
	TagMsgType            Tag = 35
	TagNewSeqNo           Tag = 36
	TagPossDupFlag        Tag = 43
	TagRefSeqNum          Tag = 45
	TagSenderCompID       Tag = 49
	TagSenderSubID        Tag = 50
	TagSendingTime        Tag = 52
	TagTargetCompID       Tag = 56
	TagTargetSubID        Tag = 57
	TagText               Tag = 58
	TagSignature          Tag = 89
	TagSecureDataLen      Tag = 90
	TagSecureData         Tag = 91
	TagSignatureLength    Tag = 93
	TagPossResend         Tag = 97
	TagEncryptMethod      Tag = 98
	TagHeartBtInt         Tag = 108
	TagTestReqID          Tag = 112
	TagOnBehalfOfCompID   Tag = 115
	TagOnBehalfOfSubID    Tag = 116
	TagOrigSendingTime    Tag = 122
	TagGapFillFlag        Tag = 123
	TagDeliverToCompID    Tag = 128
	TagDeliverToSubID     Tag = 129
	TagResetSeqNumFlag    Tag = 141
	TagSenderLocationID   Tag = 142
	TagTargetLocationID   Tag = 143
	TagOnBehalfOfLocID    Tag = 144
	TagDeliverToLocID     Tag = 145
	TagXMLDataLen         Tag = 212
	TagXMLData            Tag = 213
	TagMessageEncoding    Tag = 347
	TagLastMsgSeqNumProc  Tag = 369
	TagRefTagID           Tag = 371
	TagRefMsgType         Tag = 372
	TagSessionRejectRsn   Tag = 373
	TagBusinessRejectRsn  Tag = 380
	TagMaxMessageSize     Tag = 383
	TagNoMsgTypes         Tag = 384
	TagMsgDirection       Tag = 385
	TagTestMessageInd     Tag = 464
	TagHopCompID          Tag = 628
	TagHopSendingTime     Tag = 629
	TagHopRefID           Tag = 630
	TagNextExpectedSeqNum Tag = 789
	TagApplVerID          Tag = 1128
	TagCstmApplVerID      Tag = 1129
	TagDefaultApplVerID   Tag = 1137
)

// headerTags is the set of tags belonging to the standard message header.
// Used by the message codec to route parsed fields into the header section.
var headerTags = map[Tag]struct{}{
	TagBeginString: {}, TagBodyLength: {}, TagMsgType: {}, TagMsgSeqNum: {},
	TagSenderCompID: {}, TagTargetCompID: {}, TagSenderSubID: {},
	TagTargetSubID: {}, TagSendingTime: {}, TagPossDupFlag: {},
	TagPossResend: {}, TagOrigSendingTime: {}, TagOnBehalfOfCompID: {},
	TagOnBehalfOfSubID: {}, TagDeliverToCompID: {}, TagDeliverToSubID: {},
	TagSecureDataLen: {}, TagSecureData: {}, TagSenderLocationID: {},
	TagTargetLocationID: {}, TagOnBehalfOfLocID: {}, TagDeliverToLocID: {},
	TagXMLDataLen: {}, TagXMLData: {}, TagMessageEncoding: {},
	TagLastMsgSeqNumProc: {}, TagHopCompID: {}, TagHopSendingTime: {},
	TagHopRefID: {}, TagApplVerID: {}, TagCstmApplVerID: {},
}

// trailerTags is the set of tags belonging to the standard message trailer.
var trailerTags = map[Tag]struct{}{
	TagCheckSum: {}, TagSignature: {}, TagSignatureLength: {},
}

// IsHeaderTag reports whether the tag belongs to the standard header.
func IsHeaderTag(t Tag) bool {
	_, ok := headerTags[t]
	return ok
}

// IsTrailerTag reports whether the tag belongs to the standard trailer.
func IsTrailerTag(t Tag) bool {
	_, ok := trailerTags[t]
	return ok
}

// -------------------------------------------------------------------------
// MsgType — administrative message types
// -------------------------------------------------------------------------

// Administrative MsgType (tag 35) values.
const (
	MsgTypeHeartbeat     = "0"
	MsgTypeTestRequest   = "1"
	MsgTypeResendRequest = "2"
	MsgTypeReject        = "3"
	MsgTypeSequenceReset = "4"
	MsgTypeLogout        = "5"
	MsgTypeLogon         = "A"
)

// IsAdminMsgType reports whether the MsgType is a session-layer
// administrative message. All other types route to the application.
func IsAdminMsgType(msgType string) bool {
	if len(msgType) != 1 {
		return false
	}
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// -------------------------------------------------------------------------
// RejectReason — SessionRejectReason (tag 373) codes
// -------------------------------------------------------------------------

// RejectReason is a FIX SessionRejectReason code (tag 373, values 0..99).
type RejectReason int

// Standard SessionRejectReason values used by the dictionary validator and
// the session state machine.
const (
	RejectInvalidTagNumber            RejectReason = 0
	RejectRequiredTagMissing          RejectReason = 1
	RejectTagNotDefinedForMessageType RejectReason = 2
	RejectUndefinedTag                RejectReason = 3
	RejectTagSpecifiedWithoutValue    RejectReason = 4
	RejectValueIsIncorrect            RejectReason = 5
	RejectIncorrectDataFormat         RejectReason = 6
	RejectDecryptionProblem           RejectReason = 7
	RejectSignatureProblem            RejectReason = 8
	RejectCompIDProblem               RejectReason = 9
	RejectSendingTimeAccuracy         RejectReason = 10
	RejectInvalidMsgType              RejectReason = 11
	RejectXMLValidationError          RejectReason = 12
	RejectTagAppearsMoreThanOnce      RejectReason = 13
	RejectTagOutOfRequiredOrder       RejectReason = 14
	RejectRepeatingGroupOutOfOrder    RejectReason = 15
	RejectIncorrectNumInGroupCount    RejectReason = 16
	RejectNonDataValueIncludesSOH     RejectReason = 17
	RejectOther                       RejectReason = 99
)

// rejectReasonNames maps reject reasons to the standard descriptions.
var rejectReasonNames = map[RejectReason]string{
	RejectInvalidTagNumber:            "Invalid tag number",
	RejectRequiredTagMissing:          "Required tag missing",
	RejectTagNotDefinedForMessageType: "Tag not defined for this message type",
	RejectUndefinedTag:                "Undefined Tag",
	RejectTagSpecifiedWithoutValue:    "Tag specified without a value",
	RejectValueIsIncorrect:            "Value is incorrect (out of range) for this tag",
	RejectIncorrectDataFormat:         "Incorrect data format for value",
	RejectDecryptionProblem:           "Decryption problem",
	RejectSignatureProblem:            "Signature problem",
	RejectCompIDProblem:               "CompID problem",
	RejectSendingTimeAccuracy:         "SendingTime accuracy problem",
	RejectInvalidMsgType:              "Invalid MsgType",
	RejectXMLValidationError:          "XML validation error",
	RejectTagAppearsMoreThanOnce:      "Tag appears more than once",
	RejectTagOutOfRequiredOrder:       "Tag specified out of required order",
	RejectRepeatingGroupOutOfOrder:    "Repeating group fields out of order",
	RejectIncorrectNumInGroupCount:    "Incorrect NumInGroup count for repeating group",
	RejectNonDataValueIncludesSOH:     "Non-data value includes field delimiter",
	RejectOther:                       "Other",
}

// String returns the standard description for the reject reason.
func (r RejectReason) String() string {
	if s, ok := rejectReasonNames[r]; ok {
		return s
	}
	return "Other"
}
