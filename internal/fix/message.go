package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// ErrInvalidMessage indicates malformed framing: missing BeginString,
// corrupt BodyLength, or a bad CheckSum. Fatal to the individual message;
// the session drops it without advancing the inbound sequence number.
var ErrInvalidMessage = errors.New("invalid message")

// -------------------------------------------------------------------------
// FieldMap — an ordered field sequence with tag lookup
// -------------------------------------------------------------------------

// FieldMap holds fields in insertion order. Setting an existing tag replaces
// the value in place; repeating-group instance fields keep duplicates, so
// lookups return the first occurrence.
type FieldMap struct {
	fields []Field
}

// Get returns the value of the first field with the given tag.
func (fm *FieldMap) Get(tag Tag) (string, bool) {
	for i := range fm.fields {
		if fm.fields[i].Tag == tag {
			return string(fm.fields[i].Value), true
		}
	}
	return "", false
}

// Has reports whether the tag is present.
func (fm *FieldMap) Has(tag Tag) bool {
	_, ok := fm.Get(tag)
	return ok
}

// GetInt returns the first value of the tag decoded as an int.
func (fm *FieldMap) GetInt(tag Tag) (int, error) {
	v, ok := fm.Get(tag)
	if !ok {
		return 0, fmt.Errorf("tag %d: %w", tag, ErrFieldNotFound)
	}
	return ParseInt(v)
}

// GetBool returns the first value of the tag decoded as a FIX Boolean.
// Absent tags decode as false.
func (fm *FieldMap) GetBool(tag Tag) bool {
	v, ok := fm.Get(tag)
	if !ok {
		return false
	}
	b, err := ParseBool(v)
	return err == nil && b
}

// Set replaces the first field with the given tag or appends a new one.
func (fm *FieldMap) Set(tag Tag, value string) {
	for i := range fm.fields {
		if fm.fields[i].Tag == tag {
			fm.fields[i].Value = []byte(value)
			return
		}
	}
	fm.fields = append(fm.fields, NewField(tag, value))
}

// SetInt sets the tag to the wire form of n.
func (fm *FieldMap) SetInt(tag Tag, n int) { fm.Set(tag, FormatInt(n)) }

// SetBool sets the tag to Y or N.
func (fm *FieldMap) SetBool(tag Tag, b bool) { fm.Set(tag, FormatBool(b)) }

// Append adds a field without replacing existing occurrences. Used by the
// parser and by repeating-group construction.
func (fm *FieldMap) Append(tag Tag, value []byte) {
	fm.fields = append(fm.fields, Field{Tag: tag, Value: value})
}

// Remove deletes every field with the given tag.
func (fm *FieldMap) Remove(tag Tag) {
	out := fm.fields[:0]
	for _, f := range fm.fields {
		if f.Tag != tag {
			out = append(out, f)
		}
	}
	fm.fields = out
}

// Fields returns the fields in insertion order. The slice is shared; callers
// must not mutate it.
func (fm *FieldMap) Fields() []Field { return fm.fields }

// Len returns the number of fields.
func (fm *FieldMap) Len() int { return len(fm.fields) }

// -------------------------------------------------------------------------
// Message — header / body / trailer
// -------------------------------------------------------------------------

// Message is one FIX message: three ordered field sequences. The header
// begins with BeginString, BodyLength, MsgType on the wire; the trailer
// carries CheckSum. BodyLength and CheckSum are recomputed at serialization.
type Message struct {
	Header  FieldMap
	Body    FieldMap
	Trailer FieldMap

	// ReceiveTime is stamped by the transport when the message was framed.
	// Zero for locally constructed messages.
	ReceiveTime int64
}

// NewMessage creates an empty message with the given MsgType.
func NewMessage(msgType string) *Message {
	m := &Message{}
	m.Header.Set(TagMsgType, msgType)
	return m
}

// MsgType returns the MsgType header field.
func (m *Message) MsgType() string {
	v, _ := m.Header.Get(TagMsgType)
	return v
}

// SeqNum returns the MsgSeqNum header field.
func (m *Message) SeqNum() (int, error) {
	v, ok := m.Header.Get(TagMsgSeqNum)
	if !ok {
		return 0, fmt.Errorf("tag %d: %w", TagMsgSeqNum, ErrFieldNotFound)
	}
	return ParseSeqNum(v)
}

// IsAdmin reports whether the message is a session-layer admin message.
func (m *Message) IsAdmin() bool { return IsAdminMsgType(m.MsgType()) }

// PossDup reports whether PossDupFlag is Y.
func (m *Message) PossDup() bool { return m.Header.GetBool(TagPossDupFlag) }

// -------------------------------------------------------------------------
// Parsing
// -------------------------------------------------------------------------

// ParseMessage decodes a single framed FIX message. The buffer must contain
// exactly one message, BeginString through the CheckSum field's SOH.
//
// The wire prefix order BeginString, BodyLength, MsgType is enforced.
// Repeating groups are not reshaped here; body fields are retained in wire
// order and the dictionary walks them during validation.
func ParseMessage(raw []byte) (*Message, error) {
	if !bytes.HasPrefix(raw, []byte("8=")) {
		return nil, fmt.Errorf("no BeginString: %w", ErrInvalidMessage)
	}

	m := &Message{}
	rest := raw
	index := 0
	for len(rest) > 0 {
		soh := bytes.IndexByte(rest, SOH)
		if soh < 0 {
			return nil, fmt.Errorf("unterminated field: %w", ErrInvalidMessage)
		}
		seg := rest[:soh]
		rest = rest[soh+1:]

		eq := bytes.IndexByte(seg, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed field %q: %w", seg, ErrInvalidMessage)
		}
		tagNum, err := ParseInt(string(seg[:eq]))
		if err != nil || tagNum <= 0 {
			return nil, fmt.Errorf("bad tag %q: %w", seg[:eq], ErrInvalidMessage)
		}
		tag := Tag(tagNum)
		value := seg[eq+1:]

		if err := checkPrefixOrder(index, tag); err != nil {
			return nil, err
		}
		index++

		switch {
		case IsHeaderTag(tag):
			m.Header.Append(tag, value)
		case IsTrailerTag(tag):
			m.Trailer.Append(tag, value)
		default:
			m.Body.Append(tag, value)
		}
	}

	if !m.Trailer.Has(TagCheckSum) {
		return nil, fmt.Errorf("no CheckSum: %w", ErrInvalidMessage)
	}
	return m, nil
}

// checkPrefixOrder enforces the fixed wire order of the first three fields.
func checkPrefixOrder(index int, tag Tag) error {
	switch index {
	case 0:
		if tag != TagBeginString {
			return fmt.Errorf("first field is %d, want BeginString: %w", tag, ErrInvalidMessage)
		}
	case 1:
		if tag != TagBodyLength {
			return fmt.Errorf("second field is %d, want BodyLength: %w", tag, ErrInvalidMessage)
		}
	case 2:
		if tag != TagMsgType {
			return fmt.Errorf("third field is %d, want MsgType: %w", tag, ErrInvalidMessage)
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Length and CheckSum verification
// -------------------------------------------------------------------------

// VerifyLengthAndCheckSum checks BodyLength and CheckSum of a framed raw
// message. BodyLength counts the bytes after the BodyLength field's SOH up
// to and including the SOH preceding the CheckSum field. CheckSum is the
// byte sum modulo 256 over the same prefix, as three ASCII digits.
func VerifyLengthAndCheckSum(raw []byte) error {
	checksumStart := bytes.LastIndex(raw, []byte("\x0110="))
	if checksumStart < 0 {
		return fmt.Errorf("no CheckSum field: %w", ErrInvalidMessage)
	}
	checksumStart++ // byte after the SOH, start of "10="

	lengthStart := bytes.Index(raw, []byte("\x019="))
	if lengthStart < 0 {
		return fmt.Errorf("no BodyLength field: %w", ErrInvalidMessage)
	}
	bodyStart := bytes.IndexByte(raw[lengthStart+1:], SOH)
	if bodyStart < 0 {
		return fmt.Errorf("unterminated BodyLength: %w", ErrInvalidMessage)
	}
	bodyStart += lengthStart + 2 // byte after the BodyLength field's SOH

	declared, err := ParseInt(string(raw[lengthStart+3 : bodyStart-1]))
	if err != nil {
		return fmt.Errorf("corrupt BodyLength: %w", ErrInvalidMessage)
	}
	if got := checksumStart - bodyStart; got != declared {
		return fmt.Errorf("BodyLength %d, counted %d: %w", declared, got, ErrInvalidMessage)
	}

	wantSum := checksum(raw[:checksumStart])
	gotStr := string(bytes.TrimSuffix(raw[checksumStart+3:], []byte{SOH}))
	if gotStr != formatChecksum(wantSum) {
		return fmt.Errorf("CheckSum %s, computed %s: %w", gotStr, formatChecksum(wantSum), ErrInvalidMessage)
	}
	return nil
}

// checksum returns the unsigned byte sum modulo 256.
func checksum(data []byte) int {
	sum := 0
	for _, b := range data {
		sum += int(b)
	}
	return sum % 256
}

// formatChecksum renders a checksum as exactly three ASCII digits.
func formatChecksum(sum int) string {
	s := strconv.Itoa(sum)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}

// -------------------------------------------------------------------------
// Serialization
// -------------------------------------------------------------------------

// headerPrefix is the fixed emission order of the leading header fields.
var headerPrefix = []Tag{TagBeginString, TagBodyLength, TagMsgType}

// Serialize encodes the message in wire form: the fixed header prefix, the
// remaining header fields in insertion order, the body, then the trailer
// ending with a freshly computed CheckSum. BodyLength is recomputed.
func (m *Message) Serialize() []byte {
	var body bytes.Buffer
	for _, f := range m.Header.Fields() {
		if f.Tag == TagBeginString || f.Tag == TagBodyLength || f.Tag == TagMsgType {
			continue
		}
		writeField(&body, f)
	}
	if mt, ok := m.Header.Get(TagMsgType); ok {
		var withType bytes.Buffer
		writeField(&withType, NewField(TagMsgType, mt))
		withType.Write(body.Bytes())
		body = withType
	}
	for _, f := range m.Body.Fields() {
		writeField(&body, f)
	}
	for _, f := range m.Trailer.Fields() {
		if f.Tag == TagCheckSum {
			continue
		}
		writeField(&body, f)
	}

	beginString, _ := m.Header.Get(TagBeginString)

	var out bytes.Buffer
	out.Grow(body.Len() + 32)
	writeField(&out, NewField(TagBeginString, beginString))
	writeField(&out, NewField(TagBodyLength, FormatInt(body.Len())))
	out.Write(body.Bytes())
	writeField(&out, NewField(TagCheckSum, formatChecksum(checksum(out.Bytes()))))

	m.Header.Set(TagBodyLength, FormatInt(body.Len()))
	return out.Bytes()
}

// writeField emits tag=value<SOH>.
func writeField(buf *bytes.Buffer, f Field) {
	buf.WriteString(strconv.Itoa(int(f.Tag)))
	buf.WriteByte('=')
	buf.Write(f.Value)
	buf.WriteByte(SOH)
}
