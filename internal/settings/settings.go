// Package settings parses the INI-style session configuration: a [DEFAULT]
// section followed by one or more [SESSION] sections whose values inherit
// from the defaults. Keys are case-insensitive and trimmed.
package settings

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tradewire/gofix/internal/fix"
)

// -------------------------------------------------------------------------
// Recognized Keys
// -------------------------------------------------------------------------

// Session settings keys. Lookups are case-insensitive; these are the
// canonical spellings.
const (
	KeyConnectionType  = "ConnectionType"
	KeyBeginString     = "BeginString"
	KeySenderCompID    = "SenderCompID"
	KeyTargetCompID    = "TargetCompID"
	KeySessionQualifier = "SessionQualifier"

	KeyStartTime  = "StartTime"
	KeyEndTime    = "EndTime"
	KeyStartDay   = "StartDay"
	KeyEndDay     = "EndDay"
	KeyLogonTime  = "LogonTime"
	KeyLogoutTime = "LogoutTime"
	KeyLogonDay   = "LogonDay"
	KeyLogoutDay  = "LogoutDay"
	KeyUseLocalTime = "UseLocalTime"

	KeyHeartBtInt = "HeartBtInt"

	KeySocketAcceptPort        = "SocketAcceptPort"
	KeySocketConnectHost       = "SocketConnectHost"
	KeySocketConnectPort       = "SocketConnectPort"
	KeySocketNoDelay           = "SocketNoDelay"
	KeySocketSendBufferSize    = "SocketSendBufferSize"
	KeySocketReceiveBufferSize = "SocketReceiveBufferSize"
	KeySocketReuseAddress      = "SocketReuseAddress"
	KeyReconnectInterval       = "ReconnectInterval"

	KeyFileStorePath           = "FileStorePath"
	KeyDataDictionary          = "DataDictionary"
	KeyTransportDataDictionary = "TransportDataDictionary"
	KeyAppDataDictionary       = "AppDataDictionary"
	KeyUseDataDictionary       = "UseDataDictionary"
	KeyDefaultApplVerID        = "DefaultApplVerID"

	KeyResetOnLogon      = "ResetOnLogon"
	KeyResetOnLogout     = "ResetOnLogout"
	KeyResetOnDisconnect = "ResetOnDisconnect"
	KeyRefreshOnLogon    = "RefreshOnLogon"
	KeyPersistMessages   = "PersistMessages"

	KeyCheckCompID   = "CheckCompID"
	KeyCheckLatency  = "CheckLatency"
	KeyMaxLatency    = "MaxLatency"
	KeyLogonTimeout  = "LogonTimeout"
	KeyLogoutTimeout = "LogoutTimeout"

	KeyValidateFieldsOutOfOrder  = "ValidateFieldsOutOfOrder"
	KeyValidateFieldsHaveValues  = "ValidateFieldsHaveValues"
	KeyValidateUserDefinedFields = "ValidateUserDefinedFields"
	KeyValidateLengthAndChecksum = "ValidateLengthAndChecksum"

	KeyMillisecondsInTimestamp     = "MillisecondsInTimestamp"
	KeySendRedundantResendRequests = "SendRedundantResendRequests"
)

// Connection types.
const (
	ConnectionTypeInitiator = "initiator"
	ConnectionTypeAcceptor  = "acceptor"
)

// Section names.
const (
	sectionDefault = "DEFAULT"
	sectionSession = "SESSION"
)

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// Configuration errors. All are fatal at startup.
var (
	// ErrConfig is the base class of settings validation failures.
	ErrConfig = errors.New("configuration error")

	// ErrKeyNotFound indicates a required key is absent from the section
	// and the defaults.
	ErrKeyNotFound = errors.New("setting not found")
)

func configError(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfig)...)
}

// -------------------------------------------------------------------------
// Dictionary — one section's key/value pairs
// -------------------------------------------------------------------------

// Dictionary is one settings section. Keys are stored lowercase; lookups
// normalize the same way.
type Dictionary struct {
	name   string
	values map[string]string
}

// NewDictionary creates an empty section dictionary.
func NewDictionary(name string) *Dictionary {
	return &Dictionary{name: name, values: make(map[string]string)}
}

// Name returns the section name.
func (d *Dictionary) Name() string { return d.name }

// Has reports whether the key is set.
func (d *Dictionary) Has(key string) bool {
	_, ok := d.values[strings.ToLower(key)]
	return ok
}

// Set stores a key/value pair, trimming both.
func (d *Dictionary) Set(key, value string) {
	d.values[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
}

// GetString returns the raw value.
func (d *Dictionary) GetString(key string) (string, error) {
	v, ok := d.values[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrKeyNotFound)
	}
	return v, nil
}

// GetStringDefault returns the value or a fallback when absent.
func (d *Dictionary) GetStringDefault(key, fallback string) string {
	if v, err := d.GetString(key); err == nil {
		return v
	}
	return fallback
}

// GetInt returns the value parsed as an integer.
func (d *Dictionary) GetInt(key string) (int, error) {
	v, err := d.GetString(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, configError("%s: %q is not an integer", key, v)
	}
	return n, nil
}

// GetIntDefault returns the parsed integer or a fallback when absent.
func (d *Dictionary) GetIntDefault(key string, fallback int) (int, error) {
	if !d.Has(key) {
		return fallback, nil
	}
	return d.GetInt(key)
}

// GetBool returns the value parsed as Y/N.
func (d *Dictionary) GetBool(key string) (bool, error) {
	v, err := d.GetString(key)
	if err != nil {
		return false, err
	}
	switch v {
	case "Y", "y":
		return true, nil
	case "N", "n":
		return false, nil
	}
	return false, configError("%s: %q is not Y or N", key, v)
}

// GetBoolDefault returns the parsed boolean or a fallback when absent.
func (d *Dictionary) GetBoolDefault(key string, fallback bool) (bool, error) {
	if !d.Has(key) {
		return fallback, nil
	}
	return d.GetBool(key)
}

// GetDay returns the value parsed as a day of week (1..7, Sunday = 1), or
// fix.DayUnset when absent.
func (d *Dictionary) GetDay(key string) (int, error) {
	if !d.Has(key) {
		return fix.DayUnset, nil
	}
	v, _ := d.GetString(key)
	day, err := fix.ParseDayOfWeek(v)
	if err != nil {
		return 0, configError("%s: %q is not a day of week", key, v)
	}
	return day, nil
}

// Merge overlays this dictionary's values onto a copy of defaults and
// returns the result. Explicit values win.
func (d *Dictionary) Merge(defaults *Dictionary) *Dictionary {
	out := NewDictionary(d.name)
	if defaults != nil {
		for k, v := range defaults.values {
			out.values[k] = v
		}
	}
	for k, v := range d.values {
		out.values[k] = v
	}
	return out
}

// -------------------------------------------------------------------------
// Settings — parsed file
// -------------------------------------------------------------------------

// SessionSettings is the parsed settings file: the defaults plus one merged
// dictionary per declared session, keyed by SessionID.
type SessionSettings struct {
	defaults *Dictionary
	sessions map[fix.SessionID]*Dictionary
	order    []fix.SessionID
}

// Defaults returns the [DEFAULT] section.
func (ss *SessionSettings) Defaults() *Dictionary { return ss.defaults }

// SessionIDs returns the declared sessions in file order.
func (ss *SessionSettings) SessionIDs() []fix.SessionID { return ss.order }

// Get returns the merged dictionary for a session.
func (ss *SessionSettings) Get(id fix.SessionID) (*Dictionary, bool) {
	d, ok := ss.sessions[id]
	return d, ok
}

// Load reads and validates a settings file.
func Load(path string) (*SessionSettings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", path, err)
	}
	defer f.Close()
	ss, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return ss, nil
}

// Parse reads the INI stream: blank lines and '#' comments are skipped;
// a bracketed line opens a section; key=value lines belong to the most
// recent section. Sections other than DEFAULT and SESSION are rejected.
func Parse(r io.Reader) (*SessionSettings, error) {
	defaults := NewDictionary(sectionDefault)
	var raw []*Dictionary
	var current *Dictionary

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.ToUpper(strings.TrimSpace(line[1 : len(line)-1]))
			switch name {
			case sectionDefault:
				current = defaults
			case sectionSession:
				current = NewDictionary(sectionSession)
				raw = append(raw, current)
			default:
				return nil, configError("unknown section %q", name)
			}
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 || current == nil {
			return nil, configError("malformed line %q", line)
		}
		current.Set(line[:eq], line[eq+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	ss := &SessionSettings{
		defaults: defaults,
		sessions: make(map[fix.SessionID]*Dictionary, len(raw)),
	}
	for _, section := range raw {
		merged := section.Merge(defaults)
		id, err := sessionIDFrom(merged)
		if err != nil {
			return nil, err
		}
		if _, dup := ss.sessions[id]; dup {
			return nil, configError("duplicate session %s", id)
		}
		if err := validateSession(id, merged); err != nil {
			return nil, err
		}
		ss.sessions[id] = merged
		ss.order = append(ss.order, id)
	}
	return ss, nil
}

// sessionIDFrom derives the SessionID from a merged section.
func sessionIDFrom(d *Dictionary) (fix.SessionID, error) {
	beginString, err := d.GetString(KeyBeginString)
	if err != nil {
		return fix.SessionID{}, configError("session missing %s", KeyBeginString)
	}
	sender, err := d.GetString(KeySenderCompID)
	if err != nil {
		return fix.SessionID{}, configError("session missing %s", KeySenderCompID)
	}
	target, err := d.GetString(KeyTargetCompID)
	if err != nil {
		return fix.SessionID{}, configError("session missing %s", KeyTargetCompID)
	}
	id := fix.NewSessionID(beginString, sender, target)
	id.Qualifier = d.GetStringDefault(KeySessionQualifier, "")
	return id, nil
}

// supportedBeginStrings lists the accepted protocol versions.
var supportedBeginStrings = map[string]struct{}{
	fix.BeginStringFIX40:  {},
	fix.BeginStringFIX41:  {},
	fix.BeginStringFIX42:  {},
	fix.BeginStringFIX43:  {},
	fix.BeginStringFIX44:  {},
	fix.BeginStringFIXT11: {},
}

// validateSession applies the load-time checks: connection type, qualifier
// use, day pairing, heartbeat positivity, FIXT ApplVerID, and port presence.
func validateSession(id fix.SessionID, d *Dictionary) error {
	if _, ok := supportedBeginStrings[id.BeginString]; !ok {
		return configError("session %s: unsupported BeginString %q", id, id.BeginString)
	}

	connType, err := d.GetString(KeyConnectionType)
	if err != nil {
		return configError("session %s: missing %s", id, KeyConnectionType)
	}
	switch connType {
	case ConnectionTypeInitiator:
		hb, err := d.GetInt(KeyHeartBtInt)
		if err != nil {
			return configError("session %s: initiator requires %s", id, KeyHeartBtInt)
		}
		if hb <= 0 {
			return configError("session %s: HeartBtInt must be greater than zero", id)
		}
		if !d.Has(KeySocketConnectHost) || !d.Has(KeySocketConnectPort) {
			return configError("session %s: initiator requires %s and %s",
				id, KeySocketConnectHost, KeySocketConnectPort)
		}
	case ConnectionTypeAcceptor:
		if d.Has(KeySessionQualifier) {
			return configError("session %s: SessionQualifier cannot be used with acceptor", id)
		}
		if !d.Has(KeySocketAcceptPort) {
			return configError("session %s: acceptor requires %s", id, KeySocketAcceptPort)
		}
	default:
		return configError("session %s: ConnectionType must be initiator or acceptor", id)
	}

	startDay, err := d.GetDay(KeyStartDay)
	if err != nil {
		return err
	}
	endDay, err := d.GetDay(KeyEndDay)
	if err != nil {
		return err
	}
	if startDay != fix.DayUnset && endDay == fix.DayUnset {
		return configError("session %s: StartDay used without EndDay", id)
	}
	if endDay != fix.DayUnset && startDay == fix.DayUnset {
		return configError("session %s: EndDay used without StartDay", id)
	}

	if err := validateTimes(id, d); err != nil {
		return err
	}

	if id.IsFIXT() && !d.Has(KeyDefaultApplVerID) {
		return configError("session %s: DefaultApplVerID is required for FIXT transport", id)
	}
	return nil
}

// validateTimes checks the session and logon window clock values.
func validateTimes(id fix.SessionID, d *Dictionary) error {
	var sessionTime fix.TimeRange
	haveWindow := d.Has(KeyStartTime) || d.Has(KeyEndTime)
	if haveWindow {
		if !d.Has(KeyStartTime) || !d.Has(KeyEndTime) {
			return configError("session %s: StartTime and EndTime must both be set", id)
		}
		var err error
		sessionTime, err = BuildTimeRange(d, KeyStartTime, KeyEndTime, KeyStartDay, KeyEndDay)
		if err != nil {
			return configError("session %s: %v", id, err)
		}
	}

	if d.Has(KeyLogonTime) {
		start, _ := d.GetString(KeyLogonTime)
		logon, err := fix.ParseUTCTimeOnly(start)
		if err != nil {
			return configError("session %s: bad LogonTime %q", id, start)
		}
		if haveWindow && !sessionTime.IsInRange(logon) {
			return configError("session %s: LogonTime must be between StartTime and EndTime", id)
		}
	}
	if d.Has(KeyLogoutTime) {
		end, _ := d.GetString(KeyLogoutTime)
		logout, err := fix.ParseUTCTimeOnly(end)
		if err != nil {
			return configError("session %s: bad LogoutTime %q", id, end)
		}
		if haveWindow && !sessionTime.IsInRange(logout) {
			return configError("session %s: LogoutTime must be between StartTime and EndTime", id)
		}
	}
	return nil
}

// BuildTimeRange constructs a fix.TimeRange from the clock and day keys.
// Returns a zero range when the start key is absent.
func BuildTimeRange(d *Dictionary, startKey, endKey, startDayKey, endDayKey string) (fix.TimeRange, error) {
	if !d.Has(startKey) {
		return fix.TimeRange{}, nil
	}
	startStr, _ := d.GetString(startKey)
	endStr, _ := d.GetString(endKey)
	start, err := fix.ParseUTCTimeOnly(startStr)
	if err != nil {
		return fix.TimeRange{}, fmt.Errorf("bad %s %q: %w", startKey, startStr, ErrConfig)
	}
	end, err := fix.ParseUTCTimeOnly(endStr)
	if err != nil {
		return fix.TimeRange{}, fmt.Errorf("bad %s %q: %w", endKey, endStr, ErrConfig)
	}
	local, err := d.GetBoolDefault(KeyUseLocalTime, false)
	if err != nil {
		return fix.TimeRange{}, err
	}
	startDay, err := d.GetDay(startDayKey)
	if err != nil {
		return fix.TimeRange{}, err
	}
	endDay, err := d.GetDay(endDayKey)
	if err != nil {
		return fix.TimeRange{}, err
	}
	if startDay != fix.DayUnset {
		return fix.NewWeeklyTimeRange(start, end, startDay, endDay, local), nil
	}
	return fix.NewTimeRange(start, end, local), nil
}
