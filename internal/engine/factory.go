package engine

import (
	"fmt"
	"time"

	"github.com/tradewire/gofix/internal/fix"
	"github.com/tradewire/gofix/internal/settings"
)

// createSession resolves a merged settings section into a running session:
// policy flags, time windows, dictionaries, and the opened store.
func (e *Engine) createSession(id fix.SessionID, d *settings.Dictionary) (*fix.Session, error) {
	connType, err := d.GetString(settings.KeyConnectionType)
	if err != nil {
		return nil, err
	}

	opts := fix.SessionOptions{
		Initiator: connType == settings.ConnectionTypeInitiator,
	}

	if opts.Initiator {
		hb, err := d.GetInt(settings.KeyHeartBtInt)
		if err != nil {
			return nil, err
		}
		opts.HeartBtInt = time.Duration(hb) * time.Second
	} else if d.Has(settings.KeyHeartBtInt) {
		// Acceptors normally adopt the counterparty's interval from the
		// Logon; a configured value seeds the timers until then.
		hb, err := d.GetInt(settings.KeyHeartBtInt)
		if err != nil {
			return nil, err
		}
		opts.HeartBtInt = time.Duration(hb) * time.Second
	}

	if opts.SessionTime, err = settings.BuildTimeRange(d,
		settings.KeyStartTime, settings.KeyEndTime,
		settings.KeyStartDay, settings.KeyEndDay); err != nil {
		return nil, err
	}
	// The logon window defaults to the session window; LogonTime and
	// friends override its pieces individually.
	opts.LogonTime = opts.SessionTime
	if d.Has(settings.KeyLogonTime) || d.Has(settings.KeyLogonDay) {
		logon := settings.NewDictionary("logon")
		logon.Set(settings.KeyLogonTime, d.GetStringDefault(settings.KeyLogonTime,
			d.GetStringDefault(settings.KeyStartTime, "")))
		logon.Set(settings.KeyLogoutTime, d.GetStringDefault(settings.KeyLogoutTime,
			d.GetStringDefault(settings.KeyEndTime, "")))
		if v := d.GetStringDefault(settings.KeyLogonDay, d.GetStringDefault(settings.KeyStartDay, "")); v != "" {
			logon.Set(settings.KeyLogonDay, v)
		}
		if v := d.GetStringDefault(settings.KeyLogoutDay, d.GetStringDefault(settings.KeyEndDay, "")); v != "" {
			logon.Set(settings.KeyLogoutDay, v)
		}
		if local, lerr := d.GetBoolDefault(settings.KeyUseLocalTime, false); lerr == nil && local {
			logon.Set(settings.KeyUseLocalTime, "Y")
		}
		if opts.LogonTime, err = settings.BuildTimeRange(logon,
			settings.KeyLogonTime, settings.KeyLogoutTime,
			settings.KeyLogonDay, settings.KeyLogoutDay); err != nil {
			return nil, err
		}
	}

	if err := resolvePolicy(d, &opts); err != nil {
		return nil, err
	}
	if id.IsFIXT() {
		opts.DefaultApplVerID = d.GetStringDefault(settings.KeyDefaultApplVerID, "")
	}

	transportDict, appDict, err := e.resolveDictionaries(id, d, &opts)
	if err != nil {
		return nil, err
	}

	store, err := e.stores.Create(id)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return fix.NewSession(id, opts, e.app, store, transportDict, appDict, e.logger, e.metrics), nil
}

// resolvePolicy fills the boolean and timeout knobs, defaulting to the
// strict side where the protocol recommends it.
func resolvePolicy(d *settings.Dictionary, opts *fix.SessionOptions) error {
	var err error
	set := func(dst *bool, key string, fallback bool) {
		if err != nil {
			return
		}
		*dst, err = d.GetBoolDefault(key, fallback)
	}

	set(&opts.ResetOnLogon, settings.KeyResetOnLogon, false)
	set(&opts.ResetOnLogout, settings.KeyResetOnLogout, false)
	set(&opts.ResetOnDisconnect, settings.KeyResetOnDisconnect, false)
	set(&opts.RefreshOnLogon, settings.KeyRefreshOnLogon, false)
	set(&opts.PersistMessages, settings.KeyPersistMessages, true)
	set(&opts.CheckCompID, settings.KeyCheckCompID, true)
	set(&opts.CheckLatency, settings.KeyCheckLatency, true)
	set(&opts.ValidateLengthAndChecksum, settings.KeyValidateLengthAndChecksum, true)
	set(&opts.UseDataDictionary, settings.KeyUseDataDictionary, false)
	set(&opts.MillisecondsInTimestamp, settings.KeyMillisecondsInTimestamp, false)
	set(&opts.SendRedundantResendRequests, settings.KeySendRedundantResendRequests, false)
	if err != nil {
		return err
	}

	if maxLatency, err := d.GetIntDefault(settings.KeyMaxLatency, 0); err != nil {
		return err
	} else if maxLatency > 0 {
		opts.MaxLatency = time.Duration(maxLatency) * time.Second
	}
	if logonTimeout, err := d.GetIntDefault(settings.KeyLogonTimeout, 0); err != nil {
		return err
	} else if logonTimeout > 0 {
		opts.LogonTimeout = time.Duration(logonTimeout) * time.Second
	}
	if logoutTimeout, err := d.GetIntDefault(settings.KeyLogoutTimeout, 0); err != nil {
		return err
	} else if logoutTimeout > 0 {
		opts.LogoutTimeout = time.Duration(logoutTimeout) * time.Second
	}
	return nil
}

// resolveDictionaries loads the transport and application dictionaries for
// the session. Classic FIX shares one dictionary for both slots; FIXT
// splits them. FIXT picks one application dictionary per session:
// AppDataDictionary.<DefaultApplVerID> when that key is set, otherwise
// AppDataDictionary. The suffix is the DefaultApplVerID value as written;
// it is not translated to a BeginString.
// The shared schema gets a session-local validation policy by copy-on-write.
func (e *Engine) resolveDictionaries(
	id fix.SessionID,
	d *settings.Dictionary,
	opts *fix.SessionOptions,
) (*fix.DataDictionary, *fix.DataDictionary, error) {
	if !opts.UseDataDictionary {
		return nil, nil, nil
	}

	policy := fix.ValidationPolicy{}
	var err error
	if policy.CheckFieldsOutOfOrder, err = d.GetBoolDefault(settings.KeyValidateFieldsOutOfOrder, true); err != nil {
		return nil, nil, err
	}
	if policy.CheckFieldsHaveValues, err = d.GetBoolDefault(settings.KeyValidateFieldsHaveValues, true); err != nil {
		return nil, nil, err
	}
	if policy.CheckUserDefinedFields, err = d.GetBoolDefault(settings.KeyValidateUserDefinedFields, true); err != nil {
		return nil, nil, err
	}

	if !id.IsFIXT() {
		path, err := d.GetString(settings.KeyDataDictionary)
		if err != nil {
			return nil, nil, fmt.Errorf("UseDataDictionary=Y requires %s", settings.KeyDataDictionary)
		}
		dict, err := e.dictionaries.Get(path)
		if err != nil {
			return nil, nil, err
		}
		shared := dict.WithPolicy(policy)
		return shared, shared, nil
	}

	transportPath, err := d.GetString(settings.KeyTransportDataDictionary)
	if err != nil {
		return nil, nil, fmt.Errorf("FIXT session requires %s", settings.KeyTransportDataDictionary)
	}
	transport, err := e.dictionaries.Get(transportPath)
	if err != nil {
		return nil, nil, err
	}

	appKey := settings.KeyAppDataDictionary
	applVerID := d.GetStringDefault(settings.KeyDefaultApplVerID, "")
	if versioned := appKey + "." + applVerID; d.Has(versioned) {
		appKey = versioned
	}
	appPath, err := d.GetString(appKey)
	if err != nil {
		return nil, nil, fmt.Errorf("FIXT session requires %s", settings.KeyAppDataDictionary)
	}
	app, err := e.dictionaries.Get(appPath)
	if err != nil {
		return nil, nil, err
	}
	return transport.WithPolicy(policy), app.WithPolicy(policy), nil
}
