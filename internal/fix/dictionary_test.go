package fix_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tradewire/gofix/internal/fix"
)

// testDictXML is a miniature FIX.4.4 dictionary: a NewOrderSingle with a
// repeating party group and an enumerated side field.
const testDictXML = `<fix type="FIX" major="4" minor="4">
 <header>
  <field name="BeginString" required="Y"/>
  <field name="BodyLength" required="Y"/>
  <field name="MsgType" required="Y"/>
  <field name="SenderCompID" required="Y"/>
  <field name="TargetCompID" required="Y"/>
  <field name="MsgSeqNum" required="Y"/>
  <field name="SendingTime" required="Y"/>
  <field name="PossDupFlag" required="N"/>
 </header>
 <trailer>
  <field name="CheckSum" required="Y"/>
 </trailer>
 <messages>
  <message name="NewOrderSingle" msgtype="D" msgcat="app">
   <field name="ClOrdID" required="Y"/>
   <field name="Symbol" required="Y"/>
   <field name="Side" required="Y"/>
   <field name="OrderQty" required="N"/>
   <group name="NoPartyIDs" required="N">
    <field name="PartyID" required="Y"/>
    <field name="PartyRole" required="N"/>
   </group>
  </message>
  <message name="Heartbeat" msgtype="0" msgcat="admin">
   <field name="TestReqID" required="N"/>
  </message>
 </messages>
 <components/>
 <fields>
  <field number="8" name="BeginString" type="STRING"/>
  <field number="9" name="BodyLength" type="LENGTH"/>
  <field number="35" name="MsgType" type="STRING"/>
  <field number="49" name="SenderCompID" type="STRING"/>
  <field number="56" name="TargetCompID" type="STRING"/>
  <field number="34" name="MsgSeqNum" type="SEQNUM"/>
  <field number="52" name="SendingTime" type="UTCTIMESTAMP"/>
  <field number="43" name="PossDupFlag" type="BOOLEAN"/>
  <field number="10" name="CheckSum" type="STRING"/>
  <field number="11" name="ClOrdID" type="STRING"/>
  <field number="55" name="Symbol" type="STRING"/>
  <field number="54" name="Side" type="CHAR">
   <value enum="1" description="BUY"/>
   <value enum="2" description="SELL"/>
  </field>
  <field number="38" name="OrderQty" type="QTY"/>
  <field number="453" name="NoPartyIDs" type="NUMINGROUP"/>
  <field number="448" name="PartyID" type="STRING"/>
  <field number="452" name="PartyRole" type="INT"/>
  <field number="112" name="TestReqID" type="STRING"/>
 </fields>
</fix>`

func loadTestDict(t *testing.T) *fix.DataDictionary {
	t.Helper()
	d, err := fix.ParseDictionary([]byte(testDictXML))
	if err != nil {
		t.Fatalf("ParseDictionary: %v", err)
	}
	return d
}

// validOrder builds a message that passes every check of the test
// dictionary.
func validOrder() *fix.Message {
	m := fix.NewMessage("D")
	m.Header.Set(fix.TagBeginString, fix.BeginStringFIX44)
	m.Header.SetInt(fix.TagBodyLength, 0)
	m.Header.Set(fix.TagSenderCompID, "CLIENT")
	m.Header.Set(fix.TagTargetCompID, "SERVER")
	m.Header.SetInt(fix.TagMsgSeqNum, 1)
	m.Header.Set(fix.TagSendingTime, "20240101-00:00:00")
	m.Body.Set(fix.Tag(11), "ORD-1")
	m.Body.Set(fix.Tag(55), "ACME")
	m.Body.Set(fix.Tag(54), "1")
	m.Trailer.Set(fix.TagCheckSum, "000")
	return m
}

func TestDictionaryBeginString(t *testing.T) {
	t.Parallel()

	d := loadTestDict(t)
	if d.BeginString() != fix.BeginStringFIX44 {
		t.Fatalf("BeginString = %q", d.BeginString())
	}
}

func rejectReason(t *testing.T, err error) fix.RejectReason {
	t.Helper()
	var rej *fix.RejectError
	if !errors.As(err, &rej) {
		t.Fatalf("error %v is not a RejectError", err)
	}
	return rej.Reason
}

func TestValidateChecks(t *testing.T) {
	t.Parallel()

	d := loadTestDict(t)

	t.Run("valid message passes", func(t *testing.T) {
		t.Parallel()
		if err := d.Validate(validOrder()); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("wrong begin string", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Header.Set(fix.TagBeginString, fix.BeginStringFIX42)
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectValueIsIncorrect {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("undeclared msg type", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Header.Set(fix.TagMsgType, "ZZ")
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectInvalidMsgType {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("required field missing", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Remove(fix.Tag(55))
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectRequiredTagMissing {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("undeclared tag", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Set(fix.Tag(9999), "x")
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectInvalidTagNumber {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("user defined tag permitted by policy", func(t *testing.T) {
		t.Parallel()
		relaxed := d.WithPolicy(fix.ValidationPolicy{
			CheckFieldsOutOfOrder: true,
			CheckFieldsHaveValues: true,
		})
		m := validOrder()
		m.Body.Set(fix.Tag(9999), "x")
		if err := relaxed.Validate(m); err != nil {
			t.Errorf("Validate with relaxed policy: %v", err)
		}
		// The shared dictionary still rejects it.
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectInvalidTagNumber {
			t.Errorf("shared dictionary reason = %v", got)
		}
	})

	t.Run("tag not defined for message", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Set(fix.Tag(112), "x") // TestReqID belongs to Heartbeat
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectTagNotDefinedForMessageType {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("empty value", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Set(fix.Tag(38), "")
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectTagSpecifiedWithoutValue {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("bad type format", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Set(fix.Tag(38), "ten")
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectIncorrectDataFormat {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("enum violation", func(t *testing.T) {
		t.Parallel()
		m := validOrder()
		m.Body.Set(fix.Tag(54), "9")
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectValueIsIncorrect {
			t.Errorf("reason = %v", got)
		}
	})
}

func TestValidateRepeatingGroups(t *testing.T) {
	t.Parallel()

	d := loadTestDict(t)

	withGroup := func(fields ...[2]string) *fix.Message {
		m := validOrder()
		for _, f := range fields {
			tag, _ := fix.ParseInt(f[0])
			m.Body.Append(fix.Tag(tag), []byte(f[1]))
		}
		return m
	}

	t.Run("well formed group", func(t *testing.T) {
		t.Parallel()
		m := withGroup(
			[2]string{"453", "2"},
			[2]string{"448", "P1"},
			[2]string{"452", "1"},
			[2]string{"448", "P2"},
		)
		if err := d.Validate(m); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})

	t.Run("count mismatch", func(t *testing.T) {
		t.Parallel()
		m := withGroup(
			[2]string{"453", "3"},
			[2]string{"448", "P1"},
		)
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectIncorrectNumInGroupCount {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("delimiter not first", func(t *testing.T) {
		t.Parallel()
		m := withGroup(
			[2]string{"453", "1"},
			[2]string{"452", "1"},
			[2]string{"448", "P1"},
		)
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectRepeatingGroupOutOfOrder {
			t.Errorf("reason = %v", got)
		}
	})

	t.Run("duplicate member in block", func(t *testing.T) {
		t.Parallel()
		m := withGroup(
			[2]string{"453", "1"},
			[2]string{"448", "P1"},
			[2]string{"452", "1"},
			[2]string{"452", "2"},
		)
		if got := rejectReason(t, d.Validate(m)); got != fix.RejectTagAppearsMoreThanOnce {
			t.Errorf("reason = %v", got)
		}
	})
}

func TestDictionaryProviderCaches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "FIX44.xml")
	if err := os.WriteFile(path, []byte(testDictXML), 0o644); err != nil {
		t.Fatal(err)
	}

	p := fix.NewDictionaryProvider()
	d1, err := p.Get(path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	d2, err := p.Get(path)
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if d1 != d2 {
		t.Error("provider did not cache the dictionary")
	}
}
