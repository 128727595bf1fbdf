package fix

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"sync"
)

// -------------------------------------------------------------------------
// Dictionary Errors
// -------------------------------------------------------------------------

// Dictionary load errors. Validation failures are reported as *RejectError.
var (
	// ErrDictionaryLoad indicates the dictionary XML could not be read or
	// parsed.
	ErrDictionaryLoad = errors.New("data dictionary load failed")

	// ErrUnknownComponent indicates a message references an undeclared
	// component block.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrUnknownFieldName indicates a message or group references a field
	// name with no declaration in the fields section.
	ErrUnknownFieldName = errors.New("unknown field name")
)

// -------------------------------------------------------------------------
// XML Schema — QuickFIX dictionary format
// -------------------------------------------------------------------------

type xmlDictionary struct {
	XMLName    xml.Name       `xml:"fix"`
	Type       string         `xml:"type,attr"`
	Major      string         `xml:"major,attr"`
	Minor      string         `xml:"minor,attr"`
	Header     xmlComponent   `xml:"header"`
	Trailer    xmlComponent   `xml:"trailer"`
	Messages   []xmlMessage   `xml:"messages>message"`
	Components []xmlComponent `xml:"components>component"`
	Fields     []xmlField     `xml:"fields>field"`
}

type xmlMessage struct {
	Name    string       `xml:"name,attr"`
	MsgType string       `xml:"msgtype,attr"`
	MsgCat  string       `xml:"msgcat,attr"`
	Parts   []xmlPart    `xml:",any"`
}

type xmlComponent struct {
	Name  string    `xml:"name,attr"`
	Parts []xmlPart `xml:",any"`
}

// xmlPart is one child of a message, component, or group: a field reference,
// a component reference, or a nested group.
type xmlPart struct {
	XMLName  xml.Name
	Name     string    `xml:"name,attr"`
	Required string    `xml:"required,attr"`
	Parts    []xmlPart `xml:",any"`
}

type xmlField struct {
	Number int        `xml:"number,attr"`
	Name   string     `xml:"name,attr"`
	Type   string     `xml:"type,attr"`
	Values []xmlValue `xml:"value"`
}

type xmlValue struct {
	Enum string `xml:"enum,attr"`
}

// -------------------------------------------------------------------------
// Compiled Schema
// -------------------------------------------------------------------------

// FieldDef is one declared tag: its name and FIX type, plus the enum value
// set when the field is enumerated.
type FieldDef struct {
	Tag    Tag
	Name   string
	Type   string
	Enums  map[string]struct{}
}

// GroupDef is a repeating-group schema: the NumInGroup count tag, the
// delimiter (first field of every block), and the ordered member fields.
type GroupDef struct {
	CountTag  Tag
	Delimiter Tag
	// Members maps every tag that may appear inside a block to whether it
	// is required in each block.
	Members map[Tag]bool
	// Order lists the member tags in dictionary order.
	Order []Tag
	// Nested maps count tags of groups nested inside this group.
	Nested map[Tag]*GroupDef
}

// MessageDef is the schema of one MsgType: the allowed body tags, which of
// them are required, and the repeating groups rooted in the body.
type MessageDef struct {
	Name     string
	MsgType  string
	Fields   map[Tag]bool // tag -> required
	Order    []Tag
	Groups   map[Tag]*GroupDef
}

// schema is the immutable, shareable portion of a dictionary.
type schema struct {
	beginString string
	fields      map[Tag]*FieldDef
	fieldByName map[string]*FieldDef
	messages    map[string]*MessageDef
	header      *MessageDef
	trailer     *MessageDef
}

// -------------------------------------------------------------------------
// ValidationPolicy — per-session copy-on-write overrides
// -------------------------------------------------------------------------

// ValidationPolicy holds the per-session validation switches. The schema is
// shared between sessions; the policy is value-copied, so overriding a
// switch never touches another session's dictionary view.
type ValidationPolicy struct {
	CheckFieldsOutOfOrder  bool
	CheckFieldsHaveValues  bool
	CheckUserDefinedFields bool
}

// defaultPolicy enables every check, matching the strict defaults of the
// session settings.
func defaultPolicy() ValidationPolicy {
	return ValidationPolicy{
		CheckFieldsOutOfOrder:  true,
		CheckFieldsHaveValues:  true,
		CheckUserDefinedFields: true,
	}
}

// -------------------------------------------------------------------------
// DataDictionary
// -------------------------------------------------------------------------

// DataDictionary validates parsed messages against a FIX version's schema.
// The schema pointer is shared across sessions loaded from the same path;
// WithPolicy returns a cheap copy carrying session-specific switches.
type DataDictionary struct {
	schema *schema
	policy ValidationPolicy
}

// BeginString returns the version string the dictionary declares.
func (d *DataDictionary) BeginString() string { return d.schema.beginString }

// Policy returns the active validation policy.
func (d *DataDictionary) Policy() ValidationPolicy { return d.policy }

// WithPolicy returns a dictionary sharing this schema with the given
// policy. The receiver is not modified.
func (d *DataDictionary) WithPolicy(p ValidationPolicy) *DataDictionary {
	return &DataDictionary{schema: d.schema, policy: p}
}

// FieldName returns the declared name of a tag, or its number when unknown.
func (d *DataDictionary) FieldName(tag Tag) string {
	if def, ok := d.schema.fields[tag]; ok {
		return def.Name
	}
	return FormatInt(int(tag))
}

// -------------------------------------------------------------------------
// Loading
// -------------------------------------------------------------------------

// LoadDictionary parses a QuickFIX-format XML dictionary file.
func LoadDictionary(path string) (*DataDictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %v", path, ErrDictionaryLoad, err)
	}
	return ParseDictionary(data)
}

// ParseDictionary compiles dictionary XML into a DataDictionary.
func ParseDictionary(data []byte) (*DataDictionary, error) {
	var doc xmlDictionary
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w: %v", ErrDictionaryLoad, err)
	}

	sc := &schema{
		fields:      make(map[Tag]*FieldDef),
		fieldByName: make(map[string]*FieldDef),
		messages:    make(map[string]*MessageDef),
	}
	sc.beginString = beginStringFor(doc)

	for _, xf := range doc.Fields {
		def := &FieldDef{Tag: Tag(xf.Number), Name: xf.Name, Type: xf.Type}
		if len(xf.Values) > 0 {
			def.Enums = make(map[string]struct{}, len(xf.Values))
			for _, v := range xf.Values {
				def.Enums[v.Enum] = struct{}{}
			}
		}
		sc.fields[def.Tag] = def
		sc.fieldByName[def.Name] = def
	}

	components := make(map[string][]xmlPart, len(doc.Components))
	for _, c := range doc.Components {
		components[c.Name] = c.Parts
	}

	var err error
	if sc.header, err = compileMessage(sc, components, "header", "", doc.Header.Parts); err != nil {
		return nil, err
	}
	if sc.trailer, err = compileMessage(sc, components, "trailer", "", doc.Trailer.Parts); err != nil {
		return nil, err
	}
	for _, xm := range doc.Messages {
		md, err := compileMessage(sc, components, xm.Name, xm.MsgType, xm.Parts)
		if err != nil {
			return nil, err
		}
		sc.messages[xm.MsgType] = md
	}

	return &DataDictionary{schema: sc, policy: defaultPolicy()}, nil
}

// beginStringFor derives the dictionary's BeginString from the fix element
// attributes ("FIXT" type selects the transport dictionary).
func beginStringFor(doc xmlDictionary) string {
	if doc.Type == "FIXT" {
		return "FIXT." + doc.Major + "." + doc.Minor
	}
	return "FIX." + doc.Major + "." + doc.Minor
}

// compileMessage flattens fields, components, and groups of one message
// (or the header/trailer pseudo-messages) into a MessageDef.
func compileMessage(
	sc *schema,
	components map[string][]xmlPart,
	name, msgType string,
	parts []xmlPart,
) (*MessageDef, error) {
	md := &MessageDef{
		Name:    name,
		MsgType: msgType,
		Fields:  make(map[Tag]bool),
		Groups:  make(map[Tag]*GroupDef),
	}
	if err := compileParts(sc, components, parts, md.Fields, &md.Order, md.Groups); err != nil {
		return nil, fmt.Errorf("message %s: %w", name, err)
	}
	return md, nil
}

// compileParts walks message children, expanding component references and
// compiling nested groups.
func compileParts(
	sc *schema,
	components map[string][]xmlPart,
	parts []xmlPart,
	fields map[Tag]bool,
	order *[]Tag,
	groups map[Tag]*GroupDef,
) error {
	for _, p := range parts {
		required := p.Required == "Y"
		switch p.XMLName.Local {
		case "field":
			def, ok := sc.fieldByName[p.Name]
			if !ok {
				return fmt.Errorf("field %q: %w", p.Name, ErrUnknownFieldName)
			}
			if _, seen := fields[def.Tag]; !seen {
				*order = append(*order, def.Tag)
			}
			fields[def.Tag] = required

		case "component":
			sub, ok := components[p.Name]
			if !ok {
				return fmt.Errorf("component %q: %w", p.Name, ErrUnknownComponent)
			}
			if err := compileParts(sc, components, sub, fields, order, groups); err != nil {
				return err
			}

		case "group":
			gd, err := compileGroup(sc, components, p)
			if err != nil {
				return err
			}
			if _, seen := fields[gd.CountTag]; !seen {
				*order = append(*order, gd.CountTag)
			}
			fields[gd.CountTag] = required
			groups[gd.CountTag] = gd
		}
	}
	return nil
}

// compileGroup compiles one repeating-group schema. The delimiter is the
// first member field in dictionary order.
func compileGroup(
	sc *schema,
	components map[string][]xmlPart,
	p xmlPart,
) (*GroupDef, error) {
	countDef, ok := sc.fieldByName[p.Name]
	if !ok {
		return nil, fmt.Errorf("group count field %q: %w", p.Name, ErrUnknownFieldName)
	}
	gd := &GroupDef{
		CountTag: countDef.Tag,
		Members:  make(map[Tag]bool),
		Nested:   make(map[Tag]*GroupDef),
	}
	if err := compileParts(sc, components, p.Parts, gd.Members, &gd.Order, gd.Nested); err != nil {
		return nil, fmt.Errorf("group %s: %w", p.Name, err)
	}
	// Nested group count tags are members of this group too.
	for countTag := range gd.Nested {
		if _, seen := gd.Members[countTag]; !seen {
			gd.Members[countTag] = false
			gd.Order = append(gd.Order, countTag)
		}
	}
	if len(gd.Order) == 0 {
		return nil, fmt.Errorf("group %s has no members: %w", p.Name, ErrDictionaryLoad)
	}
	gd.Delimiter = gd.Order[0]
	return gd, nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validate runs the structural checks against a parsed message, in order:
// version, MsgType, required fields, tag declaration, value format, enum
// membership, field order, and repeating-group shape. The first failure is
// returned as a *RejectError carrying the FIX SessionRejectReason.
func (d *DataDictionary) Validate(m *Message) error {
	beginString, _ := m.Header.Get(TagBeginString)
	if beginString != d.schema.beginString {
		return &RejectError{
			Reason: RejectValueIsIncorrect,
			Tag:    TagBeginString,
			Text:   fmt.Sprintf("BeginString %s, expected %s", beginString, d.schema.beginString),
		}
	}

	msgType := m.MsgType()
	md, ok := d.schema.messages[msgType]
	if !ok {
		return newRejectError(RejectInvalidMsgType, TagMsgType)
	}

	if err := d.checkRequired(m, md); err != nil {
		return err
	}
	if err := d.checkFields(m, md); err != nil {
		return err
	}
	return d.checkGroups(m, md)
}

// checkRequired verifies required header, body, and trailer fields.
func (d *DataDictionary) checkRequired(m *Message, md *MessageDef) error {
	for tag, required := range d.schema.header.Fields {
		if required && !m.Header.Has(tag) {
			return newRejectError(RejectRequiredTagMissing, tag)
		}
	}
	for tag, required := range md.Fields {
		if required && !m.Body.Has(tag) {
			return newRejectError(RejectRequiredTagMissing, tag)
		}
	}
	for tag, required := range d.schema.trailer.Fields {
		if required && !m.Trailer.Has(tag) {
			return newRejectError(RejectRequiredTagMissing, tag)
		}
	}
	return nil
}

// checkFields validates each body field: declaration, membership in the
// message, non-empty value, type grammar, and enum set.
func (d *DataDictionary) checkFields(m *Message, md *MessageDef) error {
	for _, f := range m.Body.Fields() {
		def, declared := d.schema.fields[f.Tag]
		if !declared {
			if int(f.Tag) >= userDefinedTagBase && !d.policy.CheckUserDefinedFields {
				continue
			}
			return newRejectError(RejectInvalidTagNumber, f.Tag)
		}

		if _, inMessage := md.Fields[f.Tag]; !inMessage && !memberOfAnyGroup(md, f.Tag) {
			if d.policy.CheckFieldsOutOfOrder && (IsHeaderTag(f.Tag) || IsTrailerTag(f.Tag)) {
				return newRejectError(RejectTagOutOfRequiredOrder, f.Tag)
			}
			return newRejectError(RejectTagNotDefinedForMessageType, f.Tag)
		}

		if len(f.Value) == 0 {
			if d.policy.CheckFieldsHaveValues {
				return newRejectError(RejectTagSpecifiedWithoutValue, f.Tag)
			}
			continue
		}

		if err := checkFieldType(def, f.String()); err != nil {
			return &RejectError{Reason: RejectIncorrectDataFormat, Tag: f.Tag, Text: err.Error()}
		}
		if def.Enums != nil {
			if _, ok := def.Enums[f.String()]; !ok {
				return newRejectError(RejectValueIsIncorrect, f.Tag)
			}
		}
	}
	return nil
}

// memberOfAnyGroup reports whether the tag belongs to any repeating group
// of the message, at any nesting level.
func memberOfAnyGroup(md *MessageDef, tag Tag) bool {
	for _, gd := range md.Groups {
		if groupContains(gd, tag) {
			return true
		}
	}
	return false
}

func groupContains(gd *GroupDef, tag Tag) bool {
	if _, ok := gd.Members[tag]; ok {
		return true
	}
	for _, nested := range gd.Nested {
		if groupContains(nested, tag) {
			return true
		}
	}
	return false
}

// checkFieldType validates a value against the declared FIX type grammar.
func checkFieldType(def *FieldDef, value string) error {
	switch def.Type {
	case "INT", "LENGTH", "SEQNUM", "NUMINGROUP", "DAYOFMONTH":
		_, err := ParseInt(value)
		return err
	case "FLOAT", "QTY", "PRICE", "PRICEOFFSET", "AMT", "PERCENTAGE":
		_, err := ParseFloat(value)
		return err
	case "CHAR":
		_, err := ParseChar(value)
		return err
	case "BOOLEAN":
		_, err := ParseBool(value)
		return err
	case "UTCTIMESTAMP", "TIME":
		_, err := ParseUTCTimestamp(value)
		return err
	case "UTCTIMEONLY":
		_, err := ParseUTCTimeOnly(value)
		return err
	case "UTCDATEONLY", "UTCDATE", "LOCALMKTDATE", "DATE":
		_, err := ParseUTCDateOnly(value)
		return err
	default:
		// STRING, DATA, CURRENCY, EXCHANGE, MULTIPLEVALUESTRING, MONTHYEAR
		// and friends carry free text; nothing to check beyond SOH absence,
		// which the codec enforces.
		return nil
	}
}

// checkGroups validates every repeating group rooted in the message body.
func (d *DataDictionary) checkGroups(m *Message, md *MessageDef) error {
	fields := m.Body.Fields()
	for i := 0; i < len(fields); i++ {
		gd, ok := md.Groups[fields[i].Tag]
		if !ok {
			continue
		}
		consumed, err := d.validateGroup(gd, fields[i], fields[i+1:])
		if err != nil {
			return err
		}
		i += consumed
	}
	return nil
}

// validateGroup walks the fields following a NumInGroup count field and
// checks block structure: the declared count matches the actual block
// count, the delimiter leads every block, and required members appear in
// every block. Returns the number of fields consumed after the count field.
func (d *DataDictionary) validateGroup(gd *GroupDef, countField Field, rest []Field) (int, error) {
	declared, err := ParseInt(countField.String())
	if err != nil {
		return 0, &RejectError{Reason: RejectIncorrectDataFormat, Tag: countField.Tag, Text: err.Error()}
	}

	blocks := 0
	i := 0
	var seen map[Tag]struct{}

	closeBlock := func() error {
		for tag, required := range gd.Members {
			if !required {
				continue
			}
			if _, ok := seen[tag]; !ok {
				return newRejectError(RejectRequiredTagMissing, tag)
			}
		}
		return nil
	}

	for i < len(rest) {
		tag := rest[i].Tag
		if _, member := gd.Members[tag]; !member {
			break
		}
		if tag == gd.Delimiter {
			if seen != nil {
				if err := closeBlock(); err != nil {
					return 0, err
				}
			}
			blocks++
			seen = map[Tag]struct{}{tag: {}}
		} else {
			if seen == nil {
				// First field of the group is not the delimiter.
				return 0, newRejectError(RejectRepeatingGroupOutOfOrder, tag)
			}
			if _, dup := seen[tag]; dup {
				return 0, newRejectError(RejectTagAppearsMoreThanOnce, tag)
			}
			seen[tag] = struct{}{}
		}

		if nested, ok := gd.Nested[tag]; ok {
			consumed, err := d.validateGroup(nested, rest[i], rest[i+1:])
			if err != nil {
				return 0, err
			}
			i += consumed
		}
		i++
	}
	if seen != nil {
		if err := closeBlock(); err != nil {
			return 0, err
		}
	}

	if blocks != declared {
		return 0, &RejectError{
			Reason: RejectIncorrectNumInGroupCount,
			Tag:    countField.Tag,
			Text:   fmt.Sprintf("NumInGroup %d, counted %d blocks", declared, blocks),
		}
	}
	return i, nil
}

// -------------------------------------------------------------------------
// Provider — per-path dictionary cache
// -------------------------------------------------------------------------

// DictionaryProvider caches loaded dictionaries by path. Loads are rare and
// serialized; lookups share the compiled schema. The engine owns one
// provider; there is no process-global state.
type DictionaryProvider struct {
	mu     sync.Mutex
	byPath map[string]*DataDictionary
}

// NewDictionaryProvider creates an empty provider.
func NewDictionaryProvider() *DictionaryProvider {
	return &DictionaryProvider{byPath: make(map[string]*DataDictionary)}
}

// Get returns the dictionary for a path, loading it on first use. The
// returned dictionary carries the default policy; sessions derive their own
// view with WithPolicy.
func (p *DictionaryProvider) Get(path string) (*DataDictionary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.byPath[path]; ok {
		return d, nil
	}
	d, err := LoadDictionary(path)
	if err != nil {
		return nil, err
	}
	p.byPath[path] = d
	return d, nil
}
