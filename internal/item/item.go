package item

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	govcard "github.com/emersion/go-vcard"

	"github.com/sonroyaalmerol/gitdav/internal/storage"
	pkgical "github.com/sonroyaalmerol/gitdav/pkg/ical"
	pkgvcard "github.com/sonroyaalmerol/gitdav/pkg/vcard"
)

// NameProp is the identity marker persisted into every stored object.
const NameProp = pkgical.NameProp

type Kind int

const (
	Opaque Kind = iota
	Calendar
	Card
)

func (k Kind) String() string {
	switch k {
	case Calendar:
		return "calendar"
	case Card:
		return "card"
	default:
		return "opaque"
	}
}

func (k Kind) ContentType() string {
	if k == Card {
		return "text/vcard"
	}
	return "text/calendar"
}

// FilePrefix and Extension name the backing file of a new item.
func (k Kind) FilePrefix() string {
	switch k {
	case Calendar:
		return "cal-"
	case Card:
		return "card-"
	default:
		return "res-"
	}
}

func (k Kind) Extension() string {
	switch k {
	case Calendar:
		return ".ics"
	case Card:
		return ".vcf"
	default:
		return ".dav"
	}
}

type ParseError struct {
	Name string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	where := e.Path
	if where == "" {
		where = e.Name
	}
	if where == "" {
		return "parse: " + e.Err.Error()
	}
	return fmt.Sprintf("parse %s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{storage.ErrParse, e.Err} }

var now = time.Now

// Item is one parsed calendar object or card. Items are immutable once
// parsed; a rewrite produces a new Item.
type Item struct {
	name         string
	tag          string
	kind         Kind
	raw          []byte
	etag         string
	path         string
	lastModified time.Time
	root         *Node
}

// Parse normalizes data and builds an Item. Identity is taken from an
// existing marker, then name, then the object's UID, then a content hash;
// whichever wins is written back into the object.
func Parse(data []byte, name, path string) (*Item, error) {
	text := StripControl(Decode(data, ""))
	var (
		it  *Item
		err error
	)
	if pkgvcard.IsVCard(text) {
		it, err = parseCard(text, name)
	} else {
		it, err = parseCalendar(text, name)
	}
	if err != nil {
		return nil, &ParseError{Name: name, Path: path, Err: err}
	}
	it.path = path
	it.etag = ETag(it.raw)
	if t, ok := it.root.LastModified(); ok {
		it.lastModified = t
	} else {
		it.lastModified = now()
	}
	return it, nil
}

func contentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ETag is the content hash of serialized item bytes.
func ETag(raw []byte) string {
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func parseCalendar(text, explicit string) (*Item, error) {
	cals, err := pkgical.DecodeAll([]byte(pkgical.WrapBare(text)))
	if err != nil {
		return nil, err
	}
	if len(cals) > 1 {
		return nil, errors.New("text holds more than one VCALENDAR")
	}
	cal := cals[0]

	modified := pkgical.EnsureRequired(cal, now())
	objects := pkgical.ObjectComponents(cal)
	for _, comp := range objects {
		if pkgical.ReconcileDuration(comp) {
			modified = true
		}
	}

	// the marker lives on every object component; the calendar carries it
	// only when there is nothing else to hold it
	holders := make([]ical.Props, 0, len(objects))
	for _, comp := range objects {
		holders = append(holders, comp.Props)
	}
	name := markerName(append(holders, cal.Props)...)
	if len(holders) == 0 {
		holders = append(holders, cal.Props)
	} else if cal.Props.Get(NameProp) != nil {
		cal.Props.Del(NameProp)
		modified = true
	}
	if name == "" {
		var uidComp *ical.Component
		if len(objects) > 0 {
			uidComp = objects[0]
			if uidComp.Props.Get(ical.PropUID) == nil {
				uidComp.Props.SetText(ical.PropUID, contentHash(text))
				modified = true
			}
		}
		switch {
		case explicit != "":
			name = explicit
		case uidComp != nil:
			name = uidComp.Props.Get(ical.PropUID).Value
		default:
			name = contentHash(text)
		}
	}
	for _, props := range holders {
		if stampMarker(props, name) {
			modified = true
		}
	}

	raw := []byte(text)
	if modified {
		if raw, err = pkgical.Encode(cal); err != nil {
			return nil, err
		}
	}

	it := &Item{name: name, raw: raw, root: nodeFromComponent(cal.Component)}
	if tag, err := pkgical.DetectComponent(cal); err == nil {
		it.kind = Calendar
		it.tag = tag
	} else {
		it.kind = Opaque
		it.tag = it.root.Tag
	}
	return it, nil
}

// markerName returns the first non-empty identity marker found in props.
func markerName(props ...ical.Props) string {
	for _, p := range props {
		if m := p.Get(NameProp); m != nil && m.Value != "" {
			return m.Value
		}
	}
	return ""
}

// stampMarker leaves exactly one marker with value name in props.
func stampMarker(props ical.Props, name string) bool {
	markers := props.Values(NameProp)
	if len(markers) == 1 && markers[0].Value == name {
		return false
	}
	props.SetText(NameProp, name)
	return true
}

func parseCard(text, explicit string) (*Item, error) {
	cards, err := pkgvcard.DecodeAll([]byte(text))
	if err != nil {
		return nil, err
	}
	if len(cards) > 1 {
		return nil, errors.New("text holds more than one VCARD")
	}
	card := cards[0]

	modified := pkgvcard.EnsureRequired(card)
	name := ""
	if fields := card[NameProp]; len(fields) > 0 && fields[0].Value != "" {
		name = fields[0].Value
		if len(fields) > 1 {
			card[NameProp] = fields[:1]
			modified = true
		}
	} else {
		if card.Value(govcard.FieldUID) == "" {
			card.SetValue(govcard.FieldUID, contentHash(text))
			modified = true
		}
		name = explicit
		if name == "" {
			name = card.Value(govcard.FieldUID)
		}
		card.SetValue(NameProp, name)
		modified = true
	}

	raw := []byte(text)
	if modified {
		if raw, err = pkgvcard.Encode(card); err != nil {
			return nil, err
		}
	}
	return &Item{name: name, tag: "VCARD", kind: Card, raw: raw, root: nodeFromCard(card)}, nil
}

func (it *Item) Name() string            { return it.name }
func (it *Item) Tag() string             { return it.tag }
func (it *Item) Kind() Kind              { return it.kind }
func (it *Item) ETag() string            { return it.etag }
func (it *Item) Path() string            { return it.path }
func (it *Item) LastModified() time.Time { return it.lastModified }
func (it *Item) ContentType() string     { return it.kind.ContentType() }
func (it *Item) Object() *Node           { return it.root }

// Serialize returns the canonical bytes the etag was computed over.
func (it *Item) Serialize() []byte {
	out := make([]byte, len(it.raw))
	copy(out, it.raw)
	return out
}

func (it *Item) Text() string { return string(it.raw) }

func (it *Item) Length() int { return len(it.raw) }

// UID of the first object component, or of the card.
func (it *Item) UID() string {
	if it.kind == Card {
		return it.root.UID()
	}
	for _, child := range it.root.Children {
		if pkgical.IsCalendarComponent(child.Tag) {
			return child.UID()
		}
	}
	return ""
}

// Classify reports the resource kind.
func (it *Item) Classify() Kind { return it.kind }

// FileName returns a fresh backing file name for this item's kind.
func (it *Item) FileName(id string) string {
	return it.kind.FilePrefix() + strings.ReplaceAll(id, "/", "_") + it.kind.Extension()
}
