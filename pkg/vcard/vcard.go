package vcard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	govcard "github.com/emersion/go-vcard"
)

// IsVCard sniffs the first non-blank line of text.
func IsVCard(text string) bool {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	return len(trimmed) >= 11 && strings.EqualFold(trimmed[:11], "BEGIN:VCARD")
}

// DecodeAll returns every card in raw.
func DecodeAll(raw []byte) ([]govcard.Card, error) {
	cards, err := parseAll(raw)
	if err != nil {
		return nil, err
	}
	if len(cards) == 0 {
		return nil, errors.New("no vcard found")
	}
	return cards, nil
}

func Encode(c govcard.Card) ([]byte, error) {
	var buf bytes.Buffer
	if err := govcard.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EnsureRequired fills VERSION (3.0 when absent) and derives FN from N when
// possible. It reports whether c changed.
func EnsureRequired(c govcard.Card) bool {
	modified := false
	if c.Value(govcard.FieldVersion) == "" {
		c.SetValue(govcard.FieldVersion, "3.0")
		modified = true
	}
	if c.Value(govcard.FieldFormattedName) == "" {
		if name := c.Name(); name != nil {
			fn := strings.Join(strings.Fields(strings.Join([]string{
				name.GivenName, name.AdditionalName, name.FamilyName,
			}, " ")), " ")
			if fn != "" {
				c.SetValue(govcard.FieldFormattedName, fn)
				modified = true
			}
		}
	}
	return modified
}

func parseAll(b []byte) ([]govcard.Card, error) {
	// Normalize line endings to CRLF as required by RFC 6350
	content := strings.ReplaceAll(string(b), "\r\n", "\n")
	content = strings.ReplaceAll(content, "\n", "\r\n")

	dec := govcard.NewDecoder(strings.NewReader(content))
	var out []govcard.Card
	for {
		c, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode vCard: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
