package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const DefaultMarker = "New Trade Alert!"

var (
	// strictPattern matches the spoiler-wrapped form on one line. The object is
	// greedy so nested braces inside the tag stay intact.
	strictPattern = regexp.MustCompile(`<tg-spoiler>SIGNAL: (\{.*\})</tg-spoiler>`)
	// loosePattern takes the first {...} after "SIGNAL:" and may span lines.
	loosePattern = regexp.MustCompile(`(?s)SIGNAL:\s*(\{.*?\})`)
)

// Codec recognizes leader messages and turns them into signals.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	marker   string
	leader   string // lowercased, no "@"
	leaderID int64
}

func NewCodec(marker, leaderUsername string, leaderID int64) *Codec {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultMarker
	}
	return &Codec{
		marker:   marker,
		leader:   normalizeUsername(leaderUsername),
		leaderID: leaderID,
	}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// Recognize reports whether text is a leader alert: it must contain the
// marker and come from the leader. When a leader id is configured it must
// match too.
func (c *Codec) Recognize(src Source, text string) bool {
	if c.leader == "" && c.leaderID == 0 {
		return false
	}
	if !strings.Contains(text, c.marker) {
		return false
	}
	if c.leader != "" && normalizeUsername(src.Username) != c.leader {
		return false
	}
	if c.leaderID != 0 && src.UserID != c.leaderID {
		return false
	}
	return true
}

// Extract returns the raw JSON fragment. The spoiler form wins over the
// loose form when both are present.
func (c *Codec) Extract(text string) (string, bool) {
	if m := strictPattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := loosePattern.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

type wireSignal struct {
	Symbol    string   `json:"symbol"`
	Side      string   `json:"side"`
	Size      *float64 `json:"size"`
	Price     *float64 `json:"price"`
	Leverage  *float64 `json:"leverage"`
	Signature string   `json:"signature"`
}

// Parse decodes a fragment. Unknown fields are ignored; any of the five
// trade fields missing or mistyped, or a symbol or side containing the
// canonical field separator, yields ErrMalformedPayload.
func (c *Codec) Parse(fragment string) (Signal, error) {
	var w wireSignal
	dec := json.NewDecoder(bytes.NewReader([]byte(fragment)))
	if err := dec.Decode(&w); err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dec.More() {
		return Signal{}, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}

	var missing []string
	if strings.TrimSpace(w.Symbol) == "" {
		missing = append(missing, "symbol")
	}
	if strings.TrimSpace(w.Side) == "" {
		missing = append(missing, "side")
	}
	if w.Size == nil {
		missing = append(missing, "size")
	}
	if w.Price == nil {
		missing = append(missing, "price")
	}
	if w.Leverage == nil {
		missing = append(missing, "leverage")
	}
	if len(missing) > 0 {
		return Signal{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ", "))
	}
	if strings.Contains(w.Symbol, fieldSep) || strings.Contains(w.Side, fieldSep) {
		return Signal{}, fmt.Errorf("%w: symbol and side must not contain %q", ErrMalformedPayload, fieldSep)
	}

	return Signal{
		Symbol:    w.Symbol,
		Side:      w.Side,
		Size:      *w.Size,
		Price:     *w.Price,
		Leverage:  *w.Leverage,
		Signature: w.Signature,
	}, nil
}

// Decode is Extract followed by Parse.
func (c *Codec) Decode(text string) (Signal, error) {
	frag, ok := c.Extract(text)
	if !ok {
		return Signal{}, ErrNoSignal
	}
	return c.Parse(frag)
}
