package adapter

import (
	"sort"
	"strings"
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"
)

const (
	spoilerOpen  = "<tg-spoiler>"
	spoilerClose = "</tg-spoiler>"
)

// renderSpoilers wraps every spoiler entity in <tg-spoiler> tags. Entity
// offsets are UTF-16 code units. Overlapping or out-of-range entities are skipped.
func renderSpoilers(text string, entities tele.Entities) string {
	var spans []tele.MessageEntity
	for _, e := range entities {
		if e.Type == tele.EntitySpoiler && e.Length > 0 && e.Offset >= 0 {
			spans = append(spans, e)
		}
	}
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Offset < spans[j].Offset })

	units := utf16.Encode([]rune(text))
	var b strings.Builder
	b.Grow(len(text) + len(spans)*(len(spoilerOpen)+len(spoilerClose)))

	pos := 0
	for _, s := range spans {
		end := s.Offset + s.Length
		if s.Offset < pos || end > len(units) {
			continue
		}
		b.WriteString(string(utf16.Decode(units[pos:s.Offset])))
		b.WriteString(spoilerOpen)
		b.WriteString(string(utf16.Decode(units[s.Offset:end])))
		b.WriteString(spoilerClose)
		pos = end
	}
	b.WriteString(string(utf16.Decode(units[pos:])))
	return b.String()
}
