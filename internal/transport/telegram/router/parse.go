package router

import (
	"math/rand"
	"strings"
	"sync/atomic"
	"time"
)

var ridSeq atomic.Uint64

// newReqID returns a short request id: base36 time, sequence and two random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.Intn(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}

// tokenizeCommandLine splits command text on whitespace, honoring quotes and
// backslash escapes:
//
//	/cmd a "b c" ref=X
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc = false
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar = true, ch
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// splitCommandWord parses the leading "/word" token. A query suffix
// ("/subscribe?ref=X&a=b") is returned as extra arguments and a bot mention
// ("/risk@copybot") is dropped.
func splitCommandWord(tok string) (word string, extra []string) {
	word = strings.TrimPrefix(tok, "/")
	if i := strings.IndexByte(word, '?'); i >= 0 {
		for _, kv := range strings.Split(word[i+1:], "&") {
			if kv != "" {
				extra = append(extra, kv)
			}
		}
		word = word[:i]
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word), extra
}

// splitParams separates key=value tokens from positional args. Keys are
// lowercased; the first occurrence of a key wins. Tokens like "-0.5" or "=x"
// stay positional.
func splitParams(args []string) (pos []string, params map[string]string) {
	params = map[string]string{}
	for _, a := range args {
		eq := strings.IndexByte(a, '=')
		if eq <= 0 || !isParamKey(a[:eq]) {
			pos = append(pos, a)
			continue
		}
		k := strings.ToLower(a[:eq])
		if _, seen := params[k]; !seen {
			params[k] = a[eq+1:]
		}
	}
	return pos, params
}

func isParamKey(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}
