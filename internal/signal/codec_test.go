package signal

import (
	"errors"
	"testing"
)

func TestRecognize(t *testing.T) {
	t.Parallel()
	c := NewCodec("", "@GodsEye", 0)
	pinned := NewCodec("", "godseye", 77)

	tests := []struct {
		name  string
		codec *Codec
		src   Source
		text  string
		want  bool
	}{
		{"leader with marker", c, Source{Username: "godseye"}, "New Trade Alert! SIGNAL: {}", true},
		{"case and at-sign ignored", c, Source{Username: "@GODSEYE"}, "New Trade Alert!", true},
		{"wrong sender", c, Source{Username: "mallory"}, "New Trade Alert!", false},
		{"no marker", c, Source{Username: "godseye"}, "SIGNAL: {}", false},
		{"pinned id matches", pinned, Source{UserID: 77, Username: "godseye"}, "New Trade Alert!", true},
		{"pinned id mismatch", pinned, Source{UserID: 78, Username: "godseye"}, "New Trade Alert!", false},
		{"no leader configured", NewCodec("", "", 0), Source{Username: ""}, "New Trade Alert!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.codec.Recognize(tt.src, tt.text); got != tt.want {
				t.Fatalf("Recognize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractPrecedence(t *testing.T) {
	t.Parallel()
	c := NewCodec("", "godseye", 0)

	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "strict spoiler form",
			text: `New Trade Alert! <tg-spoiler>SIGNAL: {"symbol":"BTCUSD"}</tg-spoiler>`,
			want: `{"symbol":"BTCUSD"}`,
			ok:   true,
		},
		{
			name: "strict keeps nested braces",
			text: `<tg-spoiler>SIGNAL: {"symbol":"BTCUSD","meta":{"tp":1}}</tg-spoiler>`,
			want: `{"symbol":"BTCUSD","meta":{"tp":1}}`,
			ok:   true,
		},
		{
			name: "strict wins over an earlier loose block",
			text: `SIGNAL: {"a":1} then <tg-spoiler>SIGNAL: {"b":2}</tg-spoiler>`,
			want: `{"b":2}`,
			ok:   true,
		},
		{
			name: "loose across lines",
			text: "New Trade Alert!\nSIGNAL:\n{\n\"symbol\": \"ETHUSD\"\n}",
			want: "{\n\"symbol\": \"ETHUSD\"\n}",
			ok:   true,
		},
		{
			name: "two blocks without spoiler yields the first",
			text: `SIGNAL: {"first":1} {"second":2}`,
			want: `{"first":1}`,
			ok:   true,
		},
		{
			name: "no fragment",
			text: "New Trade Alert! details soon",
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Extract(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("Extract() = %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	c := NewCodec("", "godseye", 0)

	s, err := c.Parse(`{"symbol":"BTCUSD","side":"buy","size":1,"price":50000,"leverage":10,"signature":"abc","note":"x"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Signal{Symbol: "BTCUSD", Side: "buy", Size: 1, Price: 50000, Leverage: 10, Signature: "abc"}
	if s != want {
		t.Fatalf("Parse() = %+v, want %+v", s, want)
	}

	for _, bad := range []string{
		`{"symbol":"BTCUSD"`,
		`{"symbol":"BTCUSD","side":"buy","size":1,"price":50000}`,
		`{"symbol":"BTCUSD","side":"buy","size":"1","price":50000,"leverage":10}`,
		`{"side":"buy","size":1,"price":50000,"leverage":10}`,
		`[1,2,3]`,
		`{"symbol":"A|B","side":"C","size":1,"price":1,"leverage":1}`,
		`{"symbol":"A","side":"B|C","size":1,"price":1,"leverage":1}`,
	} {
		if _, err := c.Parse(bad); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("Parse(%s) err = %v, want ErrMalformedPayload", bad, err)
		}
	}
}

func TestDecodeNoSignal(t *testing.T) {
	t.Parallel()
	c := NewCodec("", "godseye", 0)
	if _, err := c.Decode("New Trade Alert! nothing here"); !errors.Is(err, ErrNoSignal) {
		t.Fatalf("err = %v, want ErrNoSignal", err)
	}
}
