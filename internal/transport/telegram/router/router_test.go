package router

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	kit "copybot/internal/transport"
	logx "copybot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	got := tokenizeCommandLine(`/cmd a "b c" 'd e' f\ g`)
	want := []string{"/cmd", "a", "b c", "d e", "f g"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("tokens = %q, want %q", got, want)
	}
	if tokenizeCommandLine("   ") != nil {
		t.Fatal("blank input should yield nil")
	}
}

func TestSplitCommandWord(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in    string
		word  string
		extra []string
	}{
		{"/subscribe", "subscribe", nil},
		{"/Subscribe@CopyBot", "subscribe", nil},
		{"/subscribe?ref=GODSEYE", "subscribe", []string{"ref=GODSEYE"}},
		{"/subscribe@bot?ref=X&src=tg", "subscribe", []string{"ref=X", "src=tg"}},
	}
	for _, tt := range tests {
		word, extra := splitCommandWord(tt.in)
		if word != tt.word || !reflect.DeepEqual(extra, tt.extra) {
			t.Fatalf("splitCommandWord(%q) = %q %q, want %q %q", tt.in, word, extra, tt.word, tt.extra)
		}
	}
}

func TestSplitParams(t *testing.T) {
	t.Parallel()
	pos, params := splitParams([]string{"ref=GODSEYE", "-0.5", "=x", "REF=other", "1.5"})
	if !reflect.DeepEqual(pos, []string{"-0.5", "=x", "1.5"}) {
		t.Fatalf("pos = %q", pos)
	}
	if params["ref"] != "GODSEYE" || len(params) != 1 {
		t.Fatalf("params = %v", params)
	}
}

func runDispatcher(t *testing.T, d *Dispatcher) chan kit.Update {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates
}

func TestDispatchCommandWithQueryParams(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := NewDispatcher(logx.Nop(), ad, Options{Workers: 1})

	got := make(chan *Request, 1)
	d.SetCommands([]Command{{
		Name:   "subscribe",
		Handle: func(_ context.Context, req *Request) error { got <- req; return nil },
	}})
	updates := runDispatcher(t, d)

	updates <- kit.Update{Message: &kit.Message{ChatID: 9, FromID: 42, Text: "/subscribe?ref=GODSEYE"}}

	select {
	case req := <-got:
		if req.Command != "subscribe" || req.Params["ref"] != "GODSEYE" || req.FromID != 42 {
			t.Fatalf("request = %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestDispatchPlainAndUnknown(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := NewDispatcher(logx.Nop(), ad, Options{Workers: 1})
	plain := make(chan string, 1)
	d.SetPlainHandler(func(_ context.Context, req *Request) error { plain <- req.Text; return nil })
	d.SetCommands(nil)
	updates := runDispatcher(t, d)

	updates <- kit.Update{Message: &kit.Message{ChatID: -1, IsGroup: true, Text: "/other_bot_cmd"}}
	updates <- kit.Update{Message: &kit.Message{ChatID: 5, Text: "/nope"}}
	updates <- kit.Update{Message: &kit.Message{ChatID: -1, IsGroup: true, Text: "New Trade Alert!"}}

	select {
	case txt := <-plain:
		if txt != "New Trade Alert!" {
			t.Fatalf("plain text = %q", txt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("plain handler not called")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(ad.texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	sent := ad.texts()
	if len(sent) != 1 || !strings.HasPrefix(sent[0], "Unknown command") {
		t.Fatalf("replies = %q, want a single unknown-command reply", sent)
	}
}

func TestHelpListsVisibleCommands(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(logx.Nop(), &fakeAdapter{}, Options{})
	noop := func(context.Context, *Request) error { return nil }
	d.SetCommands([]Command{
		{Name: "risk", Usage: "/risk <value>", Description: "Set risk multiplier", Handle: noop},
		{Name: "debug", Hidden: true, Handle: noop},
	})
	help := d.helpText()
	if !strings.Contains(help, "/risk <value> - Set risk multiplier") || !strings.Contains(help, "/help") {
		t.Fatalf("help = %q", help)
	}
	if strings.Contains(help, "debug") {
		t.Fatalf("hidden command listed: %q", help)
	}
}
