package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "copybot/internal/runtime/supervisor"
	kit "copybot/internal/transport"
	logx "copybot/pkg/logx"
)

// Command is one slash command. Name is matched case-insensitively without
// the leading slash.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routed but left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	Text         string

	// Command is empty for plain (non-command) messages.
	Command string
	Args    []string          // positional args
	Params  map[string]string // key=value args, including a "?k=v" suffix
	RawArgs []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends plain text back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Adapter == nil {
		return nil
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Options struct {
	// Workers bounds concurrent handlers. 0 means NumCPU (min 2).
	Workers   int
	QueueSize int
	// PlainTimeout bounds the handler for non-command messages.
	PlainTimeout time.Duration
}

// Dispatcher routes updates to command handlers or to the plain-message
// handler on a bounded worker pool.
type Dispatcher struct {
	opts    Options
	log     logx.Logger
	adapter kit.Adapter

	mu       sync.RWMutex
	commands map[string]Command // name and aliases
	list     []Command          // visible, sorted
	plain    HandlerFunc

	runMu  sync.Mutex
	sup    *rtsup.Supervisor
	appSup *rtsup.Supervisor

	jobs chan func()
}

func NewDispatcher(log logx.Logger, adapter kit.Adapter, opts Options) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU(), 2)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PlainTimeout <= 0 {
		opts.PlainTimeout = 30 * time.Second
	}
	return &Dispatcher{
		opts:     opts,
		log:      log,
		adapter:  adapter,
		commands: map[string]Command{},
		jobs:     make(chan func(), opts.QueueSize),
	}
}

// SetSupervisor lets background work (menu updates) run under the app supervisor.
func (d *Dispatcher) SetSupervisor(sup *rtsup.Supervisor) {
	d.runMu.Lock()
	d.appSup = sup
	d.runMu.Unlock()
}

// SetPlainHandler installs the handler for messages that are not commands.
func (d *Dispatcher) SetPlainHandler(h HandlerFunc) {
	d.mu.Lock()
	d.plain = h
	d.mu.Unlock()
}

// SetCommands replaces the command table. /help is always added.
func (d *Dispatcher) SetCommands(cmds []Command) {
	cmds = append(append([]Command(nil), cmds...), Command{
		Name:        "help",
		Description: "Show available commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, d.helpText())
		},
	})

	table := map[string]Command{}
	var list []Command
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, taken := table[a]; a != "" && !taken {
				table[a] = c
			}
		}
		if !c.Hidden {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	d.mu.Lock()
	d.commands = table
	d.list = list
	d.mu.Unlock()

	d.publishMenu(list)
}

func (d *Dispatcher) publishMenu(list []Command) {
	up, ok := d.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := make([]kit.BotCommand, 0, len(list))
	for _, c := range list {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	run := func(parent context.Context) error {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			d.log.Warn("menu update failed", logx.Err(err))
		}
		return nil
	}

	d.runMu.Lock()
	sup := d.appSup
	d.runMu.Unlock()
	if sup != nil {
		sup.Go("telegram.menu.update", run)
		return
	}
	go func() { _ = run(context.Background()) }()
}

func (d *Dispatcher) helpText() string {
	d.mu.RLock()
	list := d.list
	d.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range list {
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// Supervisor returns the worker pool supervisor (nil when not running).
func (d *Dispatcher) Supervisor() *rtsup.Supervisor {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.sup
}

func (d *Dispatcher) tryEnqueue(fn func()) bool {
	select {
	case d.jobs <- fn:
		return true
	default:
		return false
	}
}

// Run consumes updates until ctx is done or updates is closed.
func (d *Dispatcher) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(d.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	d.runMu.Lock()
	d.sup = sup
	d.runMu.Unlock()

	d.log.Info("dispatcher started", logx.Int("workers", d.opts.Workers), logx.Int("queue_cap", cap(d.jobs)))

	for i := 0; i < d.opts.Workers; i++ {
		idx := i
		sup.GoRestart("worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-d.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								d.log.Error("panic in dispatcher job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		d.runMu.Lock()
		d.sup = nil
		d.runMu.Unlock()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		d.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			d.route(ctx, up)
		}
	}
}

func (d *Dispatcher) route(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	text := strings.TrimSpace(msg.Text)

	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		Text:         msg.Text,
		ReqID:        newReqID(),
		Adapter:      d.adapter,
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if strings.HasPrefix(text, "/") {
		parts := tokenizeCommandLine(text)
		word, extra := splitCommandWord(parts[0])

		d.mu.RLock()
		cmd, ok := d.commands[word]
		d.mu.RUnlock()
		if !ok {
			// Groups see every slash command; only answer unknown ones in private.
			if !msg.IsGroup {
				_ = req.Reply(ctx, "Unknown command. Try /help")
			}
			return
		}
		raw := append(extra, parts[1:]...)
		req.Command = cmd.Name
		req.RawArgs = raw
		req.Args, req.Params = splitParams(raw)
		h, timeout = cmd.Handle, cmd.Timeout
	} else {
		d.mu.RLock()
		h = d.plain
		d.mu.RUnlock()
		if h == nil {
			return
		}
		timeout = d.opts.PlainTimeout
	}

	req.Logger = d.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", chat.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", req.Command),
	)

	final := Chain(h,
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
		MWTimeout(timeout),
	)
	if !d.tryEnqueue(func() { _ = final(ctx, req) }) {
		req.Logger.Warn("dispatcher queue full; update dropped")
		if req.Command != "" {
			_ = req.Reply(ctx, "Busy, try again.")
		}
	}
}
