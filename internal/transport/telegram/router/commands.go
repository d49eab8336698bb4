package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "fcfswatch/internal/runtime/supervisor"
	kit "fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "add" or "help".
	Route       string
	Aliases     []string // root-level aliases, e.g. ["watch"]
	Description string
	Usage       string
	Access      Access

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

// Replier is the part of the chat transport handlers talk back through.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Path    []string // matched command path tokens
	Command string
	Args    []string

	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Replier     Replier
	Logger      logx.Logger
	OwnerUserID []int64
}

// Reply sends an HTML message back to the chat the request came from.
func (r *Request) Reply(ctx context.Context, html string) error {
	_, err := r.Replier.SendText(ctx, r.Chat, html, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// IsOwner reports whether the sender is a configured owner.
func (r *Request) IsOwner() bool { return isOwner(r.FromID, r.OwnerUserID) }

type CommandManager struct {
	mu sync.RWMutex

	root  *cmdNode
	alias map[string]*cmdNode // alias -> leaf node
	menu  []Command

	owners []int64

	log     logx.Logger
	replier Replier
	workers int

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	sups    *SupervisorRegistry

	jobs chan func()
}

func NewCommandManager(log logx.Logger, replier Replier, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	return &CommandManager{
		root:    newCommandTree(),
		alias:   map[string]*cmdNode{},
		log:     log,
		replier: replier,
		owners:  append([]int64(nil), owners...),
		workers: workers,
		jobs:    make(chan func(), 256),
	}
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	reg := m.sups
	m.runMu.Unlock()
	if running {
		reg.Set("telegram.router", sup)
	} else {
		reg.Delete("telegram.router")
	}
}

// SetSupervisorRegistry makes the worker pool visible to /health while
// DispatchLoop runs.
func (m *CommandManager) SetSupervisorRegistry(r *SupervisorRegistry) {
	m.runMu.Lock()
	m.sups = r
	m.runMu.Unlock()
}

// tryEnqueue never blocks the dispatch loop; a full queue rejects.
func (m *CommandManager) tryEnqueue(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// SetRegistry replaces the command table. /help is always injected.
func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "/help [cmd]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args))
		},
	})

	tree := newCommandTree()
	alias := map[string]*cmdNode{}
	menu := make([]Command, 0, len(cmds))
	// First registration of a name wins; explicit aliases override.
	bind := func(name string, leaf *cmdNode, override bool) {
		if name == "" {
			return
		}
		if _, taken := alias[name]; taken && !override {
			return
		}
		alias[name] = leaf
	}

	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		leaf := tree.insert(route, c)
		menu = append(menu, c)

		// "/space_add" for "space add". A single word that sanitizes to
		// itself is already reachable through the tree.
		if name, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || name != route[0]) {
			bind(name, leaf, false)
		}
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.ContainsAny(a, " \t") {
				continue
			}
			bind(a, leaf, true)
			bind(sanitizeTelegramCommand(a), leaf, false)
		}
	}

	m.mu.Lock()
	m.root, m.alias, m.menu = tree, alias, menu
	m.mu.Unlock()
}

// MenuCommands returns the command menu derived from the current table.
func (m *CommandManager) MenuCommands() []kit.BotCommand {
	m.mu.RLock()
	root, menu := m.root, m.menu
	m.mu.RUnlock()
	return buildTelegramMenuCommands(root, menu)
}

// PublishMenu pushes the command menu when the transport supports it.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.replier.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(ctx, m.MenuCommands())
}

// DispatchLoop routes updates until ctx is done or updates is closed.
// Commands run on a bounded worker pool.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	jobs := m.jobs
	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// commandWord extracts the lowercased command from the first token,
// dropping the leading slash and any @botname suffix.
func commandWord(tok string) (string, bool) {
	word, ok := strings.CutPrefix(tok, "/")
	if !ok {
		return "", false
	}
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word), word != ""
}

// resolve walks the command tree as far as the arguments allow. The
// returned node may be a group without a command.
func (m *CommandManager) resolve(word string, args []string) (node *cmdNode, path, rest []string) {
	m.mu.RLock()
	tree, alias := m.root, m.alias
	m.mu.RUnlock()

	if leaf := alias[word]; leaf != nil && leaf.cmd != nil {
		return leaf, splitRoute(leaf.cmd.Route), args
	}
	node, ok := tree.child(word)
	if !ok {
		return nil, nil, args
	}
	path = []string{word}
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		next, ok := node.child(args[0])
		if !ok {
			break
		}
		node, path, args = next, append(path, args[0]), args[1:]
	}
	return node, path, args
}

func (m *CommandManager) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	parts := tokenizeCommandLine(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	node, path, args := m.resolve(word, parts[1:])
	switch {
	case node == nil:
		_, _ = m.replier.SendText(ctx, chat, "Unknown command. Try /help", nil)
	case node.cmd == nil:
		_, _ = m.replier.SendText(ctx, chat, m.helpText(path), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	default:
		m.enqueueCommand(ctx, up, *node.cmd, path, args)
	}
}

func (m *CommandManager) enqueueCommand(ctx context.Context, up kit.Update, cmd Command, path []string, raw []string) {
	msg := up.Message
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.replier.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := newReqID()
	pos, flags, bools := parseFlags(raw)
	req := &Request{
		Update:      up,
		Chat:        chat,
		FromID:      msg.FromID,
		Path:        path,
		Command:     cmd.Route,
		Args:        pos,
		RawArgs:     raw,
		Flags:       flags,
		BoolFlags:   bools,
		ReqID:       rid,
		Replier:     m.replier,
		OwnerUserID: owners,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("cmd", cmd.Route),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
		),
	}

	run := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)
	if !m.tryEnqueue(func() { _ = run(ctx, req) }) {
		_, _ = m.replier.SendText(ctx, chat, "busy, try again", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
