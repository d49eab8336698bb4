package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "fcfswatch/internal/transport"
	logx "fcfswatch/pkg/logx"
)

type sent struct {
	chat int64
	text string
}

type fakeReplier struct {
	mu   sync.Mutex
	msgs []sent
	ch   chan sent

	menu [][]kit.BotCommand
}

func newFakeReplier() *fakeReplier { return &fakeReplier{ch: make(chan sent, 16)} }

func (f *fakeReplier) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{chat: to.ChatID, text: text})
	f.mu.Unlock()
	f.ch <- sent{chat: to.ChatID, text: text}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeReplier) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = append(f.menu, cmds)
	f.mu.Unlock()
	return nil
}

func (f *fakeReplier) next(t *testing.T) sent {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
		return sent{}
	}
}

func msg(chat, from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chat, FromID: from, Text: text}}
}

func startManager(t *testing.T, cmds []Command, owners []int64) (*CommandManager, *fakeReplier, chan kit.Update) {
	t.Helper()
	rp := newFakeReplier()
	m := NewCommandManager(logx.Nop(), rp, owners)
	m.SetRegistry(cmds)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, rp, updates
}

func echoCommand() Command {
	return Command{
		Route:       "add",
		Aliases:     []string{"watch"},
		Description: "watch a space",
		Usage:       "/add <space>",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "args="+strings.Join(req.Args, ",")+" force="+map[bool]string{true: "y", false: "n"}[req.BoolFlags["force"]])
		},
	}
}

func TestDispatchRoutesCommandWithArgs(t *testing.T) {
	_, rp, updates := startManager(t, []Command{echoCommand()}, nil)

	updates <- msg(42, 7, `/add@fcfsbot "GCspaceAAAAAAAAAA01" --force`)
	got := rp.next(t)
	if got.chat != 42 || got.text != "args=GCspaceAAAAAAAAAA01 force=y" {
		t.Fatalf("got %+v", got)
	}

	updates <- msg(42, 7, "/watch x")
	if got := rp.next(t); got.text != "args=x force=n" {
		t.Fatalf("alias: %+v", got)
	}
}

func TestDispatchIgnoresPlainTextAndRejectsUnknown(t *testing.T) {
	_, rp, updates := startManager(t, []Command{echoCommand()}, nil)

	updates <- msg(1, 1, "hello there")
	updates <- msg(1, 1, "/nope")
	got := rp.next(t)
	if !strings.Contains(got.text, "Unknown command") {
		t.Fatalf("got %q", got.text)
	}
	select {
	case extra := <-rp.ch:
		t.Fatalf("unexpected reply %q", extra.text)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOwnerOnlyCommand(t *testing.T) {
	cmd := Command{
		Route:  "testscan",
		Access: AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok") },
	}
	m, rp, updates := startManager(t, []Command{cmd}, []int64{100})

	updates <- msg(5, 200, "/testscan")
	if got := rp.next(t); got.text != "unauthorized" {
		t.Fatalf("got %q", got.text)
	}
	updates <- msg(5, 100, "/testscan")
	if got := rp.next(t); got.text != "ok" {
		t.Fatalf("got %q", got.text)
	}

	m.SetOwners([]int64{200})
	updates <- msg(5, 200, "/testscan")
	if got := rp.next(t); got.text != "ok" {
		t.Fatalf("after reload got %q", got.text)
	}
}

func TestPanickingHandlerDoesNotKillWorkers(t *testing.T) {
	boom := Command{Route: "boom", Handle: func(context.Context, *Request) error { panic("x") }}
	_, rp, updates := startManager(t, []Command{boom, echoCommand()}, nil)

	updates <- msg(1, 1, "/boom")
	updates <- msg(1, 1, "/add a")
	if got := rp.next(t); got.text != "args=a force=n" {
		t.Fatalf("got %q", got.text)
	}
}

func TestHelpListsCommands(t *testing.T) {
	owner := Command{Route: "stats", Description: "counters", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }}
	_, rp, updates := startManager(t, []Command{echoCommand(), owner}, nil)

	updates <- msg(1, 1, "/help")
	got := rp.next(t).text
	for _, want := range []string{"/add", "watch a space", "🔒 <code>/stats</code>", "/help"} {
		if !strings.Contains(got, want) {
			t.Fatalf("help missing %q:\n%s", want, got)
		}
	}

	updates <- msg(1, 1, "/help add")
	got = rp.next(t).text
	if !strings.Contains(got, "/add &lt;space&gt;") || !strings.Contains(got, "/watch") {
		t.Fatalf("detail help:\n%s", got)
	}
}

func TestPublishMenu(t *testing.T) {
	rp := newFakeReplier()
	m := NewCommandManager(logx.Nop(), rp, nil)
	m.SetRegistry([]Command{echoCommand()})

	if err := m.PublishMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rp.menu) != 1 {
		t.Fatalf("menu calls = %d", len(rp.menu))
	}
	names := map[string]bool{}
	for _, c := range rp.menu[0] {
		names[c.Command] = true
	}
	if !names["add"] || !names["help"] {
		t.Fatalf("menu = %+v", rp.menu[0])
	}
}

func TestTokenizeAndParseFlags(t *testing.T) {
	toks := tokenizeCommandLine(`/add 'a b' c\ d --k=v -x y -ab`)
	want := []string{"/add", "a b", "c d", "--k=v", "-x", "y", "-ab"}
	if strings.Join(toks, "|") != strings.Join(want, "|") {
		t.Fatalf("tokens = %q", toks)
	}
	pos, flags, bools := parseFlags(toks[1:])
	if strings.Join(pos, "|") != "a b|c d" {
		t.Fatalf("pos = %q", pos)
	}
	if flags["k"] != "v" || flags["x"] != "y" || !bools["a"] || !bools["b"] {
		t.Fatalf("flags=%v bools=%v", flags, bools)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	cases := map[string]string{
		"Test-Scan": "test_scan",
		"a  b":      "a_b",
		"1abc":      "cmd_1abc",
		"!!":        "",
	}
	for in, want := range cases {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Errorf("%q: got %q want %q", in, got, want)
		}
	}
}
