package router

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/Ap3pp3rs94/signalbot/internal/handlerctx"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
)

func ctxFor(msg signal.Message) *handlerctx.Context {
	return handlerctx.New(context.Background(), msg, nil, nil, nil)
}

func TestMatchRespectsRegistrationOrder(t *testing.T) {
	r := New()
	var invoked []string
	r.Register(&Command{
		Name:     "first",
		Triggers: []Trigger{RegexTrigger(regexp.MustCompile(`^!`))},
		Handler: func(*handlerctx.Context, *Command) error {
			invoked = append(invoked, "first")
			return nil
		},
	})
	r.Register(&Command{
		Name:     "second",
		Triggers: []Trigger{LiteralTrigger("!ping", false)},
		Handler: func(*handlerctx.Context, *Command) error {
			invoked = append(invoked, "second")
			return nil
		},
	})
	r.Start()

	cmd := r.Match(signal.Message{Source: "+1", Text: "!ping"})
	if cmd == nil || cmd.Name != "first" {
		t.Fatalf("expected the first registered matching command to win, got %v", cmd)
	}
}

func TestLiteralTriggerCaseSensitivity(t *testing.T) {
	insensitive := LiteralTrigger("!ping", false)
	if !insensitive.matches("!PING") {
		t.Fatalf("expected case-insensitive trigger to match")
	}
	sensitive := LiteralTrigger("!ping", true)
	if sensitive.matches("!PING") {
		t.Fatalf("expected case-sensitive trigger to reject differing case")
	}
}

func TestWhitelistRejectsUnlistedSource(t *testing.T) {
	cmd := &Command{
		Name:      "admin",
		Triggers:  []Trigger{LiteralTrigger("!restart", false)},
		Whitelist: map[string]struct{}{"+15550001": {}},
	}
	if cmd.Matches(signal.Message{Source: "+15559999", Text: "!restart"}) {
		t.Fatalf("expected whitelist to reject a source not on the list")
	}
	if !cmd.Matches(signal.Message{Source: "+15550001", Text: "!restart"}) {
		t.Fatalf("expected whitelist to accept a listed source")
	}
}

func TestDispatchBuildsMiddlewareOnionOutermostFirst(t *testing.T) {
	r := New()
	var order []string
	r.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx *handlerctx.Context, cmd *Command) error {
			order = append(order, "mw1-before")
			err := next(ctx, cmd)
			order = append(order, "mw1-after")
			return err
		}
	})
	r.Use(func(next HandlerFunc) HandlerFunc {
		return func(ctx *handlerctx.Context, cmd *Command) error {
			order = append(order, "mw2-before")
			err := next(ctx, cmd)
			order = append(order, "mw2-after")
			return err
		}
	})
	cmd := &Command{
		Name: "noop",
		Handler: func(*handlerctx.Context, *Command) error {
			order = append(order, "handler")
			return nil
		},
	}
	r.Start()

	if err := r.Dispatch(ctxFor(signal.Message{}), cmd); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	want := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(want) {
		t.Fatalf("got order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	cmd := &Command{
		Name:    "fails",
		Handler: func(*handlerctx.Context, *Command) error { return boom },
	}
	r.Start()
	if err := r.Dispatch(ctxFor(signal.Message{}), cmd); !errors.Is(err, boom) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}
}

func TestRegisterAfterStartPanics(t *testing.T) {
	r := New()
	r.Start()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Register after Start to panic")
		}
	}()
	r.Register(&Command{Name: "late"})
}

func TestMatchReturnsNilWhenNothingMatches(t *testing.T) {
	r := New()
	r.Register(&Command{Name: "ping", Triggers: []Trigger{LiteralTrigger("!ping", false)}})
	r.Start()
	if cmd := r.Match(signal.Message{Text: "hello"}); cmd != nil {
		t.Fatalf("expected no match, got %v", cmd)
	}
}
