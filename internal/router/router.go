// Package router implements the command router: ordered literal/regex
// triggers, whitelist access control, and the middleware onion around
// handler invocation.
package router

import (
	"regexp"
	"strings"

	"github.com/Ap3pp3rs94/signalbot/internal/handlerctx"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
)

// Trigger is either a literal phrase or a regular expression; exactly one
// of Literal or Regex should be set.
type Trigger struct {
	Literal       string
	CaseSensitive bool
	Regex         *regexp.Regexp
}

// LiteralTrigger builds a literal trigger with the given case sensitivity.
func LiteralTrigger(text string, caseSensitive bool) Trigger {
	return Trigger{Literal: text, CaseSensitive: caseSensitive}
}

// RegexTrigger builds a trigger matched with re.MatchString (a search, not
// a full match).
func RegexTrigger(re *regexp.Regexp) Trigger {
	return Trigger{Regex: re}
}

func (t Trigger) matches(text string) bool {
	if t.Regex != nil {
		return t.Regex.MatchString(text)
	}
	if t.CaseSensitive {
		return text == t.Literal
	}
	return strings.EqualFold(text, t.Literal)
}

// HandlerFunc is the signature every command's handler and every middleware
// wraps. Context already carries the triggering Message, so handlers take
// it alone; cmd gives middleware access to the matched Command's
// name/metadata.
type HandlerFunc func(ctx *handlerctx.Context, cmd *Command) error

// Middleware wraps a HandlerFunc with cross-cutting behavior. Dispatch
// composes mw1(mw2(...mwN(handler))) on each call, preserving registration
// order outermost-first.
type Middleware func(next HandlerFunc) HandlerFunc

// Command is an immutable registered command: triggers tried in order,
// an optional source whitelist, and the handler to invoke on a match.
type Command struct {
	Name        string
	Description string
	Triggers    []Trigger
	Whitelist   map[string]struct{} // nil means "no restriction"
	Handler     HandlerFunc
}

// Matches reports whether msg matches this command: some trigger matches
// msg.Text and, if a whitelist is set, msg.Source is in it.
func (c *Command) Matches(msg signal.Message) bool {
	if c.Whitelist != nil {
		if _, ok := c.Whitelist[msg.Source]; !ok {
			return false
		}
	}
	for _, t := range c.Triggers {
		if t.matches(msg.Text) {
			return true
		}
	}
	return false
}

// Router holds the ordered, immutable-after-startup list of commands plus
// the registered middleware chain.
type Router struct {
	commands    []*Command
	middlewares []Middleware
	started     bool
}

func New() *Router {
	return &Router{}
}

// Register appends cmd to the matching priority order. Panics if called
// after Start, enforcing the "no mutation after startup" invariant.
func (r *Router) Register(cmd *Command) {
	if r.started {
		panic("router: Register called after Start")
	}
	r.commands = append(r.commands, cmd)
}

// Use appends a middleware to the chain, outermost-first in registration
// order.
func (r *Router) Use(mw Middleware) {
	if r.started {
		panic("router: Use called after Start")
	}
	r.middlewares = append(r.middlewares, mw)
}

// Start freezes the router against further registration.
func (r *Router) Start() {
	r.started = true
}

// Match returns the first command (in registration order) whose triggers
// and whitelist accept msg, or nil if none do. Match has no side effects
// and does not invoke any handler.
func (r *Router) Match(msg signal.Message) *Command {
	for _, c := range r.commands {
		if c.Matches(msg) {
			return c
		}
	}
	return nil
}

// Dispatch builds the middleware onion around cmd.Handler and invokes it.
func (r *Router) Dispatch(ctx *handlerctx.Context, cmd *Command) error {
	h := cmd.Handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}
	return h(ctx, cmd)
}
