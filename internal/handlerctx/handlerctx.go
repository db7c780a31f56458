// Package handlerctx implements the handler façade: the single argument
// passed to every command handler, exposing the parsed Message,
// send/reply/react/typing/download helpers, a named lock, and a logger
// bound with {source, message_id, command_name, worker_id}. All outbound
// operations pass through the rate limiter and circuit breaker by resource
// name.
package handlerctx

import (
	gocontext "context"
	"fmt"
	"strings"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/breaker"
	"github.com/Ap3pp3rs94/signalbot/internal/lock"
	"github.com/Ap3pp3rs94/signalbot/internal/ratelimit"
	"github.com/Ap3pp3rs94/signalbot/internal/signal"
	"github.com/Ap3pp3rs94/signalbot/internal/signalerr"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

// Gateway wraps a signal.RESTClient with the rate limiter and circuit
// breaker every outbound call must pass through, plus error classification
// into the signalerr taxonomy.
type Gateway struct {
	client  signal.RESTClient
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
}

func NewGateway(client signal.RESTClient, limiter *ratelimit.Limiter, br *breaker.Breaker) *Gateway {
	return &Gateway{client: client, limiter: limiter, breaker: br}
}

// Call gates req through the breaker then the rate limiter, issues it, and
// classifies the outcome.
func (g *Gateway) Call(ctx gocontext.Context, req signal.Request) (signal.Response, error) {
	if g.breaker != nil && !g.breaker.Allow(req.Resource) {
		return signal.Response{}, breaker.ErrBreakerOpen(req.Resource)
	}
	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx, req.Resource); err != nil {
			return signal.Response{}, signalerr.New(signalerr.KindNetwork, req.Resource, err)
		}
	}

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		if g.breaker != nil {
			g.breaker.RecordFailure(req.Resource)
		}
		return signal.Response{}, signalerr.New(signalerr.KindNetwork, req.Resource, err)
	}

	switch {
	case resp.StatusCode == 429:
		if g.breaker != nil {
			g.breaker.RecordFailure(req.Resource)
		}
		return resp, signalerr.New(signalerr.KindRateLimited, req.Resource, fmt.Errorf("rate limited by upstream"))
	case resp.StatusCode == 401:
		return resp, signalerr.New(signalerr.KindAuth, req.Resource, fmt.Errorf("unauthorized"))
	case resp.StatusCode >= 500:
		if g.breaker != nil {
			g.breaker.RecordFailure(req.Resource)
		}
		return resp, signalerr.New(signalerr.KindUpstream5xx, req.Resource, fmt.Errorf("upstream status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return resp, signalerr.New(signalerr.KindClientReq, req.Resource, fmt.Errorf("client error status %d", resp.StatusCode))
	default:
		if g.breaker != nil {
			g.breaker.RecordSuccess(req.Resource)
		}
		return resp, nil
	}
}

// Context is the handler façade.
type Context struct {
	gocontext.Context
	Message signal.Message
	Log     *telemetry.Logger

	gateway *Gateway
	locks   lock.Manager
}

// New builds a Context for a single handler invocation.
func New(parent gocontext.Context, msg signal.Message, gw *Gateway, locks lock.Manager, log *telemetry.Logger) *Context {
	return &Context{Context: parent, Message: msg, Log: log, gateway: gw, locks: locks}
}

// Send posts text to recipient (a group id or an E.164 source).
func (c *Context) Send(recipient, text string) error {
	_, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceMessages,
		Method:   "POST",
		Path:     "/v2/send",
		Body: map[string]any{
			"recipient": recipient,
			"message":   text,
		},
	})
	return err
}

// Reply sends text back to the triggering message's conversation, with
// quote fields populated from the triggering Message automatically.
func (c *Context) Reply(text string) error {
	body := map[string]any{
		"recipient": c.Message.ReplyTarget(),
		"message":   text,
		"quote": map[string]any{
			"id":     c.Message.Timestamp,
			"author": c.Message.Source,
		},
	}
	_, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceMessages,
		Method:   "POST",
		Path:     "/v2/send",
		Body:     body,
	})
	return err
}

// React adds emoji as a reaction to the triggering message.
func (c *Context) React(emoji string) error {
	_, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceReactions,
		Method:   "POST",
		Path:     "/v1/reactions",
		Body: map[string]any{
			"recipient":             c.Message.ReplyTarget(),
			"reaction":              emoji,
			"target_author":         c.Message.Source,
			"target_sent_timestamp": c.Message.Timestamp,
		},
	})
	return err
}

// RemoveReaction removes a previously-added reaction from the triggering
// message.
func (c *Context) RemoveReaction(emoji string) error {
	_, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceReactions,
		Method:   "DELETE",
		Path:     "/v1/reactions",
		Body: map[string]any{
			"recipient":             c.Message.ReplyTarget(),
			"reaction":              emoji,
			"target_author":         c.Message.Source,
			"target_sent_timestamp": c.Message.Timestamp,
			"remove":                true,
		},
	})
	return err
}

// StartTyping begins a typing indicator in the triggering conversation.
func (c *Context) StartTyping() error {
	return c.typing(false)
}

// StopTyping ends a typing indicator in the triggering conversation.
func (c *Context) StopTyping() error {
	return c.typing(true)
}

func (c *Context) typing(stop bool) error {
	_, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceGeneral,
		Method:   "PUT",
		Path:     "/v1/typing-indicator",
		Body: map[string]any{
			"recipient": c.Message.ReplyTarget(),
			"stop":      stop,
		},
	})
	return err
}

// DownloadAttachment fetches the raw bytes of attachment id via the
// attachments resource.
func (c *Context) DownloadAttachment(id string) ([]byte, error) {
	resp, err := c.gateway.Call(c, signal.Request{
		Resource: signal.ResourceAttachments,
		Method:   "GET",
		Path:     "/v1/attachments/" + id,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Lock obtains exclusive access to name until the returned release function
// is called (process-local, or cluster-wide when the storage backend is a
// shared key-value store; the cluster-wide lease also lapses after ttl,
// released or not).
func (c *Context) Lock(name string, ttl time.Duration) (release func(), err error) {
	return c.locks.Acquire(c, strings.TrimSpace(name), ttl)
}
