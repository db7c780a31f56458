// Command signalbot is the runtime entry point: it loads configuration,
// composes the Application, registers the built-in commands, and runs
// until SIGINT/SIGTERM or a fatal component error.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/Ap3pp3rs94/signalbot/internal/app"
	"github.com/Ap3pp3rs94/signalbot/internal/config"
	"github.com/Ap3pp3rs94/signalbot/internal/handlerctx"
	"github.com/Ap3pp3rs94/signalbot/internal/router"
	"github.com/Ap3pp3rs94/signalbot/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"level":"error","service":"signalbot","msg":"config_load_failed","error":%q}`+"\n", err.Error())
		os.Exit(1)
	}

	logOpt := telemetry.Options{
		Level:      telemetry.LevelInfo,
		Structured: cfg.StructuredLogging,
		Redact:     cfg.LogRedactionEnabled,
	}

	application, err := app.New(cfg, logOpt, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"level":"error","service":"signalbot","msg":"compose_failed","error":%q}`+"\n", err.Error())
		os.Exit(1)
	}

	registerBuiltinCommands(application.Router)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	runCtx, err := application.Start(sigCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, `{"level":"error","service":"signalbot","msg":"start_failed","error":%q}`+"\n", err.Error())
		os.Exit(1)
	}

	select {
	case <-runCtx.Done():
	case err := <-application.Fatal():
		fmt.Fprintf(os.Stderr, `{"level":"error","service":"signalbot","msg":"fatal_component_error","error":%q}`+"\n", err.Error())
	}

	application.Stop()
}

// registerBuiltinCommands wires the handful of commands every deployment
// gets out of the box: a liveness probe reachable over Signal itself, an
// echo exercising Reply, and an ack exercising React end to end.
func registerBuiltinCommands(r *router.Router) {
	r.Register(&router.Command{
		Name:        "ping",
		Description: "replies pong",
		Triggers:    []router.Trigger{router.LiteralTrigger("!ping", false)},
		Handler: func(ctx *handlerctx.Context, _ *router.Command) error {
			return ctx.Reply("pong")
		},
	})

	r.Register(&router.Command{
		Name:        "echo",
		Description: "echoes the text following !echo",
		Triggers:    []router.Trigger{router.RegexTrigger(echoPattern)},
		Handler: func(ctx *handlerctx.Context, _ *router.Command) error {
			text := echoPattern.ReplaceAllString(ctx.Message.Text, "")
			if text == "" {
				return ctx.Reply("nothing to echo")
			}
			return ctx.Reply(text)
		},
	})

	r.Register(&router.Command{
		Name:        "ack",
		Description: "reacts to the triggering message instead of replying",
		Triggers:    []router.Trigger{router.LiteralTrigger("!ack", false)},
		Handler: func(ctx *handlerctx.Context, _ *router.Command) error {
			return ctx.React("\U0001F44D")
		},
	})
}

var echoPattern = regexp.MustCompile(`(?i)^!echo\s+`)
