// Command learner drives the WeVersity auth core from a terminal: sign up,
// sign in, verify an email link, reset a password and inspect the session.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"weversity/services/learner-app/internal/app"
	"weversity/services/learner-app/internal/config"
	"weversity/services/learner-app/internal/flows"
	"weversity/services/learner-app/internal/nav"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "learner",
		Short:         "WeVersity account client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		signupCmd(),
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		verifyCmd(),
		resendCmd(),
		resetCmd(),
		statusCmd(),
	)
	return cmd
}

func newLogger(level string, w io.Writer) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// printNavigator shows each route change on the command output.
type printNavigator struct {
	out io.Writer
}

func (p printNavigator) Replace(target nav.Target) {
	fmt.Fprintf(p.out, "-> %s\n", target)
}

// session is one CLI invocation's view of the app.
type session struct {
	cfg       config.Config
	logger    *slog.Logger
	app       *app.App
	scheduler *flows.TimerScheduler
	out       io.Writer
}

// withApp loads config, starts the app, runs fn and waits for scheduled
// redirects before closing.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	scheduler := &flows.TimerScheduler{}
	a, err := app.New(cfg, printNavigator{out: out}, scheduler, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close app", "error", err)
		}
	}()

	ctx := cmd.Context()
	if err := a.Start(ctx); err != nil {
		logger.WarnContext(ctx, "session check failed", "error", err)
	}

	s := &session{cfg: cfg, logger: logger, app: a, scheduler: scheduler, out: out}
	err = fn(ctx, s)
	scheduler.Wait()
	return explain(err)
}

// explain turns a flow error into the text shown to the user.
func explain(err error) error {
	if err == nil {
		return nil
	}
	var flowErr *flows.Error
	if !errors.As(err, &flowErr) || len(flowErr.Fields) == 0 {
		return err
	}
	var b strings.Builder
	b.WriteString(flowErr.Message)
	fields := make([]string, 0, len(flowErr.Fields))
	for field := range flowErr.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(&b, "\n  %s: %s", field, flowErr.Fields[field])
	}
	return fmt.Errorf("%s", b.String())
}
