package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/comments"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/compose"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const watchHelp = `Type a line to save it. In reply mode the line follows the @mention.
  /reply <id>      reply to a comment
  /edit <id>       edit one of your comments
  /delete <id>     delete one of your comments
  /cancel          leave reply or edit mode
  /read            mark all comments read
  /notify on|off   toggle alerts
  /refresh         refetch, reconnecting if the stream was lost
  /open            launch the simulator on this example
  /help            show this help
  /quit            leave`

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <example>",
		Short: "Follow and write comments on an example interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reference := args[0]
			current, err := application.openSession(ctx, application.resource(reference))
			if err != nil {
				if current == nil || !offline(err) {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "offline: %v\n", err)
			}

			loop := &watchLoop{
				application: application,
				session:     current,
				reference:   reference,
				out:         cmd.OutOrStdout(),
			}
			return loop.run(ctx, cmd.InOrStdin())
		},
	}
}

// watchLoop multiplexes subscription events and console input on one goroutine, which is the
// only one touching the session.
type watchLoop struct {
	application *app
	session     *session.Session
	reference   string
	out         io.Writer

	pendingDelete string
}

var errQuit = errors.New("quit")

func (w *watchLoop) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	printView(w.out, w.application, w.session)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.session.Events():
			if !ok {
				w.session.Disconnected()
				fmt.Fprintln(w.out, "change stream lost; /refresh to reconnect")
				printView(w.out, w.application, w.session)
				continue
			}
			w.session.Apply(event)
			if event.Kind == comments.EventFailure {
				fmt.Fprintf(w.out, "update failed: %v\n", event.Err)
			}
			if event.Kind == comments.EventSnapshot || event.Kind == comments.EventFailure {
				printView(w.out, w.application, w.session)
			}
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := w.handle(ctx, strings.TrimSpace(line))
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(w.out, "error: %v\n", err)
			}
		}
	}
}

func (w *watchLoop) handle(ctx context.Context, line string) error {
	if w.pendingDelete != "" {
		commentID := w.pendingDelete
		w.pendingDelete = ""
		if !isYes(line) {
			fmt.Fprintln(w.out, "kept")
			return nil
		}
		return w.session.Delete(ctx, commentID)
	}
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return w.save(ctx, line)
	}

	command, argument, _ := strings.Cut(line, " ")
	argument = strings.TrimSpace(argument)
	switch command {
	case "/reply":
		commentID, err := lookup(w.session, argument)
		if err != nil {
			return err
		}
		if err := w.session.StartReply(ctx, commentID); err != nil {
			return err
		}
	case "/edit":
		commentID, err := lookup(w.session, argument)
		if err != nil {
			return err
		}
		if err := w.session.StartEdit(ctx, commentID); err != nil {
			return err
		}
		fmt.Fprintf(w.out, "current text: %s\n", w.session.Compose().Text())
	case "/delete":
		commentID, err := lookup(w.session, argument)
		if err != nil {
			return err
		}
		comment, _ := w.session.Snapshot().Lookup(commentID)
		if comment.Author != w.session.User() {
			return fmt.Errorf("%w: only %s can delete this comment", comments.ErrPermissionDenied, comment.Author)
		}
		w.pendingDelete = commentID
		fmt.Fprint(w.out, deletePrompt(commentID))
		return nil
	case "/cancel":
		w.session.Cancel()
	case "/read":
		w.session.MarkAllRead()
	case "/notify":
		switch argument {
		case "on":
			w.session.SetNotifications(true)
		case "off":
			w.session.SetNotifications(false)
		default:
			return fmt.Errorf("usage: /notify on|off")
		}
	case "/refresh":
		var err error
		if w.session.Events() == nil {
			err = w.session.SelectResource(ctx, w.session.Resource())
		} else {
			err = w.session.Refresh(ctx)
		}
		if err != nil {
			return err
		}
	case "/open":
		if err := w.application.launch(w.reference); err != nil {
			return err
		}
		w.application.logger.Info("simulator started", zap.String("example", w.reference))
	case "/help":
		fmt.Fprintln(w.out, watchHelp)
		return nil
	case "/quit", "/exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s; /help lists commands", command)
	}
	printView(w.out, w.application, w.session)
	return nil
}

func (w *watchLoop) save(ctx context.Context, line string) error {
	switch w.session.Compose().Mode() {
	case compose.ModeReplying:
		w.session.SetText(w.session.Compose().Text() + line)
	default:
		w.session.SetText(line)
	}
	return w.session.Save(ctx)
}
