package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/sofanotes/internal/examples"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/render"
	"github.com/MarcoPoloResearchLab/sofanotes/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newExamplesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "List the example scenes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.Close()

			for _, problem := range examples.CheckInstallation(application.cfg.SofaExecutable, application.cfg.ExamplesDir) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", problem)
			}
			names, err := application.catalog.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <example>",
		Short: "Show the comment threads on an example",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args[0], func(application *app, current *session.Session) error {
				printView(cmd.OutOrStdout(), application, current)
				return nil
			})
		},
	}
}

func newAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <example> <text>...",
		Short: "Add a top-level comment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args[0], func(application *app, current *session.Session) error {
				current.SetText(strings.Join(args[1:], " "))
				return current.Save(cmd.Context())
			})
		},
	}
}

func newReplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reply <example> <comment-id> <text>...",
		Short: "Reply to a comment",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args[0], func(application *app, current *session.Session) error {
				commentID, err := lookup(current, args[1])
				if err != nil {
					return err
				}
				if err := current.StartReply(cmd.Context(), commentID); err != nil {
					return err
				}
				current.SetText(current.Compose().Text() + strings.Join(args[2:], " "))
				return current.Save(cmd.Context())
			})
		},
	}
}

func newEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <example> <comment-id> <text>...",
		Short: "Replace the body of one of your comments",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args[0], func(application *app, current *session.Session) error {
				commentID, err := lookup(current, args[1])
				if err != nil {
					return err
				}
				if err := current.StartEdit(cmd.Context(), commentID); err != nil {
					return err
				}
				current.SetText(strings.Join(args[2:], " "))
				return current.Save(cmd.Context())
			})
		},
	}
}

func newDeleteCommand() *cobra.Command {
	var assumeYes bool
	cmd := &cobra.Command{
		Use:   "delete <example> <comment-id>",
		Short: "Delete one of your comments; replies stay in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, args[0], func(application *app, current *session.Session) error {
				commentID, err := lookup(current, args[1])
				if err != nil {
					return err
				}
				if !assumeYes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), deletePrompt(commentID)) {
					fmt.Fprintln(cmd.OutOrStdout(), "kept")
					return nil
				}
				return current.Delete(cmd.Context(), commentID)
			})
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Delete without asking")
	return cmd
}

func newOpenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "open <example>",
		Short: "Launch the simulator on an example",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.launch(args[0])
		},
	}
}

func newRecentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently opened examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.Close()

			paths, err := application.history.List()
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget recently opened examples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp()
			if err != nil {
				return err
			}
			defer application.Close()
			return application.history.Clear()
		},
	})
	return cmd
}

// withSession opens a session on the referenced example and runs action against it.
// Reads in degraded mode still print the empty offline view.
func withSession(cmd *cobra.Command, reference string, action func(*app, *session.Session) error) error {
	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Close()

	current, err := application.openSession(cmd.Context(), application.resource(reference))
	if err != nil {
		if current == nil || !offline(err) {
			return err
		}
		application.logger.Warn("comments unavailable, running offline")
	}
	return action(application, current)
}

func (a *app) launch(reference string) error {
	path, err := a.catalog.Resolve(reference)
	if err != nil {
		return err
	}
	launcher := examples.NewLauncher(examples.LauncherConfig{Executable: a.cfg.SofaExecutable, Logger: a.logger})
	if err := launcher.Launch(path); err != nil {
		return err
	}
	if _, err := a.history.Add(path); err != nil {
		a.logger.Warn("recent history not updated", zap.String("path", path), zap.Error(err))
	}
	return nil
}

func printView(out io.Writer, application *app, current *session.Session) {
	fmt.Fprintln(out, application.renderer.Threads(current.Threads()))
	fmt.Fprintln(out, application.renderer.Status(
		current.Resource(),
		current.Online(),
		current.Coordinator().Unread(),
		current.Coordinator().Enabled(),
		current.Compose().Mode(),
		current.Compose().Target(),
	))
}

func deletePrompt(commentID string) string {
	return fmt.Sprintf("Delete comment #%s? Replies stay in place. [y/N] ", render.ShortID(commentID))
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return isYes(line)
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
