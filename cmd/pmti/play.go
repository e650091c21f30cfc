package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/catalog"
	"github.com/Perfect-Match-Org/PMTI/internal/client"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
)

type playOptions struct {
	server    string
	surveyID  string
	token     string
	reconnect bool
}

func newPlayCmd() *cobra.Command {
	var opts playOptions

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Take a survey interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&opts.surveyID, "survey", "", "survey id")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (see pmti token)")
	cmd.Flags().BoolVar(&opts.reconnect, "reconnect", true, "reconnect automatically after a dropped connection")
	_ = cmd.MarkFlagRequired("survey")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

// emailFromToken reads the identity claim without verifying the signature;
// the server verifies it on every call.
func emailFromToken(token string) (string, error) {
	var claims struct {
		Email string `json:"email"`
		jwt.RegisteredClaims
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if claims.Email == "" {
		return "", errors.New("token has no email claim")
	}
	return strings.ToLower(claims.Email), nil
}

func runPlay(ctx context.Context, opts playOptions, in io.Reader, out io.Writer) error {
	self, err := emailFromToken(opts.token)
	if err != nil {
		return err
	}

	cat := catalog.Default()
	views := newViewFeed()
	ctrl := client.NewController(cat,
		client.NewHTTPAPI(opts.server, opts.token),
		client.NewWSDialer(opts.server, opts.token),
		opts.surveyID, self,
		client.WithOnChange(views.publish),
	)

	return client.WithSession(ctx, ctrl, func(c *client.Controller) error {
		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(in)
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		render(out, c.View())
		fmt.Fprintln(out, "commands: select <opt>, submit [opt], retry, quit")

		var last client.Phase
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-views.changed:
				v := views.latest()
				if v.Phase == last && v.Phase != client.PhaseReady {
					continue
				}
				last = v.Phase
				render(out, v)
				switch {
				case v.Phase == client.PhaseCompleted:
					fmt.Fprintln(out, "Survey complete. Thanks for playing!")
					return nil
				case v.Phase == client.PhaseError && v.Failure.Terminal():
					return v.Err
				case v.Phase == client.PhaseError && opts.reconnect:
					if err := reconnect(ctx, c); err != nil {
						return err
					}
				}
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if done, err := handleCommand(ctx, c, line, out); done || err != nil {
					return err
				}
			}
		}
	})
}

// viewFeed keeps only the newest view, so a busy reader never misses the
// final state.
type viewFeed struct {
	mu      sync.Mutex
	view    client.View
	changed chan struct{}
}

func newViewFeed() *viewFeed {
	return &viewFeed{changed: make(chan struct{}, 1)}
}

func (f *viewFeed) publish(v client.View) {
	f.mu.Lock()
	f.view = v
	f.mu.Unlock()
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *viewFeed) latest() client.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func reconnect(ctx context.Context, c *client.Controller) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 2 * time.Minute
	b := backoff.WithContext(eb, ctx)
	return backoff.Retry(func() error {
		err := c.Retry(ctx)
		if client.KindOf(err).Terminal() {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func handleCommand(ctx context.Context, c *client.Controller, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = strings.ToUpper(fields[1])
	}

	var err error
	switch fields[0] {
	case "select", "s":
		err = c.UpdateSelection(ctx, arg)
	case "submit", "x":
		if arg == "" {
			arg = c.View().Self.CurrentSelection
		}
		err = c.Submit(ctx, arg)
	case "retry", "r":
		err = c.Retry(ctx)
	case "quit", "q":
		return true, nil
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	render(out, c.View())
	return false, nil
}

func render(out io.Writer, v client.View) {
	switch v.Phase {
	case client.PhaseLoading:
		fmt.Fprintln(out, "Connecting...")
		return
	case client.PhaseError:
		fmt.Fprintf(out, "Error (%s): %v\n", v.Failure, v.Err)
		if !v.Failure.Terminal() {
			fmt.Fprintln(out, "Type 'retry' to reconnect.")
		}
		return
	case client.PhaseAbandoned:
		fmt.Fprintln(out, "This survey was abandoned.")
		return
	case client.PhaseCompleted:
		return
	}
	if v.Question == nil {
		return
	}

	fmt.Fprintf(out, "\nQuestion %d/%d\n%s\n\n%s\n", v.QuestionNumber, v.TotalQuestions, v.Question.Storyline, v.Perspective.Question)
	for _, o := range v.Question.Options {
		marks := ""
		if o.ID == v.Self.CurrentSelection {
			marks += " <you"
		}
		if o.ID == v.Partner.CurrentSelection {
			marks += " <partner"
		}
		fmt.Fprintf(out, "  %s) %s%s\n", o.ID, o.Text, marks)
	}

	partner := "choosing"
	if v.Partner.HasSubmitted {
		partner = "submitted"
	}
	switch {
	case v.Submitting:
		fmt.Fprintln(out, "Submitting...")
	case v.Self.HasSubmitted:
		fmt.Fprintf(out, "Submitted. Partner is %s.\n", partner)
	default:
		fmt.Fprintf(out, "Partner is %s.\n", partner)
	}
	if v.SubmitErr != nil {
		fmt.Fprintf(out, "Last submit failed: %v\n", v.SubmitErr)
	}
}
