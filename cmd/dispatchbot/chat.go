package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/MikeSquared-Agency/dispatchbot/internal/backend"
	"github.com/MikeSquared-Agency/dispatchbot/internal/chat"
	"github.com/MikeSquared-Agency/dispatchbot/internal/config"
	"github.com/MikeSquared-Agency/dispatchbot/internal/kv"
	"github.com/MikeSquared-Agency/dispatchbot/internal/notify"
	"github.com/MikeSquared-Agency/dispatchbot/internal/session"
	"github.com/MikeSquared-Agency/dispatchbot/internal/slots"
	"github.com/MikeSquared-Agency/dispatchbot/internal/typing"
)

type chatOptions struct {
	from          string
	to            string
	loadingDate   string
	loadingTime   string
	unloadingDate string
	unloadingTime string
	price         float64
	resume        bool
}

func newChatCmd() *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Dispatch a load and chat with the assigned partner",
		Example: "  dispatchbot chat --from Rome --to Berlin --loading-date 2024-10-01 --loading-time 08:00 \\\n" +
			"    --unloading-date 2024-10-02 --unloading-time 18:30 --price 500",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), config.Load(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "loading city")
	cmd.Flags().StringVar(&opts.to, "to", "", "unloading city")
	cmd.Flags().StringVar(&opts.loadingDate, "loading-date", "", "loading date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.loadingTime, "loading-time", "", "loading time slot (HH:MM)")
	cmd.Flags().StringVar(&opts.unloadingDate, "unloading-date", "", "unloading date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.unloadingTime, "unloading-time", "", "unloading time slot (HH:MM)")
	cmd.Flags().Float64Var(&opts.price, "price", 0, "offered price")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue the cached conversation instead of dispatching")
	return cmd
}

func (o chatOptions) form() (session.Form, error) {
	for _, t := range []string{o.loadingTime, o.unloadingTime} {
		if t != "" && !slots.Valid(t) {
			return session.Form{}, fmt.Errorf("time %q is not a half-hour slot", t)
		}
	}
	f := session.Form{
		LoadingLocation:   o.from,
		LoadingTime:       o.loadingTime,
		UnloadingLocation: o.to,
		UnloadingTime:     o.unloadingTime,
		Price:             o.price,
	}
	var err error
	if o.loadingDate != "" {
		if f.LoadingDate, err = time.Parse(session.DateLayout, o.loadingDate); err != nil {
			return session.Form{}, fmt.Errorf("--loading-date: %w", err)
		}
	}
	if o.unloadingDate != "" {
		if f.UnloadingDate, err = time.Parse(session.DateLayout, o.unloadingDate); err != nil {
			return session.Form{}, fmt.Errorf("--unloading-date: %w", err)
		}
	}
	return f, session.Validate(f)
}

// typist echoes the direct channel as it is revealed. It only prints the
// newly revealed suffix so the terminal shows the text growing in place.
type typist struct {
	mu      sync.Mutex
	out     io.Writer
	printed int
}

func (t *typist) observe(ch typing.Channel, text string) {
	if ch != typing.ChannelDirect {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(text) < t.printed {
		t.printed = 0
	}
	fmt.Fprint(t.out, text[t.printed:])
	t.printed = len(text)
}

func runChat(ctx context.Context, cfg config.Config, opts chatOptions, in io.Reader, out io.Writer) error {
	logger := setupLogging(os.Stderr, "warn")
	if cfg.LogLevel == "debug" {
		logger = setupLogging(os.Stderr, cfg.LogLevel)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.OpenFileStore(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	var observer typing.Observer
	if interactive {
		observer = (&typist{out: out}).observe
	}

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout)
	notices := notify.NewCenter(cfg.NotifyTTL, logger)
	ctrl := session.New(client, store, typing.New(cfg.TypingInterval, observer), notices, nil, logger)
	defer ctrl.Close()

	if opts.resume {
		if !ctrl.Resume() {
			return errors.New("no cached conversation to resume")
		}
		fmt.Fprintf(out, "Resumed conversation %s\n", ctrl.ConversationID())
	} else if err := dispatch(ctx, ctrl, opts, out, interactive); err != nil {
		return err
	}

	return converse(ctx, ctrl, in, out)
}

func dispatch(ctx context.Context, ctrl *session.Controller, opts chatOptions, out io.Writer, interactive bool) error {
	form, err := opts.form()
	if err != nil {
		return err
	}
	if err := ctrl.LoadCities(ctx); err != nil {
		fmt.Fprintln(out, "warning: cities could not be loaded, countries will be sent as Unknown")
	}
	if err := ctrl.UpdateForm(func(f *session.Form) { *f = form }); err != nil {
		return err
	}
	if err := ctrl.Submit(ctx); err != nil {
		return err
	}

	anim := ctrl.Animator()
	if err := anim.Wait(ctx, typing.ChannelDirect); err != nil {
		return err
	}
	if interactive {
		fmt.Fprintln(out)
	} else {
		fmt.Fprintln(out, anim.Text(typing.ChannelDirect))
	}
	if err := anim.Wait(ctx, typing.ChannelReasoning); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nWhy this partner: %s\n\n", anim.Text(typing.ChannelReasoning))
	return nil
}

func converse(ctx context.Context, ctrl *session.Controller, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text != "" {
			err := ctrl.SendMessage(ctx, text)
			switch {
			case err == nil:
				msgs := ctrl.Chat().Messages()
				fmt.Fprintf(out, "partner: %s\n", msgs[len(msgs)-1].Text)
			case errors.Is(err, chat.ErrEmptyMessage):
			case ctx.Err() != nil:
				return nil
			default:
				fmt.Fprintln(out, "error: Message could not be sent. Please try again.")
			}
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}
