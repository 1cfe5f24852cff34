package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/conversation"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/sessions"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/internal/tools"
	"github.com/helenomaffra-crypto/Chat-IA2-Independente-sub000/pkg/models"
)

type chatOptions struct {
	configPath  string
	sessionID   string
	metricsAddr string
	profile     string
	quietTools  bool
}

// runChat handles the chat command.
func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.metricsAddr != "" {
		cfg.Observability.Metrics.Addr = opts.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errOut := cmd.ErrOrStderr()
	var eo engineOptions
	if !opts.quietTools {
		eo.toolEvents = func(ev models.ToolEvent) {
			fmt.Fprintf(errOut, "  %s\n", tools.FormatToolEvent(ev))
		}
	}
	e, err := buildEngine(ctx, cfg, eo)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Close(shutdownCtx); err != nil {
			e.logger.Warn(shutdownCtx, "shutdown incomplete", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Observability.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Observability.Metrics.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			e.logger.Info(gctx, "serving metrics", "addr", addr, "path", cfg.Observability.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	r := &repl{
		controller: e.controller,
		store:      e.store,
		sessionID:  opts.sessionID,
		profile:    opts.profile,
		out:        cmd.OutOrStdout(),
	}
	g.Go(func() error {
		defer cancel()
		return r.run(gctx, cmd.InOrStdin())
	})

	return g.Wait()
}

// repl reads one turn per line and prints the replies.
type repl struct {
	controller *conversation.Controller
	store      sessions.IntentStore
	sessionID  string
	profile    string
	out        io.Writer

	history []models.Message
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
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
		readErr <- scanner.Err()
	}()

	fmt.Fprintf(r.out, "Sessão %s. Digite /sair para encerrar.\n", r.sessionID)
	for {
		fmt.Fprint(r.out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
			continue
		case "/sair", "/exit", "/quit":
			return nil
		case "/pendentes":
			r.printPending(ctx)
			continue
		}

		if err := r.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.out, "erro: %v\n", err)
		}
	}
}

func (r *repl) turn(ctx context.Context, utterance string) error {
	now := time.Now()
	resp, err := r.controller.StreamTurn(ctx, models.Turn{
		SessionID:  r.sessionID,
		Utterance:  utterance,
		History:    r.history,
		Profile:    r.profile,
		ReceivedAt: now,
	}, func(text string) {
		fmt.Fprint(r.out, text)
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out)

	r.history = append(r.history,
		models.Message{Role: models.RoleUser, Content: utterance, CreatedAt: now},
		models.Message{Role: models.RoleAssistant, Content: resp.Text, CreatedAt: time.Now()},
	)
	return nil
}

func (r *repl) printPending(ctx context.Context) {
	pending, err := r.store.ListPending(ctx, r.sessionID)
	if err != nil {
		fmt.Fprintf(r.out, "erro: %v\n", err)
		return
	}
	if len(pending) == 0 {
		fmt.Fprintln(r.out, "Nenhuma ação pendente.")
		return
	}
	for _, p := range pending {
		fmt.Fprintf(r.out, "- %s: %s (expira às %s)\n", p.ActionType, p.Summary, p.ExpiresAt().Local().Format("15:04"))
	}
}
