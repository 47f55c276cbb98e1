package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/parley/internal/api"
	"github.com/kalambet/parley/internal/config"
	"github.com/kalambet/parley/internal/questions"
	"github.com/kalambet/parley/internal/recovery"
	"github.com/kalambet/parley/internal/registry"
	"github.com/kalambet/parley/internal/session"
	"github.com/kalambet/parley/internal/storage"
)

// maxConns caps concurrent browser connections to this single-user server.
const maxConns = 64

var askCmd = &cobra.Command{
	Use:   "ask <questions.json>",
	Short: "Serve a question form and wait for the answers",
	Long: `Serve a question form on localhost and block until it is submitted,
cancelled, or abandoned. On submission the answers are printed to stdout as
JSON; any other outcome exits non-zero.

Example question set:
  {"title": "review", "questions": [
    {"id": "approach", "type": "single", "prompt": "Which approach?", "options": ["a", "b"]},
    {"id": "notes", "type": "text", "prompt": "Anything else?"}
  ]}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		noBrowser, _ := cmd.Flags().GetBool("no-browser")
		return runAsk(args[0], title, noBrowser)
	},
}

func init() {
	askCmd.Flags().String("title", "", "form title (defaults to the question set title)")
	askCmd.Flags().Bool("no-browser", false, "do not open the form in a browser")
}

func runAsk(path, title string, noBrowser bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading question set: %w", err)
	}
	set, err := questions.Parse(data)
	if err != nil {
		return err
	}
	if title == "" {
		title = set.Title
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &interviewRunner{cfg: cfg, store: store, openBrowser: cfg.Server.OpenBrowser && !noBrowser}
	outcome, err := runner.Run(ctx, set, title)
	if err != nil {
		return err
	}

	if outcome.Cancelled() {
		if outcome.RecoveryPath != "" {
			printWarning("interview %s; questions saved to %s", outcome.Reason, outcome.RecoveryPath)
		} else {
			printWarning("interview cancelled by user")
		}
		return fmt.Errorf("no answers (%s)", outcome.Reason)
	}

	printSuccess("answers received")
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(outcome.Answers)
}

func setupLogging(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// interviewRunner runs one interview end to end: bind a localhost listener,
// register in the shared session file, serve the form, and wait for exactly
// one completion. It backs both the ask command and the MCP ask_user tool.
type interviewRunner struct {
	cfg         config.Config
	store       *storage.Store
	openBrowser bool
}

func (r *interviewRunner) Run(ctx context.Context, set *questions.Set, title string) (session.Outcome, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return session.Outcome{}, fmt.Errorf("getting working directory: %w", err)
	}

	// Old recovery files are swept opportunistically at every launch.
	if err := recovery.Sweep(r.cfg.RecoveryDir(), time.Now(), r.cfg.RecoveryRetention()); err != nil {
		slog.Warn("sweeping recovery files", "error", err)
	}

	reg := registry.New(r.cfg.RegistryPath())
	reg.SetPruneThreshold(r.cfg.Timeouts.PruneAfter)

	outcomeCh := make(chan session.Outcome, 1)
	instance := session.New(session.Config{
		Title:          title,
		Cwd:            cwd,
		GitBranch:      session.CurrentBranch(cwd),
		Set:            set,
		Registry:       reg,
		RecoveryDir:    r.cfg.RecoveryDir(),
		Archive:        r.store,
		OnComplete:     func(o session.Outcome) { outcomeCh <- o },
		HeartbeatGrace: r.cfg.Timeouts.HeartbeatGrace,
		Logger:         slog.Default(),
	})

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", r.cfg.Server.Port))
	if err != nil {
		return session.Outcome{}, fmt.Errorf("binding listener: %w", err)
	}
	ln = netutil.LimitListener(ln, maxConns)

	url := fmt.Sprintf("http://%s/?session=%s", ln.Addr(), instance.Token())
	instance.SetURL(url)
	if err := instance.RegisterSelf(); err != nil {
		slog.Warn("registering session", "error", err)
	}

	srv := &http.Server{
		Handler: api.NewHandler(api.Deps{
			Instance: instance,
			// Uploads are scoped per session so concurrent instances sharing
			// the data dir never interleave files.
			UploadDir: filepath.Join(r.cfg.UploadDir(), instance.ID()),
			Logger:    slog.Default(),
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving form: %w", err)
		}
		return nil
	})
	wctx, stopWatchdog := context.WithCancel(gctx)
	defer stopWatchdog()
	g.Go(func() error {
		instance.RunWatchdog(wctx)
		return nil
	})

	printStep("waiting for answers at %s", url)
	if r.openBrowser {
		if err := openInBrowser(url); err != nil {
			printWarning("could not open browser: %v", err)
		}
	}

	var outcome session.Outcome
	select {
	case outcome = <-outcomeCh:
	case <-gctx.Done():
		// Interrupted: record the interview as user-cancelled so the shared
		// registry entry is removed before exit. Whoever wins the completion
		// race, exactly one outcome arrives on the channel.
		if _, err := instance.Complete(session.ReasonUser, nil, ""); err != nil {
			slog.Warn("completing on shutdown", "error", err)
		}
		outcome = <-outcomeCh
	}

	stopWatchdog()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutting down server", "error", err)
	}
	if err := g.Wait(); err != nil {
		return session.Outcome{}, err
	}
	return outcome, nil
}

func openInBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
