package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/bootstrap"
	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/logging"
)

func main() {
	app := &cli.App{
		Name:      "ask",
		Usage:     "answer one question against the document index",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "selected source id (repeatable)"},
			&cli.StringSliceFlag{Name: "permit", Aliases: []string{"p"}, Usage: "permitted source id; defaults to the selection"},
			&cli.BoolFlag{Name: "json", Usage: "print the response envelope as JSON"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "stream map and reduce tokens too"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ask:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("a question is required", 2)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(logging.Options{Service: "ask", Level: "warn", FilePath: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewQueryOnly(cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	selected := c.StringSlice("source")
	permitted := c.StringSlice("permit")
	if len(permitted) == 0 {
		permitted = selected
	}
	req := domain.Request{
		Question:           question,
		SelectedSourceIDs:  selected,
		PermittedSourceIDs: permitted,
	}

	out := c.App.Writer
	asJSON := c.Bool("json")
	printer := &tokenPrinter{out: out, verbose: c.Bool("verbose")}
	sink := printer.write
	if asJSON {
		sink = nil
	}
	resp, runErr := app.Orchestrator.Run(ctx, req, sink)
	if resp == nil {
		return runErr
	}
	if asJSON {
		return printEnvelope(out, resp, runErr)
	}

	if !printer.streamedFinal() {
		fmt.Fprint(out, resp.Text)
	}
	fmt.Fprintln(out)
	for _, citation := range resp.Citations {
		fmt.Fprintf(out, "[%d] %s#%d\n", citation.Index, citation.SourceID, citation.ChunkIndex)
	}
	if runErr != nil {
		logger.Warn("run_finished_with_error", zap.Stringer("route", resp.Route), zap.Error(runErr))
		return cli.Exit(runErr.Error(), 1)
	}
	return nil
}

// tokenPrinter writes answer tokens as they arrive. Map units call it
// concurrently.
type tokenPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	final   bool
}

func (p *tokenPrinter) write(tag domain.StreamTag, token string) {
	if tag != domain.StreamFinal && !p.verbose {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tag == domain.StreamFinal {
		p.final = true
	}
	_, _ = io.WriteString(p.out, token)
}

func (p *tokenPrinter) streamedFinal() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.final
}

func printEnvelope(out io.Writer, resp *domain.Response, runErr error) error {
	payload := struct {
		*domain.Response
		Error string `json:"error,omitempty"`
	}{Response: resp}
	if runErr != nil {
		payload.Error = runErr.Error()
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
