package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/writefactory/internal/archive"
	"github.com/lucasnoah/writefactory/internal/orchestrator"
	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/progress"
	"github.com/lucasnoah/writefactory/internal/render"
)

var generateCmd = &cobra.Command{
	Use:   "generate <keyword>",
	Short: "Generate content for a keyword",
	Long: `Run the pipeline for one keyword and print progress as each step finishes.

The document is written as Markdown to --out (and as HTML with --html), or
printed to stdout when --out is not set. Interrupting cancels the run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contentType, _ := cmd.Flags().GetString("type")
		profile, _ := cmd.Flags().GetString("profile")
		outDir, _ := cmd.Flags().GetString("out")
		withHTML, _ := cmd.Flags().GetBool("html")
		quiet, _ := cmd.Flags().GetBool("quiet")
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		defer a.svc.Shutdown(context.Background())
		if verbose {
			a.exec.SetProgress(cmd.ErrOrStderr())
		}

		rec, err := a.svc.Start(ctx, orchestrator.StartRequest{Keyword: args[0], ContentType: contentType, Profile: profile})
		if err != nil {
			return err
		}
		sub, err := a.svc.Subscribe(rec.ID, 0)
		if err != nil {
			return err
		}
		defer sub.Close()

		printer := progressPrinter{w: cmd.ErrOrStderr()}
		// stop restores default signal handling, so a second interrupt
		// kills the process instead of waiting for the cancelled run.
		last := awaitRun(ctx, sub.C, func() {
			stop()
			_ = a.svc.Cancel(rec.ID)
		}, func(ev progress.Event) {
			if !quiet {
				printer.print(ev)
			}
		})
		if last.Status != "completed" {
			return fmt.Errorf("run %s failed (%s): %s", rec.ID, last.ErrorKind, last.Error)
		}

		snap, err := a.history.Get(context.Background(), last.ResultID)
		if err != nil {
			return fmt.Errorf("load result: %w", err)
		}
		return writeOutputs(cmd, snap, outDir, withHTML)
	},
}

// awaitRun consumes events until the stream closes and returns the last one.
// interrupt runs once, the first time ctx is done.
func awaitRun(ctx context.Context, events <-chan progress.Event, interrupt func(), each func(progress.Event)) progress.Event {
	var last progress.Event
	done := ctx.Done()
	for {
		select {
		case <-done:
			interrupt()
			done = nil
		case ev, ok := <-events:
			if !ok {
				return last
			}
			last = ev
			each(ev)
		}
	}
}

func writeOutputs(cmd *cobra.Command, snap *pipeline.Snapshot, outDir string, withHTML bool) error {
	md := render.Markdown(*snap)
	if outDir == "" {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	mdPath := filepath.Join(outDir, render.Filename(*snap, "md"))
	if err := archive.WriteAtomic(mdPath, []byte(md)); err != nil {
		return fmt.Errorf("write markdown: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), mdPath)
	if withHTML {
		page, err := render.HTML(*snap)
		if err != nil {
			return err
		}
		htmlPath := filepath.Join(outDir, render.Filename(*snap, "html"))
		if err := archive.WriteAtomic(htmlPath, []byte(page)); err != nil {
			return fmt.Errorf("write html: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), htmlPath)
	}
	return nil
}

func init() {
	generateCmd.Flags().StringP("type", "t", "article", "content type: article, narration or dialogue")
	generateCmd.Flags().StringP("profile", "p", "", "client profile name")
	generateCmd.Flags().StringP("out", "o", "", "directory to write the document to")
	generateCmd.Flags().Bool("html", false, "also write an HTML rendering (requires --out)")
	generateCmd.Flags().BoolP("quiet", "q", false, "do not print progress")
	generateCmd.Flags().BoolP("verbose", "v", false, "also print cache hits and retry waits per provider call")
}
