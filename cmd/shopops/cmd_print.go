package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"shopops/internal/printing"
	"shopops/internal/tactile"
	"shopops/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	printPaper       string
	printOrientation string
	printDryRun      bool
)

// printCmd prints a local PDF through the configured driver
var printCmd = &cobra.Command{
	Use:   "print [file.pdf]",
	Short: "Print a local PDF with the same routing as queued jobs",
	Long: `Routes and prints a PDF exactly like a queued print job, without touching
the store. Use --dry-run to show the driver command instead of running it.

Example:
  shopops print ficha.pdf --paper "50x70 ficha tecnica" --orientation landscape`,
	Args: cobra.ExactArgs(1),
	RunE: runPrint,
}

func init() {
	printCmd.Flags().StringVar(&printPaper, "paper", "", "Paper hint used for queue routing")
	printCmd.Flags().StringVar(&printOrientation, "orientation", "", "portrait or landscape")
	printCmd.Flags().BoolVar(&printDryRun, "dry-run", false, "Show the driver command without running it")
}

func runPrint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	var exec tactile.Executor
	recorder := &tactile.RecordingExecutor{}
	if printDryRun {
		exec = recorder
	} else {
		execCfg := tactile.DefaultExecutorConfig()
		execCfg.DefaultTimeout = cfg.GetPrintTimeout()
		exec = tactile.NewDirectExecutorWithConfig(execCfg)
	}

	router := printing.NewRouter(cfg.Printer.StandardQueue, cfg.Printer.TechnicalQueue, cfg.Printer.TechnicalTokens)
	proc := printing.NewProcessor(nil, exec, router, printing.Options{
		DriverPath: cfg.Printer.DriverPath,
		TempDir:    cfg.Printer.TempDir,
		Scaling:    cfg.Printer.Scaling,
		Timeout:    cfg.GetPrintTimeout(),
	})
	defer proc.Wait()

	id := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	logger.Info("Printing", zap.String("file", args[0]), zap.String("paper", printPaper), zap.Bool("dry_run", printDryRun))
	err = proc.PrintDocument(context.Background(), id, types.PrintPayload{
		Document:    base64.StdEncoding.EncodeToString(data),
		Paper:       printPaper,
		Orientation: printOrientation,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if printDryRun {
		for _, c := range recorder.Commands() {
			fmt.Fprintln(out, c.CommandString())
		}
		return nil
	}
	logical, queue := router.Route(printPaper)
	fmt.Fprintf(out, "Printed %s on %s (%s)\n", args[0], queue, logical)
	return nil
}
