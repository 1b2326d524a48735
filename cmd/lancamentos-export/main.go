// Command lancamentos-export writes a filtered statement to a spreadsheet.
//
//	lancamentos-export -filter 'lancDe=2024-01-01&lancAte=2024-01-31&contaId=7'
//
// The filter uses the query parameters of GET /api/extrato. With -dry-run
// the rows are printed instead of uploaded.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	"lancamentos/internal/backend"
	"lancamentos/internal/cli"
	"lancamentos/internal/config"
	apphttp "lancamentos/internal/http"
	"lancamentos/internal/log"
	"lancamentos/internal/services"
	"lancamentos/internal/sheets"
	gsheet "lancamentos/internal/sheets/google"
	"lancamentos/internal/sheets/memory"
)

func main() {
	filter := flag.String("filter", "", "statement filters as a query string")
	dryRun := flag.Bool("dry-run", false, "print the rows instead of writing the spreadsheet")
	flag.Parse()

	cli.LoadEnvFile()
	checks := []func(*config.Config) error{}
	if !*dryRun {
		checks = append(checks, (*config.Config).ValidateExport)
	}
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"), checks...)
	logger := cli.SetupLogger(cfg.LogLevel)

	if err := run(context.Background(), cfg, logger, *filter, *dryRun); err != nil {
		cli.Fatal(logger, "Export failed", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, filter string, dryRun bool) error {
	query, err := url.ParseQuery(filter)
	if err != nil {
		return fmt.Errorf("parse filter: %w", err)
	}
	criteria, err := apphttp.ParseCriteria(query, strings.TrimSpace)
	if err != nil {
		return err
	}

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger, nil).CreateBackend(ctx, backendConfig)
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Warn("Backend cleanup error", log.FieldError, err)
			}
		}()
	}

	view, err := services.NewLedgerService(result.Ledger, logger).Statement(ctx, criteria)
	if err != nil {
		return err
	}

	var w sheets.StatementWriter
	var dump *memory.Writer
	if dryRun {
		dump = memory.New()
		w = dump
	} else {
		w, err = gsheet.NewFromEnv(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			return fmt.Errorf("sheets client: %w", err)
		}
	}
	if err := w.WriteStatement(ctx, view.Statement); err != nil {
		return err
	}
	if dump != nil {
		return dump.Dump(os.Stdout)
	}
	return nil
}
