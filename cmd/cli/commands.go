package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dvloznov/statement-extractor/internal/app"
	"github.com/dvloznov/statement-extractor/internal/config"
	"github.com/dvloznov/statement-extractor/internal/export"
	"github.com/dvloznov/statement-extractor/internal/jobs/postgres"
	"github.com/dvloznov/statement-extractor/internal/logger"
	"github.com/dvloznov/statement-extractor/internal/validation"
)

func newIngestCmd() *cobra.Command {
	var xlsxOut string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Run the extraction pipeline on a local statement",
		Long: `Ingest stores the file in memory, runs analysis, normalization and
validation, and prints the sanitized statement as JSON. Gemini settings are
read from the environment like the API server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Everything but the model stays in process.
			cfg.Storage.Backend = config.BackendMemory
			cfg.Store.Backend = config.BackendMemory
			cfg.Queue.Backend = config.BackendMemory

			log, err := logger.NewFromConfig(cfg.Log)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			name := filepath.Base(path)
			key, err := a.Files.Put(ctx, data, http.DetectContentType(data), name)
			if err != nil {
				return err
			}
			job, err := a.Store.CreateJob(ctx, name, key)
			if err != nil {
				return err
			}
			if _, err := a.Orchestrator.Process(ctx, job.ID); err != nil {
				return err
			}
			result, err := a.Orchestrator.GetResult(ctx, job.ID)
			if err != nil {
				return err
			}

			if xlsxOut != "" {
				book, err := export.StatementXLSX(result)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxOut, book, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", xlsxOut, err)
				}
				log.Info().Str("path", xlsxOut).Msg("Workbook written")
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&xlsxOut, "xlsx", "", "Also write the result as an Excel workbook to this path")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <payload.json|->",
		Short: "Validate and normalize a statement payload",
		Long: `Validate applies the payload rules to a JSON document and prints the
normalized result, or every field error when the payload is rejected.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				raw []byte
				err error
			)
			if args[0] == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			var payload any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("payload is not valid JSON: %w", err)
			}

			normalized, err := validation.ValidateStatementPayload(payload)
			if err != nil {
				fieldErrs := validation.AsErrors(err)
				if len(fieldErrs) == 0 {
					return err
				}
				for _, fe := range fieldErrs {
					fmt.Fprintln(cmd.ErrOrStderr(), fe.Error())
				}
				return errors.New("payload rejected")
			}
			return writeJSON(cmd.OutOrStdout(), normalized)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the jobs table in PostgreSQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if dsn == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dsn = cfg.Store.DSN
			}
			if dsn == "" {
				return errors.New("no database configured: set DATABASE_URL or pass --dsn")
			}

			pool, err := postgres.Connect(ctx, dsn, 2)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgres.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "PostgreSQL connection string (defaults to DATABASE_URL)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
