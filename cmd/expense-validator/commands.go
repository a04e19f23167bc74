package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/expense-validator/internal/claim"
	"github.com/zombor/expense-validator/internal/extraction"
)

func newServeCommand(cfg *rootConfig, parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port     = fs.IntLong("port", 8080, "HTTP server port")
		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "expense-validator serve [FLAGS]",
		ShortHelp: "accept claims over HTTP",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			a, err := cfg.newApp(stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			server := claim.NewServer(a.service, claim.BasicAuth{
				Username: *authUser,
				Password: *authPass,
			})

			addr := fmt.Sprintf(":%d", *port)
			httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

			errc := make(chan error, 1)
			go func() {
				slog.Info("Starting server", "address", addr)
				errc <- httpServer.ListenAndServe()
			}()

			slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
			if *authUser != "" || *authPass != "" {
				slog.Info("Basic auth enabled", "user", *authUser)
			}

			select {
			case err := <-errc:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			slog.Info("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("shutting down: %w", err)
			}
			return nil
		},
	}
}

func newCheckCommand(cfg *rootConfig, parent *ff.FlagSet, stdout io.Writer) *ff.Command {
	fs := ff.NewFlagSet("check").SetParent(parent)
	var (
		employeeID   = fs.StringLong("employee-id", "", "Employee ID")
		employeeName = fs.StringLong("employee-name", "", "Employee name as it appears on the receipt")
		amount       = fs.StringLong("amount", "", "Claimed amount")
		date         = fs.StringLong("date", "", "Claim date (YYYY-MM-DD)")
	)

	return &ff.Command{
		Name:      "check",
		Usage:     "expense-validator check [FLAGS] <receipt file>",
		ShortHelp: "run one claim through the pipeline and print the outcome",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("check takes exactly one receipt file, got %d", len(args))
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading receipt: %w", err)
			}

			a, err := cfg.newApp(stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			record, runErr := a.service.SubmitClaim(ctx, claim.ClaimInput{
				EmployeeID:    *employeeID,
				EmployeeName:  *employeeName,
				ClaimedAmount: *amount,
				Date:          *date,
				Filename:      filepath.Base(args[0]),
				ContentType:   extraction.ContentTypeFor(args[0]),
				Data:          data,
			})
			if record != nil {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(record); err != nil {
					return fmt.Errorf("encoding result: %w", err)
				}
			}
			return runErr
		},
	}
}

func newExportCommand(cfg *rootConfig, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("export").SetParent(parent)
	out := fs.StringLong("out", "claims.xlsx", "Output XLSX path")

	return &ff.Command{
		Name:      "export",
		Usage:     "expense-validator export [FLAGS]",
		ShortHelp: "write all claim outcomes to an XLSX workbook",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			db, err := claim.NewBoltDB(*cfg.dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			f, err := os.Create(*out)
			if err != nil {
				return fmt.Errorf("creating %s: %w", *out, err)
			}
			defer f.Close()

			// exporting reads stored records only, so no extractor or storage is wired
			service := claim.NewService(db, db, nil, nil, nil, claim.Options{})
			if err := service.ExportClaims(f); err != nil {
				return err
			}
			slog.Info("Export written", "path", *out)
			return f.Close()
		},
	}
}
