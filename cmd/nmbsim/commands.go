package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nmbsim/nmbsim/internal/client"
	"github.com/nmbsim/nmbsim/internal/config"
	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/domain/simulation"
	"github.com/nmbsim/nmbsim/internal/platform/auth"
	"github.com/nmbsim/nmbsim/internal/platform/logging"
)

// rootOptions are shared by every client-side command.
type rootOptions struct {
	server string
	token  string
	now    func() time.Time
}

func (o *rootOptions) backend(cmd *cobra.Command, force bool) backend {
	logger := logging.NewWithOutput(cmd.ErrOrStderr(), logging.Options{Env: "development", Level: "warn"})
	if o.server != "" {
		return remoteBackend{c: client.New(o.server, o.token, logger)}
	}
	svc := simulation.NewService(pkpd.NewEngine(logger), nil, simulation.Options{Advisory: force}, logger)
	return localBackend{svc: svc}
}

// rejected prints range violations from either backend and returns a short
// error for cobra to report. Other errors pass through unchanged.
func rejected(w io.Writer, err error) error {
	var ve *pkpd.ValidationError
	var apiErr *client.APIError
	var msgs []string
	switch {
	case errors.As(err, &ve):
		msgs = ve.Messages
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity:
		msgs = apiErr.Messages
	default:
		return err
	}
	renderViolations(w, msgs)
	return fmt.Errorf("%d validation error(s); use --force to simulate anyway", len(msgs))
}

func simulateCmd(opts *rootOptions) *cobra.Command {
	var (
		pf     planFlags
		format string
		out    string
		every  int
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate a rocuronium dosing plan",
		Example: `  nmbsim simulate --age 62 --weight 85 --bolus 60
  nmbsim simulate -p plan.yaml -o xlsx --out case.xlsx
  nmbsim simulate -p plan.yaml --server https://nmbsim.example --token $TOKEN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := pf.request(cmd, opts.now())
			if err != nil {
				return err
			}
			be := opts.backend(cmd, force)
			ctx := cmd.Context()

			format = strings.ToLower(format)
			switch format {
			case simulation.FormatCSV, simulation.FormatXLSX:
				if format == simulation.FormatXLSX && out == "" {
					return fmt.Errorf("--out is required for xlsx output")
				}
				data, err := be.Export(ctx, req, format)
				if err != nil {
					return rejected(cmd.ErrOrStderr(), err)
				}
				return writeOutput(cmd.OutOrStdout(), out, data)

			case outputJSON, outputTable:
				res, err := be.Simulate(ctx, req)
				if err != nil {
					return rejected(cmd.ErrOrStderr(), err)
				}
				if format == outputJSON {
					return renderJSON(cmd.OutOrStdout(), simulation.SimulationResponse{
						SimulationResult: res.Result,
						Warnings:         res.Warnings,
					})
				}
				w := cmd.OutOrStdout()
				renderSummary(w, res)
				fmt.Fprintln(w)
				return renderTable(w, res.Result, every)

			default:
				return fmt.Errorf("unknown output format %q (table, json, csv, xlsx)", format)
			}
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", outputTable, "output format: table, json, csv or xlsx")
	cmd.Flags().StringVar(&out, "out", "", "write csv or xlsx output to this file")
	cmd.Flags().IntVar(&every, "every", 5, "table row interval in minutes")
	cmd.Flags().BoolVar(&force, "force", false, "simulate despite clinical range violations (local runs only)")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func validateCmd(opts *rootOptions) *cobra.Command {
	var pf planFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a plan against the clinical input ranges",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := pf.request(cmd, opts.now())
			if err != nil {
				return err
			}
			msgs, err := opts.backend(cmd, false).Validate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				recovered.Fprintln(cmd.OutOrStdout(), "plan is within clinical ranges")
				return nil
			}
			renderViolations(cmd.OutOrStdout(), msgs)
			return fmt.Errorf("%d validation error(s)", len(msgs))
		},
	}
	pf.register(cmd)
	return cmd
}

func paramsCmd(opts *rootOptions) *cobra.Command {
	var (
		pf     planFlags
		format string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show the individualized PK/PD parameters for a patient",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := pf.request(cmd, opts.now())
			if err != nil {
				return err
			}
			p, err := opts.backend(cmd, force).Parameters(cmd.Context(), req.Patient)
			if err != nil {
				return rejected(cmd.ErrOrStderr(), err)
			}
			if format == outputJSON {
				return renderJSON(cmd.OutOrStdout(), p)
			}
			return renderParameters(cmd.OutOrStdout(), p)
		},
	}
	pf.register(cmd)
	cmd.Flags().StringVarP(&format, "output", "o", outputTable, "output format: table or json")
	cmd.Flags().BoolVar(&force, "force", false, "derive parameters despite range violations (local runs only)")
	return cmd
}

func modelsCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the available PK/PD models",
		RunE: func(cmd *cobra.Command, args []string) error {
			models, err := opts.backend(cmd, false).Models(cmd.Context())
			if err != nil {
				return err
			}
			if format == outputJSON {
				return renderJSON(cmd.OutOrStdout(), models)
			}
			return renderModels(cmd.OutOrStdout(), models)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", outputTable, "output format: table or json")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for the API",
		Long:  "Signs an HS256 token with AUTH_SIGNING_KEY, AUTH_ISSUER and AUTH_AUDIENCE from the environment or .env.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}
			tok, err := auth.IssueToken(auth.JWTConfig{
				SigningKey: []byte(cfg.AuthSigningKey),
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
			}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (user id)")
	cmd.Flags().StringSliceVar(&roles, "roles", []string{auth.RoleClinician}, "granted roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
