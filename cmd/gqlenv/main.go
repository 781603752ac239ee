package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hanpama/gqlenv/internal/config"
	"github.com/hanpama/gqlenv/internal/environment"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath   string
	endpoint     string
	token        string
	timeout      time.Duration
	logLevel     string
	otelEndpoint string
	metricsAddr  string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	root := &cobra.Command{
		Use:   "gqlenv",
		Short: "GraphQL client with a normalized cache and session-scoped environments",
		Long: `gqlenv executes GraphQL queries against a remote endpoint, caches the
normalized results for the current session, and resolves who is signed in.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML configuration file")
	pf.StringVar(&f.endpoint, "endpoint", config.DefaultEndpoint, "GraphQL endpoint URL")
	pf.StringVar(&f.token, "token", "", "Bearer token (also GQLENV_TOKEN)")
	pf.DurationVar(&f.timeout, "timeout", 10*time.Second, "Per-request timeout")
	pf.StringVar(&f.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&f.otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	pf.StringVar(&f.metricsAddr, "metrics.addr", "", "Serve Prometheus metrics on this address")

	load := func(cmd *cobra.Command) (*app, error) {
		cfg, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		flags := cmd.Flags()
		if flags.Changed("endpoint") {
			cfg.Endpoint = f.endpoint
		}
		if flags.Changed("timeout") {
			cfg.Timeout = f.timeout
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = f.logLevel
		}
		if flags.Changed("otel.endpoint") {
			cfg.Telemetry.Endpoint = f.otelEndpoint
		}
		if flags.Changed("metrics.addr") {
			cfg.Metrics.Addr = f.metricsAddr
		}
		if flags.Changed("token") {
			cfg.Token = f.token
		} else if tok := os.Getenv("GQLENV_TOKEN"); tok != "" && cfg.Token == "" {
			cfg.Token = tok
		}
		return newApp(cfg)
	}

	root.AddCommand(newWhoamiCmd(load), newQueryCmd(load), newLogoutCmd(load))
	return root
}

type loader func(cmd *cobra.Command) (*app, error)

func newWhoamiCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Resolve the identity of the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			auth, err := a.start(cmd.Context())
			if err != nil {
				// A failed identity query looks like a signed-out session.
				a.logger.Warn("identity query failed", zap.Error(err))
			}
			out := cmd.OutOrStdout()
			if !auth.Authenticated {
				fmt.Fprintln(out, "not authenticated")
				return nil
			}
			fmt.Fprintf(out, "authenticated as %s (%s)\n", auth.Identity.ID, auth.Identity.Email)
			return nil
		},
	}
}

func newQueryCmd(load loader) *cobra.Command {
	var (
		varsJSON  string
		operation string
		refetch   bool
		repeat    int
		pretty    bool
	)
	cmd := &cobra.Command{
		Use:   "query <document | @file>",
		Short: "Execute a GraphQL query and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}
			vars := map[string]any{}
			if varsJSON != "" {
				if err := json.Unmarshal([]byte(varsJSON), &vars); err != nil {
					return fmt.Errorf("invalid --vars JSON: %w", err)
				}
			}
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if _, err := a.start(cmd.Context()); err != nil {
				a.logger.Warn("identity query failed", zap.Error(err))
			}
			var opts []environment.ExecOption
			if refetch {
				opts = append(opts, environment.Refetch())
			}
			d := environment.Descriptor{Query: doc, OperationName: operation, Variables: vars}
			for i := 0; i < max(repeat, 1); i++ {
				res, err := a.controller.ExecuteQuery(cmd.Context(), d, opts...)
				if err != nil {
					return err
				}
				a.logger.Debug("query executed", zap.String("source", string(res.Source)), zap.Int("errors", len(res.Errors)))
				if err := writeResult(cmd.OutOrStdout(), res, pretty); err != nil {
					return err
				}
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&varsJSON, "vars", "", "Variables as a JSON object")
	fl.StringVar(&operation, "operation", "", "Operation name for multi-operation documents")
	fl.BoolVar(&refetch, "refetch", false, "Bypass the store and always send a request")
	fl.IntVar(&repeat, "repeat", 1, "Execute the query this many times")
	fl.BoolVar(&pretty, "pretty", false, "Indent JSON output")
	return cmd
}

func readDocument(arg string) (string, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(b), nil
	}
	return arg, nil
}

func writeResult(w io.Writer, res *environment.Result, pretty bool) error {
	out := struct {
		Data   map[string]any `json:"data"`
		Errors any            `json:"errors,omitempty"`
	}{Data: res.Data}
	if len(res.Errors) > 0 {
		out.Errors = res.Errors
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

func newLogoutCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Resolve the session, then log out and report the fresh state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			before, err := a.start(cmd.Context())
			if err != nil {
				a.logger.Warn("identity query failed", zap.Error(err))
			}
			a.controller.Logout()
			after := a.controller.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (environment %s replaced by %s)\n",
				before.State, after.State, before.EnvironmentID, after.EnvironmentID)
			return nil
		},
	}
}
