// Package cli implements the aptbooks command line client.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/codes"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/session"
	"github.com/Laudkyle/aptbooks/pkg/tracing"
)

// Option customizes the command tree. Tests use it to inject configuration
// and a session backend.
type Option func(*app)

// WithConfig replaces the environment-loaded configuration.
func WithConfig(cfg *Config) Option {
	return func(a *app) { a.cfg = cfg }
}

// WithPersister bypasses the configured session backend.
func WithPersister(p session.Persister) Option {
	return func(a *app) { a.persister = p }
}

// WithLogger sets the logger handed to the client and the session stores.
func WithLogger(l *slog.Logger) Option {
	return func(a *app) { a.logger = l }
}

type app struct {
	cfg       *Config
	persister session.Persister
	logger    *slog.Logger

	baseURL  string
	output   string
	logLevel string
}

// NewRootCmd builds the aptbooks command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "aptbooks",
		Short: "Command line client for the Aptbooks accounting API",
		Long: `aptbooks talks to an Aptbooks backend on your behalf.

Log in once; the session (tokens, identity and active organization) is kept
in the configured session backend and expired access tokens are refreshed
transparently.

Configuration comes from APTBOOKS_* environment variables and an optional
.env file in the working directory.

Examples:
  aptbooks login --email you@example.com --password-stdin
  aptbooks orgs switch "Demo Branch"
  aptbooks invoices list --status posted
  aptbooks reports trial-balance --from 2026-01-01 --to 2026-03-31`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "API base URL (overrides APTBOOKS_BASE_URL)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "output format: table or json")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.orgsCmd(),
		a.accountsCmd(),
		a.invoicesCmd(),
		a.reportsCmd(),
		a.healthCmd(),
	)
	return root
}

// ExecuteContext runs the command tree built from the environment.
func ExecuteContext(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// run opens the runtime for one command invocation and closes it after fn.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := a.config()
	if err != nil {
		return err
	}
	if err := validOutput(a.output); err != nil {
		return err
	}

	log := a.logger
	if log == nil {
		level := cfg.LogLevel
		if a.logLevel != "" {
			level = a.logLevel
		}
		log = logger.NewWithWriter(serviceName, level, cmd.ErrOrStderr())
	}

	rt, err := openRuntime(ctx, cfg, a.persister, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn("shutdown", slog.String("error", cerr.Error()))
		}
	}()

	ctx, span := tracing.Tracer(serviceName).Start(ctx, "aptbooks "+cmd.Name())
	defer span.End()

	if err := fn(ctx, rt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *app) config() (*Config, error) {
	cfg := a.cfg
	if cfg == nil {
		loaded, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if a.baseURL != "" {
		c := *cfg
		c.HTTP.BaseURL = a.baseURL
		cfg = &c
	}
	return cfg, nil
}

// requireSession fails early when no one is logged in.
func requireSession(rt *runtime) error {
	if !rt.auth.IsAuthenticated() {
		return fmt.Errorf("not logged in - run 'aptbooks login' first")
	}
	return nil
}

// failure is a failed API call as the user sees it: the backend's normalized
// message, with the original error kept for errors.Is/As.
type failure struct {
	msg string
	err error
}

func (f *failure) Error() string { return f.msg }
func (f *failure) Unwrap() error { return f.err }

// apiFailure prefixes the normalized message and code of err with action.
func apiFailure(action string, err error) error {
	n := apierrors.Normalize(err)
	msg := action + ": " + n.Message
	if n.Code != apierrors.FallbackCode {
		msg += " (" + n.Code + ")"
	}
	return &failure{msg: msg, err: err}
}
