package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/contactsd/internal/access"
	"github.com/roach88/contactsd/internal/contacts"
	"github.com/roach88/contactsd/internal/metrics"
	"github.com/roach88/contactsd/internal/schema"
	"github.com/roach88/contactsd/internal/store"
)

// session is an open database, service and caller connection.
type session struct {
	store *store.Store
	svc   *contacts.Service
	conn  *contacts.Conn
	out   *OutputFormatter

	registry    *prometheus.Registry
	metricsFile string
}

// openSession opens the configured database and connects as the
// configured caller. The returned session must be closed.
func openSession(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg := opts.config()

	var views []*schema.View
	if cfg.ViewsDir != "" {
		vs, err := schema.LoadCUEDir(cfg.ViewsDir)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load views", err)
		}
		views = vs
	}

	oracle, err := access.NewCasbinOracle(cfg.Policy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load access policy", err)
	}

	slog.Debug("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB, cfg.StoreOptions()...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry := prometheus.NewRegistry()
	svc, err := contacts.New(ctx, st,
		contacts.WithViews(views...),
		contacts.WithOracle(oracle),
		contacts.WithAdmin(cfg.Admin),
		contacts.WithRetry(cfg.RetryPolicy()),
		contacts.WithMetrics(metrics.New(registry)),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start contacts service", err)
	}

	conn, err := svc.Connect(ctx, opts.caller())
	if err != nil {
		svc.Close()
		st.Close()
		return nil, engineError(fmt.Sprintf("failed to connect as %q", opts.caller()), err)
	}

	return &session{
		store: st,
		svc:   svc,
		conn:  conn,
		out:   &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()},

		registry:    registry,
		metricsFile: cfg.MetricsFile,
	}, nil
}

func (s *session) Close() {
	s.conn.Close()
	s.svc.Close()
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
	if s.metricsFile != "" {
		if err := prometheus.WriteToTextfile(s.metricsFile, s.registry); err != nil {
			slog.Error("error writing metrics", "path", s.metricsFile, "error", err)
		} else {
			slog.Debug("metrics written", "path", s.metricsFile)
		}
	}
}

// fail reports err in the configured format and returns it as an
// ExitError.
func (s *session) fail(message string, err error) error {
	_ = s.out.Error(err)
	return engineError(message, err)
}
