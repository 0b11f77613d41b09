package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/refgate/internal/apperr"
	"github.com/sprite-ai/refgate/internal/check"
	"github.com/sprite-ai/refgate/internal/config"
	"github.com/sprite-ai/refgate/internal/gate"
	"github.com/sprite-ai/refgate/internal/hostapi"
	"github.com/sprite-ai/refgate/internal/journal"
	"github.com/sprite-ai/refgate/internal/logger"
	"github.com/sprite-ai/refgate/internal/mail"
	"github.com/sprite-ai/refgate/internal/repo"
)

// session holds what one hook invocation needs: configuration, logger,
// repository and, when configured, the journal.
type session struct {
	cfg     *config.Config
	log     zerolog.Logger
	repo    *repo.Repo
	journal *journal.Journal
	closers []io.Closer
}

// openSession reads the global flags and the configuration they point at.
func openSession(cmd *cobra.Command) (*session, error) {
	flags := cmd.Flags()
	ini, _ := flags.GetString("ini")
	envFile, _ := flags.GetString("env-file")
	dir, _ := flags.GetString("repo")

	cfg, err := config.Load(config.Options{INIFile: ini, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	shared, err := cfg.Shared()
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.Open(shared.Get(config.KeyLogFile), shared.Get(config.KeyLogLevel), shared.Get(config.KeyLogFormat))
	if err != nil {
		// The log file is unusable; report on stderr and carry on.
		log = logger.New(os.Stderr, shared.Get(config.KeyLogLevel), shared.Get(config.KeyLogFormat))
		log.Warn().Err(err).Str("path", shared.Get(config.KeyLogFile)).Msg("cannot open log file")
		closer = nil
	}

	s := &session{cfg: cfg, log: log, repo: repo.New(dir, log)}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}

	dsn, _ := flags.GetString("journal")
	if dsn == "" {
		dsn = shared.Get(config.KeyJournal)
	}
	if dsn != "" {
		j, err := journal.Open(cmd.Context(), dsn, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.journal = j
		s.closers = append(s.closers, j)
	}
	return s, nil
}

// Close releases the journal and the log file.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i].Close()
	}
}

// env assembles the check environment. mailer decides whether
// notifications are delivered or captured.
func (s *session) env(mailer mail.Factory) check.Env {
	return check.Env{
		Repo:   s.repo,
		Log:    s.log,
		Mailer: mailer,
		HostAPI: func(p config.Params) (check.PullRequests, error) {
			return hostapi.New(p.Get("base_url"), p.Get("user_name"), p.Get("user_passwd"), s.log), nil
		},
		Now: time.Now,
	}
}

// evaluator loads the hook configuration conf into an Evaluator. The
// journal is attached when record is set.
func (s *session) evaluator(conf string, mailer mail.Factory, record bool) (*gate.Evaluator, error) {
	specs, err := s.cfg.LoadHooks(conf)
	if err != nil {
		s.log.Error().Err(err).Str("conf", conf).Msg("cannot read hook configuration")
		return nil, err
	}
	checks, err := check.Load(specs, s.cfg, s.env(mailer))
	if err != nil {
		return nil, err
	}
	ev := &gate.Evaluator{Checks: checks, Log: s.log}
	if record && s.journal != nil {
		ev.Journal = s.journal
	}
	return ev, nil
}

// withTimeout applies the --timeout flag to the command context.
func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

// fatal logs err and hands it back for the exit status.
func (s *session) fatal(err error) error {
	ev := s.log.Error().Err(err)
	if code := apperr.CodeOf(err); code != "" {
		ev = ev.Str("code", string(code))
	}
	ev.Msg("evaluation aborted")
	return err
}
