// Package install applies synthesized triggers to the engine.
//
// Installing a trigger drops any existing definition under the same name
// and creates the new one. Where the engine supports transactional DDL
// both steps share one transaction, so a rejected definition leaves the
// previous one in force. Otherwise the definition is first proven with a
// staging trigger that can never write, which makes the window in which a
// table has no trigger as small as the engine allows.
package install

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/roach88/undolog/internal/dialect"
	"github.com/roach88/undolog/internal/fault"
	"github.com/roach88/undolog/internal/store"
	"github.com/roach88/undolog/internal/synth"
)

// Installer creates and drops triggers.
type Installer struct {
	session *store.Session
	dialect dialect.Dialect
	logger  *slog.Logger
}

// New creates an Installer. A nil logger uses slog.Default().
func New(s *store.Session, logger *slog.Logger) *Installer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Installer{session: s, dialect: s.Dialect(), logger: logger}
}

// Install replaces the trigger described by spec. Rejections are INSTALL
// errors carrying the engine's reason; CONNECTIVITY errors are returned
// as is.
func (i *Installer) Install(ctx context.Context, spec synth.TriggerSpec) error {
	log := i.logger.With("table", spec.Table, "trigger", spec.Name)

	var err error
	if i.dialect.TransactionalDDL() {
		err = i.replaceInTx(ctx, spec)
	} else {
		err = i.replaceStaged(ctx, spec)
	}
	if err != nil {
		log.Debug("install failed", "error", err)
		return err
	}

	log.Debug("installed trigger", "event", string(spec.Event))
	return nil
}

// Uninstall drops the trigger described by spec if it exists.
func (i *Installer) Uninstall(ctx context.Context, spec synth.TriggerSpec) error {
	var err error
	if i.dialect.TransactionalDDL() {
		err = i.session.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return execAll(ctx, tx, spec.Drop)
		})
	} else {
		err = i.execAll(ctx, spec.Drop)
	}
	if err != nil {
		return i.installError(spec, err, false)
	}
	i.logger.Debug("dropped trigger", "table", spec.Table, "trigger", spec.Name)
	return nil
}

func (i *Installer) replaceInTx(ctx context.Context, spec synth.TriggerSpec) error {
	err := i.session.Tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := execAll(ctx, tx, spec.Drop); err != nil {
			return err
		}
		return execAll(ctx, tx, spec.Statements)
	})
	if err != nil {
		return i.installError(spec, err, false)
	}
	return nil
}

func (i *Installer) replaceStaged(ctx context.Context, spec synth.TriggerSpec) error {
	if stager, ok := i.dialect.(dialect.Stager); ok {
		create, drop := stager.StageTrigger(spec.Trigger)
		if err := i.execAll(ctx, drop); err != nil {
			return i.installError(spec, err, false)
		}
		if err := i.execAll(ctx, create); err != nil {
			if dropErr := i.execAll(ctx, drop); dropErr != nil {
				i.logger.Warn("failed to drop staging trigger",
					"table", spec.Table,
					"trigger", spec.Name,
					"error", dropErr,
				)
			}
			return i.installError(spec, err, false)
		}
		if err := i.execAll(ctx, drop); err != nil {
			return i.installError(spec, err, false)
		}
	}

	if err := i.execAll(ctx, spec.Drop); err != nil {
		return i.installError(spec, err, false)
	}
	if err := i.execAll(ctx, spec.Statements); err != nil {
		return i.installError(spec, err, true)
	}
	return nil
}

func (i *Installer) installError(spec synth.TriggerSpec, err error, dropped bool) error {
	if fault.IsConnectivity(err) {
		return err
	}
	fe := fault.Install(spec.Table, spec.Name, err)
	fe.Dropped = dropped
	return fe
}

func (i *Installer) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if err := i.session.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
