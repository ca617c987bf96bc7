package scenario

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Store {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// -- Templates --

const templateCols = `id, key, name, category, protocols, tags, active, created_at`

func (r *repoPG) CreateTemplate(ctx context.Context, t *Template) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		t.ID = uuid.New()
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO template (id, key, name, category, protocols, tags, active)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING created_at`,
			t.ID, t.Key, t.Name, t.Category, nonNil(t.Protocols), nonNil(t.Tags), t.Active,
		).Scan(&t.CreatedAt)
		if err != nil {
			return db.MapError(err)
		}
		for i := range t.Steps {
			st := &t.Steps[i]
			st.ID = uuid.New()
			st.TemplateID = t.ID
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO template_step (id, template_id, order_index, event_code, narrative,
					legacy_code, message_role, delay_seconds)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				st.ID, st.TemplateID, st.OrderIndex, st.EventCode, st.Narrative,
				st.LegacyCode, st.MessageRole, st.DelaySeconds,
			); err != nil {
				return fmt.Errorf("insert template step %d: %w", st.OrderIndex, db.MapError(err))
			}
		}
		return nil
	})
}

func (r *repoPG) GetTemplateByKey(ctx context.Context, key string) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+templateCols+` FROM template WHERE key = $1`, key))
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, template_id, order_index, event_code, narrative, legacy_code, message_role, delay_seconds
		FROM template_step WHERE template_id = $1 ORDER BY order_index`, t.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st TemplateStep
		var narrative, legacy, role *string
		if err := rows.Scan(&st.ID, &st.TemplateID, &st.OrderIndex, &st.EventCode,
			&narrative, &legacy, &role, &st.DelaySeconds); err != nil {
			return nil, err
		}
		st.Narrative = deref(narrative)
		st.LegacyCode = deref(legacy)
		st.MessageRole = deref(role)
		t.Steps = append(t.Steps, st)
	}
	return t, rows.Err()
}

func (r *repoPG) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM template`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+templateCols+` FROM template ORDER BY key LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	var category *string
	if err := row.Scan(&t.ID, &t.Key, &t.Name, &category, &t.Protocols, &t.Tags, &t.Active, &t.CreatedAt); err != nil {
		return nil, db.MapError(err)
	}
	t.Category = deref(category)
	return &t, nil
}

// -- Scenarios --

const scenarioCols = `id, key, name, description, category, protocol, demo_case_id, tags, active,
	anchor_mode, anchor_days_offset, fixed_start, preserve_intervals,
	jitter_min, jitter_max, jitter_events, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, s *Scenario) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		s.ID = uuid.New()
		tc := s.TimeConfig
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO scenario (id, key, name, description, category, protocol, demo_case_id, tags, active,
				anchor_mode, anchor_days_offset, fixed_start, preserve_intervals,
				jitter_min, jitter_max, jitter_events)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			RETURNING created_at, updated_at`,
			s.ID, s.Key, s.Name, s.Description, s.Category, s.Protocol, s.DemoCaseID, nonNil(s.Tags), s.Active,
			tc.AnchorMode, tc.AnchorDaysOffset, tc.FixedStart, tc.PreserveIntervals,
			tc.JitterMin, tc.JitterMax, nonNil(tc.JitterEvents),
		).Scan(&s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return db.MapError(err)
		}

		batch := &pgx.Batch{}
		for i := range s.Steps {
			st := &s.Steps[i]
			st.ID = uuid.New()
			st.ScenarioID = s.ID
			batch.Queue(`
				INSERT INTO scenario_step (id, scenario_id, order_index, message_format, message_type,
					event_code, payload, delay_seconds)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				st.ID, st.ScenarioID, st.OrderIndex, st.Format, st.MessageType,
				st.EventCode, st.Payload, st.DelaySeconds)
		}
		if batch.Len() == 0 {
			return nil
		}
		tx := db.TxFromContext(ctx)
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert scenario step: %w", db.MapError(err))
			}
		}
		return results.Close()
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Scenario, error) {
	s, err := scanScenario(r.conn(ctx).QueryRow(ctx, `SELECT `+scenarioCols+` FROM scenario WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	return s, r.loadSteps(ctx, s)
}

func (r *repoPG) GetByKey(ctx context.Context, key string) (*Scenario, error) {
	s, err := scanScenario(r.conn(ctx).QueryRow(ctx, `SELECT `+scenarioCols+` FROM scenario WHERE key = $1`, key))
	if err != nil {
		return nil, err
	}
	return s, r.loadSteps(ctx, s)
}

func (r *repoPG) loadSteps(ctx context.Context, s *Scenario) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, scenario_id, order_index, message_format, message_type, event_code, payload, delay_seconds
		FROM scenario_step WHERE scenario_id = $1 ORDER BY order_index`, s.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var st Step
		var eventCode *string
		if err := rows.Scan(&st.ID, &st.ScenarioID, &st.OrderIndex, &st.Format, &st.MessageType,
			&eventCode, &st.Payload, &st.DelaySeconds); err != nil {
			return err
		}
		st.EventCode = deref(eventCode)
		s.Steps = append(s.Steps, st)
	}
	return rows.Err()
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Scenario, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM scenario`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+scenarioCols+` FROM scenario ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Scenario
	for rows.Next() {
		s, err := scanScenario(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM scenario WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows)
	}
	return nil
}

func scanScenario(row pgx.Row) (*Scenario, error) {
	var s Scenario
	var description, category *string
	tc := &s.TimeConfig
	err := row.Scan(&s.ID, &s.Key, &s.Name, &description, &category, &s.Protocol, &s.DemoCaseID, &s.Tags, &s.Active,
		&tc.AnchorMode, &tc.AnchorDaysOffset, &tc.FixedStart, &tc.PreserveIntervals,
		&tc.JitterMin, &tc.JitterMax, &tc.JitterEvents, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	s.Description = deref(description)
	s.Category = deref(category)
	return &s, nil
}

// -- Bindings --

func (r *repoPG) UpsertBinding(ctx context.Context, b *Binding) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO scenario_binding (scenario_id, demo_case_id, last_identifiers)
		VALUES ($1,$2,$3)
		ON CONFLICT (scenario_id) DO UPDATE
			SET demo_case_id = EXCLUDED.demo_case_id,
			    last_identifiers = EXCLUDED.last_identifiers,
			    updated_at = NOW()
		RETURNING updated_at`,
		b.ScenarioID, b.DemoCaseID, b.LastIdentifiers,
	).Scan(&b.UpdatedAt)
	return db.MapError(err)
}

func (r *repoPG) GetBinding(ctx context.Context, scenarioID uuid.UUID) (*Binding, error) {
	var b Binding
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT scenario_id, demo_case_id, last_identifiers, updated_at
		FROM scenario_binding WHERE scenario_id = $1`, scenarioID,
	).Scan(&b.ScenarioID, &b.DemoCaseID, &b.LastIdentifiers, &b.UpdatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	return &b, nil
}

// -- Runs --

const runCols = `id, scenario_id, destination_id, started_at, finished_at, status,
	total_steps, success_steps, error_steps, skipped_steps, dry_run, options, error_message`

func (r *repoPG) CreateRun(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	options := run.Options
	if options == nil {
		options = map[string]interface{}{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO execution_run (id, scenario_id, destination_id, started_at, status,
			total_steps, success_steps, error_steps, skipped_steps, dry_run, options)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		run.ID, run.ScenarioID, run.DestinationID, run.StartedAt, run.Status,
		run.TotalSteps, run.SuccessSteps, run.ErrorSteps, run.SkippedSteps, run.DryRun, options,
	)
	return db.MapError(err)
}

func (r *repoPG) AppendStepLog(ctx context.Context, l *StepLog) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		l.ID = uuid.New()
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO step_log (id, run_id, step_id, destination_id, order_index, status, ack_code,
				duration_ms, error_message, payload_excerpt, dispatched_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			RETURNING logged_at`,
			l.ID, l.RunID, l.StepID, l.DestinationID, l.OrderIndex, l.Status, l.AckCode,
			l.DurationMS, l.ErrorMessage, l.PayloadExcerpt, l.DispatchedAt,
		).Scan(&l.LoggedAt)
		if err != nil {
			return db.MapError(err)
		}
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE execution_run SET
				total_steps   = total_steps + 1,
				success_steps = success_steps + CASE WHEN $2 = 'sent' THEN 1 ELSE 0 END,
				error_steps   = error_steps + CASE WHEN $2 = 'error' THEN 1 ELSE 0 END,
				skipped_steps = skipped_steps + CASE WHEN $2 NOT IN ('sent', 'error') THEN 1 ELSE 0 END
			WHERE id = $1`, l.RunID, l.Status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return db.MapError(pgx.ErrNoRows)
		}
		return nil
	})
}

func (r *repoPG) FinishRun(ctx context.Context, run *Run) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE execution_run SET status = $2, finished_at = $3, error_message = $4
		WHERE id = $1`,
		run.ID, run.Status, run.FinishedAt, run.ErrorMessage,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows)
	}
	return nil
}

func (r *repoPG) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(r.conn(ctx).QueryRow(ctx, `SELECT `+runCols+` FROM execution_run WHERE id = $1`, id))
}

func (r *repoPG) ListRuns(ctx context.Context, scenarioID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM execution_run WHERE scenario_id = $1`, scenarioID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+runCols+` FROM execution_run WHERE scenario_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, scenarioID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var errMsg *string
	err := row.Scan(&run.ID, &run.ScenarioID, &run.DestinationID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.TotalSteps, &run.SuccessSteps, &run.ErrorSteps, &run.SkippedSteps, &run.DryRun, &run.Options, &errMsg)
	if err != nil {
		return nil, db.MapError(err)
	}
	run.ErrorMessage = deref(errMsg)
	return &run, nil
}

func (r *repoPG) ListStepLogs(ctx context.Context, runID uuid.UUID) ([]*StepLog, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, run_id, step_id, destination_id, order_index, status, ack_code,
			duration_ms, error_message, payload_excerpt, dispatched_at, logged_at
		FROM step_log WHERE run_id = $1 ORDER BY order_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepLog
	for rows.Next() {
		var l StepLog
		var ack, errMsg, excerpt *string
		if err := rows.Scan(&l.ID, &l.RunID, &l.StepID, &l.DestinationID, &l.OrderIndex, &l.Status, &ack,
			&l.DurationMS, &errMsg, &excerpt, &l.DispatchedAt, &l.LoggedAt); err != nil {
			return nil, err
		}
		l.AckCode = deref(ack)
		l.ErrorMessage = deref(errMsg)
		l.PayloadExcerpt = deref(excerpt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
