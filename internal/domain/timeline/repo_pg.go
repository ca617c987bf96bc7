package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
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

// -- Entity contexts --

const entityCols = `id, name, legal_id, patient_ns_name, patient_ns_root,
	visit_ns_name, visit_ns_root, movement_ns_name, movement_ns_root,
	strict_profile, created_at`

func nsParts(ns *hl7v2.Namespace) (name, root *string) {
	if ns == nil {
		return nil, nil
	}
	return &ns.Name, &ns.Root
}

func nsFrom(name, root *string) *hl7v2.Namespace {
	if name == nil && root == nil {
		return nil
	}
	ns := &hl7v2.Namespace{RootType: "ISO"}
	if name != nil {
		ns.Name = *name
	}
	if root != nil {
		ns.Root = *root
	}
	return ns
}

func (r *repoPG) CreateEntity(ctx context.Context, e *EntityContext) error {
	e.ID = uuid.New()
	pn, pr := nsParts(e.PatientNamespace)
	vn, vr := nsParts(e.VisitNamespace)
	mn, mr := nsParts(e.MovementNamespace)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO entity_context (id, name, legal_id, patient_ns_name, patient_ns_root,
			visit_ns_name, visit_ns_root, movement_ns_name, movement_ns_root, strict_profile)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		e.ID, e.Name, e.LegalID, pn, pr, vn, vr, mn, mr, e.StrictProfile,
	).Scan(&e.CreatedAt)
	return db.MapError(err)
}

func (r *repoPG) GetEntity(ctx context.Context, id uuid.UUID) (*EntityContext, error) {
	var e EntityContext
	var legal, pn, pr, vn, vr, mn, mr *string
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+entityCols+` FROM entity_context WHERE id = $1`, id).Scan(
		&e.ID, &e.Name, &legal, &pn, &pr, &vn, &vr, &mn, &mr, &e.StrictProfile, &e.CreatedAt,
	)
	if err != nil {
		return nil, db.MapError(err)
	}
	if legal != nil {
		e.LegalID = *legal
	}
	e.PatientNamespace = nsFrom(pn, pr)
	e.VisitNamespace = nsFrom(vn, vr)
	e.MovementNamespace = nsFrom(mn, mr)
	return &e, nil
}

// -- Cases --

const caseCols = `id, entity_id, label, patient_external_id, visit_external_id,
	family, given, sex, birth_date, case_type, created_at`

func (r *repoPG) CreateCase(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO demo_case (id, entity_id, label, patient_external_id, visit_external_id,
			family, given, sex, birth_date, case_type)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		c.ID, c.EntityID, c.Label, c.PatientExternalID, c.VisitExternalID,
		c.Family, c.Given, c.Sex, c.BirthDate, c.CaseType,
	).Scan(&c.CreatedAt)
	return db.MapError(err)
}

func (r *repoPG) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM demo_case WHERE id = $1`, id))
}

func (r *repoPG) ListCases(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM demo_case`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+caseCols+` FROM demo_case ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repoPG) DeleteCase(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM demo_case WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.MapError(pgx.ErrNoRows)
	}
	return nil
}

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var patientID, visitID, family, given, sex *string
	err := row.Scan(&c.ID, &c.EntityID, &c.Label, &patientID, &visitID,
		&family, &given, &sex, &c.BirthDate, &c.CaseType, &c.CreatedAt)
	if err != nil {
		return nil, db.MapError(err)
	}
	c.PatientExternalID = deref(patientID)
	c.VisitExternalID = deref(visitID)
	c.Family = deref(family)
	c.Given = deref(given)
	c.Sex = deref(sex)
	return &c, nil
}

// -- Movements --

const movementCols = `id, case_id, trigger, occurred_at, action, location_code,
	medical_unit_label, medical_unit_code, care_unit_label, care_unit_code, nature, created_at`

func (r *repoPG) AddMovement(ctx context.Context, m *Movement) error {
	m.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO movement (id, case_id, trigger, occurred_at, action, location_code,
			medical_unit_label, medical_unit_code, care_unit_label, care_unit_code, nature)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		m.ID, m.CaseID, m.Trigger, m.OccurredAt, m.Action, m.LocationCode,
		m.MedicalUnit.Label, m.MedicalUnit.Code, m.CareUnit.Label, m.CareUnit.Code, m.Nature,
	).Scan(&m.CreatedAt)
	return db.MapError(err)
}

func (r *repoPG) ListMovements(ctx context.Context, caseID uuid.UUID) ([]*Movement, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+movementCols+` FROM movement WHERE case_id = $1 ORDER BY occurred_at, created_at`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Movement
	for rows.Next() {
		var m Movement
		var loc, ml, mc, cl, cc, nature *string
		if err := rows.Scan(&m.ID, &m.CaseID, &m.Trigger, &m.OccurredAt, &m.Action, &loc,
			&ml, &mc, &cl, &cc, &nature, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.LocationCode = deref(loc)
		m.MedicalUnit = hl7v2.Unit{Label: deref(ml), Code: deref(mc)}
		m.CareUnit = hl7v2.Unit{Label: deref(cl), Code: deref(cc)}
		m.Nature = deref(nature)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// -- Inbound messages --

func (r *repoPG) RecordInbound(ctx context.Context, msg *InboundMessage) error {
	msg.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO inbound_message (id, trigger, message_type, control_id, received_at, payload)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, msg.Trigger, msg.MessageType, msg.ControlID, msg.ReceivedAt, msg.Payload,
	)
	return db.MapError(err)
}

func (r *repoPG) FindInbound(ctx context.Context, trigger string, at time.Time, window time.Duration) (*InboundMessage, error) {
	var m InboundMessage
	var controlID *string
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, trigger, message_type, control_id, received_at, payload
		FROM inbound_message
		WHERE trigger = $1 AND received_at BETWEEN $2 AND $3
		ORDER BY ABS(EXTRACT(EPOCH FROM (received_at - $4::timestamptz))), received_at
		LIMIT 1`,
		trigger, at.Add(-window), at.Add(window), at,
	).Scan(&m.ID, &m.Trigger, &m.MessageType, &controlID, &m.ReceivedAt, &m.Payload)
	if err != nil {
		return nil, db.MapError(err)
	}
	m.ControlID = deref(controlID)
	return &m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
