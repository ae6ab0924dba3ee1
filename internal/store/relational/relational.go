// Package relational implements the Relational Backend (spec.md §4.3)
// over an embedded, pure-Go SQLite database (modernc.org/sqlite — no
// cgo, matching the driver alert-history-service uses for its own
// single-node "Lite" storage profile). Schema migrations are applied
// with github.com/pressly/goose/v3 from embedded SQL files.
package relational

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/pkg/corerr"
	"github.com/zerouihq/constitution-core/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SupportedSchemaVersion is the schema_version row this backend expects
// (spec.md §4.3 "Health check").
const SupportedSchemaVersion = "2.0"

// Backend is the Relational Backend concrete implementation. Reads use
// the pool; writes take writeMu to enforce Invariant I7 (single writer
// per backend) on top of SQLite's own locking.
type Backend struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Options configures a Backend (spec.md §3 Config.relational_config).
type Options struct {
	Path          string
	BusyTimeoutMs int
	UseWAL        bool
	PoolSize      int
}

// Open creates the database file if needed, applies pending migrations,
// and returns a ready Backend.
func Open(ctx context.Context, opt Options) (*Backend, error) {
	dsn := opt.Path
	params := []string{}
	if opt.BusyTimeoutMs > 0 {
		params = append(params, fmt.Sprintf("_pragma=busy_timeout(%d)", opt.BusyTimeoutMs))
	}
	if opt.UseWAL {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	params = append(params, "_pragma=foreign_keys(1)")
	if len(params) > 0 {
		dsn = dsn + "?" + strings.Join(params, "&")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, corerr.New(corerr.BackendUnavailable, err, "open relational backend %s", opt.Path)
	}
	poolSize := opt.PoolSize
	if poolSize <= 0 {
		poolSize = 1
	}
	db.SetMaxOpenConns(poolSize)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, corerr.New(corerr.BackendUnavailable, err, "ping relational backend %s", opt.Path)
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, corerr.New(corerr.BackendUnavailable, err, "set goose dialect")
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, corerr.New(corerr.BackendUnavailable, err, "apply relational migrations")
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Kind() models.BackendKind { return models.BackendRelational }

func (b *Backend) Close() error { return b.db.Close() }

const ruleColumns = `rule_id, title, category, severity, description, requirements, version,
	effective_date, last_updated, policy_linkage, enabled_default, validator_hint, extras, raw_definition`

func scanRule(row interface{ Scan(...any) error }) (models.Rule, error) {
	var r models.Rule
	var requirements, policyLinkage, extras, effDate, lastUpd string
	var enabledDefault int
	var severity string
	if err := row.Scan(&r.RuleID, &r.Title, &r.Category, &severity, &r.Description,
		&requirements, &r.Version, &effDate, &lastUpd, &policyLinkage,
		&enabledDefault, &r.ValidatorHint, &extras, &r.RawDefinition); err != nil {
		return r, err
	}
	r.Severity = models.Severity(severity)
	r.EnabledDefault = enabledDefault != 0
	_ = json.Unmarshal([]byte(requirements), &r.Requirements)
	_ = json.Unmarshal([]byte(policyLinkage), &r.PolicyLinkage)
	_ = json.Unmarshal([]byte(extras), &r.Extras)
	if effDate != "" {
		r.EffectiveDate, _ = time.Parse(time.RFC3339, effDate)
	}
	if lastUpd != "" {
		r.LastUpdated, _ = time.Parse(time.RFC3339, lastUpd)
	}
	return r, nil
}

func scanState(row interface{ Scan(...any) error }) (models.RuleState, error) {
	var s models.RuleState
	var enabled int
	var disabledAt sql.NullString
	var updatedAt string
	if err := row.Scan(&s.RuleID, &enabled, &s.DisabledReason, &disabledAt, &updatedAt); err != nil {
		return s, err
	}
	s.Enabled = enabled != 0
	if disabledAt.Valid && disabledAt.String != "" {
		t, _ := time.Parse(time.RFC3339, disabledAt.String)
		s.DisabledAt = &t
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return s, nil
}

func (b *Backend) GetRule(ctx context.Context, id string) (models.RuleRecord, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE rule_id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return models.RuleRecord{}, corerr.New(corerr.NotFound, nil, "rule %s not found", id)
	}
	if err != nil {
		return models.RuleRecord{}, corerr.New(corerr.BackendUnavailable, err, "get rule %s", id)
	}

	srow := b.db.QueryRowContext(ctx, `SELECT rule_id, enabled, disabled_reason, disabled_at, updated_at FROM rule_state WHERE rule_id = ?`, id)
	state, err := scanState(srow)
	if err != nil && err != sql.ErrNoRows {
		return models.RuleRecord{}, corerr.New(corerr.BackendUnavailable, err, "get rule_state %s", id)
	}
	return models.RuleRecord{Rule: rule, State: state}, nil
}

func (b *Backend) ListRules(ctx context.Context, filter store.Filter) ([]models.RuleRecord, error) {
	query := `SELECT r.rule_id, r.title, r.category, r.severity, r.description, r.requirements, r.version,
		r.effective_date, r.last_updated, r.policy_linkage, r.enabled_default, r.validator_hint, r.extras, r.raw_definition,
		s.rule_id, s.enabled, s.disabled_reason, s.disabled_at, s.updated_at
		FROM rules r LEFT JOIN rule_state s ON s.rule_id = r.rule_id WHERE 1=1`
	var args []any
	if filter.Category != "" {
		query += ` AND r.category = ?`
		args = append(args, filter.Category)
	}
	if filter.Enabled != nil {
		query += ` AND s.enabled = ?`
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.Substring != "" {
		query += ` AND r.title LIKE ?`
		args = append(args, "%"+filter.Substring+"%")
	}
	query += ` ORDER BY r.rule_id ASC`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corerr.New(corerr.BackendUnavailable, err, "list rules")
	}
	defer rows.Close()

	var out []models.RuleRecord
	for rows.Next() {
		var r models.Rule
		var requirements, policyLinkage, extras, effDate, lastUpd, severity string
		var enabledDefault int
		var stateID sql.NullString
		var enabled sql.NullInt64
		var disabledReason, disabledAt, updatedAt sql.NullString
		if err := rows.Scan(&r.RuleID, &r.Title, &r.Category, &severity, &r.Description,
			&requirements, &r.Version, &effDate, &lastUpd, &policyLinkage,
			&enabledDefault, &r.ValidatorHint, &extras, &r.RawDefinition,
			&stateID, &enabled, &disabledReason, &disabledAt, &updatedAt); err != nil {
			return nil, corerr.New(corerr.BackendUnavailable, err, "scan rule row")
		}
		r.Severity = models.Severity(severity)
		r.EnabledDefault = enabledDefault != 0
		_ = json.Unmarshal([]byte(requirements), &r.Requirements)
		_ = json.Unmarshal([]byte(policyLinkage), &r.PolicyLinkage)
		_ = json.Unmarshal([]byte(extras), &r.Extras)
		if effDate != "" {
			r.EffectiveDate, _ = time.Parse(time.RFC3339, effDate)
		}
		if lastUpd != "" {
			r.LastUpdated, _ = time.Parse(time.RFC3339, lastUpd)
		}

		state := models.RuleState{RuleID: r.RuleID}
		if stateID.Valid {
			state.Enabled = enabled.Int64 != 0
			state.DisabledReason = disabledReason.String
			if updatedAt.Valid {
				state.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
			}
			if disabledAt.Valid && disabledAt.String != "" {
				t, _ := time.Parse(time.RFC3339, disabledAt.String)
				state.DisabledAt = &t
			}
		}
		out = append(out, models.RuleRecord{Rule: r, State: state})
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (b *Backend) Enable(ctx context.Context, id string) (models.RuleState, error) {
	return b.setEnabled(ctx, id, true, "")
}

func (b *Backend) Disable(ctx context.Context, id, reason string) (models.RuleState, error) {
	return b.setEnabled(ctx, id, false, reason)
}

func (b *Backend) setEnabled(ctx context.Context, id string, enabled bool, reason string) (models.RuleState, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RuleState{}, corerr.New(corerr.BackendUnavailable, err, "begin transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT rule_id, enabled, disabled_reason, disabled_at, updated_at FROM rule_state WHERE rule_id = ?`, id)
	prior, err := scanState(row)
	if err == sql.ErrNoRows {
		var exists int
		_ = tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rules WHERE rule_id = ?`, id).Scan(&exists)
		if exists == 0 {
			return models.RuleState{}, corerr.New(corerr.NotFound, nil, "rule %s not found", id)
		}
	} else if err != nil {
		return models.RuleState{}, corerr.New(corerr.BackendUnavailable, err, "read rule_state %s", id)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var disabledAt any
	if !enabled {
		disabledAt = now
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rule_state (rule_id, enabled, disabled_reason, disabled_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET enabled=excluded.enabled, disabled_reason=excluded.disabled_reason,
			disabled_at=excluded.disabled_at, updated_at=excluded.updated_at`,
		id, boolToInt(enabled), reason, disabledAt, now)
	if err != nil {
		return models.RuleState{}, corerr.New(corerr.BackendUnavailable, err, "update rule_state %s", id)
	}

	if err := tx.Commit(); err != nil {
		return models.RuleState{}, corerr.New(corerr.BackendUnavailable, err, "commit rule_state update")
	}
	return prior, nil
}

func (b *Backend) BulkSet(ctx context.Context, updates []store.Update) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, corerr.New(corerr.BackendUnavailable, err, "begin transaction")
	}
	defer tx.Rollback()

	for _, u := range updates {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rules WHERE rule_id = ?`, u.RuleID).Scan(&exists); err != nil {
			return 0, corerr.New(corerr.BackendUnavailable, err, "check rule %s", u.RuleID)
		}
		if exists == 0 {
			return 0, corerr.New(corerr.NotFound, nil, "rule %s not found", u.RuleID)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, u := range updates {
		var disabledAt any
		if !u.Enabled {
			disabledAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rule_state (rule_id, enabled, disabled_reason, disabled_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(rule_id) DO UPDATE SET enabled=excluded.enabled, disabled_reason=excluded.disabled_reason,
				disabled_at=excluded.disabled_at, updated_at=excluded.updated_at`,
			u.RuleID, boolToInt(u.Enabled), u.Reason, disabledAt, now); err != nil {
			return 0, corerr.New(corerr.BackendUnavailable, err, "bulk_set rule %s", u.RuleID)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, corerr.New(corerr.BackendUnavailable, err, "commit bulk_set")
	}
	return len(updates), nil
}

func (b *Backend) Statistics(ctx context.Context) (store.Stats, error) {
	stats := store.Stats{BySeverity: make(map[models.Severity]int), ByCategory: make(map[string]models.Category)}

	rows, err := b.db.QueryContext(ctx, `
		SELECT r.category, r.severity, COALESCE(s.enabled, 0)
		FROM rules r LEFT JOIN rule_state s ON s.rule_id = r.rule_id`)
	if err != nil {
		return stats, corerr.New(corerr.BackendUnavailable, err, "statistics")
	}
	defer rows.Close()

	for rows.Next() {
		var category, severity string
		var enabled int
		if err := rows.Scan(&category, &severity, &enabled); err != nil {
			return stats, corerr.New(corerr.BackendUnavailable, err, "scan statistics row")
		}
		stats.Total++
		stats.BySeverity[models.Severity(severity)]++
		cat := stats.ByCategory[category]
		cat.Name = category
		cat.Count++
		if enabled != 0 {
			cat.EnabledCount++
			stats.Enabled++
		} else {
			stats.Disabled++
		}
		stats.ByCategory[category] = cat
	}
	return stats, rows.Err()
}

func (b *Backend) RecordEvent(ctx context.Context, event models.UsageEvent) error {
	event = event.Truncate()
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_, err := b.db.ExecContext(ctx, `INSERT INTO usage_events (timestamp, rule_id, event_kind, context) VALUES (?, ?, ?, ?)`,
		event.Timestamp.UTC().Format(time.RFC3339), event.RuleID, string(event.EventKind), event.Context)
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "record usage event")
	}
	return nil
}

func (b *Backend) Health(ctx context.Context) store.HealthStatus {
	var version string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil {
		return store.HealthStatus{State: store.Unhealthy, Reason: err.Error()}
	}
	if version != SupportedSchemaVersion {
		return store.HealthStatus{State: store.Unhealthy, Reason: "unsupported schema_version " + version}
	}

	var raw string
	_ = b.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'rule_count'`).Scan(&raw)
	declared, _ := strconv.Atoi(raw)
	var actual int
	_ = b.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM rules`).Scan(&actual)
	if declared != actual {
		return store.HealthStatus{State: store.Degraded, Reason: "metadata rule_count out of sync"}
	}
	return store.HealthStatus{State: store.Healthy}
}

func (b *Backend) Snapshot(ctx context.Context) (store.Snapshot, error) {
	recs, err := b.ListRules(ctx, store.Filter{})
	if err != nil {
		return store.Snapshot{}, err
	}
	snap := store.Snapshot{
		SchemaVersion: SupportedSchemaVersion,
		WrittenAt:     time.Now().UTC(),
		Rules:         make(map[string]models.Rule, len(recs)),
		State:         make(map[string]models.RuleState, len(recs)),
	}
	for _, rec := range recs {
		snap.Rules[rec.Rule.RuleID] = rec.Rule
		snap.State[rec.Rule.RuleID] = rec.State
	}

	rows, err := b.db.QueryContext(ctx, `SELECT timestamp, rule_id, event_kind, context FROM usage_events`)
	if err != nil {
		return store.Snapshot{}, corerr.New(corerr.BackendUnavailable, err, "snapshot usage_events")
	}
	defer rows.Close()
	for rows.Next() {
		var ts, ruleID, kind, ctxStr string
		if err := rows.Scan(&ts, &ruleID, &kind, &ctxStr); err != nil {
			return store.Snapshot{}, corerr.New(corerr.BackendUnavailable, err, "scan usage_events")
		}
		t, _ := time.Parse(time.RFC3339, ts)
		snap.UsageEvents = append(snap.UsageEvents, models.UsageEvent{Timestamp: t, RuleID: ruleID, EventKind: models.UsageEventKind(kind), Context: ctxStr})
	}
	return snap, nil
}

func (b *Backend) ApplySnapshot(ctx context.Context, snap store.Snapshot) error {
	if snap.SchemaVersion != "" && snap.SchemaVersion != SupportedSchemaVersion {
		return corerr.New(corerr.IncompatibleSchema, nil, "cannot apply snapshot with schema_version %s", snap.SchemaVersion)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM rule_state`, `DELETE FROM rules`, `DELETE FROM usage_events`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return corerr.New(corerr.BackendUnavailable, err, "clear relational tables")
		}
	}

	for id, rule := range snap.Rules {
		if err := insertRule(ctx, tx, rule); err != nil {
			return err
		}
		state := snap.State[id]
		if err := upsertState(ctx, tx, state); err != nil {
			return err
		}
	}
	for _, ev := range snap.UsageEvents {
		if _, err := tx.ExecContext(ctx, `INSERT INTO usage_events (timestamp, rule_id, event_kind, context) VALUES (?, ?, ?, ?)`,
			ev.Timestamp.UTC().Format(time.RFC3339), ev.RuleID, string(ev.EventKind), ev.Context); err != nil {
			return corerr.New(corerr.BackendUnavailable, err, "apply snapshot usage_event")
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET value = ? WHERE key = 'rule_count'`, strconv.Itoa(len(snap.Rules))); err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "update rule_count metadata")
	}

	return tx.Commit()
}

func (b *Backend) LoadCatalog(ctx context.Context, rules []models.Rule) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "begin transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range rules {
		if err := insertRule(ctx, tx, r); err != nil {
			return err
		}
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM rule_state WHERE rule_id = ?`, r.RuleID).Scan(&exists); err != nil {
			return corerr.New(corerr.BackendUnavailable, err, "check rule_state %s", r.RuleID)
		}
		if exists == 0 {
			if err := upsertState(ctx, tx, models.NewDefaultState(r, now)); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET value = (SELECT CAST(COUNT(1) AS TEXT) FROM rules) WHERE key = 'rule_count'`); err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "update rule_count metadata")
	}

	return tx.Commit()
}

func insertRule(ctx context.Context, tx *sql.Tx, r models.Rule) error {
	requirements, _ := json.Marshal(r.Requirements)
	policyLinkage, _ := json.Marshal(r.PolicyLinkage)
	extras, _ := json.Marshal(r.Extras)
	var effDate, lastUpd string
	if !r.EffectiveDate.IsZero() {
		effDate = r.EffectiveDate.Format(time.RFC3339)
	}
	if !r.LastUpdated.IsZero() {
		lastUpd = r.LastUpdated.Format(time.RFC3339)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET title=excluded.title, category=excluded.category,
			severity=excluded.severity, description=excluded.description, requirements=excluded.requirements,
			version=excluded.version, effective_date=excluded.effective_date, last_updated=excluded.last_updated,
			policy_linkage=excluded.policy_linkage, enabled_default=excluded.enabled_default,
			validator_hint=excluded.validator_hint, extras=excluded.extras, raw_definition=excluded.raw_definition`,
		r.RuleID, r.Title, r.Category, string(r.Severity), r.Description, string(requirements), r.Version,
		effDate, lastUpd, string(policyLinkage), boolToInt(r.EnabledDefault), r.ValidatorHint, string(extras), r.RawDefinition)
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "insert rule %s", r.RuleID)
	}
	return nil
}

func upsertState(ctx context.Context, tx *sql.Tx, s models.RuleState) error {
	var disabledAt any
	if s.DisabledAt != nil {
		disabledAt = s.DisabledAt.UTC().Format(time.RFC3339)
	}
	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rule_state (rule_id, enabled, disabled_reason, disabled_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET enabled=excluded.enabled, disabled_reason=excluded.disabled_reason,
			disabled_at=excluded.disabled_at, updated_at=excluded.updated_at`,
		s.RuleID, boolToInt(s.Enabled), s.DisabledReason, disabledAt, updatedAt.Format(time.RFC3339))
	if err != nil {
		return corerr.New(corerr.BackendUnavailable, err, "upsert rule_state %s", s.RuleID)
	}
	return nil
}

var _ store.Backend = (*Backend)(nil)
