package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// SQLRequestTracker is a Postgres-backed RequestTracker.
type SQLRequestTracker struct {
	db *sql.DB
}

func NewSQLRequestTracker(db *sql.DB) *SQLRequestTracker { return &SQLRequestTracker{db: db} }

func (t *SQLRequestTracker) Put(ctx context.Context, req *model.AnalysisRequest) error {
	var rootBefore, rootAfter []byte
	var err error
	if req.RootBefore != nil {
		if rootBefore, err = json.Marshal(req.RootBefore); err != nil {
			return err
		}
	}
	if req.Root != nil {
		if rootAfter, err = json.Marshal(req.Root); err != nil {
			return err
		}
	}

	var leaseExpiry interface{}
	if !req.LeaseExpiry.IsZero() {
		leaseExpiry = req.LeaseExpiry
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO analysis_request
			(id, root_uuid, observable_key, amt_name, amt_version, root_before, root_after,
			 lease_owner, lease_expiry, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			observable_key = EXCLUDED.observable_key,
			amt_name = EXCLUDED.amt_name,
			amt_version = EXCLUDED.amt_version,
			root_before = EXCLUDED.root_before,
			root_after = EXCLUDED.root_after,
			lease_owner = EXCLUDED.lease_owner,
			lease_expiry = EXCLUDED.lease_expiry,
			state = EXCLUDED.state
	`, req.ID, req.RootUUID, req.ObservableKey, req.AMTName, req.AMTVersion, rootBefore, rootAfter,
		req.LeaseOwner, leaseExpiry, string(req.State), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("tracker: upsert analysis_request: %w", err)
	}
	return nil
}

func (t *SQLRequestTracker) Get(ctx context.Context, id string) (*model.AnalysisRequest, bool, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT root_uuid, observable_key, amt_name, amt_version, root_before, root_after,
		       lease_owner, lease_expiry, state, created_at
		FROM analysis_request WHERE id = $1
	`, id)

	req := &model.AnalysisRequest{ID: id}
	var rootBefore, rootAfter []byte
	var leaseExpiry sql.NullTime
	var state string
	if err := row.Scan(&req.RootUUID, &req.ObservableKey, &req.AMTName, &req.AMTVersion, &rootBefore, &rootAfter,
		&req.LeaseOwner, &leaseExpiry, &state, &req.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("tracker: scan analysis_request: %w", err)
	}
	req.State = model.RequestState(state)
	if leaseExpiry.Valid {
		req.LeaseExpiry = leaseExpiry.Time
	}
	if len(rootBefore) > 0 {
		req.RootBefore = &model.RootAnalysis{}
		if err := json.Unmarshal(rootBefore, req.RootBefore); err != nil {
			return nil, false, err
		}
	}
	if len(rootAfter) > 0 {
		req.Root = &model.RootAnalysis{}
		if err := json.Unmarshal(rootAfter, req.Root); err != nil {
			return nil, false, err
		}
	}
	return req, true, nil
}

func (t *SQLRequestTracker) Delete(ctx context.Context, id string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM analysis_request WHERE id = $1`, id)
	return err
}

func (t *SQLRequestTracker) List(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id FROM analysis_request`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

var _ RequestTracker = (*SQLRequestTracker)(nil)

// SQLModuleTypeTracker is a Postgres-backed ModuleTypeTracker.
type SQLModuleTypeTracker struct {
	db *sql.DB
}

func NewSQLModuleTypeTracker(db *sql.DB) *SQLModuleTypeTracker { return &SQLModuleTypeTracker{db: db} }

func (t *SQLModuleTypeTracker) Put(ctx context.Context, amt *model.AnalysisModuleType) error {
	obsTypes, err := marshalStringSet(amt.ObservableTypes)
	if err != nil {
		return err
	}
	reqDirectives, err := marshalStringSet(amt.RequiredDirectives)
	if err != nil {
		return err
	}
	reqTags, err := marshalStringSet(amt.RequiredTags)
	if err != nil {
		return err
	}
	deps, err := marshalStringSet(amt.Dependencies)
	if err != nil {
		return err
	}
	extendedKeys, err := json.Marshal(amt.ExtendedCacheKeys)
	if err != nil {
		return err
	}
	var cacheTTLSeconds interface{}
	if amt.CacheTTL != nil {
		cacheTTLSeconds = int64(*amt.CacheTTL / time.Second)
	}

	_, err = t.db.ExecContext(ctx, `
		INSERT INTO analysis_module_type
			(name, version, observable_types, required_directives, required_tags,
			 cache_ttl_seconds, extended_cache_keys, timeout_seconds, manual, dependencies, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (name) DO UPDATE SET
			version = EXCLUDED.version,
			observable_types = EXCLUDED.observable_types,
			required_directives = EXCLUDED.required_directives,
			required_tags = EXCLUDED.required_tags,
			cache_ttl_seconds = EXCLUDED.cache_ttl_seconds,
			extended_cache_keys = EXCLUDED.extended_cache_keys,
			timeout_seconds = EXCLUDED.timeout_seconds,
			manual = EXCLUDED.manual,
			dependencies = EXCLUDED.dependencies,
			updated_at = EXCLUDED.updated_at
	`, amt.Name, amt.Version, obsTypes, reqDirectives, reqTags,
		cacheTTLSeconds, extendedKeys, int64(amt.Timeout/time.Second), amt.Manual, deps, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("tracker: upsert analysis_module_type: %w", err)
	}
	return nil
}

func (t *SQLModuleTypeTracker) Get(ctx context.Context, name string) (*model.AnalysisModuleType, bool, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT version, observable_types, required_directives, required_tags,
		       cache_ttl_seconds, extended_cache_keys, timeout_seconds, manual, dependencies
		FROM analysis_module_type WHERE name = $1
	`, name)

	amt := &model.AnalysisModuleType{Name: name}
	var obsTypes, reqDirectives, reqTags, extendedKeys, deps []byte
	var cacheTTLSeconds sql.NullInt64
	var timeoutSeconds int64
	if err := row.Scan(&amt.Version, &obsTypes, &reqDirectives, &reqTags,
		&cacheTTLSeconds, &extendedKeys, &timeoutSeconds, &amt.Manual, &deps); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("tracker: scan analysis_module_type: %w", err)
	}
	amt.Timeout = time.Duration(timeoutSeconds) * time.Second
	if cacheTTLSeconds.Valid {
		ttl := time.Duration(cacheTTLSeconds.Int64) * time.Second
		amt.CacheTTL = &ttl
	}
	var err error
	if amt.ObservableTypes, err = unmarshalStringSet(obsTypes); err != nil {
		return nil, false, err
	}
	if amt.RequiredDirectives, err = unmarshalStringSet(reqDirectives); err != nil {
		return nil, false, err
	}
	if amt.RequiredTags, err = unmarshalStringSet(reqTags); err != nil {
		return nil, false, err
	}
	if amt.Dependencies, err = unmarshalStringSet(deps); err != nil {
		return nil, false, err
	}
	if len(extendedKeys) > 0 {
		if err := json.Unmarshal(extendedKeys, &amt.ExtendedCacheKeys); err != nil {
			return nil, false, err
		}
	}
	return amt, true, nil
}

func (t *SQLModuleTypeTracker) Delete(ctx context.Context, name string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM analysis_module_type WHERE name = $1`, name)
	return err
}

func (t *SQLModuleTypeTracker) List(ctx context.Context) ([]*model.AnalysisModuleType, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT name FROM analysis_module_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.AnalysisModuleType, 0, len(names))
	for _, name := range names {
		amt, ok, err := t.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, amt)
		}
	}
	return out, nil
}

var _ ModuleTypeTracker = (*SQLModuleTypeTracker)(nil)

// SQLAlertTracker is a Postgres-backed AlertTracker.
type SQLAlertTracker struct {
	db *sql.DB
}

func NewSQLAlertTracker(db *sql.DB) *SQLAlertTracker { return &SQLAlertTracker{db: db} }

func (t *SQLAlertTracker) Put(ctx context.Context, alert *Alert) error {
	detections, err := json.Marshal(alert.Detections)
	if err != nil {
		return err
	}
	alertedAt := alert.AlertedAt
	if alertedAt.IsZero() {
		alertedAt = time.Now().UTC()
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO alert (root_uuid, alerted_at, detections)
		VALUES ($1,$2,$3)
		ON CONFLICT (root_uuid) DO UPDATE SET alerted_at = EXCLUDED.alerted_at, detections = EXCLUDED.detections
	`, alert.RootUUID, alertedAt, detections)
	if err != nil {
		return fmt.Errorf("tracker: upsert alert: %w", err)
	}
	return nil
}

func (t *SQLAlertTracker) Get(ctx context.Context, rootUUID string) (*Alert, bool, error) {
	row := t.db.QueryRowContext(ctx, `SELECT alerted_at, detections FROM alert WHERE root_uuid = $1`, rootUUID)
	a := &Alert{RootUUID: rootUUID}
	var detections []byte
	if err := row.Scan(&a.AlertedAt, &detections); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("tracker: scan alert: %w", err)
	}
	if len(detections) > 0 {
		if err := json.Unmarshal(detections, &a.Detections); err != nil {
			return nil, false, err
		}
	}
	return a, true, nil
}

func (t *SQLAlertTracker) Delete(ctx context.Context, rootUUID string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM alert WHERE root_uuid = $1`, rootUUID)
	return err
}

func (t *SQLAlertTracker) List(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT root_uuid FROM alert`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, err
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

var _ AlertTracker = (*SQLAlertTracker)(nil)
