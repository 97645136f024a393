package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ace-core/ace/internal/model"
)

// SQLRootTracker is a Postgres-backed RootTracker, adapted from the
// teacher's internal/app/storage/postgres.Store: plain database/sql with
// JSON-marshaled set columns. A root's full observable/analysis graph is
// always loaded and saved whole, consistent with the root lock being the
// only granularity of mutation (spec §5 shared-resource policy), so Put
// replaces a root's child rows wholesale inside one transaction.
type SQLRootTracker struct {
	db *sql.DB
}

// NewSQLRootTracker returns a tracker backed by db.
func NewSQLRootTracker(db *sql.DB) *SQLRootTracker {
	return &SQLRootTracker{db: db}
}

func marshalStringSet(s model.StringSet) ([]byte, error) { return json.Marshal(s.Slice()) }

func unmarshalStringSet(data []byte) (model.StringSet, error) {
	var items []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
	}
	return model.NewStringSet(items...), nil
}

func marshalDetectionSet(s model.DetectionSet) ([]byte, error) {
	points := make([]model.DetectionPoint, 0, len(s))
	for _, p := range s {
		points = append(points, p)
	}
	return json.Marshal(points)
}

func unmarshalDetectionSet(data []byte) (model.DetectionSet, error) {
	var points []model.DetectionPoint
	if len(data) > 0 {
		if err := json.Unmarshal(data, &points); err != nil {
			return nil, err
		}
	}
	return model.NewDetectionSet(points...), nil
}

func (t *SQLRootTracker) Put(ctx context.Context, root *model.RootAnalysis) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tags, err := marshalStringSet(root.Tags)
	if err != nil {
		return err
	}
	detections, err := marshalDetectionSet(root.Detections)
	if err != nil {
		return err
	}
	directives, err := marshalStringSet(root.Directives)
	if err != nil {
		return err
	}
	outstanding, err := marshalStringSet(root.OutstandingRequests)
	if err != nil {
		return err
	}

	root.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO root_analysis
			(uuid, description, analysis_mode, tool, tool_instance, event_time, details_ref,
			 tags, detections, directives, outstanding_requests, completed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (uuid) DO UPDATE SET
			description = EXCLUDED.description,
			analysis_mode = EXCLUDED.analysis_mode,
			tool = EXCLUDED.tool,
			tool_instance = EXCLUDED.tool_instance,
			event_time = EXCLUDED.event_time,
			details_ref = EXCLUDED.details_ref,
			tags = EXCLUDED.tags,
			detections = EXCLUDED.detections,
			directives = EXCLUDED.directives,
			outstanding_requests = EXCLUDED.outstanding_requests,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at
	`, root.UUID, root.Description, root.AnalysisMode, root.Tool, root.ToolInstance, root.EventTime,
		root.DetailsRef, tags, detections, directives, outstanding, root.Completed, root.CreatedAt, root.UpdatedAt)
	if err != nil {
		return fmt.Errorf("tracker: upsert root_analysis: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM observable WHERE root_uuid = $1`, root.UUID); err != nil {
		return fmt.Errorf("tracker: clear observable rows: %w", err)
	}

	for key, o := range root.Observables {
		oTags, err := marshalStringSet(o.Tags)
		if err != nil {
			return err
		}
		oDetections, err := marshalDetectionSet(o.Detections)
		if err != nil {
			return err
		}
		oDirectives, err := marshalStringSet(o.Directives)
		if err != nil {
			return err
		}
		oOutstanding, err := marshalStringSet(o.OutstandingRequests)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO observable
				(root_uuid, identity_key, obs_type, obs_value, obs_time, tags, detections, directives, outstanding_requests)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, root.UUID, key, o.Type, o.Value, o.Time, oTags, oDetections, oDirectives, oOutstanding); err != nil {
			return fmt.Errorf("tracker: insert observable %s: %w", key, err)
		}

		for amtName, a := range o.Analyses {
			aAdded, err := marshalStringSet(a.AddedObservableKeys)
			if err != nil {
				return err
			}
			aTags, err := marshalStringSet(a.Tags)
			if err != nil {
				return err
			}
			aDetections, err := marshalDetectionSet(a.Detections)
			if err != nil {
				return err
			}
			aDirectives, err := marshalStringSet(a.Directives)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO analysis
					(root_uuid, identity_key, amt_name, amt_version, details_ref, added_observable_keys,
					 tags, detections, directives, status_state, status_reason)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			`, root.UUID, key, amtName, a.ModuleVersion, a.DetailsRef, aAdded,
				aTags, aDetections, aDirectives, string(a.Status.State), a.Status.Reason); err != nil {
				return fmt.Errorf("tracker: insert analysis %s/%s: %w", key, amtName, err)
			}
		}
	}

	return tx.Commit()
}

func (t *SQLRootTracker) Get(ctx context.Context, uuid string) (*model.RootAnalysis, bool, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT description, analysis_mode, tool, tool_instance, event_time, details_ref,
		       tags, detections, directives, outstanding_requests, completed, created_at, updated_at
		FROM root_analysis WHERE uuid = $1
	`, uuid)

	root := model.NewRootAnalysis(uuid)
	var tags, detections, directives, outstanding []byte
	if err := row.Scan(&root.Description, &root.AnalysisMode, &root.Tool, &root.ToolInstance, &root.EventTime,
		&root.DetailsRef, &tags, &detections, &directives, &outstanding, &root.Completed,
		&root.CreatedAt, &root.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("tracker: scan root_analysis: %w", err)
	}

	var err error
	if root.Tags, err = unmarshalStringSet(tags); err != nil {
		return nil, false, err
	}
	if root.Detections, err = unmarshalDetectionSet(detections); err != nil {
		return nil, false, err
	}
	if root.Directives, err = unmarshalStringSet(directives); err != nil {
		return nil, false, err
	}
	if root.OutstandingRequests, err = unmarshalStringSet(outstanding); err != nil {
		return nil, false, err
	}

	oRows, err := t.db.QueryContext(ctx, `
		SELECT identity_key, obs_type, obs_value, obs_time, tags, detections, directives, outstanding_requests
		FROM observable WHERE root_uuid = $1
	`, uuid)
	if err != nil {
		return nil, false, fmt.Errorf("tracker: query observable rows: %w", err)
	}
	defer oRows.Close()

	for oRows.Next() {
		var key, obsType, obsValue string
		var obsTime sql.NullTime
		var oTags, oDetections, oDirectives, oOutstanding []byte
		if err := oRows.Scan(&key, &obsType, &obsValue, &obsTime, &oTags, &oDetections, &oDirectives, &oOutstanding); err != nil {
			return nil, false, fmt.Errorf("tracker: scan observable row: %w", err)
		}
		var t2 *time.Time
		if obsTime.Valid {
			t2 = &obsTime.Time
		}
		o := model.NewObservableValue(key, obsType, obsValue, t2)
		if o.Tags, err = unmarshalStringSet(oTags); err != nil {
			return nil, false, err
		}
		if o.Detections, err = unmarshalDetectionSet(oDetections); err != nil {
			return nil, false, err
		}
		if o.Directives, err = unmarshalStringSet(oDirectives); err != nil {
			return nil, false, err
		}
		if o.OutstandingRequests, err = unmarshalStringSet(oOutstanding); err != nil {
			return nil, false, err
		}
		root.Observables[key] = o
	}
	if err := oRows.Err(); err != nil {
		return nil, false, err
	}

	aRows, err := t.db.QueryContext(ctx, `
		SELECT identity_key, amt_name, amt_version, details_ref, added_observable_keys,
		       tags, detections, directives, status_state, status_reason
		FROM analysis WHERE root_uuid = $1
	`, uuid)
	if err != nil {
		return nil, false, fmt.Errorf("tracker: query analysis rows: %w", err)
	}
	defer aRows.Close()

	for aRows.Next() {
		var key, amtName, amtVersion, detailsRef, statusState, statusReason string
		var aAdded, aTags, aDetections, aDirectives []byte
		if err := aRows.Scan(&key, &amtName, &amtVersion, &detailsRef, &aAdded,
			&aTags, &aDetections, &aDirectives, &statusState, &statusReason); err != nil {
			return nil, false, fmt.Errorf("tracker: scan analysis row: %w", err)
		}
		o, ok := root.Observables[key]
		if !ok {
			continue
		}
		a := model.NewAnalysis(amtName, amtVersion)
		a.DetailsRef = detailsRef
		a.Status = model.AnalysisStatus{State: model.AnalysisState(statusState), Reason: statusReason}
		if a.AddedObservableKeys, err = unmarshalStringSet(aAdded); err != nil {
			return nil, false, err
		}
		if a.Tags, err = unmarshalStringSet(aTags); err != nil {
			return nil, false, err
		}
		if a.Detections, err = unmarshalDetectionSet(aDetections); err != nil {
			return nil, false, err
		}
		if a.Directives, err = unmarshalStringSet(aDirectives); err != nil {
			return nil, false, err
		}
		o.Analyses[amtName] = a
	}
	if err := aRows.Err(); err != nil {
		return nil, false, err
	}

	return root, true, nil
}

func (t *SQLRootTracker) Delete(ctx context.Context, uuid string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM root_analysis WHERE uuid = $1`, uuid)
	return err
}

func (t *SQLRootTracker) List(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT uuid FROM root_analysis`)
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

var _ RootTracker = (*SQLRootTracker)(nil)
