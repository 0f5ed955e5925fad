package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/green-route/internal/models"
)

// PostgresStore keeps each record as a JSONB document next to the columns
// used for lookups and filtering.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes a schema script, typically migrations/001_create_fleet.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) LoadRoute(ctx context.Context, routeID string) (*models.RouteRecord, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM routes WHERE id=$1`, routeID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load route %s: %w", routeID, err)
	}
	var r models.RouteRecord
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode route %s: %w", routeID, err)
	}
	return &r, nil
}

func (p *PostgresStore) SaveRoute(ctx context.Context, r *models.RouteRecord) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode route %s: %w", r.RouteID, err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO routes(id, truck_id, status, created_at, updated_at, doc) VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET truck_id=EXCLUDED.truck_id, status=EXCLUDED.status, updated_at=EXCLUDED.updated_at, doc=EXCLUDED.doc`,
		r.RouteID, r.TruckID, string(r.Status), r.CreatedAt, r.UpdatedAt, doc)
	if err != nil {
		return fmt.Errorf("save route %s: %w", r.RouteID, err)
	}
	return nil
}

// listRoutesQuery renders the filter into SQL with positional arguments.
func listRoutesQuery(f RouteFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if f.TruckID != "" {
		add("truck_id=?", f.TruckID)
	}
	if f.Status != "" {
		add("status=?", string(f.Status))
	}
	if !f.Since.IsZero() {
		add("created_at>=?", f.Since)
	}
	q := "SELECT doc FROM routes"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}
	return q, args
}

func (p *PostgresStore) ListRoutes(ctx context.Context, f RouteFilter) ([]*models.RouteRecord, error) {
	q, args := listRoutesQuery(f)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()
	var out []*models.RouteRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list routes: %w", err)
		}
		var r models.RouteRecord
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("decode route: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) LoadTruck(ctx context.Context, truckID string) (*models.TruckRecord, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM trucks WHERE id=$1`, truckID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load truck %s: %w", truckID, err)
	}
	var t models.TruckRecord
	if err := json.Unmarshal(doc, &t); err != nil {
		return nil, fmt.Errorf("decode truck %s: %w", truckID, err)
	}
	return &t, nil
}

func (p *PostgresStore) SaveTruck(ctx context.Context, t *models.TruckRecord) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode truck %s: %w", t.TruckID, err)
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO trucks(id, status, lat, lon, updated_at, doc) VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, lat=EXCLUDED.lat, lon=EXCLUDED.lon, updated_at=EXCLUDED.updated_at, doc=EXCLUDED.doc`,
		t.TruckID, string(t.Status), t.CurrentLocation.Latitude, t.CurrentLocation.Longitude, t.UpdatedAt, doc)
	if err != nil {
		return fmt.Errorf("save truck %s: %w", t.TruckID, err)
	}
	return nil
}

func (p *PostgresStore) ListTrucks(ctx context.Context) ([]*models.TruckRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM trucks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list trucks: %w", err)
	}
	defer rows.Close()
	var out []*models.TruckRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list trucks: %w", err)
		}
		var t models.TruckRecord
		if err := json.Unmarshal(doc, &t); err != nil {
			return nil, fmt.Errorf("decode truck: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpdateTruckLocation patches the document in place so concurrent status
// edits are not clobbered.
func (p *PostgresStore) UpdateTruckLocation(ctx context.Context, truckID string, loc models.Location) error {
	now := time.Now().UTC()
	locDoc, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	nowDoc, _ := json.Marshal(now)
	res, err := p.db.ExecContext(ctx, `UPDATE trucks SET lat=$2, lon=$3, updated_at=$4,
		doc=jsonb_set(jsonb_set(doc, '{currentLocation}', $5::jsonb), '{updatedAt}', $6::jsonb) WHERE id=$1`,
		truckID, loc.Latitude, loc.Longitude, now, string(locDoc), string(nowDoc))
	if err != nil {
		return fmt.Errorf("update truck %s location: %w", truckID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("truck %s: %w", truckID, ErrNotFound)
	}
	return nil
}
