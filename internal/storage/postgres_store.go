package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/commute-pool/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS ride_events (
	ride_id        TEXT             NOT NULL,
	version        INT              NOT NULL,
	type           TEXT             NOT NULL,
	driver_id      TEXT             NOT NULL,
	rider_id       TEXT             NOT NULL DEFAULT '',
	rider_ids      TEXT[]           NOT NULL DEFAULT '{}',
	distance_km    DOUBLE PRECISION NOT NULL,
	duration_min   DOUBLE PRECISION NOT NULL,
	detour_min     DOUBLE PRECISION NOT NULL,
	waypoint_order INT[]            NOT NULL DEFAULT '{}',
	at             TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (ride_id, version)
);
CREATE INDEX IF NOT EXISTS ride_events_driver_at ON ride_events (driver_id, at DESC);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate creates the ride_events table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate ride_events: %w", err)
	}
	return nil
}

func (p *PostgresStore) SaveEvent(ctx context.Context, ev models.RideEvent) error {
	order := make([]int64, len(ev.WaypointOrder))
	for i, v := range ev.WaypointOrder {
		order[i] = int64(v)
	}
	riderIDs := ev.RiderIDs
	if riderIDs == nil {
		riderIDs = []string{}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_events(ride_id, version, type, driver_id, rider_id, rider_ids, distance_km, duration_min, detour_min, waypoint_order, at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) ON CONFLICT (ride_id, version) DO NOTHING`,
		ev.RideID, ev.Version, string(ev.Type), ev.DriverID, ev.RiderID, pq.Array(riderIDs),
		ev.DistanceKm, ev.DurationMin, ev.DetourMin, pq.Array(order), ev.At)
	return err
}

func (p *PostgresStore) History(ctx context.Context, driverID string, limit int) ([]models.RideEvent, error) {
	q := `SELECT ride_id, version, type, driver_id, rider_id, rider_ids, distance_km, duration_min, detour_min, waypoint_order, at
		FROM ride_events WHERE driver_id = $1 ORDER BY at DESC, version DESC`
	args := []any{driverID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RideEvent
	for rows.Next() {
		var (
			ev    models.RideEvent
			typ   string
			order pq.Int64Array
		)
		if err := rows.Scan(&ev.RideID, &ev.Version, &typ, &ev.DriverID, &ev.RiderID, pq.Array(&ev.RiderIDs),
			&ev.DistanceKm, &ev.DurationMin, &ev.DetourMin, &order, &ev.At); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		ev.WaypointOrder = make([]int, len(order))
		for i, v := range order {
			ev.WaypointOrder[i] = int(v)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
