// Package history persists decision outcomes in SQLite.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

//go:embed sql/schema.sql
var schemaSQL string

//go:embed sql/insert-outcome.sql
var insertOutcomeSQL string

//go:embed sql/list-outcomes.sql
var listOutcomesSQL string

//go:embed sql/get-outcome.sql
var getOutcomeSQL string

// timestampLayout is fixed-width so that stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNotFound is returned by Get for an unknown outcome ID.
var ErrNotFound = errors.New("outcome not found")

// Query filters List. A nil Coordinate lists every site.
type Query struct {
	Coordinate *models.Coordinate
	Limit      int
	Offset     int
}

// Store reads and writes decision outcomes.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore applies the schema to db and returns a Store.
func NewStore(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record inserts o. Implements decision.Recorder.
func (s *Store) Record(ctx context.Context, o models.Outcome) error {
	in := o.Input
	_, err := s.db.ExecContext(ctx, insertOutcomeSQL,
		o.ID,
		o.DecidedAt.UTC().Format(timestampLayout),
		in.Coordinate.Lon,
		in.Coordinate.Lat,
		in.Range.Start.UTC().Format(time.DateOnly),
		in.Range.End.UTC().Format(time.DateOnly),
		in.WellDrained,
		string(in.Soil),
		string(o.Soil),
		string(o.Zone),
		o.ZoneName,
		o.FPP,
		o.FPPET,
		o.Ratio,
		string(o.Result),
	)
	if err != nil {
		observability.HistoryWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("insert outcome %s: %w", o.ID, err)
	}
	observability.HistoryWritesTotal.WithLabelValues("success").Inc()
	return nil
}

// List returns outcomes newest first.
func (s *Store) List(ctx context.Context, q Query) ([]models.Outcome, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	filter, lat, lon := 0, 0.0, 0.0
	if q.Coordinate != nil {
		filter, lat, lon = 1, q.Coordinate.Lat, q.Coordinate.Lon
	}
	rows, err := s.db.QueryContext(ctx, listOutcomesSQL, filter, lat, lon, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.Error("close outcome rows", zap.Error(err))
		}
	}()

	out := []models.Outcome{}
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Get returns the outcome with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (models.Outcome, error) {
	o, err := scanOutcome(s.db.QueryRowContext(ctx, getOutcomeSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return o, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row scanner) (models.Outcome, error) {
	var (
		o                          models.Outcome
		decidedAt, start, end      string
		inputSoil, soil, zone, res string
	)
	err := row.Scan(&o.ID, &decidedAt, &o.Input.Coordinate.Lon, &o.Input.Coordinate.Lat,
		&start, &end, &o.Input.WellDrained, &inputSoil, &soil, &zone, &o.ZoneName,
		&o.FPP, &o.FPPET, &o.Ratio, &res)
	if err != nil {
		return models.Outcome{}, err
	}

	if o.DecidedAt, err = time.Parse(timestampLayout, decidedAt); err != nil {
		return models.Outcome{}, fmt.Errorf("parse decided_at %q: %w", decidedAt, err)
	}
	if o.Input.Range.Start, err = time.Parse(time.DateOnly, start); err != nil {
		return models.Outcome{}, fmt.Errorf("parse start_date %q: %w", start, err)
	}
	if o.Input.Range.End, err = time.Parse(time.DateOnly, end); err != nil {
		return models.Outcome{}, fmt.Errorf("parse end_date %q: %w", end, err)
	}
	o.Input.Soil = models.Soil(inputSoil)
	o.Soil = models.Soil(soil)
	o.Zone = models.Zone(zone)
	o.Result = models.DecisionResult(res)
	return o, nil
}
