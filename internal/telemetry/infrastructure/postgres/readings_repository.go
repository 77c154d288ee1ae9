package postgres

import (
	"context"
	"database/sql"
	"errors"

	telemetry "solarwatch/internal/telemetry/domain"
)

// ReadingsRepository archives per-cycle samples. Each poll cycle fully
// supersedes the previous one for the same device and window, so writes
// upsert on (plant, serial, epoch).
type ReadingsRepository struct {
	db *sql.DB
}

// NewReadingsRepository constructs a repository.
func NewReadingsRepository(db *sql.DB) *ReadingsRepository {
	return &ReadingsRepository{db: db}
}

// SaveSeries upserts all samples of one device's series.
func (r *ReadingsRepository) SaveSeries(ctx context.Context, device telemetry.Device, series telemetry.Series) error {
	if r == nil || r.db == nil {
		return errors.New("readings repo: nil db")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	if len(series) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sample := range series {
		value := sql.NullFloat64{}
		if sample.Value != nil {
			value = sql.NullFloat64{Float64: *sample.Value, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO readings (plant, serial, epoch, at, value, units)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (plant, serial, epoch)
DO UPDATE SET at = EXCLUDED.at, value = EXCLUDED.value, units = EXCLUDED.units`,
			device.Plant,
			device.Serial,
			sample.Epoch,
			sample.At.UTC(),
			value,
			sample.Units,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSeries loads archived samples for one device in an epoch window,
// ascending.
func (r *ReadingsRepository) ListSeries(ctx context.Context, key telemetry.DeviceKey, fromEpoch, toEpoch int64) (telemetry.Series, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("readings repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT epoch, at, value, units
FROM readings
WHERE plant = $1 AND serial = $2 AND epoch >= $3 AND epoch < $4
ORDER BY epoch ASC`, key.Plant, key.Serial, fromEpoch, toEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series telemetry.Series
	for rows.Next() {
		var sample telemetry.Sample
		var value sql.NullFloat64
		if err := rows.Scan(&sample.Epoch, &sample.At, &value, &sample.Units); err != nil {
			return nil, err
		}
		if value.Valid {
			v := value.Float64
			sample.Value = &v
		}
		series = append(series, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return series, nil
}
