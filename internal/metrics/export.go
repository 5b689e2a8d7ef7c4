package metrics

import (
	"context"
	"database/sql"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"codeberg.org/mutker/vawtctl/internal/errors"
)

// csvHeader matches the column layout of the controller's field log.
var csvHeader = []string{
	"timestamp", "state", "wind_speed_ms", "rotor_rpm", "voltage_dc",
	"current_dc", "power_w", "lambda", "cp", "duty", "brake",
}

type exporter struct {
	db *sql.DB
}

// OpenExporter opens the sample database read-only.
func OpenExporter(dbPath string) (Exporter, io.Closer, error) {
	errFactory := errors.New()

	if dbPath == "" {
		return nil, nil, errFactory.New(ErrInvalidDBPath)
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, nil, errFactory.Wrap(ErrStorageInit, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, errFactory.Wrap(ErrStorageInit, err)
	}

	return &exporter{db: db}, db, nil
}

// Export writes the samples of runID, or of every run when runID is empty,
// and returns the number of rows written.
func (e *exporter) Export(ctx context.Context, runID string, w io.Writer) (int, error) {
	errFactory := errors.New()

	rows, err := e.db.QueryContext(ctx, selectSamplesSQL, runID, runID)
	if err != nil {
		return 0, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	out := csv.NewWriter(w)
	if err := out.Write(csvHeader); err != nil {
		return 0, errFactory.Wrap(ErrQueryFailed, err)
	}

	n := 0
	for rows.Next() {
		var (
			ts                                     int64
			mode                                   string
			wind, rpm, volts, amps, power, lam, cp sql.NullFloat64
			duty                                   float64
			brake                                  int64
		)
		if err := rows.Scan(&ts, &mode, &wind, &rpm, &volts, &amps, &power, &lam, &cp, &duty, &brake); err != nil {
			return n, errFactory.Wrap(ErrQueryFailed, err)
		}

		record := []string{
			time.UnixMilli(ts).UTC().Format(time.RFC3339Nano),
			mode,
			formatNullable(wind, 2),
			formatNullable(rpm, 1),
			formatNullable(volts, 2),
			formatNullable(amps, 2),
			formatNullable(power, 1),
			formatNullable(lam, 3),
			formatNullable(cp, 3),
			strconv.FormatFloat(duty, 'f', 3, 64),
			strconv.FormatInt(brake, 10),
		}
		if err := out.Write(record); err != nil {
			return n, errFactory.Wrap(ErrQueryFailed, err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, errFactory.Wrap(ErrQueryFailed, err)
	}

	out.Flush()
	if err := out.Error(); err != nil {
		return n, errFactory.Wrap(ErrQueryFailed, err)
	}

	return n, nil
}

func formatNullable(v sql.NullFloat64, prec int) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', prec, 64)
}
