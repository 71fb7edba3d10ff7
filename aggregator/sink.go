package aggregator

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver
)

// Sink persists finalized readings. Both insert operations are all-or-nothing
// for the records they receive; the caller does not retain a record after the
// call returns.
type Sink interface {
	Insert(r *Reading) error
	InsertBatch(rs []*Reading) error
	Close() error
}

// DBConfig represents the database configuration
type DBConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "mysql"
	DSN    string `yaml:"dsn"`
}

// DBSink writes readings to a SQL database. Optional measurements that were
// absent on the wire are stored as NULL, never zero.
type DBSink struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

const measurementsSchema = `
CREATE TABLE IF NOT EXISTS measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    format TEXT,
    address TEXT,
    device_mac TEXT,
    temperature REAL,
    humidity REAL,
    pressure REAL,
    pm1_0 REAL,
    pm2_5 REAL,
    pm4_0 REAL,
    pm10_0 REAL,
    co2 REAL,
    voc REAL,
    nox REAL,
    luminosity REAL,
    acceleration_x REAL,
    acceleration_y REAL,
    acceleration_z REAL,
    battery_mv REAL,
    tx_power_dbm REAL,
    rssi_dbm REAL,
    movement_counter INTEGER,
    measurement_sequence INTEGER,
    calibration_in_progress INTEGER,
    sample_count INTEGER NOT NULL DEFAULT 1,
    sample_period_seconds REAL NOT NULL DEFAULT 0
)`

const insertMeasurementSQL = `
INSERT INTO measurements (
    timestamp, format, address, device_mac,
    temperature, humidity, pressure,
    pm1_0, pm2_5, pm4_0, pm10_0,
    co2, voc, nox, luminosity,
    acceleration_x, acceleration_y, acceleration_z,
    battery_mv, tx_power_dbm, rssi_dbm,
    movement_counter, measurement_sequence, calibration_in_progress,
    sample_count, sample_period_seconds
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// NewDBSink opens a connection using the configured driver and DSN and, for
// SQLite, ensures the schema exists.
func NewDBSink(config DBConfig, logger *zap.SugaredLogger) (*DBSink, error) {
	driver := config.Driver
	if driver == "" {
		driver = "sqlite"
	}

	db, err := sql.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("Sink: database connection error: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.Exec(measurementsSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("Sink: schema init error: %w", err)
		}
		for _, idx := range []string{
			"CREATE INDEX IF NOT EXISTS idx_measurements_timestamp ON measurements(timestamp)",
			"CREATE INDEX IF NOT EXISTS idx_measurements_address ON measurements(address)",
		} {
			if _, err := db.Exec(idx); err != nil {
				db.Close()
				return nil, fmt.Errorf("Sink: schema init error: %w", err)
			}
		}
	}

	return &DBSink{db: db, logger: logger}, nil
}

// Insert writes a single reading.
func (s *DBSink) Insert(r *Reading) error {
	if _, err := s.db.Exec(insertMeasurementSQL, insertArgs(r)...); err != nil {
		return fmt.Errorf("Sink: insert error: %w", err)
	}
	return nil
}

// InsertBatch writes all readings inside one transaction, so a batch either
// lands completely or not at all.
func (s *DBSink) InsertBatch(rs []*Reading) error {
	if len(rs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("Sink: begin error: %w", err)
	}

	stmt, err := tx.Prepare(insertMeasurementSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("Sink: prepare error: %w", err)
	}
	defer stmt.Close()

	for _, r := range rs {
		if _, err := stmt.Exec(insertArgs(r)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("Sink: batch insert error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Sink: commit error: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *DBSink) Close() error {
	return s.db.Close()
}

func insertArgs(r *Reading) []interface{} {
	sampleCount := r.SampleCount
	if sampleCount < 1 {
		sampleCount = 1
	}

	return []interface{}{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Format.String(),
		r.Address,
		nullString(r.DeviceMAC),
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.PM1,
		r.PM25,
		r.PM4,
		r.PM10,
		r.CO2,
		r.VOC,
		r.NOX,
		r.Luminosity,
		r.AccelerationX,
		r.AccelerationY,
		r.AccelerationZ,
		r.BatteryVoltage,
		r.TXPower,
		r.RSSI,
		nullInt(r.MovementCounter),
		nullSeq(r.Sequence),
		boolToInt(r.CalibrationInProgress),
		sampleCount,
		r.SamplePeriod,
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(p *int) interface{} {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func nullSeq(p *uint32) interface{} {
	if p == nil {
		return nil
	}
	return int64(*p)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
