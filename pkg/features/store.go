// Package features stores named feature values per entity in a SQL database,
// so requests can refer to them instead of carrying the data inline.
package features

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"k8s.io/examples/AI/tensoreval/pkg/engine"
	"k8s.io/examples/AI/tensoreval/pkg/engine/fallback"
	"k8s.io/klog/v2"

	// SQL drivers

	_ "github.com/go-sql-driver/mysql"  // MariaDB & MySQL
	_ "github.com/lib/pq"               // Postgres
	_ "github.com/microsoft/go-mssqldb" // SQL Server
	_ "github.com/nakagami/firebirdsql" // Firebird
	_ "github.com/sijms/go-ora"         // Oracle
	_ "modernc.org/sqlite"              // SQLite
)

var ErrNotFound = errors.New("feature not found")

// drivers maps the names accepted on the command line to database/sql
// driver names.
var drivers = map[string]string{
	"firebird":  "firebirdsql",
	"mariadb":   "mysql",
	"mysql":     "mysql",
	"oracle":    "oracle",
	"postgres":  "postgres",
	"sqlite":    "sqlite",
	"sqlserver": "sqlserver",
}

// Drivers lists the accepted driver names.
func Drivers() []string {
	var names []string
	for k := range drivers {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

type dialect struct {
	blobType   string
	textType   string
	doubleType string

	// placeholder returns the bind parameter for argument i, counting from 1.
	placeholder func(i int) string
}

func dialectFor(driver string) dialect {
	d := dialect{
		blobType:    "BLOB",
		textType:    "VARCHAR(255)",
		doubleType:  "DOUBLE PRECISION",
		placeholder: func(int) string { return "?" },
	}
	switch driver {
	case "postgres":
		d.blobType = "BYTEA"
		d.placeholder = func(i int) string { return fmt.Sprintf("$%d", i) }
	case "sqlserver":
		d.blobType = "VARBINARY(MAX)"
		d.doubleType = "FLOAT"
		d.placeholder = func(i int) string { return fmt.Sprintf("@p%d", i) }
	case "oracle":
		d.textType = "VARCHAR2(255)"
		d.doubleType = "BINARY_DOUBLE"
		d.placeholder = func(i int) string { return fmt.Sprintf(":%d", i) }
	case "mysql":
		d.blobType = "LONGBLOB"
	}
	return d
}

// Store keeps feature values in the features table. Tensors are stored in
// the simple engine's encoding and converted on lookup, so any engine can
// read them.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to a database. driver is one of Drivers().
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	name, ok := drivers[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("unknown SQL driver %q (known drivers: %s)", driver, strings.Join(Drivers(), ", "))
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}
	return &Store{db: db, dialect: dialectFor(name)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(q string) string {
	var b strings.Builder
	n := 0
	for _, c := range q {
		if c == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Init creates the features table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	d := s.dialect
	stmt := fmt.Sprintf(`CREATE TABLE features (
    entity %s NOT NULL,
    name %s NOT NULL,
    double_value %s,
    tensor_data %s,
    PRIMARY KEY (entity, name)
)`, d.textType, d.textType, d.doubleType, d.blobType)

	exists, err := s.tableExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating features table: %w", err)
	}
	return nil
}

// tableExists queries the table, since CREATE TABLE IF NOT EXISTS is not
// available everywhere.
func (s *Store) tableExists(ctx context.Context) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT entity FROM features WHERE 1 = 0")
	if err != nil {
		return false, nil
	}
	defer rows.Close()
	return true, rows.Err()
}

// Put stores v as feature name of entity, replacing any previous value.
func (s *Store) Put(ctx context.Context, entity, name string, v engine.Value) error {
	var (
		double any
		data   any
	)
	switch {
	case v.IsDouble():
		double = v.AsDouble()
	case v.IsTensor():
		t, err := fallback.Create(engine.ValueToSpec(v))
		if err != nil {
			return fmt.Errorf("converting feature %s/%s: %w", entity, name, err)
		}
		var buf bytes.Buffer
		if err := fallback.EncodeTensor(&buf, t); err != nil {
			return fmt.Errorf("encoding feature %s/%s: %w", entity, name, err)
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("cannot store error value as feature %s/%s", entity, name)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.query("DELETE FROM features WHERE entity = ? AND name = ?"), entity, name); err != nil {
		return fmt.Errorf("deleting feature %s/%s: %w", entity, name, err)
	}
	if _, err := tx.ExecContext(ctx, s.query("INSERT INTO features (entity, name, double_value, tensor_data) VALUES (?, ?, ?, ?)"), entity, name, double, data); err != nil {
		return fmt.Errorf("inserting feature %s/%s: %w", entity, name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing feature %s/%s: %w", entity, name, err)
	}

	klog.FromContext(ctx).V(2).Info("stored feature", "entity", entity, "name", name, "type", v.Type().String())
	return nil
}

// Lookup returns feature name of entity as a value of engine e.
func (s *Store) Lookup(ctx context.Context, e engine.TensorEngine, entity, name string) (engine.Value, error) {
	var (
		double sql.NullFloat64
		data   []byte
	)
	row := s.db.QueryRowContext(ctx, s.query("SELECT double_value, tensor_data FROM features WHERE entity = ? AND name = ?"), entity, name)
	if err := row.Scan(&double, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, entity, name)
		}
		return nil, fmt.Errorf("reading feature %s/%s: %w", entity, name, err)
	}

	if data == nil {
		if !double.Valid {
			return nil, fmt.Errorf("feature %s/%s has no value", entity, name)
		}
		return engine.NewDoubleValue(double.Float64), nil
	}

	t, err := fallback.DecodeTensor(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding feature %s/%s: %w", entity, name, err)
	}
	v, err := engine.CreateValue(e, t.Spec())
	if err != nil {
		return nil, fmt.Errorf("converting feature %s/%s: %w", entity, name, err)
	}
	return v, nil
}
