package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"graphcomputer/bagel"
	"graphcomputer/graph"
	"graphcomputer/util"
)

const (
	SQLITE    = "sqlite3"
	MYSQL     = "mysql"
	SQLSERVER = "sqlserver"

	// sql server accepts at most 2100 parameters per statement
	maxParamsSQL    = 2099
	paramsPerVertex = 4
)

var _ bagel.Storage = (*SQLStorage)(nil)

// SQLStorage keeps every location in two shared tables, one row per vertex
// and one per memory key. Vertex rows carry the id hash so a partition can be
// selected with a modulo on the server.
type SQLStorage struct {
	db      *sql.DB
	driver  string
	options Options
}

func init() {
	Register(SQLITE, openSQLURL)
	Register("sqlite", openSQLURL)
	Register(MYSQL, openSQLURL)
	Register(SQLSERVER, openSQLURL)
}

func openSQLURL(ctx context.Context, u *url.URL, options Options) (bagel.Storage, error) {
	driver, dsn := sqlDSN(u)
	return NewSQLStorage(ctx, driver, dsn, options)
}

// sqlDSN turns a storage URL into a driver name and the DSN the driver
// expects: a file path for sqlite, user:pass@tcp(host)/db for mysql and the
// URL itself for sql server.
func sqlDSN(u *url.URL) (string, string) {
	query := withoutOptions(u.Query()).Encode()
	switch u.Scheme {
	case MYSQL:
		dsn := fmt.Sprintf("tcp(%s)%s", u.Host, u.Path)
		if u.User != nil {
			dsn = u.User.String() + "@" + dsn
		}
		if query != "" {
			dsn += "?" + query
		}
		return MYSQL, dsn
	case SQLSERVER:
		rest := *u
		rest.RawQuery = query
		return SQLSERVER, rest.String()
	default:
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if query != "" {
			path += "?" + query
		}
		return SQLITE, path
	}
}

func NewSQLStorage(ctx context.Context, driver string, dsn string, options Options) (*SQLStorage, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Printf("NewSQLStorage: error creating connection pool: %v", err)
		return nil, err
	}
	if driver == SQLITE {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	}
	s := &SQLStorage{db: db, driver: driver, options: options}
	if err := s.initializeTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) blobType() string {
	switch s.driver {
	case MYSQL:
		return "LONGBLOB"
	case SQLSERVER:
		return "VARBINARY(MAX)"
	}
	return "BLOB"
}

func (s *SQLStorage) createTable(name string, columns string) string {
	if s.driver == SQLSERVER {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", name, name, columns,
		)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, columns)
}

func (s *SQLStorage) initializeTables(ctx context.Context) error {
	statements := []string{
		s.createTable("vertices", fmt.Sprintf(
			"location VARCHAR(255) NOT NULL, id BIGINT NOT NULL, hash BIGINT NOT NULL, "+
				"data %s NOT NULL, PRIMARY KEY (location, id)", s.blobType(),
		)),
		s.createTable("memory", fmt.Sprintf(
			"location VARCHAR(255) NOT NULL, memoryKey VARCHAR(255) NOT NULL, "+
				"data %s NOT NULL, PRIMARY KEY (location, memoryKey)", s.blobType(),
		)),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Printf("initializeTables: failed execute command: %v", err)
			return errors.Wrap(err, "creating tables")
		}
	}
	return nil
}

// placeholder is the n-th (1 based) statement parameter.
func (s *SQLStorage) placeholder(n int) string {
	if s.driver == SQLSERVER {
		return fmt.Sprintf("@p%d", n)
	}
	return "?"
}

// rebind numbers the ? parameters of a statement for drivers that need it.
func (s *SQLStorage) rebind(query string) string {
	if s.driver != SQLSERVER {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetParamPlaceHolders returns the values tuple of one row starting at the
// given parameter position.
func (s *SQLStorage) GetParamPlaceHolders(startOrdinalPosition int, numParams int) string {
	params := make([]string, numParams)
	for idx := range params {
		params[idx] = s.placeholder(startOrdinalPosition + idx)
	}
	return "(" + strings.Join(params, ", ") + ")"
}

func (s *SQLStorage) ReadGraph(ctx context.Context, location string) (*graph.Collection, error) {
	if err := checkLocation(location); err != nil {
		return nil, err
	}
	if s.options.Partitions > 0 {
		return readPartitioned(ctx, s, location, s.options.Partitions)
	}
	vertices, err := s.queryVertices(ctx, "SELECT data FROM vertices WHERE location = ? ORDER BY id", location)
	if err != nil {
		return nil, err
	}
	if len(vertices) == 0 {
		return nil, notFound(location)
	}
	return collect(vertices, s.options), nil
}

// readPartition selects the vertices of one partition, the way workers used
// to pull their share of the graph.
func (s *SQLStorage) readPartition(ctx context.Context, location string, partition int, numPartitions int) ([]*graph.Vertex, error) {
	return s.queryVertices(
		ctx, "SELECT data FROM vertices WHERE location = ? AND hash % ? = ? ORDER BY id",
		location, numPartitions, partition,
	)
}

func (s *SQLStorage) queryVertices(ctx context.Context, query string, args ...interface{}) ([]*graph.Vertex, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying vertices")
	}
	defer rows.Close()

	codec := s.options.codec()
	var vertices []*graph.Vertex
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scanning vertex")
		}
		v, err := decodeVertex(codec, data)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, rows.Err()
}

// WriteGraph replaces the vertices of a location, inserting them in bulks
// sized to the statement parameter limit.
func (s *SQLStorage) WriteGraph(ctx context.Context, location string, g *graph.Collection) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM vertices WHERE location = ?"), location); err != nil {
		return errors.Wrap(err, "clearing location")
	}
	if err := s.bulkInsert(ctx, tx, location, g.Vertices()); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStorage) bulkInsert(ctx context.Context, tx *sql.Tx, location string, vertices []*graph.Vertex) error {
	rowsPerInsert := maxParamsSQL / paramsPerVertex
	bulks := getBatches(len(vertices), rowsPerInsert)
	codec := s.options.codec()

	for i, bulk := range bulks {
		startTime := time.Now()
		valueStrings := make([]string, 0, bulk[1]-bulk[0])
		valueArgs := make([]interface{}, 0, (bulk[1]-bulk[0])*paramsPerVertex)

		startOrdinalPosition := 1
		for _, v := range vertices[bulk[0]:bulk[1]] {
			data, err := encodeVertex(codec, v)
			if err != nil {
				return err
			}
			valueStrings = append(valueStrings, s.GetParamPlaceHolders(startOrdinalPosition, paramsPerVertex))
			valueArgs = append(valueArgs, location, int64(v.Id), util.HashId(v.Id), data)
			startOrdinalPosition += paramsPerVertex
		}
		stmt := fmt.Sprintf("INSERT INTO vertices (location, id, hash, data) VALUES %s",
			strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, stmt, valueArgs...); err != nil {
			return errors.Wrap(err, "failed to bulk insert rows")
		}
		log.Debugf("bulkInsert: successfully inserted (%d/%d) time elapsed %v", i+1, len(bulks), time.Since(startTime))
	}
	return nil
}

func (s *SQLStorage) ReadMemory(ctx context.Context, location string, key string) (interface{}, error) {
	var data []byte
	err := s.db.QueryRowContext(
		ctx, s.rebind("SELECT data FROM memory WHERE location = ? AND memoryKey = ?"), location, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memoryNotFound(location, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading memory")
	}
	return decodeMemory(data)
}

func (s *SQLStorage) WriteMemory(ctx context.Context, location string, key string, value interface{}) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	data, err := encodeMemory(value)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(
		ctx, s.rebind("DELETE FROM memory WHERE location = ? AND memoryKey = ?"), location, key,
	); err != nil {
		return errors.Wrap(err, "clearing memory")
	}
	if _, err := tx.ExecContext(
		ctx, s.rebind("INSERT INTO memory (location, memoryKey, data) VALUES (?, ?, ?)"), location, key, data,
	); err != nil {
		return errors.Wrap(err, "writing memory")
	}
	return tx.Commit()
}

func (s *SQLStorage) Exists(ctx context.Context, location string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(
		"SELECT (SELECT COUNT(*) FROM vertices WHERE location = ?) + "+
			"(SELECT COUNT(*) FROM memory WHERE location = ?)",
	), location, location).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "checking location")
	}
	return count > 0, nil
}

func (s *SQLStorage) Delete(ctx context.Context, location string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, table := range []string{"vertices", "memory"} {
		if _, err := tx.ExecContext(
			ctx, s.rebind(fmt.Sprintf("DELETE FROM %s WHERE location = ?", table)), location,
		); err != nil {
			return errors.Wrapf(err, "deleting from %s", table)
		}
	}
	return tx.Commit()
}

func (s *SQLStorage) Locations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT location FROM vertices UNION SELECT location FROM memory ORDER BY location")
	if err != nil {
		return nil, errors.Wrap(err, "listing locations")
	}
	defer rows.Close()
	var locations []string
	for rows.Next() {
		var location string
		if err := rows.Scan(&location); err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}
