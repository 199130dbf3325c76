// queryClient.go
package querier

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/gigapi/gigapi-geoanalytics/config"
	"github.com/gigapi/gigapi-geoanalytics/core"
	"github.com/marcboeker/go-duckdb/v2"
)

// communityExtensions are installed from the community repository
var communityExtensions = map[string]bool{
	"h3": true,
}

// QueryClient owns the embedded DuckDB database
type QueryClient struct {
	Config config.EngineConfig
	DB     *sql.DB
}

// NewQueryClient creates a new QueryClient
func NewQueryClient(cfg config.EngineConfig) *QueryClient {
	return &QueryClient{Config: cfg}
}

// Initialize opens the database, installs extensions when configured and
// loads them on every pooled connection.
func (q *QueryClient) Initialize(ctx context.Context) error {
	if q.Config.InstallExtensions {
		if err := q.install(ctx); err != nil {
			return err
		}
	}

	connector, err := duckdb.NewConnector(q.Config.Path, q.initConn)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	db := sql.OpenDB(connector)

	// the connector runs initConn lazily, force one connection to surface errors
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}

	q.DB = db
	core.Infof(ctx, "duckdb initialized path=%q extensions=%v", q.Config.Path, q.Config.Extensions)
	return nil
}

func (q *QueryClient) install(ctx context.Context) error {
	db, err := sql.Open("duckdb", q.Config.Path)
	if err != nil {
		return fmt.Errorf("failed to open DuckDB: %w", err)
	}
	defer db.Close()

	for _, ext := range q.Config.Extensions {
		stmt := "INSTALL " + ext
		if communityExtensions[ext] {
			stmt += " FROM community"
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to install extension %s: %w", ext, err)
		}
	}
	return nil
}

func (q *QueryClient) initConn(execer driver.ExecerContext) error {
	var stmts []string
	if q.Config.Threads > 0 {
		stmts = append(stmts, fmt.Sprintf("SET threads = %d", q.Config.Threads))
	}
	if q.Config.MemoryLimit != "" {
		stmts = append(stmts, "SET memory_limit = "+core.QuoteLiteral(q.Config.MemoryLimit))
	}
	for _, ext := range q.Config.Extensions {
		stmts = append(stmts, "LOAD "+ext)
	}
	for _, stmt := range stmts {
		if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// HasExtension reports whether ext is loaded on every connection
func (q *QueryClient) HasExtension(ext string) bool {
	for _, e := range q.Config.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Session pins one connection for the duration of an operation. Temporary
// tables created through it are visible to every later statement.
func (q *QueryClient) Session(ctx context.Context) (*Session, error) {
	if q.DB == nil {
		return nil, fmt.Errorf("query client is not initialized")
	}
	conn, err := q.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Session{conn: conn}, nil
}

// Close releases resources. Closing the pool also closes the connector.
func (q *QueryClient) Close() error {
	if q.DB != nil {
		return q.DB.Close()
	}
	return nil
}
