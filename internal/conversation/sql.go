package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialects supported by SQLStore.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SQLConfig configures the SQL connection pool.
type SQLConfig struct {
	Dialect         string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLConfig returns pool defaults for dialect.
func DefaultSQLConfig(dialect, dsn string) SQLConfig {
	cfg := SQLConfig{
		Dialect:         dialect,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
	if dialect == DialectSQLite {
		// SQLite allows a single writer.
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	return cfg
}

// SQLStore is a Backend over PostgreSQL (lib/pq) or SQLite (modernc.org/sqlite).
type SQLStore struct {
	db      *sql.DB
	dialect string

	stmtInsert  *sql.Stmt
	stmtHistory *sql.Stmt
	stmtLatest  *sql.Stmt
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		content TEXT NOT NULL,
		is_user BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL,
		action TEXT NOT NULL DEFAULT '',
		metadata TEXT,
		attachment_refs TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS conversation_messages_conv_created
		ON conversation_messages (conversation_id, created_at)`,
}

// OpenSQLStore connects, bootstraps the schema and prepares statements.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	driver, err := driverName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := newSQLStore(ctx, db, cfg.Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	if err := s.prepareStatements(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

func driverName(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return "postgres", nil
	case DialectSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", dialect)
	}
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) prepareStatements(ctx context.Context) error {
	var err error

	s.stmtInsert, err = s.db.PrepareContext(ctx, s.rebind(`
		INSERT INTO conversation_messages (id, conversation_id, content, is_user, created_at, action, metadata, attachment_refs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	s.stmtHistory, err = s.db.PrepareContext(ctx, s.rebind(`
		SELECT id, conversation_id, content, is_user, created_at, action, metadata, attachment_refs
		FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`))
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	s.stmtLatest, err = s.db.PrepareContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(created_at), 0) FROM conversation_messages WHERE conversation_id = ?
	`))
	if err != nil {
		return fmt.Errorf("latest: %w", err)
	}

	return nil
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the connection for readiness checks.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Name implements Backend.
func (s *SQLStore) Name() string { return s.dialect }

// Insert implements Backend.
func (s *SQLStore) Insert(ctx context.Context, msg Message) error {
	metadata, err := marshalNullable(msg.Metadata, len(msg.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	refs, err := marshalNullable(msg.AttachmentRefs, len(msg.AttachmentRefs) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal attachment refs: %w", err)
	}

	_, err = s.stmtInsert.ExecContext(ctx,
		msg.ID,
		msg.ConversationID,
		msg.Content,
		msg.IsUser,
		msg.CreatedAt.UnixMicro(),
		msg.Action,
		metadata,
		refs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// History implements Backend.
func (s *SQLStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.stmtHistory.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			msg       Message
			createdAt int64
			metadata  sql.NullString
			refs      sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Content, &msg.IsUser, &createdAt, &msg.Action, &metadata, &refs); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.CreatedAt = time.UnixMicro(createdAt).UTC()
		if metadata.Valid && metadata.String != "" && metadata.String != "null" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if refs.Valid && refs.String != "" && refs.String != "null" {
			if err := json.Unmarshal([]byte(refs.String), &msg.AttachmentRefs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachment refs: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return msgs, nil
}

// Latest implements Backend.
func (s *SQLStore) Latest(ctx context.Context, conversationID string) (time.Time, error) {
	var micros int64
	if err := s.stmtLatest.QueryRowContext(ctx, conversationID).Scan(&micros); err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest timestamp: %w", err)
	}
	if micros == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(micros).UTC(), nil
}

// Close implements Backend.
func (s *SQLStore) Close() error {
	for _, stmt := range []*sql.Stmt{s.stmtInsert, s.stmtHistory, s.stmtLatest} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
