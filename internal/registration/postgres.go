package registration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/zombor/sinova-register/internal/verification"
)

const uniqueViolation = "23505"

// registrationLockKey serialises slot assignment across server instances
const registrationLockKey = 0x51_0E_A2

const schema = `
CREATE TABLE IF NOT EXISTS teams (
	id             TEXT PRIMARY KEY,
	team_number    INTEGER NOT NULL DEFAULT 0,
	team_name      TEXT NOT NULL,
	members        JSONB NOT NULL,
	transaction_id TEXT,
	payment_hash   TEXT,
	payment_status TEXT NOT NULL,
	confidence     INTEGER NOT NULL,
	waitlisted     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT teams_payment_hash_key UNIQUE (payment_hash),
	CONSTRAINT teams_transaction_id_key UNIQUE (transaction_id)
);
CREATE INDEX IF NOT EXISTS teams_created_at_idx ON teams (created_at);
`

const teamColumns = `id, team_number, team_name, members, COALESCE(transaction_id, ''),
	COALESCE(payment_hash, ''), payment_status, confidence, waitlisted, created_at`

// PostgresDB implements the DB interface on PostgreSQL through the pgx driver
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB connects to dsn and makes sure the schema exists
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	p := NewPostgresDBWithConn(db)
	if err := p.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresDBWithConn wraps an existing connection pool
func NewPostgresDBWithConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// EnsureSchema creates the teams table if it does not exist
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// RegisterTeam inserts the team under a transaction-scoped advisory lock so
// concurrent registrations see a consistent confirmed count. The unique
// constraints reject reused payment hashes and transaction ids.
func (p *PostgresDB) RegisterTeam(ctx context.Context, team *Team, capacity int) error {
	members, err := json.Marshal(team.Members)
	if err != nil {
		return fmt.Errorf("marshaling members: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, registrationLockKey); err != nil {
		return fmt.Errorf("acquiring registration lock: %w", err)
	}

	var confirmed int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM teams WHERE NOT waitlisted`).Scan(&confirmed); err != nil {
		return fmt.Errorf("counting confirmed teams: %w", err)
	}
	assignSlot(team, confirmed, capacity)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO teams (id, team_number, team_name, members, transaction_id, payment_hash,
			payment_status, confidence, waitlisted, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)`,
		team.ID, team.TeamNumber, team.TeamName, members, team.TransactionID, team.PaymentHash,
		string(team.PaymentStatus), team.Confidence, team.Waitlisted, team.CreatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapPostgresError(err)
	}
	return nil
}

// mapPostgresError translates unique violations into the registry's sentinel errors
func mapPostgresError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "teams_payment_hash_key":
			return ErrDuplicatePayment
		case "teams_transaction_id_key":
			return ErrDuplicateTransaction
		}
	}
	return fmt.Errorf("inserting team: %w", err)
}

// GetTeam retrieves a team by ID
func (p *PostgresDB) GetTeam(ctx context.Context, id string) (*Team, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	team, err := scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTeamNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return team, nil
}

// ListTeams returns all teams ordered by registration time
func (p *PostgresDB) ListTeams(ctx context.Context) ([]*Team, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY created_at, team_number`)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	teams := make([]*Team, 0)
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating teams: %w", err)
	}
	return teams, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*Team, error) {
	var (
		team    Team
		members []byte
		status  string
	)
	err := row.Scan(&team.ID, &team.TeamNumber, &team.TeamName, &members, &team.TransactionID,
		&team.PaymentHash, &status, &team.Confidence, &team.Waitlisted, &team.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning team: %w", err)
	}
	if err := json.Unmarshal(members, &team.Members); err != nil {
		return nil, fmt.Errorf("unmarshaling members: %w", err)
	}
	team.PaymentStatus = verification.Status(status)
	return &team, nil
}

// PaymentHashExists reports whether any team registered with hash
func (p *PostgresDB) PaymentHashExists(ctx context.Context, hash string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE payment_hash = $1)`, hash)
}

// TransactionIDExists reports whether any team registered with the transaction id
func (p *PostgresDB) TransactionIDExists(ctx context.Context, id string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE transaction_id = $1)`, id)
}

func (p *PostgresDB) exists(ctx context.Context, query, arg string) (bool, error) {
	if arg == "" {
		return false, nil
	}
	var found bool
	if err := p.db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("querying registry: %w", err)
	}
	return found, nil
}

// CountConfirmed returns the number of non-waitlisted teams
func (p *PostgresDB) CountConfirmed(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM teams WHERE NOT waitlisted`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting confirmed teams: %w", err)
	}
	return n, nil
}

// Ping checks the database is reachable
func (p *PostgresDB) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging postgres: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	return p.db.Close()
}
