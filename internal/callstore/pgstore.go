package callstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/google/uuid"

	"github.com/familyspace/callcore/internal/callstate"
)

// PGStore is a PostgreSQL-backed Store, the production CallStore
// implementation.
type PGStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPGStore opens a connection pool to dsn, runs embedded migrations, and
// returns a ready Store.
func NewPGStore(dsn string, logger *slog.Logger) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &PGStore{db: db, logger: logger.With("subsystem", "callstore-pg")}
	if err := store.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *PGStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, name).Scan(&applied)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting migration tx for %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("applying migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
		s.logger.Info("applied migration", "name", name)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PGStore) Close() error {
	return s.db.Close()
}

// CreateCall implements Store.
func (s *PGStore) CreateCall(ctx context.Context, agg *callstate.Aggregate) error {
	agg.SetCallID(uuid.NewString())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := insertCall(ctx, tx, agg.Call); err != nil {
		return err
	}
	for _, p := range agg.Participants {
		if err := insertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetCall implements Store.
func (s *PGStore) GetCall(ctx context.Context, callID string) (*callstate.Aggregate, error) {
	call, err := scanCall(ctx, s.db, callID)
	if err != nil {
		return nil, err
	}
	participants, err := scanParticipants(ctx, s.db, callID)
	if err != nil {
		return nil, err
	}
	return &callstate.Aggregate{Call: call, Participants: participants}, nil
}

// SaveCall implements Store.
func (s *PGStore) SaveCall(ctx context.Context, agg *callstate.Aggregate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := updateCall(ctx, tx, agg.Call); err != nil {
		return err
	}
	for _, p := range agg.Participants {
		if err := upsertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListCalls implements Store.
func (s *PGStore) ListCalls(ctx context.Context, filter ListFilter) ([]*callstate.Aggregate, int, error) {
	where := `WHERE group_id = $1`
	args := []any{filter.GroupID}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.MemberID != "" {
		args = append(args, filter.MemberID)
		where += fmt.Sprintf(` AND (initiator_id = $%d OR call_id IN (SELECT call_id FROM call_participants WHERE member_id = $%d))`, len(args), len(args))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting calls: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM calls %s ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, callColumns, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing calls: %w", err)
	}
	defer rows.Close()

	var out []*callstate.Aggregate
	for rows.Next() {
		call, err := scanCallRow(rows)
		if err != nil {
			return nil, 0, err
		}
		participants, err := scanParticipants(ctx, s.db, call.CallID)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, &callstate.Aggregate{Call: call, Participants: participants})
	}
	return out, total, rows.Err()
}

// ListActiveForMember implements Store.
func (s *PGStore) ListActiveForMember(ctx context.Context, groupID, memberID string) ([]*callstate.Aggregate, error) {
	query := fmt.Sprintf(`SELECT %s FROM calls
		WHERE group_id = $1 AND status IN ('ringing', 'active')
		AND (initiator_id = $2 OR call_id IN (SELECT call_id FROM call_participants WHERE member_id = $2 AND status NOT IN ('rejected', 'left')))
		ORDER BY started_at DESC`, callColumns)

	rows, err := s.db.QueryContext(ctx, query, groupID, memberID)
	if err != nil {
		return nil, fmt.Errorf("listing active calls: %w", err)
	}
	defer rows.Close()

	var out []*callstate.Aggregate
	for rows.Next() {
		call, err := scanCallRow(rows)
		if err != nil {
			return nil, err
		}
		participants, err := scanParticipants(ctx, s.db, call.CallID)
		if err != nil {
			return nil, err
		}
		out = append(out, &callstate.Aggregate{Call: call, Participants: participants})
	}
	return out, rows.Err()
}

const callColumns = `call_id, group_id, kind, initiator_id, status, started_at, connected_at, ended_at, duration_ms,
	rec_status, rec_file_id, rec_url, rec_duration_ms, rec_size_bytes, rec_hidden, rec_hidden_by, rec_hidden_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallRow(row rowScanner) (*callstate.Call, error) {
	c := &callstate.Call{}
	var kind, status, recStatus string
	var fileID, url, hiddenBy sql.NullString
	var durationMs, recDurationMs, recSizeBytes sql.NullInt64
	var connectedAt, endedAt, hiddenAt sql.NullTime

	if err := row.Scan(
		&c.CallID, &c.GroupID, &kind, &c.InitiatorID, &status, &c.StartedAt,
		&connectedAt, &endedAt, &durationMs,
		&recStatus, &fileID, &url, &recDurationMs, &recSizeBytes, &c.Recording.Hidden, &hiddenBy, &hiddenAt,
	); err != nil {
		return nil, fmt.Errorf("scanning call row: %w", err)
	}

	c.Kind = callstate.Kind(kind)
	c.Status = callstate.Status(status)
	c.Recording.Status = callstate.RecordingStatus(recStatus)
	c.Recording.FileID = fileID.String
	c.Recording.URL = url.String
	c.Recording.HiddenByID = hiddenBy.String
	if connectedAt.Valid {
		t := connectedAt.Time
		c.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	if durationMs.Valid {
		v := durationMs.Int64
		c.DurationMs = &v
	}
	if recDurationMs.Valid {
		c.Recording.DurationMs = recDurationMs.Int64
	}
	if recSizeBytes.Valid {
		c.Recording.SizeBytes = recSizeBytes.Int64
	}
	if hiddenAt.Valid {
		t := hiddenAt.Time
		c.Recording.HiddenAt = &t
	}
	return c, nil
}

func scanCall(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, callID string) (*callstate.Call, error) {
	row := q.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM calls WHERE call_id = $1`, callColumns), callID)
	call, err := scanCallRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return call, nil
}

func scanParticipants(ctx context.Context, db *sql.DB, callID string) ([]*callstate.Participant, error) {
	rows, err := db.QueryContext(ctx, `SELECT call_id, member_id, status, invited_at, responded_at, joined_at, left_at
		FROM call_participants WHERE call_id = $1`, callID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var out []*callstate.Participant
	for rows.Next() {
		p := &callstate.Participant{}
		var status string
		var respondedAt, joinedAt, leftAt sql.NullTime
		if err := rows.Scan(&p.CallID, &p.MemberID, &status, &p.InvitedAt, &respondedAt, &joinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		p.Status = callstate.ParticipantStatus(status)
		if respondedAt.Valid {
			t := respondedAt.Time
			p.RespondedAt = &t
		}
		if joinedAt.Valid {
			t := joinedAt.Time
			p.JoinedAt = &t
		}
		if leftAt.Valid {
			t := leftAt.Time
			p.LeftAt = &t
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCall(ctx context.Context, tx execer, c *callstate.Call) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO calls
		(call_id, group_id, kind, initiator_id, status, started_at, connected_at, ended_at, duration_ms,
		 rec_status, rec_file_id, rec_url, rec_duration_ms, rec_size_bytes, rec_hidden, rec_hidden_by, rec_hidden_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		c.CallID, c.GroupID, string(c.Kind), c.InitiatorID, string(c.Status), c.StartedAt,
		nullTime(c.ConnectedAt), nullTime(c.EndedAt), nullInt64(c.DurationMs),
		string(c.Recording.Status), nullString(c.Recording.FileID), nullString(c.Recording.URL),
		nullIntValue(c.Recording.DurationMs), nullIntValue(c.Recording.SizeBytes),
		c.Recording.Hidden, nullString(c.Recording.HiddenByID), nullTime(c.Recording.HiddenAt),
	)
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

func updateCall(ctx context.Context, tx execer, c *callstate.Call) error {
	_, err := tx.ExecContext(ctx, `UPDATE calls SET
		status=$2, connected_at=$3, ended_at=$4, duration_ms=$5,
		rec_status=$6, rec_file_id=$7, rec_url=$8, rec_duration_ms=$9, rec_size_bytes=$10,
		rec_hidden=$11, rec_hidden_by=$12, rec_hidden_at=$13
		WHERE call_id=$1`,
		c.CallID, string(c.Status), nullTime(c.ConnectedAt), nullTime(c.EndedAt), nullInt64(c.DurationMs),
		string(c.Recording.Status), nullString(c.Recording.FileID), nullString(c.Recording.URL),
		nullIntValue(c.Recording.DurationMs), nullIntValue(c.Recording.SizeBytes),
		c.Recording.Hidden, nullString(c.Recording.HiddenByID), nullTime(c.Recording.HiddenAt),
	)
	if err != nil {
		return fmt.Errorf("updating call: %w", err)
	}
	return nil
}

func insertParticipant(ctx context.Context, tx execer, p *callstate.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO call_participants
		(call_id, member_id, status, invited_at, responded_at, joined_at, left_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.CallID, p.MemberID, string(p.Status), p.InvitedAt, nullTime(p.RespondedAt), nullTime(p.JoinedAt), nullTime(p.LeftAt),
	)
	if err != nil {
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

func upsertParticipant(ctx context.Context, tx execer, p *callstate.Participant) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO call_participants
		(call_id, member_id, status, invited_at, responded_at, joined_at, left_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (call_id, member_id) DO UPDATE SET
		status=EXCLUDED.status, responded_at=EXCLUDED.responded_at, joined_at=EXCLUDED.joined_at, left_at=EXCLUDED.left_at`,
		p.CallID, p.MemberID, string(p.Status), p.InvitedAt, nullTime(p.RespondedAt), nullTime(p.JoinedAt), nullTime(p.LeftAt),
	)
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullIntValue(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
