package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/park285/cheese-lobby/internal/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Repository struct {
	db       *sql.DB
	url      string
	instance string
}

func NewRepository(databaseURL, instance string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db, url: databaseURL, instance: instance}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func migrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

// Migrate applies pending schema migrations. The migrator opens its own
// connection so closing it leaves r.db alone.
func (r *Repository) Migrate() (uint, error) {
	src, err := migrationSource()
	if err != nil {
		return 0, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, r.url)
	if err != nil {
		return 0, fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migration failed: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// SaveSession upserts a finished session keyed by its game uuid.
func (r *Repository) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	moves, _ := json.Marshal(nonNil(rec.MovesCoord))
	var leftBy sql.NullInt64
	if rec.LeftBy != 0 {
		leftBy = sql.NullInt64{Int64: int64(rec.LeftBy), Valid: true}
	}

	q := `INSERT INTO lobby_sessions (
        game_uuid, session_id, instance, light_id, dark_id,
        moves, pgn, final_fen, end_reason, left_by,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
      ) ON CONFLICT (game_uuid) DO UPDATE SET
        moves=EXCLUDED.moves,
        pgn=EXCLUDED.pgn,
        final_fen=EXCLUDED.final_fen,
        end_reason=EXCLUDED.end_reason,
        left_by=EXCLUDED.left_by,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		rec.GameUUID, int64(rec.ID), r.instance, int64(rec.LightID), int64(rec.DarkID),
		string(moves), buildPGN(rec), rec.FEN, string(rec.EndReason), leftBy,
		rec.StartedAt, rec.EndedAt, rec.Duration().Milliseconds(),
	)
	return err
}

// RecentSessions returns up to limit archived sessions, newest first.
func (r *Repository) RecentSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT
        game_uuid, session_id, light_id, dark_id, moves, final_fen,
        end_reason, COALESCE(left_by, 0), started_at, ended_at
      FROM lobby_sessions ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.SessionRecord
	for rows.Next() {
		var (
			rec                     domain.SessionRecord
			id, light, dark, leftBy int64
			moves                   []byte
			reason                  string
		)
		if err := rows.Scan(&rec.GameUUID, &id, &light, &dark, &moves, &rec.FEN,
			&reason, &leftBy, &rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, err
		}
		rec.ID, rec.LightID, rec.DarkID, rec.LeftBy = uint64(id), uint64(light), uint64(dark), uint64(leftBy)
		rec.EndReason = domain.EndReason(reason)
		_ = json.Unmarshal(moves, &rec.MovesCoord)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nonNil(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}

// buildPGN renders headers and numbered coordinate movetext. There is no
// result detection, so the result is always "*".
func buildPGN(rec *domain.SessionRecord) string {
	if rec == nil {
		return ""
	}
	var b strings.Builder
	date := rec.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cheese Lobby\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"player-%d\"]\n", rec.LightID))
	b.WriteString(fmt.Sprintf("[Black \"player-%d\"]\n", rec.DarkID))
	if reason := strings.TrimSpace(string(rec.EndReason)); reason != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(reason)))
	}
	b.WriteString("[Result \"*\"]\n\n")

	for i := 0; i < len(rec.MovesCoord); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(rec.MovesCoord[i])))
		if i+1 < len(rec.MovesCoord) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(rec.MovesCoord[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString("*")
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
