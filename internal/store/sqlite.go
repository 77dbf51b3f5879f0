package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	_ "modernc.org/sqlite"

	"github.com/holostream/archivist/internal/log"
	"github.com/holostream/archivist/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	filename TEXT NOT NULL,
	resolution TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL DEFAULT '',
	member_only INTEGER NOT NULL DEFAULT 0,
	start_time INTEGER NOT NULL,
	platform TEXT NOT NULL,
	status TEXT NOT NULL,
	last_status TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auto_rules (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	data TEXT NOT NULL,
	include INTEGER NOT NULL,
	chains TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS pending_chat_captures (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	member_only INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
`

// SQLiteStore persists jobs, rules and pending chat captures to a single
// file via the pure-Go modernc.org/sqlite driver, matching the teacher's
// choice of persistence engine (no cgo).
type SQLiteStore struct {
	db *sql.DB
}

// Open creates (or reuses) a sqlite database file at path and ensures
// its schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers through one conn.
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) UpsertJob(ctx context.Context, j *model.Job) (bool, error) {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now

	existed, err := s.jobExists(ctx, j.ID)
	if err != nil {
		return false, err
	}

	// On conflict, only the fields a re-schedule can legitimately change
	// (title/filename/channel/member flag/start time/platform) are
	// overwritten. status/last_status/error/resolution belong to the
	// running task driving this job and must survive a re-POST
	// untouched — spec.md §8's "second call is a merge" follows
	// original_source's existing_job.save(), which never touches
	// status either. A genuinely new row still gets the caller's
	// initial values via the INSERT branch.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, title, filename, resolution, channel_id, member_only, start_time, platform, status, last_status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, filename=excluded.filename,
			channel_id=excluded.channel_id, member_only=excluded.member_only, start_time=excluded.start_time,
			platform=excluded.platform, updated_at=excluded.updated_at`,
		j.ID, j.Title, j.Filename, j.Resolution, j.ChannelID, boolToInt(j.MemberOnly), j.StartTime.Unix(),
		string(j.Platform), string(j.Status), string(j.LastStatus), j.Error, j.CreatedAt.Unix(), j.UpdatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("store: upsert job %s: %w", j.ID, err)
	}
	return !existed, nil
}

func (s *SQLiteStore) jobExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: probe job %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, filename, resolution, channel_id, member_only, start_time, platform, status, last_status, error, created_at, updated_at FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, includeDone bool) ([]*model.Job, error) {
	q := `SELECT id, title, filename, resolution, channel_id, member_only, start_time, platform, status, last_status, error, created_at, updated_at FROM jobs`
	if !includeDone {
		q += ` WHERE status != 'done'`
	}
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, fn UpdateFn) (*model.Job, error) {
	j, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now()
	if _, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET title=?, filename=?, resolution=?, channel_id=?, member_only=?, start_time=?,
			platform=?, status=?, last_status=?, error=?, updated_at=?
		WHERE id=?`,
		j.Title, j.Filename, j.Resolution, j.ChannelID, boolToInt(j.MemberOnly), j.StartTime.Unix(),
		string(j.Platform), string(j.Status), string(j.LastStatus), j.Error, j.UpdatedAt.Unix(), id); err != nil {
		return nil, fmt.Errorf("store: update job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete job %s: %w", id, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		j                    model.Job
		memberOnly           int
		startTime, createdAt, updatedAt int64
	)
	err := row.Scan(&j.ID, &j.Title, &j.Filename, &j.Resolution, &j.ChannelID, &memberOnly,
		&startTime, &j.Platform, &j.Status, &j.LastStatus, &j.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.MemberOnly = memberOnly != 0
	j.StartTime = time.Unix(startTime, 0).UTC()
	j.CreatedAt = time.Unix(createdAt, 0).UTC()
	j.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &j, nil
}

func (s *SQLiteStore) ListAutoRules(ctx context.Context) ([]*model.AutoRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, data, include, chains FROM auto_rules`)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()

	var out []*model.AutoRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(row scannable) (*model.AutoRule, error) {
	var (
		r         model.AutoRule
		include   int
		chainsRaw string
	)
	if err := row.Scan(&r.ID, &r.Type, &r.Data, &include, &chainsRaw); err != nil {
		return nil, err
	}
	r.Include = include != 0
	if chainsRaw != "" {
		if err := json.Unmarshal([]byte(chainsRaw), &r.Chains); err != nil {
			return nil, fmt.Errorf("store: decode chains for rule %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *SQLiteStore) InsertAutoRule(ctx context.Context, r *model.AutoRule) error {
	chains, err := json.Marshal(r.Chains)
	if err != nil {
		return fmt.Errorf("store: encode chains: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO auto_rules (id, type, data, include, chains) VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Data, boolToInt(r.Include), string(chains))
	if err != nil {
		return fmt.Errorf("store: insert rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAutoRule(ctx context.Context, id string, fn func(r *model.AutoRule) error) (*model.AutoRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, data, include, chains FROM auto_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	before := *r
	if err := fn(r); err != nil {
		return nil, err
	}
	if reflect.DeepEqual(*r, before) {
		return nil, ErrNoOpUpdate
	}
	chains, err := json.Marshal(r.Chains)
	if err != nil {
		return nil, fmt.Errorf("store: encode chains: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE auto_rules SET type=?, data=?, include=?, chains=? WHERE id=?`,
		string(r.Type), r.Data, boolToInt(r.Include), string(chains), id)
	if err != nil {
		return nil, fmt.Errorf("store: update rule %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) DeleteAutoRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auto_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete rule %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) PutPendingChatCapture(ctx context.Context, p *model.PendingChatCapture) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_chat_captures (id, filename, channel_id, member_only, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET filename=excluded.filename, channel_id=excluded.channel_id, member_only=excluded.member_only`,
		p.ID, p.Filename, p.ChannelID, boolToInt(p.MemberOnly), p.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: put pending chat capture %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetPendingChatCapture(ctx context.Context, id string) (*model.PendingChatCapture, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, filename, channel_id, member_only, created_at FROM pending_chat_captures WHERE id = ?`, id)
	p, err := scanPending(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func scanPending(row scannable) (*model.PendingChatCapture, error) {
	var (
		p          model.PendingChatCapture
		memberOnly int
		createdAt  int64
	)
	if err := row.Scan(&p.ID, &p.Filename, &p.ChannelID, &memberOnly, &createdAt); err != nil {
		return nil, err
	}
	p.MemberOnly = memberOnly != 0
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}

func (s *SQLiteStore) ListPendingChatCaptures(ctx context.Context) ([]*model.PendingChatCapture, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, channel_id, member_only, created_at FROM pending_chat_captures`)
	if err != nil {
		return nil, fmt.Errorf("store: list pending chat captures: %w", err)
	}
	defer rows.Close()

	var out []*model.PendingChatCapture
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePendingChatCapture(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_chat_captures WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete pending chat capture %s: %w", id, err)
	}
	return nil
}

// RecoverStaleJobs implements DESIGN.md Open Question 2's deviation: a
// row left in an in-flight stage by a crashed leader is demoted to
// status=error with last_status set to that stage, so the ordinary
// error-recovery path (spec.md §4.4) picks it back up on the next tick
// instead of stalling until a human intervenes.
func (s *SQLiteStore) RecoverStaleJobs(ctx context.Context) (int, error) {
	inFlight := []model.Status{model.StatusPreparing, model.StatusDownloading, model.StatusMuxing, model.StatusUploading, model.StatusCleaning}
	total := 0
	for _, st := range inFlight {
		res, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, last_status = ?, error = ?, updated_at = ?
			WHERE status = ?`,
			string(model.StatusError), string(st), "process restarted mid-stage", time.Now().Unix(), string(st))
		if err != nil {
			return total, fmt.Errorf("store: recover stale jobs (%s): %w", st, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	if total > 0 {
		log.L().Warn().Int("count", total).Msg("demoted in-flight jobs to error after restart")
	}
	return total, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLiteStore)(nil)
