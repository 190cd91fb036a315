package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertSettings(ctx context.Context, channelKey string, defaultVolume float64, autoLeaveSeconds int) (*Settings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(channel_key, default_volume, auto_leave_seconds) VALUES (?,?,?)`,
		channelKey, defaultVolume, autoLeaveSeconds,
	)
	return r.GetSettings(ctx, channelKey)
}

func (r *Repo) GetSettings(ctx context.Context, channelKey string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT channel_key, default_volume, auto_leave_seconds FROM settings WHERE channel_key = ?`,
		channelKey)

	var s Settings
	if err := row.Scan(&s.ChannelKey, &s.DefaultVolume, &s.AutoLeaveSeconds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) UpdateVolume(ctx context.Context, channelKey string, volume float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE settings SET default_volume=? WHERE channel_key=?`, volume, channelKey)
	return err
}

func (r *Repo) AddPlay(ctx context.Context, p *PlayRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO play_history(platform, channel_id, user_id, source, source_id, title, duration_seconds, played_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		p.Platform, p.ChannelID, p.UserID, p.Source, p.SourceID, p.Title, p.DurationSeconds, p.PlayedAt,
	)
	return err
}

func (r *Repo) RecentPlays(ctx context.Context, platform, channelID string, limit int) ([]PlayRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, platform, channel_id, user_id, source, source_id, title, duration_seconds, played_at
		FROM play_history WHERE platform=? AND channel_id=?
		ORDER BY played_at DESC LIMIT ?`, platform, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayRecord
	for rows.Next() {
		var p PlayRecord
		if err := rows.Scan(&p.ID, &p.Platform, &p.ChannelID, &p.UserID, &p.Source, &p.SourceID,
			&p.Title, &p.DurationSeconds, &p.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) CacheTouch(ctx context.Context, hash string, size int64, created bool) error {
	now := time.Now().Unix()
	if created {
		_, err := r.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO file_cache(hash,bytes,accessed_at,created_at)
			 VALUES (?,?,?,COALESCE((SELECT created_at FROM file_cache WHERE hash=?),?))`,
			hash, size, now, hash, now)
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE file_cache SET accessed_at=? WHERE hash=?`, now, hash)
	return err
}

func (r *Repo) CacheRemove(ctx context.Context, hash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM file_cache WHERE hash=?`, hash)
	return err
}

func (r *Repo) CacheTotalBytes(ctx context.Context) (int64, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(bytes),0) FROM file_cache`)
	var v int64
	if err := row.Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// CacheEntryInfo mirrors one file_cache row for cold-start recovery.
type CacheEntryInfo struct {
	Hash       string
	Bytes      int64
	AccessedAt int64
}

func (r *Repo) CacheList(ctx context.Context) ([]CacheEntryInfo, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT hash, bytes, accessed_at FROM file_cache ORDER BY accessed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CacheEntryInfo
	for rows.Next() {
		var e CacheEntryInfo
		if err := rows.Scan(&e.Hash, &e.Bytes, &e.AccessedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
