// Package catalog mirrors closed segments into PostgreSQL for listing and archive tracking.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camvault/recorder/internal/models"
	"github.com/camvault/recorder/internal/segment"
)

// ErrNotFound is returned when no segment matches.
var ErrNotFound = errors.New("segment not found")

const segmentColumns = `id, channel, name, path, day, started_at, ended_at, bytes, archive_status, COALESCE(s3_key,''), created_at, updated_at`

// Repository handles segment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a segment catalog repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert inserts a closed segment, or refreshes its end, size and path if the same
// (channel, name) was already catalogued.
func (r *Repository) Upsert(ctx context.Context, seg *models.Segment) error {
	if seg.Day == "" {
		seg.Day = seg.StartedAt.Format(segment.DayLayout)
	}
	if seg.ArchiveStatus == "" {
		seg.ArchiveStatus = models.ArchiveStatusPending
	}
	const q = `INSERT INTO segments (channel, name, path, day, started_at, ended_at, bytes, archive_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (channel, name) DO UPDATE
		SET path = EXCLUDED.path, ended_at = EXCLUDED.ended_at, bytes = EXCLUDED.bytes, updated_at = NOW()
		RETURNING id, archive_status, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, seg.Channel, seg.Name, seg.Path, seg.Day, seg.StartedAt, seg.EndedAt, seg.Bytes, seg.ArchiveStatus).
		Scan(&seg.ID, &seg.ArchiveStatus, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert segment %s: %w", seg.Name, err)
	}
	return nil
}

// GetByName returns the segment with the given file name on channel.
func (r *Repository) GetByName(ctx context.Context, channel int, name string) (*models.Segment, error) {
	q := `SELECT ` + segmentColumns + ` FROM segments WHERE channel = $1 AND name = $2`
	seg, err := scanSegment(r.pool.QueryRow(ctx, q, channel, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// ListByDay returns the channel's segments for day (YYYYMMDD) in start order.
func (r *Repository) ListByDay(ctx context.Context, channel int, day string) ([]models.Segment, error) {
	if _, err := time.Parse(segment.DayLayout, day); err != nil {
		return nil, fmt.Errorf("invalid day %q: %w", day, err)
	}
	q := `SELECT ` + segmentColumns + ` FROM segments WHERE channel = $1 AND day = $2 ORDER BY started_at`
	rows, err := r.pool.Query(ctx, q, channel, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *seg)
	}
	return list, rows.Err()
}

// MarkArchived records a successful upload.
func (r *Repository) MarkArchived(ctx context.Context, id uuid.UUID, s3Key string) error {
	const q = `UPDATE segments SET archive_status = $1, s3_key = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, models.ArchiveStatusArchived, s3Key, id)
	return err
}

// MarkArchiveFailed records that the upload was given up.
func (r *Repository) MarkArchiveFailed(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE segments SET archive_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, models.ArchiveStatusFailed, id)
	return err
}

func scanSegment(row pgx.Row) (*models.Segment, error) {
	var seg models.Segment
	err := row.Scan(&seg.ID, &seg.Channel, &seg.Name, &seg.Path, &seg.Day, &seg.StartedAt, &seg.EndedAt,
		&seg.Bytes, &seg.ArchiveStatus, &seg.S3Key, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &seg, nil
}
