package images

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const selectColumns = `id::text, storage_key, fingerprint, original_filename, mime_type,
	size_bytes, created_at, title, description, annotation`

type ImageRepository struct {
	pool *pgxpool.Pool
}

var _ repository = (*ImageRepository)(nil)

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// withConn borrows one pooled connection for fn and always returns it,
// including when fn panics.
func (r *ImageRepository) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return fn(conn)
}

// FindByFingerprint returns nil, nil when no record has the fingerprint.
func (r *ImageRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*Image, error) {
	query := `SELECT ` + selectColumns + ` FROM images WHERE fingerprint = $1`

	var img *Image
	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		found, err := scanImage(conn.QueryRow(ctx, query, fingerprint))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		img = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find image by fingerprint: %w", err)
	}

	return img, nil
}

// Insert stores img in a single transaction and fills in the server-assigned
// ID and CreatedAt. A fingerprint that is already present yields
// ErrDuplicateFingerprint; nothing is committed on any error.
func (r *ImageRepository) Insert(ctx context.Context, img *Image) error {
	query := `
		INSERT INTO images (storage_key, fingerprint, original_filename, mime_type,
		                    size_bytes, title, description, annotation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id::text, created_at`

	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			return tx.QueryRow(ctx, query,
				img.StorageKey, img.Fingerprint, img.Filename, img.MimeType,
				img.Size, img.Title, img.Description, img.Annotation,
			).Scan(&img.ID, &img.CreatedAt)
		})
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert image: %w", ErrDuplicateFingerprint)
		}
		return fmt.Errorf("insert image: %w", err)
	}

	img.CreatedAt = img.CreatedAt.UTC()
	return nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id string) (*Image, error) {
	query := `SELECT ` + selectColumns + ` FROM images WHERE id = $1`

	var img *Image
	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		var err error
		img, err = scanImage(conn.QueryRow(ctx, query, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get image by id: %w", err)
	}

	return img, nil
}

// List returns the newest records first.
func (r *ImageRepository) List(ctx context.Context, limit int) ([]Image, error) {
	query := `SELECT ` + selectColumns + ` FROM images ORDER BY created_at DESC LIMIT $1`

	var images []Image
	err := r.withConn(ctx, func(conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, query, limit)
		if err != nil {
			return fmt.Errorf("query images: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			img, err := scanImage(rows)
			if err != nil {
				return fmt.Errorf("scan image: %w", err)
			}
			images = append(images, *img)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	return images, nil
}

func scanImage(row pgx.Row) (*Image, error) {
	var img Image
	err := row.Scan(
		&img.ID, &img.StorageKey, &img.Fingerprint, &img.Filename, &img.MimeType,
		&img.Size, &img.CreatedAt, &img.Title, &img.Description, &img.Annotation,
	)
	if err != nil {
		return nil, err
	}
	img.CreatedAt = img.CreatedAt.UTC()
	return &img, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
