package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
)

const itemColumns = `
	id, uploader_id, title, description, status, media_url, media_object_key,
	thumbnail_url, duration_seconds, view_count, like_count, comment_count,
	created_at, updated_at`

type ItemRepository struct {
	pool *pgxpool.Pool
}

func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

func scanItem(row pgx.Row) (*entity.ItemRecord, error) {
	item := &entity.ItemRecord{}
	var status string
	err := row.Scan(
		&item.ID, &item.UploaderID, &item.Title, &item.Description, &status,
		&item.MediaURL, &item.MediaObjectKey, &item.ThumbnailURL, &item.DurationSeconds,
		&item.ViewCount, &item.LikeCount, &item.CommentCount,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Status = entity.ItemStatus(status)
	return item, nil
}

func notFound(err error, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", port.ErrItemNotFound, id)
	}
	return err
}

func (r *ItemRepository) Create(ctx context.Context, rec *entity.ItemRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.Status = entity.ItemStatusPending
	rec.CreatedAt, rec.UpdatedAt = now, now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO items (id, uploader_id, title, description, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UploaderID, rec.Title, rec.Description, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (r *ItemRepository) FindByID(ctx context.Context, id string) (*entity.ItemRecord, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id))
	if err != nil {
		return nil, fmt.Errorf("find item by id: %w", notFound(err, id))
	}
	return item, nil
}

func (r *ItemRepository) List(ctx context.Context, q entity.ListQuery) (*entity.ItemPage, error) {
	q = q.Normalize()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM items WHERE status=$1`, string(q.Status)).Scan(&total); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE status=$1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`,
		string(q.Status), q.Limit, q.Offset(),
	)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]entity.ItemRecord, 0, q.Limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return entity.NewItemPage(items, q, total), nil
}

// UpdateStatus is a guarded update: the row only changes when its current
// status is one the target is reachable from.
func (r *ItemRepository) UpdateStatus(ctx context.Context, id string, to entity.ItemStatus) (*entity.ItemRecord, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `
		UPDATE items SET status=$2, updated_at=now()
		WHERE id=$1 AND status = ANY($3)
		RETURNING `+itemColumns,
		id, string(to), statusStrings(entity.AllowedFrom(to)),
	))
	if err != nil {
		return nil, fmt.Errorf("update item status: %w", r.transitionError(ctx, err, id, to))
	}
	return item, nil
}

func (r *ItemRepository) CompleteProcessing(ctx context.Context, id string, res entity.ProcessingResult) (*entity.ItemRecord, error) {
	to := entity.ItemStatusReady
	item, err := scanItem(r.pool.QueryRow(ctx, `
		UPDATE items SET
			status=$2, media_url=$3, media_object_key=$4, thumbnail_url=$5,
			duration_seconds=$6, updated_at=now()
		WHERE id=$1 AND status = ANY($7)
		RETURNING `+itemColumns,
		id, string(to), res.MediaURL, res.MediaObjectKey, res.ThumbnailURL,
		res.DurationSeconds, statusStrings(entity.AllowedFrom(to)),
	))
	if err != nil {
		return nil, fmt.Errorf("complete item processing: %w", r.transitionError(ctx, err, id, to))
	}
	return item, nil
}

// transitionError tells a missing row apart from a forbidden transition
// after a guarded update matched nothing.
func (r *ItemRepository) transitionError(ctx context.Context, err error, id string, to entity.ItemStatus) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var current string
	if err := r.pool.QueryRow(ctx, `SELECT status FROM items WHERE id=$1`, id).Scan(&current); err != nil {
		return notFound(err, id)
	}
	return entity.ValidateTransition(entity.ItemStatus(current), to)
}

func (r *ItemRepository) UpdateMetadata(ctx context.Context, id string, meta entity.ItemMetadata) (*entity.ItemRecord, error) {
	if meta.Empty() {
		return r.FindByID(ctx, id)
	}
	item, err := scanItem(r.pool.QueryRow(ctx, `
		UPDATE items SET
			title=COALESCE($2, title),
			description=COALESCE($3, description),
			updated_at=now()
		WHERE id=$1
		RETURNING `+itemColumns,
		id, meta.Title, meta.Description,
	))
	if err != nil {
		return nil, fmt.Errorf("update item metadata: %w", notFound(err, id))
	}
	return item, nil
}

func (r *ItemRepository) IncrementViews(ctx context.Context, id string) (*entity.ItemRecord, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, `
		UPDATE items SET view_count=view_count+1 WHERE id=$1
		RETURNING `+itemColumns, id))
	if err != nil {
		return nil, fmt.Errorf("increment item views: %w", notFound(err, id))
	}
	return item, nil
}

// ToggleLike flips userID's like on itemID and returns whether the item is
// now liked by that user.
func (r *ItemRepository) ToggleLike(ctx context.Context, itemID, userID string) (bool, error) {
	var liked bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT true FROM items WHERE id=$1 FOR UPDATE`, itemID).Scan(&exists); err != nil {
			return notFound(err, itemID)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM item_likes WHERE item_id=$1 AND user_id=$2`, itemID, userID)
		if err != nil {
			return err
		}
		delta := -1
		if tag.RowsAffected() == 0 {
			if _, err := tx.Exec(ctx, `INSERT INTO item_likes (item_id, user_id) VALUES ($1,$2)`, itemID, userID); err != nil {
				return err
			}
			delta, liked = 1, true
		}
		_, err = tx.Exec(ctx, `UPDATE items SET like_count=GREATEST(like_count+$2, 0), updated_at=now() WHERE id=$1`, itemID, delta)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("toggle like: %w", err)
	}
	return liked, nil
}

func (r *ItemRepository) AddComment(ctx context.Context, itemID, userID, content string) (*entity.Comment, error) {
	c := &entity.Comment{
		ID:      uuid.NewString(),
		ItemID:  itemID,
		Content: content,
		Author:  entity.Author{ID: userID},
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE items SET comment_count=comment_count+1, updated_at=now() WHERE id=$1`, itemID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", port.ErrItemNotFound, itemID)
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO comments (id, item_id, user_id, content) VALUES ($1,$2,$3,$4)
			RETURNING created_at`,
			c.ID, itemID, userID, content,
		).Scan(&c.CreatedAt); err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `SELECT username, avatar FROM users WHERE id=$1`, userID).
			Scan(&c.Author.Username, &c.Author.Avatar)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

func statusStrings(statuses []entity.ItemStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
