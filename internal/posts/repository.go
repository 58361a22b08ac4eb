package posts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atrium-cms/atrium/internal/shared"
)

// Repository provides PostgreSQL backed persistence for posts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const postColumns = `id, author_id, title, slug, body, status, published_at, created_at, updated_at`

// List returns one page of posts plus the total count. With publishedOnly
// set, drafts are filtered out.
func (r *Repository) List(ctx context.Context, publishedOnly bool, limit, offset int) ([]Post, int, error) {
	filter := ``
	if publishedOnly {
		filter = ` WHERE status = 'published'`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM posts`+filter).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts`+filter+` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, 0, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// Get fetches a post by ID.
func (r *Repository) Get(ctx context.Context, id int64) (Post, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	return scanPost(row)
}

// Create inserts a new draft.
func (r *Repository) Create(ctx context.Context, p Post) (Post, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO posts (author_id, title, slug, body, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING `+postColumns,
		p.AuthorID, p.Title, p.Slug, p.Body, p.Status)
	return scanPost(row)
}

// Update rewrites title, slug and body.
func (r *Repository) Update(ctx context.Context, id int64, title, slug, body string) (Post, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE posts SET title = $2, slug = $3, body = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, title, slug, body)
	return scanPost(row)
}

// SetStatus flips the publication status; publishing stamps published_at.
func (r *Repository) SetStatus(ctx context.Context, id int64, status string) (Post, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE posts SET status = $2,
		        published_at = CASE WHEN $2 = 'published' THEN NOW() ELSE NULL END,
		        updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, status)
	return scanPost(row)
}

// Delete removes a post.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanPost(row pgx.Row) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Slug, &p.Body, &p.Status, &p.PublishedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Post{}, shared.ErrNotFound
		}
		return Post{}, err
	}
	return p, nil
}
