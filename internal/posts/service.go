package posts

import (
	"context"
	"log/slog"

	"github.com/atrium-cms/atrium/internal/authz"
	"github.com/atrium-cms/atrium/internal/shared"
)

// RepositoryPort defines data access methods for posts.
type RepositoryPort interface {
	List(ctx context.Context, publishedOnly bool, limit, offset int) ([]Post, int, error)
	Get(ctx context.Context, id int64) (Post, error)
	Create(ctx context.Context, p Post) (Post, error)
	Update(ctx context.Context, id int64, title, slug, body string) (Post, error)
	SetStatus(ctx context.Context, id int64, status string) (Post, error)
	Delete(ctx context.Context, id int64) error
}

// Service handles post business logic. Every mutating call re-checks the
// grant against the loaded record's author before touching storage.
type Service struct {
	repo      RepositoryPort
	evaluator *authz.Evaluator
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, evaluator *authz.Evaluator, logger *slog.Logger) *Service {
	return &Service{repo: repo, evaluator: evaluator, logger: logger}
}

// List returns a page of posts. Callers who cannot publish see only
// published entries; their own drafts still surface through Get.
func (s *Service) List(ctx context.Context, p authz.Principal, page, perPage int) ([]Post, shared.Pagination, error) {
	publishedOnly := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionPublish) != nil
	pg := shared.NewPagination(page, perPage, 0)
	posts, total, err := s.repo.List(ctx, publishedOnly, pg.PerPage, pg.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return posts, shared.NewPagination(page, perPage, total), nil
}

// Get fetches a single post. Drafts are visible to their author and to
// principals holding the publish grant; everyone else sees not-found so the
// existence of a draft leaks nothing.
func (s *Service) Get(ctx context.Context, p authz.Principal, id int64) (Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return Post{}, err
	}
	if post.Published() || post.AuthorID == p.UserID {
		return post, nil
	}
	if err := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionPublish); err != nil {
		return Post{}, shared.ErrNotFound
	}
	return post, nil
}

// Create inserts a new draft authored by the principal.
func (s *Service) Create(ctx context.Context, p authz.Principal, title, body string) (Post, error) {
	if err := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionCreate); err != nil {
		return Post{}, err
	}
	return s.repo.Create(ctx, Post{
		AuthorID: p.UserID,
		Title:    title,
		Slug:     Slugify(title),
		Body:     body,
		Status:   StatusDraft,
	})
}

// Update rewrites a post's content. Ownership-conditional: an editor may
// only touch their own posts.
func (s *Service) Update(ctx context.Context, p authz.Principal, id int64, title, body string) (Post, error) {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return Post{}, err
	}
	if err := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionUpdate, authz.WithOwner(post.AuthorID)); err != nil {
		return Post{}, err
	}
	return s.repo.Update(ctx, id, title, Slugify(title), body)
}

// Delete removes a post under the same ownership rule as Update.
func (s *Service) Delete(ctx context.Context, p authz.Principal, id int64) error {
	post, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionDelete, authz.WithOwner(post.AuthorID)); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Publish makes a post publicly visible.
func (s *Service) Publish(ctx context.Context, p authz.Principal, id int64) (Post, error) {
	return s.setStatus(ctx, p, id, StatusPublished)
}

// Unpublish returns a post to draft.
func (s *Service) Unpublish(ctx context.Context, p authz.Principal, id int64) (Post, error) {
	return s.setStatus(ctx, p, id, StatusDraft)
}

func (s *Service) setStatus(ctx context.Context, p authz.Principal, id int64, status string) (Post, error) {
	if err := s.evaluator.Authorize(p, authz.ResourcePost, authz.ActionPublish); err != nil {
		return Post{}, err
	}
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Post{}, err
	}
	return s.repo.SetStatus(ctx, id, status)
}
