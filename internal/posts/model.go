// Package posts manages blog content. It is the main consumer of the
// ownership-conditional grants: editors may only touch their own drafts
// while managers publish anyone's work.
package posts

import "time"

// Status values for a post's publication lifecycle.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
)

// Post is a content entry authored by a user.
type Post struct {
	ID          int64
	AuthorID    int64
	Title       string
	Slug        string
	Body        string
	Status      string
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Published reports whether the post is visible to regular users.
func (p Post) Published() bool {
	return p.Status == StatusPublished
}
