package pages

import "time"

// Page is a node in the document hierarchy. Folders are content-less pages
// used purely for grouping. Children and backlinks are derived views resolved
// through repository queries, never stored on the entity.
type Page struct {
	ID        int64
	Title     string
	Slug      string
	Content   *string
	IsFolder  bool
	Version   int
	Published bool
	ParentID  *int64
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasContent reports whether the page carries body text.
func (p *Page) HasContent() bool {
	return p != nil && !p.IsFolder && p.Content != nil
}

// CreatePageInput carries the fields accepted by Service.Create.
type CreatePageInput struct {
	Title    string `validate:"required,max=255"`
	Content  *string
	IsFolder bool
	ParentID *int64
}

// UpdatePageInput carries the fields accepted by Service.Update. A nil
// Content clears the body; the slug is never touched by updates.
type UpdatePageInput struct {
	Title   string `validate:"required,max=255"`
	Content *string
}
