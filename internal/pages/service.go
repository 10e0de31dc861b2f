package pages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lorekeep/lorekeep/internal/shared"
)

// LinkMaintainer rebuilds a page's outgoing link set after a content-bearing
// save. Implemented by the links service; wired in at startup.
type LinkMaintainer interface {
	MaintainPage(ctx context.Context, pageID int64) error
}

// Service implements the page hierarchy operations.
type Service struct {
	repo     Repository
	links    LinkMaintainer
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs a Service. links may be nil in contexts that never
// save content (migrations, read-only tooling).
func NewService(repo Repository, links LinkMaintainer) *Service {
	return &Service{
		repo:     repo,
		links:    links,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) stamp(ctx context.Context) string {
	if p := shared.PrincipalFromContext(ctx); p.Authenticated() {
		return p.Username
	}
	return "system"
}

// Create inserts a new page or folder under the optional parent.
func (s *Service) Create(ctx context.Context, in CreatePageInput) (*Page, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("pages: create: %v: %w", err, shared.ErrValidation)
	}
	if in.IsFolder {
		in.Content = nil
	}

	author := s.stamp(ctx)
	var created *Page
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetByTitle(ctx, in.Title); err == nil {
			return fmt.Errorf("pages: title %q already exists: %w", in.Title, shared.ErrValidation)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		if in.ParentID != nil {
			if _, err := repo.Get(ctx, *in.ParentID); err != nil {
				return fmt.Errorf("pages: parent %d: %w", *in.ParentID, err)
			}
		}

		base := Slugify(in.Title)
		taken, err := repo.SlugsWithPrefix(ctx, base)
		if err != nil {
			return err
		}

		now := s.now()
		page := &Page{
			Title:     in.Title,
			Slug:      NextSlug(base, taken),
			Content:   in.Content,
			IsFolder:  in.IsFolder,
			Version:   1,
			ParentID:  in.ParentID,
			CreatedBy: author,
			UpdatedBy: author,
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := repo.Create(ctx, page)
		if err != nil {
			return err
		}
		page.ID = id
		created = page
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created.HasContent() {
		if err := s.maintain(ctx, created); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// Update changes a page's title and content. The slug is preserved and the
// version increments on every call.
func (s *Service) Update(ctx context.Context, id int64, in UpdatePageInput) (*Page, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("pages: update: %v: %w", err, shared.ErrValidation)
	}

	var updated *Page
	contentChanged := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		page, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}

		if page.Title != in.Title {
			if other, err := repo.GetByTitle(ctx, in.Title); err == nil && other.ID != id {
				return fmt.Errorf("pages: title %q already exists: %w", in.Title, shared.ErrValidation)
			} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
				return err
			}
		}

		newContent := in.Content
		if page.IsFolder {
			newContent = nil
		}
		contentChanged = !contentEqual(page.Content, newContent)

		page.Title = in.Title
		page.Content = newContent
		page.Version++
		page.UpdatedBy = s.stamp(ctx)
		page.UpdatedAt = s.now()
		if err := repo.Update(ctx, page); err != nil {
			return err
		}
		updated = page
		return nil
	})
	if err != nil {
		return nil, err
	}

	if contentChanged {
		if err := s.maintain(ctx, updated); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// SetPublished flips the publish flag without bumping the version.
func (s *Service) SetPublished(ctx context.Context, id int64, published bool) error {
	return s.repo.SetPublished(ctx, id, published, s.stamp(ctx))
}

// Move reassigns a page's parent. A nil newParentID makes the page a root.
// Moving a page under itself or under one of its own descendants fails.
func (s *Service) Move(ctx context.Context, id int64, newParentID *int64) error {
	if newParentID != nil && *newParentID == id {
		return fmt.Errorf("pages: cannot move page under itself: %w", shared.ErrValidation)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.Get(ctx, id); err != nil {
			return err
		}
		if newParentID != nil {
			ancestor, err := repo.Get(ctx, *newParentID)
			if err != nil {
				return fmt.Errorf("pages: new parent %d: %w", *newParentID, err)
			}
			for ancestor != nil {
				if ancestor.ID == id {
					return fmt.Errorf("pages: cannot move under descendant: %w", shared.ErrValidation)
				}
				if ancestor.ParentID == nil {
					break
				}
				ancestor, err = repo.Get(ctx, *ancestor.ParentID)
				if err != nil {
					return err
				}
			}
		}
		return repo.SetParent(ctx, id, newParentID)
	})
}

// Delete removes a page. Children are reparented to the deleted page's parent
// (or become roots); link edges and permission grants touching the page are
// cleared in the same transaction. Children are never deleted.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		page, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		children, err := repo.Children(ctx, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := repo.SetParent(ctx, child.ID, page.ParentID); err != nil {
				return err
			}
		}
		if err := repo.ClearEdgesTouching(ctx, id); err != nil {
			return err
		}
		if err := repo.ClearGrantsForPage(ctx, id); err != nil {
			return err
		}
		return repo.Delete(ctx, id)
	})
}

// Get loads a single page.
func (s *Service) Get(ctx context.Context, id int64) (*Page, error) {
	return s.repo.Get(ctx, id)
}

// GetBySlug loads a single page by its slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*Page, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// RootPages returns all parentless pages, folders first, then by title.
func (s *Service) RootPages(ctx context.Context) ([]Page, error) {
	roots, err := s.repo.Roots(ctx)
	if err != nil {
		return nil, err
	}
	sortSiblings(roots)
	return roots, nil
}

// Children returns the direct children of a page, folders first, then by title.
func (s *Service) Children(ctx context.Context, id int64) ([]Page, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	children, err := s.repo.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	sortSiblings(children)
	return children, nil
}

// AncestorPath returns the chain from the root down to the page itself.
func (s *Service) AncestorPath(ctx context.Context, id int64) ([]Page, error) {
	var path []Page
	seen := make(map[int64]bool)
	current, err := s.repo.Get(ctx, id)
	for {
		if err != nil {
			return nil, err
		}
		if seen[current.ID] {
			return nil, fmt.Errorf("pages: parent chain of %d contains a cycle", id)
		}
		seen[current.ID] = true
		path = append([]Page{*current}, path...)
		if current.ParentID == nil {
			return path, nil
		}
		current, err = s.repo.Get(ctx, *current.ParentID)
	}
}

// Depth counts the ancestors of a page; roots have depth zero.
func (s *Service) Depth(ctx context.Context, id int64) (int, error) {
	path, err := s.AncestorPath(ctx, id)
	if err != nil {
		return 0, err
	}
	return len(path) - 1, nil
}

func (s *Service) maintain(ctx context.Context, page *Page) error {
	if s.links == nil {
		return nil
	}
	if err := s.links.MaintainPage(ctx, page.ID); err != nil {
		return fmt.Errorf("pages: maintain links for %d: %w", page.ID, err)
	}
	return nil
}

func sortSiblings(list []Page) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].IsFolder != list[j].IsFolder {
			return list[i].IsFolder
		}
		return strings.ToLower(list[i].Title) < strings.ToLower(list[j].Title)
	})
}

func contentEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
