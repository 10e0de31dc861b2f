package links

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/lorekeep/lorekeep/internal/pages"
	"github.com/lorekeep/lorekeep/internal/shared"
)

// Service maintains the directed reference graph between pages.
type Service struct {
	repo        Repository
	logger      *slog.Logger
	concurrency int
}

// NewService constructs a Service. concurrency bounds the reparse fan-out;
// values below 1 fall back to serial processing.
func NewService(repo Repository, logger *slog.Logger, concurrency int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{repo: repo, logger: logger, concurrency: concurrency}
}

// MaintainPage rebuilds the outgoing link set of one page from its current
// content: clear, re-extract, resolve. Unresolved tokens are dropped here and
// surfaced by BrokenLinks; self-references are dropped silently.
func (s *Service) MaintainPage(ctx context.Context, pageID int64) error {
	page, err := s.repo.PageByID(ctx, pageID)
	if err != nil {
		return err
	}

	var targetIDs []int64
	if page.Content != nil && !page.IsFolder {
		seen := make(map[int64]bool)
		for _, token := range ExtractTargets(*page.Content) {
			target, err := s.resolve(ctx, token)
			if err != nil {
				return err
			}
			if target == nil || target.ID == page.ID || seen[target.ID] {
				continue
			}
			seen[target.ID] = true
			targetIDs = append(targetIDs, target.ID)
		}
	}
	return s.repo.ReplaceOutgoing(ctx, page.ID, targetIDs)
}

// resolve maps a token to a page by exact title, falling back to the token's
// slug form. A nil result with nil error means the token is a broken link.
func (s *Service) resolve(ctx context.Context, token string) (*PageRef, error) {
	target, err := s.repo.PageByTitle(ctx, token)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	target, err = s.repo.PageBySlug(ctx, pages.Slugify(token))
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}
	return nil, nil
}

// Outgoing returns the ids of the pages referenced by the given page.
func (s *Service) Outgoing(ctx context.Context, pageID int64) ([]int64, error) {
	if _, err := s.repo.PageByID(ctx, pageID); err != nil {
		return nil, err
	}
	return s.repo.OutgoingIDs(ctx, pageID)
}

// Backlinks returns every page whose outgoing set contains pageID.
func (s *Service) Backlinks(ctx context.Context, pageID int64) ([]PageRef, error) {
	if _, err := s.repo.PageByID(ctx, pageID); err != nil {
		return nil, err
	}
	return s.repo.Backlinks(ctx, pageID)
}

// BrokenLinks returns the tokens in a page's content that resolve to nothing.
func (s *Service) BrokenLinks(ctx context.Context, pageID int64) ([]BrokenLink, error) {
	page, err := s.repo.PageByID(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.Content == nil || page.IsFolder {
		return nil, nil
	}
	var broken []BrokenLink
	for _, token := range ExtractTargets(*page.Content) {
		target, err := s.resolve(ctx, token)
		if err != nil {
			return nil, err
		}
		if target == nil {
			broken = append(broken, BrokenLink{PageID: page.ID, Token: token})
		}
	}
	return broken, nil
}

// Orphans returns the root pages nothing links to.
func (s *Service) Orphans(ctx context.Context) ([]PageRef, error) {
	return s.repo.OrphanRoots(ctx)
}

// ReparseAll recomputes every content page's outgoing set. A single page's
// failure is logged and recorded, never aborting the batch.
func (s *Service) ReparseAll(ctx context.Context) (*ReparseReport, error) {
	pageRefs, err := s.repo.ContentPages(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReparseReport{Pages: len(pageRefs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ref := range pageRefs {
		ref := ref
		g.Go(func() error {
			if err := s.MaintainPage(gctx, ref.ID); err != nil {
				s.logger.Warn("reparse page failed",
					slog.Int64("page_id", ref.ID),
					slog.String("title", ref.Title),
					slog.Any("error", err),
				)
				mu.Lock()
				report.Failures = append(report.Failures, ReparseFailure{
					PageID: ref.ID,
					Title:  ref.Title,
					Err:    err.Error(),
				})
				mu.Unlock()
				return nil
			}
			edges, err := s.repo.OutgoingIDs(gctx, ref.ID)
			if err == nil {
				mu.Lock()
				report.Edges += len(edges)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}
