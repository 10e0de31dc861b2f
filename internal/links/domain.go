package links

// PageRef is the slice of the page record the link graph works with.
type PageRef struct {
	ID       int64
	Title    string
	Slug     string
	IsFolder bool
	Content  *string
	ParentID *int64
}

// BrokenLink is a cross-reference token with no resolvable target. Broken
// links are informational, never errors.
type BrokenLink struct {
	PageID int64
	Token  string
}

// ReparseFailure records one page the batch reparse could not process.
type ReparseFailure struct {
	PageID int64
	Title  string
	Err    string
}

// ReparseReport summarises a full recomputation of the link graph.
type ReparseReport struct {
	Pages    int
	Edges    int
	Failures []ReparseFailure
}
