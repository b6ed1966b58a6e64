package board

import "context"

// FetchPage retrieves one page of search results. done=true signals the
// final page.
type FetchPage func(ctx context.Context) (results []IssueSnapshot, done bool, err error)

// SearchIter is a lazy, finite, one-shot sequence of issue snapshots.
// It is not restartable; re-invoke SearchIssues to re-query.
type SearchIter struct {
	fetch FetchPage
	buf   []IssueSnapshot
	done  bool
	err   error
}

// NewSearchIter wraps a page-fetching closure in an iterator. Adapters build
// the closure over their own pagination scheme (page numbers, cursors,
// startAt offsets).
func NewSearchIter(fetch FetchPage) *SearchIter {
	return &SearchIter{fetch: fetch}
}

// ErrSearchIter returns an iterator that fails immediately. Used by adapters
// whose query cannot even be constructed.
func ErrSearchIter(err error) *SearchIter {
	return &SearchIter{done: true, err: err}
}

// Next returns the next snapshot, fetching a page when the buffer drains.
// Returns nil, false when the sequence is exhausted or an error occurred;
// check Err afterwards.
func (it *SearchIter) Next(ctx context.Context) (*IssueSnapshot, bool) {
	for len(it.buf) == 0 {
		if it.done || it.err != nil {
			return nil, false
		}
		results, done, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			it.done = true
			return nil, false
		}
		it.buf = results
		it.done = done
	}

	snap := it.buf[0]
	it.buf = it.buf[1:]
	return &snap, true
}

// Err returns the error that terminated iteration, if any.
func (it *SearchIter) Err() error {
	return it.err
}
