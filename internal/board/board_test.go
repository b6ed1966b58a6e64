package board

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agilekit/boardsync/internal/config"
)

func TestTicketRefEqual(t *testing.T) {
	a := TicketRef{Kind: config.BackendJira, Raw: "PROJ-1"}
	b := TicketRef{Kind: config.BackendJira, Raw: "PROJ-1"}
	c := TicketRef{Kind: config.BackendLinear, Raw: "PROJ-1"}
	d := TicketRef{Kind: config.BackendJira, Raw: "PROJ-2"}

	if !a.Equal(b) {
		t.Error("identical refs not equal")
	}
	// Same raw ID under a different backend tag is a different ticket.
	if a.Equal(c) {
		t.Error("refs with different kinds compared equal")
	}
	if a.Equal(d) {
		t.Error("refs with different raw IDs compared equal")
	}
	if a.IsZero() {
		t.Error("populated ref reported zero")
	}
	if !(TicketRef{}).IsZero() {
		t.Error("zero ref not reported zero")
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range States {
		if !s.Valid() {
			t.Errorf("state %q reported invalid", s)
		}
	}
	if State("shipping").Valid() {
		t.Error("unknown state reported valid")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		check      func(error) bool
	}{
		{200, "", func(err error) bool { return err == nil }},
		{204, "", func(err error) bool { return err == nil }},
		{401, "", func(err error) bool { var e *AuthError; return errors.As(err, &e) }},
		{403, "", func(err error) bool { var e *AuthError; return errors.As(err, &e) }},
		{404, "", func(err error) bool { var e *NotFoundError; return errors.As(err, &e) }},
		{400, "", func(err error) bool { var e *ValidationError; return errors.As(err, &e) }},
		{422, "", func(err error) bool { var e *ValidationError; return errors.As(err, &e) }},
		{429, "", func(err error) bool { var e *RateLimitError; return errors.As(err, &e) }},
		{500, "", IsTransient},
		{503, "", IsTransient},
	}
	for _, tt := range tests {
		err := ClassifyHTTPStatus(config.BackendJira, "test op", tt.status, "body", tt.retryAfter)
		if !tt.check(err) {
			t.Errorf("status %d classified as %v", tt.status, err)
		}
	}
}

func TestRetryAfterHint(t *testing.T) {
	err := ClassifyHTTPStatus(config.BackendZenhub, "move", 429, "", "30")
	delay, ok := RetryAfterHint(err)
	if !ok || delay != 30*time.Second {
		t.Errorf("RetryAfterHint = %v, %v; want 30s, true", delay, ok)
	}
	if !IsTransient(err) {
		t.Error("rate limit not transient")
	}

	if _, ok := RetryAfterHint(ClassifyHTTPStatus(config.BackendZenhub, "move", 429, "", "")); ok {
		t.Error("hint reported without Retry-After header")
	}

	if _, ok := RetryAfterHint(errors.New("plain")); ok {
		t.Error("hint reported for plain error")
	}
}

func TestIsTransientRejectsPermanentCategories(t *testing.T) {
	permanent := []error{
		&AuthError{Backend: config.BackendJira, Reason: "bad token"},
		&NotFoundError{Ref: TicketRef{Kind: config.BackendJira, Raw: "PROJ-1"}},
		&ValidationError{Backend: config.BackendJira, Reason: "no summary"},
		&UnmappedStateError{Backend: config.BackendJira, State: StateDone},
		errors.New("misc"),
	}
	for _, err := range permanent {
		if IsTransient(err) {
			t.Errorf("%T classified transient", err)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := &Registry{factories: make(map[config.BackendKind]AdapterFactory)}

	if _, err := r.New(config.BackendJira); err == nil {
		t.Error("expected error for unregistered kind")
	}

	r.Register(config.BackendJira, func() Adapter { return nil })
	r.Register(config.BackendLinear, func() Adapter { return nil })

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != config.BackendJira || kinds[1] != config.BackendLinear {
		t.Errorf("Kinds() = %v", kinds)
	}
}

func TestSearchIterDrainsPages(t *testing.T) {
	pages := [][]IssueSnapshot{
		{{Title: "a"}, {Title: "b"}},
		{{Title: "c"}},
	}
	calls := 0
	it := NewSearchIter(func(ctx context.Context) ([]IssueSnapshot, bool, error) {
		page := pages[calls]
		calls++
		return page, calls == len(pages), nil
	})

	var got []string
	for snap, ok := it.Next(context.Background()); ok; snap, ok = it.Next(context.Background()) {
		got = append(got, snap.Title)
	}
	if it.Err() != nil {
		t.Fatalf("Err() = %v", it.Err())
	}
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("drained %v", got)
	}
	// One-shot: exhausted iterators stay exhausted.
	if _, ok := it.Next(context.Background()); ok {
		t.Error("iterator restarted after exhaustion")
	}
}

func TestSearchIterPropagatesError(t *testing.T) {
	boom := fmt.Errorf("query failed")
	it := NewSearchIter(func(ctx context.Context) ([]IssueSnapshot, bool, error) {
		return nil, false, boom
	})
	if _, ok := it.Next(context.Background()); ok {
		t.Error("Next succeeded despite fetch error")
	}
	if !errors.Is(it.Err(), boom) {
		t.Errorf("Err() = %v", it.Err())
	}

	if _, ok := ErrSearchIter(boom).Next(context.Background()); ok {
		t.Error("ErrSearchIter yielded a result")
	}
}
