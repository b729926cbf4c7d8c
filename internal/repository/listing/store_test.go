package listing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/listsync/internal/domain"
	domlisting "github.com/kailas-cloud/listsync/internal/domain/listing"
)

func TestGet_ScansSnapshot(t *testing.T) {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	fq := &fakeQuerier{rows: [][]any{listingRow("l1", created)}}
	s := New(fq)

	l, err := s.Get(context.Background(), "l1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.ID != "l1" || l.Status != domlisting.StatusActive || l.Bedrooms != 2 {
		t.Errorf("unexpected listing %+v", l)
	}
	if l.AgentTrust == nil || *l.AgentTrust != 0.9 {
		t.Errorf("AgentTrust = %v", l.AgentTrust)
	}
	if l.UpdatedAt != nil || l.FeaturedUntil != nil {
		t.Errorf("nullable timestamps should stay nil")
	}
	if !l.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v", l.CreatedAt)
	}
	if fq.lastArgs[0] != "l1" || !strings.Contains(fq.lastSQL, "WHERE l.id = $1") {
		t.Errorf("unexpected query %q %v", fq.lastSQL, fq.lastArgs)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := New(&fakeQuerier{})
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestListAfter_FromStart(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fq := &fakeQuerier{rows: [][]any{listingRow("a", t0), listingRow("b", t0.Add(time.Second))}}
	s := New(fq)

	page, err := s.ListAfter(context.Background(), domlisting.Cursor{}, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 2 || page[1].ID != "b" {
		t.Fatalf("unexpected page %+v", page)
	}
	if strings.Contains(fq.lastSQL, "WHERE") {
		t.Errorf("zero cursor must not filter: %q", fq.lastSQL)
	}
	if !strings.HasSuffix(fq.lastSQL, "ORDER BY l.created_at, l.id\nLIMIT $1") {
		t.Errorf("unexpected tail: %q", fq.lastSQL)
	}
	if len(fq.lastArgs) != 1 || fq.lastArgs[0] != 500 {
		t.Errorf("args = %v", fq.lastArgs)
	}
}

func TestListAfter_WithCursor(t *testing.T) {
	fq := &fakeQuerier{}
	s := New(fq)
	c := domlisting.Cursor{CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ID: "x"}

	page, err := s.ListAfter(context.Background(), c, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page, got %d", len(page))
	}
	if !strings.Contains(fq.lastSQL, "(l.created_at, l.id) > ($1, $2)") || !strings.HasSuffix(fq.lastSQL, "LIMIT $3") {
		t.Errorf("unexpected query %q", fq.lastSQL)
	}
	if len(fq.lastArgs) != 3 || fq.lastArgs[1] != "x" || fq.lastArgs[2] != 10 {
		t.Errorf("args = %v", fq.lastArgs)
	}
}

func TestListAfter_QueryError(t *testing.T) {
	s := New(&fakeQuerier{queryErr: errors.New("conn refused")})
	if _, err := s.ListAfter(context.Background(), domlisting.Cursor{}, 10); err == nil {
		t.Fatal("expected error")
	}
}

func TestPing_WithoutPool(t *testing.T) {
	if err := New(&fakeQuerier{}).Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
