package resolvers

import (
	"context"
	"testing"
	"time"
)

func TestHello(t *testing.T) {
	if got := New().Hello(); got != "Hello World" {
		t.Fatalf("expected Hello World, got %q", got)
	}
}

func TestBooks(t *testing.T) {
	books := New().Books()
	if len(books) != 2 {
		t.Fatalf("expected 2 books, got %d", len(books))
	}
	if *books[0].Title() != "The Awakening" || *books[0].Author() != "Kate Chopin" {
		t.Fatalf("unexpected first book %q/%q", *books[0].Title(), *books[0].Author())
	}
	if *books[1].Title() != "City of Glass" || *books[1].Author() != "Paul Auster" {
		t.Fatalf("unexpected second book %q/%q", *books[1].Title(), *books[1].Author())
	}
}

func TestBooksReturnsCopies(t *testing.T) {
	r := New()
	first := r.Books()
	first[0].title = "changed"
	if got := *r.Books()[0].Title(); got != "The Awakening" {
		t.Fatalf("shelf mutated through returned book: %q", got)
	}
}

func TestBookFeedEmitsAllThenCloses(t *testing.T) {
	ch := New().BookFeed(context.Background(), BookFeedArgs{})
	var titles []string
	for b := range ch {
		titles = append(titles, *b.Title())
	}
	if len(titles) != 2 || titles[0] != "The Awakening" || titles[1] != "City of Glass" {
		t.Fatalf("unexpected feed %v", titles)
	}
}

func TestBookFeedStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := New().BookFeed(ctx, BookFeedArgs{IntervalMs: 10_000})

	if b := <-ch; b == nil || *b.Title() != "The Awakening" {
		t.Fatalf("expected first book")
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to close after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("feed did not stop after cancel")
	}
}
