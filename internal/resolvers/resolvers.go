// Package resolvers binds the shelf schema to data.
package resolvers

import (
	"context"
	"time"
)

// Book is a title/author pair. Both fields are nullable in the schema.
type Book struct {
	title  string
	author string
}

func NewBook(title, author string) *Book {
	return &Book{title: title, author: author}
}

func (b *Book) Title() *string  { return &b.title }
func (b *Book) Author() *string { return &b.author }

var shelf = []*Book{
	NewBook("The Awakening", "Kate Chopin"),
	NewBook("City of Glass", "Paul Auster"),
}

// Resolver is the root resolver for Query and Subscription.
type Resolver struct{}

func New() *Resolver {
	return &Resolver{}
}

func (r *Resolver) Hello() string {
	return "Hello World"
}

// Books returns a fresh copy of the shelf on every call.
func (r *Resolver) Books() []*Book {
	out := make([]*Book, 0, len(shelf))
	for i := range shelf {
		b := *shelf[i]
		out = append(out, &b)
	}
	return out
}

// BookFeedArgs are the bookFeed field arguments.
type BookFeedArgs struct {
	IntervalMs int32
}

// BookFeed emits every book once and closes the channel. It stops early when
// ctx is cancelled.
func (r *Resolver) BookFeed(ctx context.Context, args BookFeedArgs) <-chan *Book {
	ch := make(chan *Book)
	interval := time.Duration(args.IntervalMs) * time.Millisecond
	go func() {
		defer close(ch)
		for i, b := range r.Books() {
			if i > 0 && interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- b:
			}
		}
	}()
	return ch
}
