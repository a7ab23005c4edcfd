package testsupport

import (
	"context"
	"testing"

	"folio/internal/config"
	"folio/internal/library"
	"folio/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLibrary opens a library.Store for tests and registers cleanup.
func MustOpenLibrary(t testing.TB, cfg *config.Config) *library.Store {
	t.Helper()

	store, err := library.Open(cfg)
	if err != nil {
		t.Fatalf("library.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewBook creates a book row for tests using the provided library store.
func NewBook(t testing.TB, store *library.Store, title string) *library.Book {
	t.Helper()

	book, err := store.CreateBook(context.Background(), library.NewBookParams{Title: title})
	if err != nil {
		t.Fatalf("store.CreateBook: %v", err)
	}
	return book
}

// NewJob enqueues a pipeline job for tests using the provided queue store.
func NewJob(t testing.TB, store *queue.Store, bookID int64, pageIDs ...int64) *queue.Job {
	t.Helper()

	job, err := store.NewJob(context.Background(), queue.NewJobParams{
		Type:    queue.TypePipeline,
		BookID:  bookID,
		PageIDs: pageIDs,
	})
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
