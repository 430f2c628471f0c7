package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/testutil"
)

type env struct {
	svc    *Service
	files  *testutil.Faulty
	sagas  *saga.Coordinator
	clock  time.Time
	nextID int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	files := testutil.NewFaulty(testutil.TestData(t, "octocat", "lurkhub-data"))
	sagas := saga.New(kvstore.NewMemory(), "saga/octocat", slog.New(slog.NewTextHandler(io.Discard, nil)))
	e := &env{files: files, sagas: sagas, clock: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	e.svc = NewService(Bookmarks, files, "lurkhub-data", sagas)
	e.svc.now = func() time.Time { return e.clock }
	e.svc.newID = func() string {
		e.nextID++
		return fmt.Sprintf("id-%d", e.nextID)
	}
	return e
}

func TestCreateOrUpdateNovelURL(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a, err := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev", Tags: "lang, go ,lang"})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	want := Item{ID: "id-1", Title: "Go", URL: "https://go.dev/", Tags: "lang,go", Created: "2024-05-01T12:00:00.000Z"}
	if diff := cmp.Diff(want, a); diff != "" {
		t.Errorf("created item (-want +got):\n%s", diff)
	}

	b, err := e.svc.CreateOrUpdate(ctx, Item{Title: "Rust", URL: "https://www.rust-lang.org"})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID == a.ID {
		t.Error("novel url reused an id")
	}
	items, _ := e.svc.List(ctx)
	if len(items) != 2 {
		t.Errorf("items = %d, want 2", len(items))
	}
}

func TestCreateOrUpdateExistingURLNeverDuplicates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first, _ := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "https://go.dev"})
	e.clock = e.clock.Add(time.Hour)
	second, err := e.svc.CreateOrUpdate(ctx, Item{ID: "other", Title: "Go site", URL: "go.dev/"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Errorf("id = %s, want preserved %s", second.ID, first.ID)
	}
	if second.Created == first.Created {
		t.Error("created not refreshed")
	}
	items, _ := e.svc.List(ctx)
	if len(items) != 1 || items[0].Title != "Go site" {
		t.Errorf("items = %+v", items)
	}
}

func TestCreateOrUpdateRejectsInvalidURL(t *testing.T) {
	e := newEnv(t)
	if _, err := e.svc.CreateOrUpdate(context.Background(), Item{URL: "not a url"}); !errors.Is(err, apperr.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDeleteMissingLeavesDataset(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev"})
	before, _ := e.files.Read(ctx, "lurkhub-data", Bookmarks.Path())

	if err := e.svc.Delete(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	after, _ := e.files.Read(ctx, "lurkhub-data", Bookmarks.Path())
	if before.SHA != after.SHA {
		t.Error("dataset modified by failed delete")
	}
}

func TestUpdateKeepsCreated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	it, _ := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev"})

	e.clock = e.clock.Add(time.Hour)
	got, err := e.svc.Update(ctx, Item{ID: it.ID, Title: "Golang", URL: "go.dev", Tags: "a b"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Created != it.Created || got.Tags != "ab" {
		t.Errorf("updated = %+v", got)
	}
	if _, err := e.svc.Update(ctx, Item{ID: "missing", URL: "x.org"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	orig, _ := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev", Tags: "lang"})

	if _, err := e.svc.Archive(ctx, orig.ID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	live, _ := e.svc.List(ctx)
	archived, _ := e.svc.ListArchived(ctx)
	if len(live) != 0 || len(archived) != 1 {
		t.Fatalf("after archive live=%d archived=%d", len(live), len(archived))
	}

	restored, err := e.svc.Restore(ctx, orig.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	archived, _ = e.svc.ListArchived(ctx)
	if len(archived) != 0 {
		t.Errorf("archive not emptied: %+v", archived)
	}
	if restored.Title != orig.Title || restored.URL != orig.URL || restored.Tags != orig.Tags {
		t.Errorf("restored = %+v, original = %+v", restored, orig)
	}
}

func TestArchiveFailsClosedOnCopy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	it, _ := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev"})

	e.files.FailOnce(testutil.OpCreate, "archive", errors.New("upstream down"))
	if _, err := e.svc.Archive(ctx, it.ID); err == nil {
		t.Fatal("expected error")
	}
	live, _ := e.svc.List(ctx)
	if len(live) != 1 {
		t.Errorf("live item lost: %+v", live)
	}
	pending, _ := e.sagas.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("aborted archive journaled: %+v", pending)
	}
}

func TestArchivePartialFailureReconciles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	it, _ := e.svc.CreateOrUpdate(ctx, Item{Title: "Go", URL: "go.dev"})

	e.files.FailOnce(testutil.OpUpdate, Bookmarks.Path(), errors.New("upstream down"))
	_, err := e.svc.Archive(ctx, it.ID)
	var pe *saga.PartialError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *saga.PartialError", err)
	}
	live, _ := e.svc.List(ctx)
	archived, _ := e.svc.ListArchived(ctx)
	if len(live) != 1 || len(archived) != 1 {
		t.Fatalf("expected item in both sets, live=%d archived=%d", len(live), len(archived))
	}

	report, err := e.sagas.Reconcile(ctx)
	if err != nil || len(report.Completed) != 1 {
		t.Fatalf("Reconcile = %+v, %v", report, err)
	}
	live, _ = e.svc.List(ctx)
	archived, _ = e.svc.ListArchived(ctx)
	if len(live) != 0 || len(archived) != 1 {
		t.Errorf("after reconcile live=%d archived=%d", len(live), len(archived))
	}
}

func TestTagsSorted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, _ = e.svc.CreateOrUpdate(ctx, Item{URL: "a.org", Tags: "zeta,alpha"})
	_, _ = e.svc.CreateOrUpdate(ctx, Item{URL: "b.org", Tags: "alpha,mid"})
	tags, err := e.svc.Tags(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, tags); diff != "" {
		t.Errorf("tags (-want +got):\n%s", diff)
	}
}
