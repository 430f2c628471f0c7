package workspace

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/bootstrap"
	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/kvstore"
	"github.com/lurkhub/lurkhub-app/internal/models"
	"github.com/lurkhub/lurkhub-app/internal/testutil"
)

func githubFactory(t *testing.T) (*testutil.GitHub, *Factory) {
	t.Helper()
	gh := testutil.NewGitHub(t)
	gh.AddUser("tok", models.User{Login: "octocat", Name: "Mona"})
	gh.AddUser("tok2", models.User{Login: "octocat", Name: "Mona"})
	f, err := NewFactory(Options{
		Driver: DriverGitHub,
		APIURL: gh.URL(),
		Store:  kvstore.NewMemory(),
		Names:  bootstrap.RepoNames(""),
	})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return gh, f
}

func TestNewFactoryRejectsBadDriver(t *testing.T) {
	if _, err := NewFactory(Options{Driver: "s3", Store: kvstore.NewMemory()}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := NewFactory(Options{Driver: DriverFS, Store: kvstore.NewMemory()}); err == nil {
		t.Error("expected error for fs driver without directory")
	}
}

func TestOpenCachesPerToken(t *testing.T) {
	_, f := githubFactory(t)
	ctx := context.Background()

	w1, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w1.Owner() != "octocat" || w1.User().DisplayName() != "Mona" {
		t.Errorf("user = %+v", w1.User())
	}
	w2, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatal(err)
	}
	if w1 != w2 {
		t.Error("second Open built a new workspace")
	}

	other, err := f.Open(ctx, "tok2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if other == w1 {
		t.Error("different tokens share a workspace")
	}
	if other.Sagas() == w1.Sagas() {
		t.Error("workspaces of one account share workflow registrations")
	}

	f.Forget("tok")
	w3, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatal(err)
	}
	if w3 == w1 {
		t.Error("Forget kept the workspace")
	}
}

func TestTokensOfOneAccountWriteWithTheirOwnClient(t *testing.T) {
	gh, f := githubFactory(t)
	gh.AddRepo("octocat", "lurkhub-data", true, true)
	gh.AddRepo("octocat", "lurkhub-posts", false, true)
	ctx := context.Background()

	first, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.Open(ctx, "tok2", nil)
	if err != nil {
		t.Fatal(err)
	}
	bookmarks := first.Collection(content.Bookmarks)
	it, err := bookmarks.CreateOrUpdate(ctx, content.Item{Title: "Go", URL: "go.dev"})
	if err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}

	// The second device logs out and its token is revoked.
	f.Forget("tok2")
	gh.RemoveUser("tok2")

	if _, err := bookmarks.Archive(ctx, it.ID); err != nil {
		t.Fatalf("Archive through the first token: %v", err)
	}
	if _, ok := gh.File("octocat", "lurkhub-data", content.Bookmarks.ArchivePath(1)); !ok {
		t.Error("archive file not written")
	}
	if _, err := first.Posts().Create(ctx, "still here"); err != nil {
		t.Fatalf("Create post through the first token: %v", err)
	}
	if n := gh.Count(http.MethodPut, http.StatusUnauthorized) + gh.Count(http.MethodPut, http.StatusNotFound); n != 0 {
		t.Errorf("%d writes went out with the revoked token", n)
	}

	pending, err := second.Sagas().Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Errorf("shared journal pending = %+v, %v", pending, err)
	}
	if reports := f.Sweep(ctx); len(reports) != 1 {
		t.Errorf("sweep reports = %+v", reports)
	}
}

func TestOpenBadToken(t *testing.T) {
	_, f := githubFactory(t)
	if _, err := f.Open(context.Background(), "bogus", nil); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.Profile(context.Background(), ""); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("empty token err = %v", err)
	}
}

func TestReadyFollowsSetup(t *testing.T) {
	gh, f := githubFactory(t)
	ctx := context.Background()
	w, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatal(err)
	}

	ready, err := w.Ready(ctx)
	if err != nil || ready {
		t.Fatalf("Ready before setup = %v, %v", ready, err)
	}
	if _, err := w.Setup().Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ready, err = w.Ready(ctx)
	if err != nil || !ready {
		t.Fatalf("Ready after setup = %v, %v", ready, err)
	}
	if _, ok := gh.File("octocat", "lurkhub-data", ".gitignore"); !ok {
		t.Error("data repository was not seeded")
	}
}

func TestWorkspaceServicesShareFiles(t *testing.T) {
	gh, f := githubFactory(t)
	gh.AddRepo("octocat", "lurkhub-data", true, true)
	gh.AddRepo("octocat", "lurkhub-posts", false, true)
	ctx := context.Background()
	w, err := f.Open(ctx, "tok", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.Collection(content.Bookmarks).CreateOrUpdate(ctx, content.Item{Title: "Go", URL: "go.dev"}); err != nil {
		t.Fatalf("CreateOrUpdate: %v", err)
	}
	if _, ok := gh.File("octocat", "lurkhub-data", "bookmarks/bookmarks.json"); !ok {
		t.Error("bookmark dataset not written")
	}

	if _, err := w.Posts().Create(ctx, "hello"); err != nil {
		t.Fatalf("Create post: %v", err)
	}
	cfg, err := w.Posts().Config(ctx)
	if err != nil || cfg == nil {
		t.Fatalf("Config = %v, %v", cfg, err)
	}
	if cfg.Fullname != "Mona" {
		t.Errorf("fullname = %q, want profile name", cfg.Fullname)
	}

	pub, err := f.Public("octocat")
	if err != nil {
		t.Fatal(err)
	}
	page, err := pub.Page(ctx, 1)
	if err != nil {
		t.Fatalf("public Page: %v", err)
	}
	if len(page) != 1 || page[0].Preview != "hello" {
		t.Errorf("public page = %+v", page)
	}
}

func TestFSDriver(t *testing.T) {
	local := testutil.TestData(t, "me", "lurkhub-data", "lurkhub-posts")
	f, err := NewFactory(Options{Driver: DriverFS, Local: local, Store: kvstore.NewMemory()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	w, err := f.Open(ctx, "", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w.Owner() != "me" {
		t.Errorf("owner = %q", w.Owner())
	}
	if ready, err := w.Ready(ctx); err != nil || !ready {
		t.Errorf("Ready = %v, %v", ready, err)
	}
	if _, err := f.Public("someone-else"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Public(other) err = %v", err)
	}

	reports := f.Sweep(ctx)
	if r, ok := reports["me"]; !ok || len(r.Completed)+len(r.Failed)+len(r.Unresolved) != 0 {
		t.Errorf("reports = %+v", reports)
	}
}
