// Package bootstrap checks for and creates the two repositories LurkHub
// keeps a user's data in, and gates the API until both are usable.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

const (
	DataRepo  = "lurkhub-data"
	PostsRepo = "lurkhub-posts"

	gitignorePath    = ".gitignore"
	gitignoreMessage = "Add .gitignore for OS-generated files"
	gitignoreContent = ".DS_Store\nThumbs.db\nDesktop.ini"
)

// Names are the repository names in use.
type Names struct {
	Data  string `json:"data"`
	Posts string `json:"posts"`
}

// RepoNames returns the repository names, with "-suffix" appended to each
// when suffix is set (development accounts).
func RepoNames(suffix string) Names {
	if suffix == "" {
		return Names{Data: DataRepo, Posts: PostsRepo}
	}
	return Names{Data: DataRepo + "-" + suffix, Posts: PostsRepo + "-" + suffix}
}

// AccessResult classifies one repository for the signed-in user.
type AccessResult struct {
	Repo           string `json:"repo"`
	Exists         bool   `json:"exists"`
	HasWriteAccess bool   `json:"hasWriteAccess"`
	Error          string `json:"error,omitempty"`
}

// Usable reports whether the repository exists and accepts pushes.
func (a AccessResult) Usable() bool { return a.Exists && a.HasWriteAccess }

// Status is the setup state of both repositories.
type Status struct {
	Data  AccessResult `json:"data"`
	Posts AccessResult `json:"posts"`
	Ready bool         `json:"ready"`
}

// Service runs checks and setup for one owner.
type Service struct {
	repos storage.Repositories
	files storage.Provider
	owner string
	names Names
}

// New creates a Service. files is used to seed created repositories.
func New(repos storage.Repositories, files storage.Provider, owner string, names Names) *Service {
	return &Service{repos: repos, files: files, owner: owner, names: names}
}

// Names returns the repository names the service checks.
func (s *Service) Names() Names { return s.names }

// CheckAccess looks up owner/repo. A missing repository is not an error;
// any other failure is reported in Error with Exists false.
func (s *Service) CheckAccess(ctx context.Context, owner, repo string) AccessResult {
	res := AccessResult{Repo: repo}
	r, err := s.repos.Repository(ctx, owner, repo)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return res
	case err != nil:
		res.Error = err.Error()
		if res.Error == "" {
			res.Error = "Unknown error"
		}
		return res
	}
	res.Exists = true
	res.HasWriteAccess = r.Permissions.Push
	return res
}

// CreateRepo creates an auto-initialised repository and seeds a .gitignore.
func (s *Service) CreateRepo(ctx context.Context, name, description string, private bool) error {
	r, err := s.repos.CreateRepository(ctx, name, description, private)
	if err != nil {
		return err
	}
	_, err = s.files.Create(ctx, r.Name, gitignorePath, []byte(gitignoreContent), gitignoreMessage)
	if err != nil && !errors.Is(err, apperr.ErrConflict) {
		return fmt.Errorf("bootstrap: seed %s: %w", gitignorePath, err)
	}
	return nil
}

// Status checks both repositories.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Data:  s.CheckAccess(ctx, s.owner, s.names.Data),
		Posts: s.CheckAccess(ctx, s.owner, s.names.Posts),
	}
	st.Ready = st.Data.Usable() && st.Posts.Usable()
	return st
}

// Setup creates whichever repository is missing: data private, posts
// public. A repository that exists without push permission cannot be
// repaired and yields apperr.ErrForbidden.
func (s *Service) Setup(ctx context.Context) (Status, error) {
	st := s.Status(ctx)
	for _, want := range []struct {
		res         AccessResult
		description string
		private     bool
	}{
		{st.Data, "LurkHub data: bookmarks, articles and feeds", true},
		{st.Posts, "LurkHub posts", false},
	} {
		switch {
		case want.res.Error != "":
			return st, fmt.Errorf("bootstrap: check %s: %s", want.res.Repo, want.res.Error)
		case want.res.Exists && !want.res.HasWriteAccess:
			return st, fmt.Errorf("bootstrap: %s: no push permission: %w", want.res.Repo, apperr.ErrForbidden)
		case !want.res.Exists:
			if err := s.CreateRepo(ctx, want.res.Repo, want.description, want.private); err != nil {
				return st, err
			}
		}
	}
	return s.Status(ctx), nil
}
