package api

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/posts"
)

var repoNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ItemRequest is the request body for creating or updating an item.
type ItemRequest struct {
	Title string `json:"title" example:"The Go Blog"`
	URL   string `json:"url" example:"go.dev/blog" validate:"required"`
	Tags  string `json:"tags" example:"go,blog"`
}

func (r ItemRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required),
		validation.Field(&r.Title, validation.Length(0, 1000)),
	)
}

// ItemListResponse wraps item listings.
type ItemListResponse struct {
	Items []content.Item `json:"items" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// TagsResponse lists the distinct tags of a collection.
type TagsResponse struct {
	Tags []string `json:"tags" validate:"required"`
}

// PostRequest is the request body for creating or updating a post.
type PostRequest struct {
	Body string `json:"body" example:"Hello **world**" validate:"required"`
}

func (r PostRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Required),
	)
}

// PostPageResponse is one page of the newest-first post listing.
type PostPageResponse struct {
	Posts    []posts.Entry `json:"posts" validate:"required"`
	Page     int           `json:"page" example:"1" validate:"required"`
	PerPage  int           `json:"perPage" example:"50" validate:"required"`
	Fullname string        `json:"fullname,omitempty" example:"Mona Lisa"`
}

// URLRequest carries a page or feed URL.
type URLRequest struct {
	URL string `json:"url" example:"https://go.dev/blog" validate:"required"`
}

func (r URLRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required, is.URL),
	)
}

// TitleResponse is the title found on a page.
type TitleResponse struct {
	Title string `json:"title" example:"The Go Blog" validate:"required"`
}

// PATRequest is the request body of a personal access token login.
type PATRequest struct {
	Token string `json:"token" example:"ghp_xxx" validate:"required"`
}

func (r PATRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"ok" validate:"required"`
}

// CreateRepoRequest is the request body for creating a repository.
type CreateRepoRequest struct {
	Name        string `json:"name" example:"lurkhub-data" validate:"required"`
	Description string `json:"description" example:"LurkHub data"`
	Private     bool   `json:"private" example:"true"`
}

func (r CreateRepoRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100), validation.Match(repoNameRe)),
	)
}

// FileResponse reports the revision token of a written file.
type FileResponse struct {
	Repo string `json:"repo" example:"lurkhub-data" validate:"required"`
	Path string `json:"path" example:"notes/todo.md" validate:"required"`
	SHA  string `json:"sha" example:"e69de29bb2d1d6434b8b29ae775ad8c2e48c5391" validate:"required"`
}
