package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/posts"
	"github.com/lurkhub/lurkhub-app/internal/sse"
)

func pageParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("page")
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, apperr.Malformed("page must be a positive integer, got %q", raw)
	}
	return page, nil
}

// shardParam reads ?shard=; 0 means the post is looked up.
func shardParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("shard")
	if raw == "" {
		return 0, nil
	}
	shard, err := strconv.Atoi(raw)
	if err != nil || shard < 1 {
		return 0, apperr.Malformed("shard must be a positive integer, got %q", raw)
	}
	return shard, nil
}

func writePage(w http.ResponseWriter, r *http.Request, reader *posts.Reader, op string) {
	page, err := pageParam(r)
	if err != nil {
		writeError(w, op, err)
		return
	}
	entries, err := reader.Page(r.Context(), page)
	if err != nil {
		writeError(w, op, err)
		return
	}
	resp := PostPageResponse{Posts: entries, Page: page, PerPage: reader.Options().PerPage}
	if cfg, err := reader.Config(r.Context()); err == nil && cfg != nil {
		resp.Fullname = cfg.Fullname
	}
	writeCached(w, r, resp)
}

func (h *Handler) postsChanged(r *http.Request, paths ...string) {
	if h.Broker == nil {
		return
	}
	ws := workspaceFrom(r.Context())
	for _, p := range paths {
		h.Broker.PublishChange(ws.Owner(), sse.Change{Kind: "updated", Repo: ws.Names().Posts, Path: p})
	}
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List the signed-in user's posts, newest first
//	@Tags			posts
//	@Produce		json
//	@Param			page	query		int	false	"1-based page"
//	@Success		200		{object}	PostPageResponse
//	@Failure		400		{object}	errResponse
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	writePage(w, r, workspaceFrom(r.Context()).Posts().Reader, "list posts")
}

// CreatePost handles POST /api/posts.
//
//	@Summary		Publish a post
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PostRequest	true	"Markdown body"
//	@Success		201		{object}	posts.Entry
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/posts [post]
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req PostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := workspaceFrom(r.Context()).Posts().Create(r.Context(), req.Body)
	if err != nil {
		writeError(w, "create post", err)
		return
	}
	body, _ := posts.BodyPath(e.ID)
	h.postsChanged(r, posts.IndexPath(e.Shard), body)
	writeJSON(w, http.StatusCreated, e)
}

// GetPost handles GET /api/posts/{id}.
//
//	@Summary		Get a post with its rendered body
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	posts.Document
//	@Failure		404	{object}	errResponse
//	@Router			/posts/{id} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	doc, err := workspaceFrom(r.Context()).Posts().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get post", err)
		return
	}
	writeCached(w, r, doc)
}

// UpdatePost handles PUT /api/posts/{id}.
//
//	@Summary		Rewrite a post
//	@Tags			posts
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Post id"
//	@Param			shard	query		int			false	"Index shard the post is listed in"
//	@Param			body	body		PostRequest	true	"Markdown body"
//	@Success		200		{object}	posts.Entry
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/posts/{id} [put]
func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	shard, err := shardParam(r)
	if err != nil {
		writeError(w, "update post", err)
		return
	}
	var req PostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	e, err := workspaceFrom(r.Context()).Posts().Update(r.Context(), shard, chi.URLParam(r, "id"), req.Body)
	if err != nil {
		writeError(w, "update post", err)
		return
	}
	body, _ := posts.BodyPath(e.ID)
	h.postsChanged(r, posts.IndexPath(e.Shard), body)
	writeJSON(w, http.StatusOK, e)
}

// DeletePost handles DELETE /api/posts/{id}.
//
//	@Summary		Delete a post
//	@Tags			posts
//	@Param			id		path	string	true	"Post id"
//	@Param			shard	query	int		false	"Index shard the post is listed in"
//	@Success		204		"Post deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/posts/{id} [delete]
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	shard, err := shardParam(r)
	if err != nil {
		writeError(w, "delete post", err)
		return
	}
	id := chi.URLParam(r, "id")
	shard, err = workspaceFrom(r.Context()).Posts().Delete(r.Context(), shard, id)
	if err != nil {
		writeError(w, "delete post", err)
		return
	}
	body, _ := posts.BodyPath(id)
	h.postsChanged(r, posts.IndexPath(shard), body)
	w.WriteHeader(http.StatusNoContent)
}

// PublicPosts handles GET /api/users/{username}/posts.
//
//	@Summary		List another user's public posts
//	@Tags			public
//	@Produce		json
//	@Param			username	path		string	true	"GitHub login"
//	@Param			page		query		int		false	"1-based page"
//	@Success		200			{object}	PostPageResponse
//	@Router			/users/{username}/posts [get]
func (h *Handler) PublicPosts(w http.ResponseWriter, r *http.Request) {
	reader, err := h.Factory.Public(chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, "public posts", err)
		return
	}
	writePage(w, r, reader, "public posts")
}

// PublicPost handles GET /api/users/{username}/posts/{id}.
//
//	@Summary		Get another user's public post
//	@Tags			public
//	@Produce		json
//	@Param			username	path		string	true	"GitHub login"
//	@Param			id			path		string	true	"Post id"
//	@Success		200			{object}	posts.Document
//	@Failure		404			{object}	errResponse
//	@Router			/users/{username}/posts/{id} [get]
func (h *Handler) PublicPost(w http.ResponseWriter, r *http.Request) {
	reader, err := h.Factory.Public(chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, "public post", err)
		return
	}
	doc, err := reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "public post", err)
		return
	}
	writeCached(w, r, doc)
}
