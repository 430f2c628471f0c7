package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/sse"
)

// collection serves the routes of one kind of item.
type collection struct {
	h    *Handler
	kind content.Kind
}

func (c collection) service(r *http.Request) *content.Service {
	return workspaceFrom(r.Context()).Collection(c.kind)
}

// changed tells the owner's clients that the collection was written.
func (c collection) changed(r *http.Request, paths ...string) {
	if c.h.Broker == nil {
		return
	}
	ws := workspaceFrom(r.Context())
	for _, p := range paths {
		c.h.Broker.PublishChange(ws.Owner(), sse.Change{Kind: "updated", Repo: ws.Names().Data, Path: p})
	}
}

func (c collection) archivePath() string { return c.kind.ArchivePath(1) }

// List handles GET /api/{kind}.
//
//	@Summary		List items, newest first
//	@Tags			items
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"	Enums(bookmarks, articles, feeds)
//	@Param			tag		query		string	false	"Only items carrying every given tag (repeatable)"
//	@Param			q		query		string	false	"Case-insensitive title search"
//	@Param			order	query		string	false	"Sort order"	Enums(asc, dsc)
//	@Success		200		{object}	ItemListResponse
//	@Failure		403		{object}	errResponse
//	@Router			/{kind} [get]
func (c collection) List(w http.ResponseWriter, r *http.Request) {
	items, err := c.service(r).List(r.Context())
	if err != nil {
		writeError(w, "list "+string(c.kind), err)
		return
	}
	items = content.Filter(items, queryFrom(r))
	writeCached(w, r, ItemListResponse{Items: items, Total: len(items)})
}

func queryFrom(r *http.Request) content.Query {
	q := r.URL.Query()
	var tags []string
	for _, t := range q["tag"] {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags = append(tags, part)
			}
		}
	}
	return content.Query{Search: q.Get("q"), Tags: tags, Order: q.Get("order")}
}

// Create handles POST /api/{kind}.
//
// An item whose URL is already in the collection is refreshed instead of
// duplicated.
//
//	@Summary		Add or refresh an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			kind	path		string		true	"Collection"
//	@Param			body	body		ItemRequest	true	"Item"
//	@Success		201		{object}	content.Item
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/{kind} [post]
func (c collection) Create(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	it, err := c.service(r).CreateOrUpdate(r.Context(), content.Item{Title: req.Title, URL: req.URL, Tags: req.Tags})
	if err != nil {
		writeError(w, "create "+string(c.kind), err)
		return
	}
	c.changed(r, c.kind.Path())
	writeJSON(w, http.StatusCreated, it)
}

// Get handles GET /api/{kind}/{id}.
//
//	@Summary		Get an item
//	@Tags			items
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Param			id		path		string	true	"Item id"
//	@Success		200		{object}	content.Item
//	@Failure		404		{object}	errResponse
//	@Router			/{kind}/{id} [get]
func (c collection) Get(w http.ResponseWriter, r *http.Request) {
	it, err := c.service(r).Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get "+string(c.kind), err)
		return
	}
	writeCached(w, r, it)
}

// Update handles PUT /api/{kind}/{id}.
//
//	@Summary		Update an item
//	@Tags			items
//	@Accept			json
//	@Produce		json
//	@Param			kind	path		string		true	"Collection"
//	@Param			id		path		string		true	"Item id"
//	@Param			body	body		ItemRequest	true	"Item"
//	@Success		200		{object}	content.Item
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/{kind}/{id} [put]
func (c collection) Update(w http.ResponseWriter, r *http.Request) {
	var req ItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	it, err := c.service(r).Update(r.Context(), content.Item{
		ID:    chi.URLParam(r, "id"),
		Title: req.Title,
		URL:   req.URL,
		Tags:  req.Tags,
	})
	if err != nil {
		writeError(w, "update "+string(c.kind), err)
		return
	}
	c.changed(r, c.kind.Path())
	writeJSON(w, http.StatusOK, it)
}

// Delete handles DELETE /api/{kind}/{id}.
//
//	@Summary		Delete an item
//	@Tags			items
//	@Param			kind	path	string	true	"Collection"
//	@Param			id		path	string	true	"Item id"
//	@Success		204		"Item deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/{kind}/{id} [delete]
func (c collection) Delete(w http.ResponseWriter, r *http.Request) {
	if err := c.service(r).Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete "+string(c.kind), err)
		return
	}
	c.changed(r, c.kind.Path())
	w.WriteHeader(http.StatusNoContent)
}

// Archive handles POST /api/{kind}/{id}/archive.
//
//	@Summary		Move an item to the archive
//	@Tags			archive
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Param			id		path		string	true	"Item id"
//	@Success		200		{object}	content.Item
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse	"Copied but not removed; saga id in the body"
//	@Router			/{kind}/{id}/archive [post]
func (c collection) Archive(w http.ResponseWriter, r *http.Request) {
	it, err := c.service(r).Archive(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "archive "+string(c.kind), err)
		return
	}
	c.changed(r, c.archivePath(), c.kind.Path())
	writeJSON(w, http.StatusOK, it)
}

// ListArchived handles GET /api/{kind}/archive.
//
//	@Summary		List archived items
//	@Tags			archive
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			q		query		string	false	"Title search"
//	@Success		200		{object}	ItemListResponse
//	@Router			/{kind}/archive [get]
func (c collection) ListArchived(w http.ResponseWriter, r *http.Request) {
	items, err := c.service(r).ListArchived(r.Context())
	if err != nil {
		writeError(w, "list archived "+string(c.kind), err)
		return
	}
	items = content.Filter(items, queryFrom(r))
	writeCached(w, r, ItemListResponse{Items: items, Total: len(items)})
}

// GetArchived handles GET /api/{kind}/archive/{id}.
//
//	@Summary		Get an archived item
//	@Tags			archive
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Param			id		path		string	true	"Item id"
//	@Success		200		{object}	content.Item
//	@Failure		404		{object}	errResponse
//	@Router			/{kind}/archive/{id} [get]
func (c collection) GetArchived(w http.ResponseWriter, r *http.Request) {
	it, err := c.service(r).GetArchived(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get archived "+string(c.kind), err)
		return
	}
	writeCached(w, r, it)
}

// DeleteArchived handles DELETE /api/{kind}/archive/{id}.
//
//	@Summary		Delete an archived item
//	@Tags			archive
//	@Param			kind	path	string	true	"Collection"
//	@Param			id		path	string	true	"Item id"
//	@Success		204		"Item deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/{kind}/archive/{id} [delete]
func (c collection) DeleteArchived(w http.ResponseWriter, r *http.Request) {
	if err := c.service(r).DeleteArchived(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete archived "+string(c.kind), err)
		return
	}
	c.changed(r, c.archivePath())
	w.WriteHeader(http.StatusNoContent)
}

// Restore handles POST /api/{kind}/archive/{id}/restore.
//
//	@Summary		Restore an archived item
//	@Tags			archive
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Param			id		path		string	true	"Item id"
//	@Success		200		{object}	content.Item
//	@Failure		404		{object}	errResponse
//	@Failure		500		{object}	errResponse	"Restored but still archived; saga id in the body"
//	@Router			/{kind}/archive/{id}/restore [post]
func (c collection) Restore(w http.ResponseWriter, r *http.Request) {
	it, err := c.service(r).Restore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "restore "+string(c.kind), err)
		return
	}
	c.changed(r, c.kind.Path(), c.archivePath())
	writeJSON(w, http.StatusOK, it)
}

// Tags handles GET /api/{kind}/tags.
//
//	@Summary		List the tags in use
//	@Tags			items
//	@Produce		json
//	@Param			kind	path		string	true	"Collection"
//	@Success		200		{object}	TagsResponse
//	@Router			/{kind}/tags [get]
func (c collection) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := c.service(r).Tags(r.Context())
	if err != nil {
		writeError(w, "list tags", err)
		return
	}
	writeCached(w, r, TagsResponse{Tags: tags})
}
