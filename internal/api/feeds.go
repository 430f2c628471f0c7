package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/feeds"
	"github.com/lurkhub/lurkhub-app/internal/fetchcache"
	"github.com/lurkhub/lurkhub-app/internal/htmlmeta"
)

const (
	feedInfoExpire  = 5 * time.Minute
	feedInfoStagger = 10 * time.Minute
)

// writeFeed answers with v under the upstream validators of res, or 304
// when the client's If-None-Match or If-Modified-Since still matches them.
func writeFeed(w http.ResponseWriter, r *http.Request, res *feeds.Result, v any) {
	if res.ETag == "" && res.LastModified == "" {
		writeCached(w, r, v)
		return
	}
	if res.ETag != "" {
		w.Header().Set("ETag", res.ETag)
	}
	if res.LastModified != "" {
		w.Header().Set("Last-Modified", res.LastModified)
	}
	ims := r.Header.Get("If-Modified-Since")
	if etagMatch(r.Header.Get("If-None-Match"), res.ETag) || (ims != "" && ims == res.LastModified) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) fetchFeed(w http.ResponseWriter, r *http.Request, op string) (*feeds.Result, bool) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing `url` query parameter"))
		return nil, false
	}
	res, err := h.Feeds.Fetch(r.Context(), raw)
	if err != nil {
		writeError(w, op, err)
		return nil, false
	}
	return res, true
}

// FeedItems handles GET /api/feed/items.
//
//	@Summary		List the entries of a feed
//	@Tags			feeds
//	@Produce		json
//	@Param			url					query		string	true	"Feed URL"
//	@Param			If-None-Match		header		string	false	"Upstream ETag"
//	@Param			If-Modified-Since	header		string	false	"Upstream Last-Modified"
//	@Success		200					{array}		feeds.Item
//	@Success		304					"Not modified"
//	@Failure		400					{object}	errResponse
//	@Failure		502					{object}	errResponse
//	@Router			/feed/items [get]
func (h *Handler) FeedItems(w http.ResponseWriter, r *http.Request) {
	res, ok := h.fetchFeed(w, r, "feed items")
	if !ok {
		return
	}
	writeFeed(w, r, res, feeds.Items(res.Feed))
}

// FeedInfo handles GET /api/feed/info.
//
//	@Summary		Summarise a feed
//	@Tags			feeds
//	@Produce		json
//	@Param			url	query		string	true	"Feed URL"
//	@Success		200	{object}	feeds.Info
//	@Success		304	"Not modified"
//	@Failure		400	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Router			/feed/info [get]
func (h *Handler) FeedInfo(w http.ResponseWriter, r *http.Request) {
	res, ok := h.fetchFeed(w, r, "feed info")
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", fetchcache.CacheControl(feedInfoExpire, feedInfoStagger))
	writeFeed(w, r, res, feeds.FeedInfo(res.Feed))
}

// DiscoverFeed handles POST /api/feed/discover.
//
//	@Summary		Find the feed of a page
//	@Tags			feeds
//	@Accept			json
//	@Produce		json
//	@Param			body	body		URLRequest	true	"Page or feed URL"
//	@Success		200		{object}	feeds.Discovery
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/feed/discover [post]
func (h *Handler) DiscoverFeed(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.Feeds.Discover(r.Context(), req.URL)
	if err != nil {
		writeError(w, "discover feed", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SubscriptionItems handles GET /api/feeds/{id}/items.
//
//	@Summary		List the entries of a subscribed feed
//	@Tags			feeds
//	@Produce		json
//	@Param			id	path		string	true	"Feed subscription id"
//	@Success		200	{array}		feeds.Item
//	@Failure		404	{object}	errResponse
//	@Router			/feeds/{id}/items [get]
func (h *Handler) SubscriptionItems(w http.ResponseWriter, r *http.Request) {
	sub, err := workspaceFrom(r.Context()).Collection(content.Feeds).Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "subscription items", err)
		return
	}
	res, err := h.Feeds.Fetch(r.Context(), sub.URL)
	if err != nil {
		writeError(w, "subscription items", err)
		return
	}
	writeFeed(w, r, res, feeds.Items(res.Feed))
}

// PageTitle handles POST /api/page/title.
//
//	@Summary		Look up the title of a page
//	@Tags			pages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		URLRequest	true	"Page URL"
//	@Success		200		{object}	TitleResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse	"Title not found on the page"
//	@Failure		502		{object}	errResponse
//	@Router			/page/title [post]
func (h *Handler) PageTitle(w http.ResponseWriter, r *http.Request) {
	var req URLRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid or missing URL"))
		return
	}
	page, err := h.fetchPage(r, u)
	if err != nil {
		writeError(w, "page title", err)
		return
	}
	if page.Title == "" {
		writeJSON(w, http.StatusNotFound, errorBody("title not found on the page"))
		return
	}
	writeJSON(w, http.StatusOK, TitleResponse{Title: page.Title})
}

func (h *Handler) fetchPage(r *http.Request, u *url.URL) (*htmlmeta.Page, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Malformed("invalid URL: %v", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")
	resp, err := h.Pages.Do(req)
	if err != nil {
		return nil, &apperr.UpstreamError{Status: http.StatusBadGateway, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.UpstreamError{Status: resp.StatusCode, Message: fmt.Sprintf("failed to fetch %s", u)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &apperr.UpstreamError{Status: http.StatusBadGateway, Message: err.Error()}
	}
	return htmlmeta.Parse(body, resp.Request.URL)
}
