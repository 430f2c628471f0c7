package api

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/dataset"
	"github.com/lurkhub/lurkhub-app/internal/sse"
	"github.com/lurkhub/lurkhub-app/internal/storage"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

// RepoStatus handles GET /api/repo/status.
//
//	@Summary		Check both LurkHub repositories
//	@Tags			repo
//	@Produce		json
//	@Success		200	{object}	bootstrap.Status
//	@Router			/repo/status [get]
func (h *Handler) RepoStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, workspaceFrom(r.Context()).Setup().Status(r.Context()))
}

// RepoSetup handles POST /api/repo/setup.
//
//	@Summary		Create whichever LurkHub repository is missing
//	@Tags			repo
//	@Produce		json
//	@Success		200	{object}	bootstrap.Status
//	@Failure		403	{object}	errResponse	"A repository exists without push permission"
//	@Failure		502	{object}	errResponse
//	@Router			/repo/setup [post]
func (h *Handler) RepoSetup(w http.ResponseWriter, r *http.Request) {
	st, err := workspaceFrom(r.Context()).Setup().Setup(r.Context())
	if err != nil {
		writeError(w, "repo setup", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RepoInfo handles GET /api/repo/info.
//
//	@Summary		Check access to a repository
//	@Tags			repo
//	@Produce		json
//	@Param			repo	query		string	true	"Repository name"
//	@Param			owner	query		string	false	"Owner, the signed-in user by default"
//	@Success		200		{object}	bootstrap.AccessResult
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	bootstrap.AccessResult
//	@Router			/repo/info [get]
func (h *Handler) RepoInfo(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	q := r.URL.Query()
	repo, owner := q.Get("repo"), q.Get("owner")
	if repo == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing repo parameter"))
		return
	}
	if owner == "" {
		owner = ws.Owner()
	}
	res := ws.Setup().CheckAccess(r.Context(), owner, repo)
	status := http.StatusOK
	if res.Error != "" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

// CreateRepo handles POST /api/repo/create.
//
//	@Summary		Create a repository with a seeded .gitignore
//	@Tags			repo
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRepoRequest	true	"Repository"
//	@Success		201		{object}	MessageResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/repo/create [post]
func (h *Handler) CreateRepo(w http.ResponseWriter, r *http.Request) {
	var req CreateRepoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := workspaceFrom(r.Context()).Setup().CreateRepo(r.Context(), req.Name, req.Description, req.Private); err != nil {
		writeError(w, "create repo", err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: "repository created"})
}

// location reads ?repo=&path= and restricts repo to the LurkHub repositories.
func location(w http.ResponseWriter, r *http.Request, ws *workspace.Workspace) (repo, path string, ok bool) {
	q := r.URL.Query()
	repo, path = q.Get("repo"), strings.TrimPrefix(q.Get("path"), "/")
	switch {
	case repo == "":
		writeJSON(w, http.StatusBadRequest, errorBody("missing repo parameter"))
	case path == "":
		writeJSON(w, http.StatusBadRequest, errorBody("missing path parameter"))
	case !slices.Contains([]string{ws.Names().Data, ws.Names().Posts}, repo):
		writeJSON(w, http.StatusBadRequest, errorBody("unknown repository "+repo))
	default:
		return repo, path, true
	}
	return "", "", false
}

func (h *Handler) fileChanged(ws *workspace.Workspace, kind, repo, path string) {
	if h.Broker != nil {
		h.Broker.PublishChange(ws.Owner(), sse.Change{Kind: kind, Repo: repo, Path: path})
	}
}

func revisionETag(sha string) string { return `"` + sha + `"` }

// GetDataset handles GET /api/dataset.
//
// An absent file reads as an empty dataset.
//
//	@Summary		Read a dataset file
//	@Tags			raw
//	@Produce		json
//	@Param			repo	query		string	true	"Repository"
//	@Param			path	query		string	true	"Dataset path"
//	@Success		200		{object}	dataset.Dataset
//	@Success		304		"Not modified"
//	@Failure		400		{object}	errResponse
//	@Router			/dataset [get]
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	ds, sha, err := dataset.NewStore(ws.Files(), repo).Load(r.Context(), path)
	if err != nil {
		writeError(w, "read dataset", err)
		return
	}
	if sha == "" {
		writeCached(w, r, ds)
		return
	}
	body, err := json.Marshal(ds)
	if err != nil {
		writeError(w, "read dataset", err)
		return
	}
	writeRaw(w, r, "application/json; charset=utf-8", revisionETag(sha), append(body, '\n'))
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	var rec map[string]string
	if !decodeJSON(w, r, &rec) {
		return nil, false
	}
	if len(rec) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("record is empty"))
		return nil, false
	}
	return rec, true
}

// AppendRecord handles POST /api/dataset.
//
// The dataset takes the record's keys as its fields when it has none yet.
// A record without an id gets a fresh one.
//
//	@Summary		Append a record to a dataset
//	@Tags			raw
//	@Accept			json
//	@Produce		json
//	@Param			repo	query		string				true	"Repository"
//	@Param			path	query		string				true	"Dataset path"
//	@Param			body	body		map[string]string	true	"Record"
//	@Success		201		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/dataset [post]
func (h *Handler) AppendRecord(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	if rec[dataset.IDField] == "" {
		rec[dataset.IDField] = uuid.NewString()
	}
	var stored map[string]string
	_, err := dataset.NewStore(ws.Files(), repo).Mutate(r.Context(), path, "", func(ds *dataset.Dataset) error {
		if _, exists := ds.Find(rec[dataset.IDField]); exists {
			return apperr.ErrAlreadyExists
		}
		row, err := ds.RowFromRecord(rec)
		if err != nil {
			return err
		}
		if err := ds.Append(row); err != nil {
			return err
		}
		stored = ds.Record(row)
		return nil
	})
	if err != nil {
		writeError(w, "append record", err)
		return
	}
	h.fileChanged(ws, "updated", repo, path)
	writeJSON(w, http.StatusCreated, stored)
}

// ReplaceRecord handles PUT /api/dataset.
//
//	@Summary		Replace the record with the same id
//	@Tags			raw
//	@Accept			json
//	@Produce		json
//	@Param			repo	query		string				true	"Repository"
//	@Param			path	query		string				true	"Dataset path"
//	@Param			body	body		map[string]string	true	"Record including its id"
//	@Success		200		{object}	map[string]string
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Router			/dataset [put]
func (h *Handler) ReplaceRecord(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	if rec[dataset.IDField] == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("record has no id"))
		return
	}
	var stored map[string]string
	_, err := dataset.NewStore(ws.Files(), repo).Mutate(r.Context(), path, "", func(ds *dataset.Dataset) error {
		if len(ds.Fields) == 0 {
			return apperr.ErrNotFound
		}
		if err := ds.RequireFields(rec); err != nil {
			return err
		}
		row, err := ds.RowFromRecord(rec)
		if err != nil {
			return err
		}
		if err := ds.Replace(row); err != nil {
			return err
		}
		stored = ds.Record(row)
		return nil
	})
	if err != nil {
		writeError(w, "replace record", err)
		return
	}
	h.fileChanged(ws, "updated", repo, path)
	writeJSON(w, http.StatusOK, stored)
}

// DeleteRecord handles DELETE /api/dataset.
//
//	@Summary		Delete a record by id
//	@Tags			raw
//	@Param			repo	query	string	true	"Repository"
//	@Param			path	query	string	true	"Dataset path"
//	@Param			id		query	string	true	"Record id"
//	@Success		204		"Record deleted"
//	@Failure		404		{object}	errResponse
//	@Router			/dataset [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("missing id parameter"))
		return
	}
	_, err := dataset.NewStore(ws.Files(), repo).Mutate(r.Context(), path, "", func(ds *dataset.Dataset) error {
		return ds.Remove(id)
	})
	if err != nil {
		writeError(w, "delete record", err)
		return
	}
	h.fileChanged(ws, "updated", repo, path)
	w.WriteHeader(http.StatusNoContent)
}

// GetFile handles GET /api/file.
//
// The ETag is the file's revision token; send it back as If-Match to
// update or delete that exact revision.
//
//	@Summary		Read a file
//	@Tags			raw
//	@Produce		plain
//	@Param			repo	query		string	true	"Repository"
//	@Param			path	query		string	true	"File path"
//	@Success		200		{string}	string
//	@Success		304		"Not modified"
//	@Failure		404		{object}	errResponse
//	@Router			/file [get]
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	f, err := ws.Files().Read(r.Context(), repo, path)
	if err != nil {
		writeError(w, "read file", err)
		return
	}
	writeRaw(w, r, "text/plain; charset=utf-8", revisionETag(f.SHA), f.Content)
}

func readContent(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return nil, false
	}
	return body, true
}

// revision returns the If-Match token, or the current sha of the file
// when the client sent none.
func revision(r *http.Request, files storage.Provider, repo, path string) (string, error) {
	if m := strings.TrimPrefix(strings.TrimSpace(r.Header.Get("If-Match")), "W/"); m != "" {
		return strings.Trim(m, `"`), nil
	}
	f, err := files.Read(r.Context(), repo, path)
	if err != nil {
		return "", err
	}
	return f.SHA, nil
}

// CreateFile handles POST /api/file.
//
//	@Summary		Create a file
//	@Tags			raw
//	@Accept			plain
//	@Produce		json
//	@Param			repo	query		string	true	"Repository"
//	@Param			path	query		string	true	"File path"
//	@Success		201		{object}	FileResponse
//	@Failure		409		{object}	errResponse	"The file already exists"
//	@Router			/file [post]
func (h *Handler) CreateFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	body, ok := readContent(w, r)
	if !ok {
		return
	}
	sha, err := ws.Files().Create(r.Context(), repo, path, body, "Created "+path)
	if err != nil {
		writeError(w, "create file", err)
		return
	}
	h.fileChanged(ws, "created", repo, path)
	w.Header().Set("ETag", revisionETag(sha))
	writeJSON(w, http.StatusCreated, FileResponse{Repo: repo, Path: path, SHA: sha})
}

// UpdateFile handles PUT /api/file.
//
//	@Summary		Replace a file
//	@Tags			raw
//	@Accept			plain
//	@Produce		json
//	@Param			repo		query		string	true	"Repository"
//	@Param			path		query		string	true	"File path"
//	@Param			If-Match	header		string	false	"Revision the update is based on"
//	@Success		200			{object}	FileResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse	"The file changed since it was read"
//	@Router			/file [put]
func (h *Handler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	body, ok := readContent(w, r)
	if !ok {
		return
	}
	sha, err := revision(r, ws.Files(), repo, path)
	if err != nil {
		writeError(w, "update file", err)
		return
	}
	sha, err = ws.Files().Update(r.Context(), repo, path, body, sha, "Updated "+path)
	if err != nil {
		writeError(w, "update file", err)
		return
	}
	h.fileChanged(ws, "updated", repo, path)
	w.Header().Set("ETag", revisionETag(sha))
	writeJSON(w, http.StatusOK, FileResponse{Repo: repo, Path: path, SHA: sha})
}

// DeleteFile handles DELETE /api/file.
//
//	@Summary		Delete a file
//	@Tags			raw
//	@Param			repo		query	string	true	"Repository"
//	@Param			path		query	string	true	"File path"
//	@Param			If-Match	header	string	false	"Revision the delete is based on"
//	@Success		204			"File deleted"
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Router			/file [delete]
func (h *Handler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r.Context())
	repo, path, ok := location(w, r, ws)
	if !ok {
		return
	}
	sha, err := revision(r, ws.Files(), repo, path)
	if err != nil {
		writeError(w, "delete file", err)
		return
	}
	if err := ws.Files().Delete(r.Context(), repo, path, sha, "Deleted "+path); err != nil {
		writeError(w, "delete file", err)
		return
	}
	h.fileChanged(ws, "deleted", repo, path)
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /api/events.
//
//	@Summary		Stream change events of the signed-in user
//	@Tags			events
//	@Produce		text/event-stream
//	@Success		200	"Event stream"
//	@Router			/events [get]
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.Broker.Serve(w, r, workspaceFrom(r.Context()).Owner())
}

// Reconcile handles POST /api/maintenance/reconcile.
//
//	@Summary		Resume stalled multi-step writes
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{object}	saga.Report
//	@Router			/maintenance/reconcile [post]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := workspaceFrom(r.Context()).Sagas().Reconcile(r.Context())
	if err != nil {
		writeError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PendingSagas handles GET /api/maintenance/sagas.
//
//	@Summary		List unfinished multi-step writes
//	@Tags			maintenance
//	@Produce		json
//	@Success		200	{array}	saga.Record
//	@Router			/maintenance/sagas [get]
func (h *Handler) PendingSagas(w http.ResponseWriter, r *http.Request) {
	pending, err := workspaceFrom(r.Context()).Sagas().Pending(r.Context())
	if err != nil {
		writeError(w, "list sagas", err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

// DiscardSaga handles DELETE /api/maintenance/sagas/{id}.
//
//	@Summary		Drop an unfinished write without running it
//	@Tags			maintenance
//	@Param			id	path	string	true	"Saga id"
//	@Success		204	"Discarded"
//	@Failure		404	{object}	errResponse
//	@Router			/maintenance/sagas/{id} [delete]
func (h *Handler) DiscardSaga(w http.ResponseWriter, r *http.Request) {
	if err := workspaceFrom(r.Context()).Sagas().Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "discard saga", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
