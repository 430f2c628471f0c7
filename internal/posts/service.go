package posts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/dataset"
	"github.com/lurkhub/lurkhub-app/internal/markdown"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

const (
	createWorkflow = "posts/create"
	updateWorkflow = "posts/update"
	deleteWorkflow = "posts/delete"
)

// Options tunes sharding and paging. Zero fields take the defaults.
type Options struct {
	PerIndex      int
	PerPage       int
	PreviewLength int
}

func (o Options) withDefaults() Options {
	if o.PerIndex <= 0 {
		o.PerIndex = DefaultPerIndex
	}
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.PreviewLength <= 0 {
		o.PreviewLength = DefaultPreviewLength
	}
	return o
}

// Document is a post body with its rendering.
type Document struct {
	ID       string    `json:"id"`
	Fullname string    `json:"fullname"`
	Created  time.Time `json:"created"`
	Body     string    `json:"body"`
	HTML     string    `json:"html"`
}

// Reader serves the read side of a posts repository. It is all a visitor
// of another user's posts gets.
type Reader struct {
	files storage.Provider
	repo  string
	store *dataset.Store
	opts  Options
}

// NewReader creates a Reader over repo.
func NewReader(files storage.Provider, repo string, opts Options) *Reader {
	return &Reader{
		files: files,
		repo:  repo,
		store: dataset.NewStore(files, repo),
		opts:  opts.withDefaults(),
	}
}

// Options returns the effective options.
func (r *Reader) Options() Options { return r.opts }

func (r *Reader) table(n int) *dataset.Table[Post] {
	return dataset.NewTable(r.store, postCodec, IndexPath(n))
}

// Config returns the posts config, or nil when the repository has none yet.
func (r *Reader) Config(ctx context.Context) (*Config, error) {
	cfg, _, err := r.config(ctx)
	return cfg, err
}

func (r *Reader) config(ctx context.Context) (*Config, string, error) {
	f, err := r.files.Read(ctx, r.repo, ConfigPath)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var cfg Config
	if err := json.Unmarshal(f.Content, &cfg); err != nil {
		return nil, "", apperr.Malformed("%s: %v", ConfigPath, err)
	}
	return &cfg, f.SHA, nil
}

// Shard returns the rows of shard n in file order (oldest first).
func (r *Reader) Shard(ctx context.Context, n int) ([]Post, error) {
	return r.table(n).List(ctx)
}

// Page returns page (1-based) of the newest-first listing across shards.
func (r *Reader) Page(ctx context.Context, page int) ([]Entry, error) {
	if page < 1 {
		return nil, apperr.Malformed("page must be >= 1, got %d", page)
	}
	cfg, err := r.Config(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil || cfg.TotalIndexes < 1 {
		return []Entry{}, nil
	}

	newest := cfg.TotalIndexes
	newestPosts, err := r.Shard(ctx, newest)
	if err != nil {
		return nil, err
	}

	limit := r.opts.PerPage
	start := (page - 1) * limit

	var fileNo, skip int
	if start < len(newestPosts) {
		fileNo = newest
		skip = start
	} else {
		remaining := start - len(newestPosts)
		fileNo = newest - (remaining/r.opts.PerIndex + 1)
		skip = remaining % r.opts.PerIndex
	}

	out := []Entry{}
	for ; fileNo >= 1 && len(out) < limit; fileNo-- {
		rows := newestPosts
		if fileNo != newest {
			if rows, err = r.Shard(ctx, fileNo); err != nil {
				return nil, err
			}
		}
		rows = slices.Clone(rows)
		slices.Reverse(rows)
		for i := skip; i < len(rows) && len(out) < limit; i++ {
			out = append(out, Entry{Post: rows[i], Shard: fileNo})
		}
		skip = 0
	}
	return out, nil
}

// Find locates the post with id, searching from the newest shard.
func (r *Reader) Find(ctx context.Context, id string) (Entry, error) {
	if _, err := BodyPath(id); err != nil {
		return Entry{}, err
	}
	cfg, err := r.Config(ctx)
	if err != nil {
		return Entry{}, err
	}
	if cfg != nil {
		for n := cfg.TotalIndexes; n >= 1; n-- {
			rows, err := r.Shard(ctx, n)
			if err != nil {
				return Entry{}, err
			}
			for _, p := range rows {
				if p.ID == id {
					return Entry{Post: p, Shard: n}, nil
				}
			}
		}
	}
	return Entry{}, fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
}

// Get returns the full body of post id rendered to HTML.
func (r *Reader) Get(ctx context.Context, id string) (*Document, error) {
	path, err := BodyPath(id)
	if err != nil {
		return nil, err
	}

	var (
		cfg  *Config
		body *storage.File
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cfg, err = r.Config(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		body, err = r.files.Read(gctx, r.repo, path)
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("post %s: %w", id, apperr.ErrNotFound)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	html, err := markdown.Render(string(body.Content))
	if err != nil {
		return nil, err
	}
	doc := &Document{
		ID:      id,
		Created: Post{ID: id}.CreatedAt(),
		Body:    string(body.Content),
		HTML:    html,
	}
	if cfg != nil {
		doc.Fullname = cfg.Fullname
	}
	return doc, nil
}

// ProfileFunc returns the display name recorded in a new posts config.
type ProfileFunc func(ctx context.Context) (string, error)

// Service adds writes to a Reader over the signed-in user's posts repository.
type Service struct {
	*Reader
	sagas   *saga.Coordinator
	profile ProfileFunc

	now func() time.Time

	mu     sync.Mutex
	lastID int64
}

// change is the saga payload of post writes.
type change struct {
	Shard int    `json:"shard"`
	Post  Post   `json:"post"`
	Body  string `json:"body,omitempty"`
}

// NewService creates the post service and registers its workflows with sagas.
func NewService(files storage.Provider, repo string, sagas *saga.Coordinator, profile ProfileFunc, opts Options) *Service {
	s := &Service{
		Reader:  NewReader(files, repo, opts),
		sagas:   sagas,
		profile: profile,
		now:     time.Now,
	}
	sagas.Register(createWorkflow, saga.Step{
		Name: "add to index",
		Do: withChange(func(ctx context.Context, c change) error {
			return s.table(c.Shard).Append(ctx, c.Post)
		}),
	}, saga.Step{
		Name: "write body",
		Do:   withChange(func(ctx context.Context, c change) error { return s.putBody(ctx, c.Post.ID, c.Body) }),
	})
	sagas.Register(updateWorkflow, saga.Step{
		Name: "replace index row",
		Do: withChange(func(ctx context.Context, c change) error {
			return s.table(c.Shard).Replace(ctx, c.Post)
		}),
	}, saga.Step{
		Name: "write body",
		Do:   withChange(func(ctx context.Context, c change) error { return s.putBody(ctx, c.Post.ID, c.Body) }),
	})
	sagas.Register(deleteWorkflow, saga.Step{
		Name: "remove from index",
		Do: withChange(func(ctx context.Context, c change) error {
			return s.table(c.Shard).Remove(ctx, c.Post.ID)
		}),
	}, saga.Step{
		Name: "delete body",
		Do:   withChange(func(ctx context.Context, c change) error { return s.deleteBody(ctx, c.Post.ID) }),
	})
	return s
}

func withChange(fn func(context.Context, change) error) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, raw json.RawMessage) error {
		var c change
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("posts: decode saga payload: %w", err)
		}
		return fn(ctx, c)
	}
}

// Create publishes body as a new post in the newest shard, opening a new
// shard first when the newest one is full.
func (s *Service) Create(ctx context.Context, body string) (Entry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Entry{}, apperr.Malformed("post content is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, sha, err := s.config(ctx)
	if err != nil {
		return Entry{}, err
	}
	if cfg == nil {
		cfg = &Config{TotalIndexes: 1}
		if s.profile != nil {
			if cfg.Fullname, err = s.profile(ctx); err != nil {
				return Entry{}, fmt.Errorf("posts: profile: %w", err)
			}
		}
		if sha, err = s.saveConfig(ctx, cfg, ""); err != nil {
			return Entry{}, err
		}
	}

	shard := max(cfg.TotalIndexes, 1)
	rows, err := s.Shard(ctx, shard)
	if err != nil {
		return Entry{}, err
	}
	if len(rows) >= s.opts.PerIndex {
		next, err := NextIndexPath(IndexPath(shard))
		if err != nil {
			return Entry{}, err
		}
		shard, _ = ShardNumber(next)
		cfg.TotalIndexes = shard
		if _, err := s.saveConfig(ctx, cfg, sha); err != nil {
			return Entry{}, err
		}
	}

	preview, more := Preview(body, s.opts.PreviewLength)
	e := Entry{Post: Post{ID: s.nextID(), Preview: preview, More: more}, Shard: shard}
	if err := s.sagas.Run(ctx, createWorkflow, change{Shard: shard, Post: e.Post, Body: body}); err != nil {
		return e, err
	}
	return e, nil
}

// Update rewrites the body of post id and its index row. A shard of 0
// looks the post up first.
func (s *Service) Update(ctx context.Context, shard int, id, body string) (Entry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Entry{}, apperr.Malformed("post content is empty")
	}
	shard, err := s.resolveShard(ctx, shard, id)
	if err != nil {
		return Entry{}, err
	}
	preview, more := Preview(body, s.opts.PreviewLength)
	e := Entry{Post: Post{ID: id, Preview: preview, More: more}, Shard: shard}
	if err := s.sagas.Run(ctx, updateWorkflow, change{Shard: shard, Post: e.Post, Body: body}); err != nil {
		return e, err
	}
	return e, nil
}

// Delete removes post id from shard and deletes its body. A shard of 0
// looks the post up first. The shard the post was listed in is returned.
func (s *Service) Delete(ctx context.Context, shard int, id string) (int, error) {
	shard, err := s.resolveShard(ctx, shard, id)
	if err != nil {
		return 0, err
	}
	if err := s.sagas.Run(ctx, deleteWorkflow, change{Shard: shard, Post: Post{ID: id}}); err != nil {
		return shard, err
	}
	return shard, nil
}

func (s *Service) resolveShard(ctx context.Context, shard int, id string) (int, error) {
	if _, err := BodyPath(id); err != nil {
		return 0, err
	}
	if shard > 0 {
		return shard, nil
	}
	e, err := s.Find(ctx, id)
	if err != nil {
		return 0, err
	}
	return e.Shard, nil
}

// nextID returns a millisecond id greater than any this service issued
// before. Another workspace of the same account may still pick the same
// millisecond; the index rejects the duplicate.
func (s *Service) nextID() string {
	ms := s.now().UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return NewID(time.UnixMilli(ms))
}

func (s *Service) saveConfig(ctx context.Context, cfg *Config, sha string) (string, error) {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("posts: encode config: %w", err)
	}
	if sha == "" {
		return s.files.Create(ctx, s.repo, ConfigPath, raw, "Created "+ConfigPath)
	}
	return s.files.Update(ctx, s.repo, ConfigPath, raw, sha, "Updated "+ConfigPath)
}

// putBody creates or overwrites the body file of id.
func (s *Service) putBody(ctx context.Context, id, body string) error {
	path, err := BodyPath(id)
	if err != nil {
		return err
	}
	f, err := s.files.Read(ctx, s.repo, path)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		_, err = s.files.Create(ctx, s.repo, path, []byte(body), "Created "+path)
		return err
	case err != nil:
		return err
	case string(f.Content) == body:
		return nil
	}
	_, err = s.files.Update(ctx, s.repo, path, []byte(body), f.SHA, "Updated "+path)
	return err
}

func (s *Service) deleteBody(ctx context.Context, id string) error {
	path, err := BodyPath(id)
	if err != nil {
		return err
	}
	f, err := s.files.Read(ctx, s.repo, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = s.files.Delete(ctx, s.repo, path, f.SHA, "Deleted "+path)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}
