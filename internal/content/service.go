package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/dataset"
	"github.com/lurkhub/lurkhub-app/internal/saga"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// archiveVolume is the archive file every archived item goes to.
const archiveVolume = 1

// Service manages one collection and its archive.
type Service struct {
	kind    Kind
	live    *dataset.Table[Item]
	archive *dataset.Table[Item]
	sagas   *saga.Coordinator

	now   func() time.Time
	newID func() string
}

// NewService creates the service for kind over the data repository and
// registers its archive and restore workflows with sagas.
func NewService(kind Kind, files storage.Provider, repo string, sagas *saga.Coordinator) *Service {
	store := dataset.NewStore(files, repo)
	s := &Service{
		kind:    kind,
		live:    dataset.NewTable(store, itemCodec, kind.Path()),
		archive: dataset.NewTable(store, itemCodec, kind.ArchivePath(archiveVolume)),
		sagas:   sagas,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	sagas.Register(s.archiveWorkflow(), saga.Step{
		Name: "copy to archive",
		Do:   withItem(s.putArchived),
	}, saga.Step{
		Name: "remove from live",
		Do:   withItem(func(ctx context.Context, it Item) error { return ignoreNotFound(s.live.Remove(ctx, it.ID)) }),
	})
	sagas.Register(s.restoreWorkflow(), saga.Step{
		Name: "restore to live",
		Do: withItem(func(ctx context.Context, it Item) error {
			_, err := s.CreateOrUpdate(ctx, it)
			return err
		}),
	}, saga.Step{
		Name: "remove from archive",
		Do:   withItem(func(ctx context.Context, it Item) error { return ignoreNotFound(s.archive.Remove(ctx, it.ID)) }),
	})
	return s
}

// Kind returns the collection the service manages.
func (s *Service) Kind() Kind { return s.kind }

func (s *Service) archiveWorkflow() string { return "archive/" + string(s.kind) }
func (s *Service) restoreWorkflow() string { return "restore/" + string(s.kind) }

func withItem(fn func(context.Context, Item) error) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, raw json.RawMessage) error {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return fmt.Errorf("content: decode saga payload: %w", err)
		}
		return fn(ctx, it)
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	return err
}

// List returns the live items in file order.
func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.live.List(ctx)
}

// Get returns the live item with id.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	return s.live.Get(ctx, id)
}

// CreateOrUpdate stores it keyed by normalized URL. When a live item already
// has the same URL its id is kept and the row replaced; otherwise a new row
// is appended under it.ID, or a fresh id when it has none. Created is
// always set to now.
func (s *Service) CreateOrUpdate(ctx context.Context, it Item) (Item, error) {
	it.URL = NormalizeURL(it.URL)
	if it.URL == "" {
		return Item{}, apperr.Malformed("invalid url")
	}
	it.Title = strings.TrimSpace(it.Title)
	it.Tags = NormalizeTags(it.Tags)
	it.Created = Timestamp(s.now())

	err := s.live.Update(ctx, func(items []Item) ([]Item, error) {
		for i, existing := range items {
			if NormalizeURL(existing.URL) == it.URL {
				it.ID = existing.ID
				items[i] = it
				return items, nil
			}
		}
		if it.ID == "" {
			it.ID = s.newID()
		}
		for _, existing := range items {
			if existing.ID == it.ID {
				return nil, fmt.Errorf("entry %q: %w", it.ID, apperr.ErrAlreadyExists)
			}
		}
		return append(items, it), nil
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// Update replaces the live item with it.ID, keeping its created time.
func (s *Service) Update(ctx context.Context, it Item) (Item, error) {
	if it.URL = NormalizeURL(it.URL); it.URL == "" {
		return Item{}, apperr.Malformed("invalid url")
	}
	it.Title = strings.TrimSpace(it.Title)
	it.Tags = NormalizeTags(it.Tags)
	err := s.live.Update(ctx, func(items []Item) ([]Item, error) {
		for i, existing := range items {
			if existing.ID == it.ID {
				if it.Created == "" {
					it.Created = existing.Created
				}
				items[i] = it
				return items, nil
			}
		}
		return nil, fmt.Errorf("no entry found with id %q: %w", it.ID, apperr.ErrNotFound)
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// Delete removes the live item with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.live.Remove(ctx, id)
}

// ListArchived returns the archived items.
func (s *Service) ListArchived(ctx context.Context) ([]Item, error) {
	return s.archive.List(ctx)
}

// GetArchived returns the archived item with id.
func (s *Service) GetArchived(ctx context.Context, id string) (Item, error) {
	return s.archive.Get(ctx, id)
}

// DeleteArchived removes the archived item with id.
func (s *Service) DeleteArchived(ctx context.Context, id string) error {
	return s.archive.Remove(ctx, id)
}

// putArchived writes it into the archive, replacing an earlier copy with
// the same id so a resumed archive run does not duplicate rows.
func (s *Service) putArchived(ctx context.Context, it Item) error {
	return s.archive.Update(ctx, func(items []Item) ([]Item, error) {
		for i, existing := range items {
			if existing.ID == it.ID {
				items[i] = it
				return items, nil
			}
		}
		return append(items, it), nil
	})
}

// Archive moves the live item with id into the archive: copy first, then
// remove from the live set. If the copy fails the live item is untouched;
// if the removal fails a *saga.PartialError is returned and the item is in
// both sets until reconciled.
func (s *Service) Archive(ctx context.Context, id string) (Item, error) {
	it, err := s.live.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.sagas.Run(ctx, s.archiveWorkflow(), it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Restore moves the archived item with id back into the live set through
// CreateOrUpdate, then removes it from the archive.
func (s *Service) Restore(ctx context.Context, id string) (Item, error) {
	it, err := s.archive.Get(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.sagas.Run(ctx, s.restoreWorkflow(), it); err != nil {
		return Item{}, err
	}
	restored, err := s.findByURL(ctx, it.URL)
	if err != nil {
		return it, nil
	}
	return restored, nil
}

func (s *Service) findByURL(ctx context.Context, raw string) (Item, error) {
	items, err := s.live.List(ctx)
	if err != nil {
		return Item{}, err
	}
	u := NormalizeURL(raw)
	for _, it := range items {
		if NormalizeURL(it.URL) == u {
			return it, nil
		}
	}
	return Item{}, apperr.ErrNotFound
}

// Tags returns the distinct tags of the live items.
func (s *Service) Tags(ctx context.Context) ([]string, error) {
	items, err := s.live.List(ctx)
	if err != nil {
		return nil, err
	}
	return Tags(items), nil
}
