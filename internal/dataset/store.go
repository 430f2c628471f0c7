package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/storage"
)

// Store reads and writes dataset files in one repository.
type Store struct {
	files storage.Provider
	repo  string
}

// NewStore creates a Store over repo.
func NewStore(files storage.Provider, repo string) *Store {
	return &Store{files: files, repo: repo}
}

// Repo returns the repository the store writes to.
func (s *Store) Repo() string { return s.repo }

// Load reads the dataset at path together with its revision token. An
// absent file is an empty dataset with an empty token.
func (s *Store) Load(ctx context.Context, path string) (*Dataset, string, error) {
	f, err := s.files.Read(ctx, s.repo, path)
	if errors.Is(err, apperr.ErrNotFound) {
		return Empty(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	ds, err := Parse(f.Content)
	if err != nil {
		return nil, "", fmt.Errorf("dataset %s: %w", path, err)
	}
	return ds, f.SHA, nil
}

// Mutate loads the dataset at path, applies fn and writes the result back
// with the revision token it was read with. If fn fails nothing is written.
// A concurrent change surfaces as apperr.ErrConflict.
func (s *Store) Mutate(ctx context.Context, path, message string, fn func(*Dataset) error) (*Dataset, error) {
	ds, sha, err := s.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := fn(ds); err != nil {
		return nil, err
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if err := s.save(ctx, path, ds, sha, message); err != nil {
		return nil, err
	}
	return ds, nil
}

func (s *Store) save(ctx context.Context, path string, ds *Dataset, sha, message string) error {
	raw, err := ds.Marshal()
	if err != nil {
		return fmt.Errorf("dataset: encode %s: %w", path, err)
	}
	if sha == "" {
		if message == "" {
			message = "Created " + path + " with new entry"
		}
		_, err = s.files.Create(ctx, s.repo, path, raw, message)
	} else {
		if message == "" {
			message = "Updated " + path
		}
		_, err = s.files.Update(ctx, s.repo, path, raw, sha, message)
	}
	if err != nil {
		return fmt.Errorf("dataset: save %s: %w", path, err)
	}
	return nil
}

// Table is a typed view of one dataset file.
type Table[T any] struct {
	store *Store
	codec *Codec[T]
	path  string
}

// NewTable binds codec to the dataset at path.
func NewTable[T any](store *Store, codec *Codec[T], path string) *Table[T] {
	return &Table[T]{store: store, codec: codec, path: path}
}

// Path returns the dataset file path.
func (t *Table[T]) Path() string { return t.path }

// List returns all rows in file order.
func (t *Table[T]) List(ctx context.Context) ([]T, error) {
	ds, _, err := t.store.Load(ctx, t.path)
	if err != nil {
		return nil, err
	}
	return t.codec.Decode(ds)
}

// Get returns the row with id.
func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ds, _, err := t.store.Load(ctx, t.path)
	if err != nil {
		return zero, err
	}
	row, ok := ds.Find(id)
	if !ok {
		return zero, fmt.Errorf("no entry found with id %q: %w", id, apperr.ErrNotFound)
	}
	return t.codec.DecodeRow(ds, row)
}

// Append adds v as a new row, creating the file when absent.
func (t *Table[T]) Append(ctx context.Context, v T) error {
	_, err := t.store.Mutate(ctx, t.path, "", func(ds *Dataset) error {
		if _, exists := ds.Find(t.codec.ID(v)); exists {
			return fmt.Errorf("entry %q: %w", t.codec.ID(v), apperr.ErrAlreadyExists)
		}
		return ds.Append(t.codec.Encode(ds, v))
	})
	return err
}

// Replace overwrites the row with v's id.
func (t *Table[T]) Replace(ctx context.Context, v T) error {
	_, err := t.store.Mutate(ctx, t.path, "", func(ds *Dataset) error {
		prev, ok := ds.Find(t.codec.ID(v))
		if !ok {
			return fmt.Errorf("no entry found with id %q: %w", t.codec.ID(v), apperr.ErrNotFound)
		}
		return ds.Replace(t.codec.EncodeOver(ds, v, prev))
	})
	return err
}

// Remove deletes the row with id.
func (t *Table[T]) Remove(ctx context.Context, id string) error {
	_, err := t.store.Mutate(ctx, t.path, "", func(ds *Dataset) error {
		return ds.Remove(id)
	})
	return err
}

// Update applies fn to the decoded rows and writes back the rows it returns.
// Cells of columns T does not declare are kept for surviving ids.
func (t *Table[T]) Update(ctx context.Context, fn func([]T) ([]T, error)) error {
	_, err := t.store.Mutate(ctx, t.path, "", func(ds *Dataset) error {
		rows, err := t.codec.Decode(ds)
		if err != nil {
			return err
		}
		rows, err = fn(rows)
		if err != nil {
			return err
		}
		prev := make(map[string][]string, len(ds.Values))
		if idx, err := ds.IDIndex(); err == nil {
			for _, r := range ds.Values {
				prev[r[idx]] = r
			}
		}
		values := make([][]string, 0, len(rows))
		for _, r := range rows {
			values = append(values, t.codec.EncodeOver(ds, r, prev[t.codec.ID(r)]))
		}
		ds.Values = values
		return nil
	})
	return err
}
