package dataset

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lurkhub/lurkhub-app/internal/apperr"
	"github.com/lurkhub/lurkhub-app/internal/testutil"
)

type link struct {
	ID      string `dataset:"id"`
	Title   string `dataset:"title"`
	URL     string `dataset:"url"`
	Pinned  bool   `dataset:"pinned"`
	Visits  int    `dataset:"visits"`
	Ignored string
}

var linkCodec = MustCodec[link]()

func TestParseAndMarshal(t *testing.T) {
	ds, err := Parse([]byte(`{"fields":["id","n","flag","nil"],"values":[["a",1,true,null]]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff([][]string{{"a", "1", "true", ""}}, ds.Values); diff != "" {
		t.Errorf("values mismatch (-want +got):\n%s", diff)
	}

	out, err := Empty().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "{\n  \"fields\": [],\n  \"values\": []\n}" {
		t.Errorf("empty marshal = %q", out)
	}
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"bad json":       `{"fields": [`,
		"arity":          `{"fields":["id","title"],"values":[["1"]]}`,
		"duplicate":      `{"fields":["id","id"],"values":[]}`,
		"nested cell":    `{"fields":["id"],"values":[[{"x":1}]]}`,
		"fields not str": `{"fields":[1],"values":[]}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(in)); !errors.Is(err, apperr.ErrMalformed) {
				t.Errorf("err = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestReplaceAndRemove(t *testing.T) {
	ds := &Dataset{Fields: []string{"id", "title"}, Values: [][]string{{"1", "a"}, {"2", "b"}}}

	if err := ds.Replace([]string{"2", "B"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := ds.Replace([]string{"3", "c"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("replace missing err = %v", err)
	}
	if err := ds.Replace([]string{"1"}); !errors.Is(err, apperr.ErrMalformed) {
		t.Errorf("replace short row err = %v", err)
	}

	before := [][]string{{"1", "a"}, {"2", "B"}}
	if err := ds.Remove("9"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("remove missing err = %v", err)
	}
	if diff := cmp.Diff(before, ds.Values); diff != "" {
		t.Errorf("dataset modified by failed remove:\n%s", diff)
	}
	if err := ds.Remove("1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if diff := cmp.Diff([][]string{{"2", "B"}}, ds.Values); diff != "" {
		t.Errorf("after remove:\n%s", diff)
	}
}

func TestRequireFields(t *testing.T) {
	ds := &Dataset{Fields: []string{"id", "title"}}
	if err := ds.RequireFields(map[string]string{"id": "1", "title": ""}); err != nil {
		t.Errorf("complete record err = %v", err)
	}
	err := ds.RequireFields(map[string]string{"id": "1"})
	if !errors.Is(err, apperr.ErrMalformed) || !strings.Contains(err.Error(), `"title"`) {
		t.Errorf("err = %v, want missing title", err)
	}
}

func TestMissingIDField(t *testing.T) {
	ds := &Dataset{Fields: []string{"title"}, Values: [][]string{{"x"}}}
	if err := ds.Remove("x"); !errors.Is(err, apperr.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	ds := Empty()
	in := link{ID: "1", Title: "Go", URL: "https://go.dev", Pinned: true, Visits: 3}
	if err := ds.Append(linkCodec.Encode(ds, in)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if diff := cmp.Diff([]string{"id", "title", "url", "pinned", "visits"}, ds.Fields); diff != "" {
		t.Errorf("adopted schema:\n%s", diff)
	}
	got, err := linkCodec.Decode(ds)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]link{in}, got); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestCodecAlignsByFieldName(t *testing.T) {
	// File written by another client with a different column order and an extra column.
	ds, err := Parse([]byte(`{"fields":["url","extra","id","title"],"values":[["https://a","keep","1","A"]]}`))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := linkCodec.Decode(ds)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].ID != "1" || rows[0].URL != "https://a" || rows[0].Title != "A" {
		t.Fatalf("decoded = %+v", rows[0])
	}

	rows[0].Title = "A2"
	row := linkCodec.EncodeOver(ds, rows[0], ds.Values[0])
	if err := ds.Replace(row); err != nil {
		t.Fatal(err)
	}
	want := []string{"url", "extra", "id", "title", "pinned", "visits"}
	if diff := cmp.Diff(want, ds.Fields); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"https://a", "keep", "1", "A2", "false", "0"}, ds.Values[0]); diff != "" {
		t.Errorf("row (-want +got):\n%s", diff)
	}
}

func TestNewCodecRequiresID(t *testing.T) {
	type noID struct {
		Title string `dataset:"title"`
	}
	if _, err := NewCodec[noID](); err == nil {
		t.Error("expected error for schema without id")
	}
}

func TestTable(t *testing.T) {
	files := testutil.TestData(t, "octocat", "data")
	tbl := NewTable(NewStore(files, "data"), linkCodec, "links/links.json")
	ctx := context.Background()

	rows, err := tbl.List(ctx)
	if err != nil || len(rows) != 0 {
		t.Fatalf("List on absent file = %v, %v", rows, err)
	}

	if err := tbl.Append(ctx, link{ID: "1", Title: "one"}); err != nil {
		t.Fatalf("Append creating file: %v", err)
	}
	if err := tbl.Append(ctx, link{ID: "2", Title: "two"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := tbl.Append(ctx, link{ID: "2", Title: "dup"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate id err = %v", err)
	}
	if err := tbl.Replace(ctx, link{ID: "2", Title: "TWO"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got, err := tbl.Get(ctx, "2")
	if err != nil || got.Title != "TWO" {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if err := tbl.Remove(ctx, "1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := tbl.Remove(ctx, "1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Remove err = %v", err)
	}

	f, err := files.Read(ctx, "data", "links/links.json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(f.Content), "\n  \"fields\": [") {
		t.Errorf("file not 2-space indented:\n%s", f.Content)
	}
}

func TestMutateDetectsConflict(t *testing.T) {
	files := testutil.TestData(t, "octocat", "data")
	store := NewStore(files, "data")
	tbl := NewTable(store, linkCodec, "l.json")
	ctx := context.Background()
	_ = tbl.Append(ctx, link{ID: "1"})

	_, err := store.Mutate(ctx, "l.json", "", func(ds *Dataset) error {
		// another writer lands between our read and write
		if err := tbl.Append(ctx, link{ID: "2"}); err != nil {
			t.Fatal(err)
		}
		return ds.Remove("1")
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	rows, _ := tbl.List(ctx)
	if len(rows) != 2 {
		t.Errorf("concurrent write lost, rows = %+v", rows)
	}
}

func TestMutateMalformedFile(t *testing.T) {
	files := testutil.TestData(t, "octocat", "data")
	ctx := context.Background()
	_, _ = files.Create(ctx, "data", "bad.json", []byte("not json"), "")
	tbl := NewTable(NewStore(files, "data"), linkCodec, "bad.json")
	if _, err := tbl.List(ctx); !errors.Is(err, apperr.ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}
