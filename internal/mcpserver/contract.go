package mcpserver

// DatasetFormatContract describes the JSON dataset layout LurkHub stores its
// collections and post indexes in. LLM consumers should read it before
// touching repository files directly.
const DatasetFormatContract = `# LurkHub Dataset Format

Every collection LurkHub keeps in a GitHub repository is a JSON dataset.

## Structure

` + "```" + `json
{
  "fields": ["id", "title", "url", "tags", "created"],
  "values": [
    ["3f1c...", "The Go Blog", "https://go.dev/blog", "go,blog", "2025-01-15T10:00:00.000Z"]
  ]
}
` + "```" + `

## Rules

1. ` + "`" + `fields` + "`" + ` names the columns; every row in ` + "`" + `values` + "`" + ` has exactly that many cells.
2. Cells are strings. Booleans are stored as ` + "`" + `"true"` + "`" + ` or ` + "`" + `"false"` + "`" + `.
3. The ` + "`" + `id` + "`" + ` column is the primary key and is unique within the file.
4. Tags are one comma-separated string, trimmed, without empty entries.
5. Dates are ISO-8601 in UTC with millisecond precision.
6. Files are UTF-8 JSON; writers keep the key order ` + "`" + `fields` + "`" + `, ` + "`" + `values` + "`" + `.

## Data repository (lurkhub-data)

- ` + "`" + `bookmarks/bookmarks.json` + "`" + `, ` + "`" + `articles/articles.json` + "`" + `, ` + "`" + `feeds/feeds.json` + "`" + `: live items.
- ` + "`" + `<kind>/archive/<kind>-archive-001.json` + "`" + `: archived items, same fields.

## Posts repository (lurkhub-posts)

- ` + "`" + `lurkhub-posts.json` + "`" + `: ` + "`" + `{"fullname": "...", "totalIndexes": N}` + "`" + `.
- ` + "`" + `index-00001.json` + "`" + ` ... : shards with fields ` + "`" + `id, preview, more` + "`" + `; ids are
  creation times in Unix milliseconds; a shard holds at most 100 posts.
- ` + "`" + `posts/yyyy/mm/dd/<id>.md` + "`" + `: the Markdown body with a ` + "`" + `date` + "`" + ` frontmatter field.

Use the ` + "`" + `add_item` + "`" + `, ` + "`" + `archive_item` + "`" + ` and ` + "`" + `create_post` + "`" + ` tools rather than editing
these files: they keep archives and indexes consistent.
`
