// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes a LurkHub workspace to LLMs via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lurkhub/lurkhub-app/internal/content"
	"github.com/lurkhub/lurkhub-app/internal/workspace"
)

const datasetFormatURI = "lurkhub://dataset-format"

// Server wraps the MCP server with LurkHub tools.
type Server struct {
	mcp *server.MCPServer
	ws  *workspace.Workspace
}

// New creates a new MCP server with all tools registered against ws.
func New(ws *workspace.Workspace) *Server {
	s := &Server{ws: ws}

	s.mcp = server.NewMCPServer(
		"LurkHub",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	kinds := make([]string, len(content.Kinds))
	for i, k := range content.Kinds {
		kinds[i] = string(k)
	}
	kindParam := mcp.WithString("kind", mcp.Required(), mcp.Enum(kinds...),
		mcp.Description("Collection: bookmarks, articles or feeds"))

	s.mcp.AddTool(mcp.NewTool("list_items",
		mcp.WithDescription("List the items of a collection, newest first."),
		kindParam,
		mcp.WithString("search", mcp.Description("Case-insensitive title filter")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags an item must all carry")),
		mcp.WithBoolean("archived", mcp.Description("List the archive instead of the live items")),
	), s.listItems)

	s.mcp.AddTool(mcp.NewTool("add_item",
		mcp.WithDescription("Add a URL to a collection. Adding a URL that is already "+
			"present updates its title and tags instead."),
		kindParam,
		mcp.WithString("url", mcp.Required(), mcp.Description("Item URL; a missing scheme defaults to https")),
		mcp.WithString("title", mcp.Description("Display title")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags")),
	), s.addItem)

	s.mcp.AddTool(mcp.NewTool("archive_item",
		mcp.WithDescription("Move an item from a collection into its archive."),
		kindParam,
		mcp.WithString("id", mcp.Required(), mcp.Description("Item id")),
	), s.archiveItem)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List one page of posts, newest first."),
		mcp.WithNumber("page", mcp.Description("1-based page number (default 1)")),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read the Markdown body of a post."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id (Unix milliseconds)")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("create_post",
		mcp.WithDescription("Publish a new Markdown post."),
		mcp.WithString("body", mcp.Required(), mcp.Description("Markdown body")),
	), s.createPost)

	s.mcp.AddTool(mcp.NewTool("get_dataset_format",
		mcp.WithDescription("Returns the JSON dataset layout of the LurkHub repositories. "+
			"Call this before reading repository files directly."),
	), s.getDatasetFormat)

	s.mcp.AddResource(
		mcp.NewResource(datasetFormatURI, "Dataset Format",
			mcp.WithResourceDescription("Layout of the JSON datasets stored in the LurkHub repositories."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readDatasetFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) collection(req mcp.CallToolRequest) (*content.Service, error) {
	raw, err := req.RequireString("kind")
	if err != nil {
		return nil, err
	}
	k, err := content.ParseKind(raw)
	if err != nil {
		return nil, err
	}
	return s.ws.Collection(k), nil
}

func (s *Server) listItems(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	svc, err := s.collection(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var items []content.Item
	if req.GetBool("archived", false) {
		items, err = svc.ListArchived(ctx)
	} else {
		items, err = svc.List(ctx)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := content.Query{Search: req.GetString("search", "")}
	if tags := req.GetString("tags", ""); tags != "" {
		q.Tags = strings.Split(content.NormalizeTags(tags), ",")
	}
	return jsonResult(content.Filter(items, q))
}

func (s *Server) addItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	svc, err := s.collection(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	it, err := svc.CreateOrUpdate(ctx, content.Item{
		Title: req.GetString("title", ""),
		URL:   rawURL,
		Tags:  req.GetString("tags", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(it)
}

func (s *Server) archiveItem(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	svc, err := s.collection(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	it, err := svc.Archive(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("archived: %s", it.ID)), nil
}

func (s *Server) listPosts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page := req.GetInt("page", 1)
	entries, err := s.ws.Posts().Page(ctx, page)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entries)
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.ws.Posts().Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(doc.Body), nil
}

func (s *Server) createPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(body) == "" {
		return mcp.NewToolResultError("body is empty"), nil
	}
	entry, err := s.ws.Posts().Create(ctx, body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", entry.ID)), nil
}

func (s *Server) getDatasetFormat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(DatasetFormatContract), nil
}

func (s *Server) readDatasetFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      datasetFormatURI,
			MIMEType: "text/markdown",
			Text:     DatasetFormatContract,
		},
	}, nil
}
