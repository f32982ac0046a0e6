// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the assembled corpus for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/dataset"
	"github.com/starford/scenecorpus/internal/index"
)

// RecordFormatURI is the resource URI of the record format contract.
const RecordFormatURI = "scenecorpus://record-format"

// Server wraps the MCP server with corpus tools.
type Server struct {
	mcp *server.MCPServer
	svc *dataset.Service
}

// New creates a new MCP server with all corpus tools registered.
func New(svc *dataset.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"scenecorpus",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_records",
		mcp.WithDescription("Full-text search through descriptions and code of the assembled dataset."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of hits (default 20)")),
	), s.searchRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read one record of the final dataset by row id. "+
			"The record format is described by the "+RecordFormatURI+" resource."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Row id as returned by search_records or list_records")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List final records, optionally filtered by source or split."),
		mcp.WithString("source", mcp.Description("Source id to filter by")),
		mcp.WithString("split", mcp.Description("Split to filter by: train, test or unassigned")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_report",
		mcp.WithDescription("Return the report of the latest run: per-source counts, "+
			"rejection and duplicate reasons, source overlap and split totals."),
	), s.getReport)

	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List registered sources with priority, cache state and contribution."),
	), s.listSources)

	s.mcp.AddTool(mcp.NewTool("get_record_format",
		mcp.WithDescription("Returns the record format contract of the dataset."),
	), s.getRecordFormat)

	// Resource: record format contract.
	s.mcp.AddResource(
		mcp.NewResource(RecordFormatURI, "Record Format Contract",
			mcp.WithResourceDescription("Shape and invariants of records in the assembled dataset."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFormatResource,
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

func (s *Server) searchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	hits, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no records found"), nil
	}
	return jsonResult(hits)
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %d", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rec)
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListRecords(ctx, index.RecordFilter{
		Source: req.GetString("source", ""),
		Split:  req.GetString("split", ""),
		Limit:  req.GetInt("limit", 50),
		Offset: req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if items == nil {
		items = []dataset.RecordListItem{}
	}
	return jsonResult(map[string]any{"records": items, "total": total})
}

func (s *Server) getReport(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.svc.Report(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError("no run recorded yet"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) listSources(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcs, err := s.svc.Sources(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(srcs)
}

func (s *Server) getRecordFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFormatContract), nil
}

func (s *Server) readRecordFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      RecordFormatURI,
			MIMEType: "text/markdown",
			Text:     RecordFormatContract,
		},
	}, nil
}
