// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes cardsync tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/cardsync/internal/apperr"
	"github.com/starford/cardsync/internal/contactservice"
)

// FormatURI is the resource holding the contact record format.
const FormatURI = "cardsync://contact-format"

// Server wraps the MCP server with cardsync tools.
type Server struct {
	mcp *server.MCPServer
	svc *contactservice.Service
}

// New creates a new MCP server with all cardsync tools registered.
func New(svc *contactservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"cardsync",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_contacts",
		mcp.WithDescription("List stored contacts with the outcome of their last backup."),
		mcp.WithString("outcome", mcp.Description("Optional last outcome filter: pushed, requeued, dropped, abandoned or none")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
	), s.listContacts)

	s.mcp.AddTool(mcp.NewTool("read_contact",
		mcp.WithDescription("Read a contact record as JSON."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Contact id (record file name without extension)")),
	), s.readContact)

	s.mcp.AddTool(mcp.NewTool("encode_contact",
		mcp.WithDescription("Render a stored contact as a vCard 4.0 document."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Contact id")),
	), s.encodeContact)

	s.mcp.AddTool(mcp.NewTool("backup_contact",
		mcp.WithDescription("Queue a contact for upload to the backup provider."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Contact id")),
	), s.backupContact)

	s.mcp.AddTool(mcp.NewTool("queue_status",
		mcp.WithDescription("Show whether backups are enabled and which contacts are queued."),
	), s.queueStatus)

	s.mcp.AddTool(mcp.NewTool("set_backup_enabled",
		mcp.WithDescription("Enable or disable backups. Re-enabling processes queued contacts."),
		mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("New enabled state")),
	), s.setEnabled)

	s.mcp.AddTool(mcp.NewTool("get_contact_contract",
		mcp.WithDescription("Returns the contact record format. "+
			"Call this before writing contact files."),
	), s.getContactContract)

	s.mcp.AddResource(
		mcp.NewResource(FormatURI, "Contact Record Format",
			mcp.WithResourceDescription("YAML/JSON contact record format and its vCard mapping."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
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

// toolError reports err to the caller as a tool result.
func toolError(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listContacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	outcome := req.GetString("outcome", "")
	limit := req.GetInt("limit", 50)
	items, total, err := s.svc.ListContacts(ctx, limit, 0, outcome)
	if err != nil {
		return toolError(err), nil
	}
	if items == nil {
		items = []contactservice.ContactListItem{}
	}
	return jsonResult(map[string]any{"contacts": items, "total": total}), nil
}

func (s *Server) readContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	c, err := s.svc.GetContact(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(c), nil
}

func (s *Server) encodeContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.svc.EncodeContact(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) backupContact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Backup(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("queued: %s", id)), nil
}

func (s *Server) queueStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Queue(ctx)), nil
}

func (s *Server) setEnabled(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	enabled, err := req.RequireBool("enabled")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.SetEnabled(ctx, enabled)), nil
}

func (s *Server) getContactContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ContactFormatContract), nil
}

func (s *Server) readFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FormatURI,
			MIMEType: "text/markdown",
			Text:     ContactFormatContract,
		},
	}, nil
}
