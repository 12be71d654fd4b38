package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cexll/pollbot/internal/policy"
	"github.com/cexll/pollbot/internal/state"
)

// ListParams is the empty input of the listing tools.
type ListParams struct{}

// CheckAuthorParams defines the input of check_author.
type CheckAuthorParams struct {
	Author string `json:"author" jsonschema:"The platform handle to look up"`
}

// stateTools reads the document afresh on every call so a running bot's
// writes are always visible.
type stateTools struct {
	path   string
	logger *zap.Logger
}

// HandleListWatchList handles the list_watch_list tool call.
func (s *stateTools) HandleListWatchList(ctx context.Context, req *mcp.CallToolRequest, _ ListParams) (*mcp.CallToolResult, any, error) {
	doc, res := s.read("list_watch_list")
	if res != nil {
		return res, nil, nil
	}
	return jsonResult(map[string]any{
		"watch_list": doc.WatchList,
		"count":      len(doc.WatchList),
	})
}

// HandleListOptOuts handles the list_opt_outs tool call.
func (s *stateTools) HandleListOptOuts(ctx context.Context, req *mcp.CallToolRequest, _ ListParams) (*mcp.CallToolResult, any, error) {
	doc, res := s.read("list_opt_outs")
	if res != nil {
		return res, nil, nil
	}
	return jsonResult(map[string]any{
		"opt_outs": doc.OptOutSet,
		"count":    len(doc.OptOutSet),
	})
}

// HandleCheckAuthor handles the check_author tool call.
func (s *stateTools) HandleCheckAuthor(ctx context.Context, req *mcp.CallToolRequest, params CheckAuthorParams) (*mcp.CallToolResult, any, error) {
	author := strings.TrimSpace(params.Author)
	if author == "" {
		return nil, nil, fmt.Errorf("author parameter is required")
	}

	doc, res := s.read("check_author")
	if res != nil {
		return res, nil, nil
	}

	optedOut := false
	for _, o := range doc.OptOutSet {
		if policy.SameHandle(o, author) {
			optedOut = true
			break
		}
	}
	return jsonResult(map[string]any{
		"author":    author,
		"opted_out": optedOut,
	})
}

// read loads the document, or returns the error result to hand back.
func (s *stateTools) read(tool string) (*state.Document, *mcp.CallToolResult) {
	s.logger.Debug("tool_called", zap.String("tool", tool))

	doc, err := state.ReadDocument(s.path)
	if err == nil {
		return doc, nil
	}

	s.logger.Warn("state_read_failed", zap.String("tool", tool), zap.Error(err))
	msg := fmt.Sprintf("Error: %v", err)
	if errors.Is(err, fs.ErrNotExist) {
		msg = fmt.Sprintf("Error: no state document at %s", s.path)
	}
	return nil, errorResult(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}
