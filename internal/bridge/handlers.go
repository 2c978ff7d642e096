package bridge

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"harbor-bridge/internal/oauth"
	"harbor-bridge/pkg/logging"
)

// successResult is returned by mutating tools that have nothing else to report.
type successResult struct {
	Success  bool   `json:"success"`
	Provider string `json:"provider,omitempty"`
}

func (s *Server) handleStartFlow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scopes, err := stringSlice(request.GetArguments()["scopes"])
	if err != nil {
		return errorResult(err), nil
	}

	res, err := s.service.StartFlow(ctx,
		request.GetString("provider", ""),
		request.GetString("server_id", ""),
		scopes,
	)
	if err != nil {
		logging.Warn("Bridge", "%s failed: %v", ToolStartFlow, err)
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGetTokens(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.service.GetTokens(ctx, request.GetString("server_id", ""))
	if err != nil {
		logging.Warn("Bridge", "%s failed: %v", ToolGetTokens, err)
		return errorResult(err), nil
	}
	return jsonResult(info)
}

func (s *Server) handleStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.service.Status(request.GetString("server_id", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(status)
}

func (s *Server) handleRevoke(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.service.Revoke(ctx, request.GetString("server_id", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleListProviders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"providers": s.service.ListProviders()})
}

func (s *Server) handleGetCredentialsStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"providers": s.service.CredentialsStatus()})
}

func (s *Server) handleSetCredentials(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := request.GetString("provider", "")
	err := s.service.SetCredentials(provider,
		request.GetString("client_id", ""),
		request.GetString("client_secret", ""),
	)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(successResult{Success: true, Provider: provider})
}

func (s *Server) handleRemoveCredentials(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	provider := request.GetString("provider", "")
	if err := s.service.RemoveCredentials(provider); err != nil {
		return errorResult(err), nil
	}
	return jsonResult(successResult{Success: true, Provider: provider})
}

// stringSlice converts a JSON array argument to strings. A missing argument
// yields nil so the service reports the missing parameter.
func stringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: scopes[%d] must be a string", oauth.ErrInvalidParameter, i)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: scopes must be an array of strings", oauth.ErrInvalidParameter)
	}
}
