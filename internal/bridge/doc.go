// Package bridge exposes the OAuth operations as MCP tools over stdio.
//
// The parent process speaks JSON-RPC on the bridge's stdin/stdout; framing
// and dispatch are handled by mcp-go. Each tool returns a JSON document as
// text content. Failures are tool results with IsError set and a body of
//
//	{"code": -32602, "kind": "missing_parameter", "message": "..."}
//
// where code follows JSON-RPC conventions and kind names the error category.
package bridge
