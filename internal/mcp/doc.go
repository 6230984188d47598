// Package mcp exposes the learning engine as typed MCP tools over stdio.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the feedback and preference services directly. Seven tools are
// registered: confidence adjustment, decision recording, history statistics,
// export, confirmed clearing, and stock preference lookup and save.
//
// The stdio transport owns stdout; a single stray line there corrupts the
// protocol stream, so every log record goes to stderr through zap.
package mcp
