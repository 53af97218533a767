// Package mcp is a Model Context Protocol client. It speaks JSON-RPC 2.0
// to external tool servers over a subprocess (stdio) or streamable HTTP,
// discovers their tools with tools/list and invokes them with tools/call.
// BridgeTools publishes the discovered tools into a tools.Registry so the
// reasoning loop sees them next to the built-in tools.
package mcp
