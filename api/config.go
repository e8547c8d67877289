// Package api provides the HTTP surface of the memory pipeline: the
// conversation-handler session endpoints, read access to summaries and
// background contexts, dead-letter replay and the MCP endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/papercomputeco/reverie/pkg/bgcontext"
	"github.com/papercomputeco/reverie/pkg/memory"
	"github.com/papercomputeco/reverie/pkg/reflection"
	"github.com/papercomputeco/reverie/pkg/session"
	"github.com/papercomputeco/reverie/pkg/storage"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	Tracker     *session.Tracker
	Archive     storage.ArchiveStore
	Contexts    *bgcontext.Builder
	Dispatcher  *reflection.Dispatcher
	DeadLetters storage.DeadLetterStore

	// Agents is extended with every agent that starts a session. Optional.
	Agents *memory.AgentSet

	// MCP is mounted at /mcp when set.
	MCP http.Handler

	Logger *slog.Logger
}
