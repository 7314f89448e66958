// Package mcppool manages a pool of external MCP tool-server processes
// and routes tool calls to them.
package mcppool

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// clientName identifies this process to tool servers.
const clientName = "costq"

// TransportFactory produces the client transport for a server
// definition. The default spawns the configured command; tests swap in
// in-memory transports.
type TransportFactory func(def ServerDef) (mcp.Transport, error)

func commandTransport(def ServerDef) (mcp.Transport, error) {
	cmd := exec.Command(def.Command, def.Args...)
	cmd.Env = childEnv(def)
	return &mcp.CommandTransport{Command: cmd}, nil
}

// ToolInfo describes one tool offered by a pooled server.
type ToolInfo struct {
	Server      string
	Name        string
	Description string
}

// Pool owns one MCP client session per configured server. Sessions are
// dialed on Start and respawned on demand after a transport failure.
type Pool struct {
	defs      []ServerDef
	transport TransportFactory
	version   string
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
	stopped  bool
}

// New creates a Pool for the given definitions. Sessions are not dialed
// until Start or first use.
func New(defs []ServerDef, version string, logger zerolog.Logger) *Pool {
	return &Pool{
		defs:      defs,
		transport: commandTransport,
		version:   version,
		logger:    logger.With().Str("component", "mcppool").Logger(),
		sessions:  make(map[string]*mcp.ClientSession),
	}
}

// SetTransportFactory overrides how server transports are created.
func (p *Pool) SetTransportFactory(f TransportFactory) {
	p.transport = f
}

// Start dials every configured server. A server that fails to start is
// logged and skipped; it will be retried on first use.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.stopped = false
	p.mu.Unlock()

	for _, def := range p.defs {
		if _, err := p.session(ctx, def.Name); err != nil {
			p.logger.Warn().Err(err).Str("server", def.Name).
				Msg("Tool server failed to start, will retry on use")
			continue
		}
		p.logger.Info().Stringer("server", def).Msg("Tool server started")
	}
}

// Stop closes all live sessions. Safe to call more than once.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true

	for name, session := range p.sessions {
		if err := session.Close(); err != nil {
			p.logger.Warn().Err(err).Str("server", name).Msg("Error closing tool server session")
		}
		delete(p.sessions, name)
	}
}

// Servers returns the configured server names, sorted.
func (p *Pool) Servers() []string {
	names := make([]string, 0, len(p.defs))
	for _, def := range p.defs {
		names = append(names, def.Name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) def(name string) (ServerDef, bool) {
	for _, def := range p.defs {
		if def.Name == name {
			return def, true
		}
	}
	return ServerDef{}, false
}

// session returns the live session for the named server, dialing it if
// needed.
func (p *Pool) session(ctx context.Context, name string) (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, fmt.Errorf("tool pool is stopped")
	}
	if session, ok := p.sessions[name]; ok {
		return session, nil
	}

	def, ok := p.def(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool server %q", name)
	}

	transport, err := p.transport(def)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", name, err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: clientName, Version: p.version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}

	p.sessions[name] = session
	return session, nil
}

// discard drops a session so the next use respawns the server. The
// session is only removed if it is still the cached one.
func (p *Pool) discard(name string, session *mcp.ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[name] == session {
		delete(p.sessions, name)
		_ = session.Close()
	}
}

// Tools lists the tools of every reachable server, sorted by server
// then tool name. Unreachable servers are logged and omitted.
func (p *Pool) Tools(ctx context.Context) []ToolInfo {
	var tools []ToolInfo
	for _, def := range p.defs {
		session, err := p.session(ctx, def.Name)
		if err != nil {
			p.logger.Warn().Err(err).Str("server", def.Name).Msg("Tool server unreachable")
			continue
		}

		result, err := session.ListTools(ctx, nil)
		if err != nil {
			p.logger.Warn().Err(err).Str("server", def.Name).Msg("Failed to list tools")
			p.discard(def.Name, session)
			continue
		}

		for _, tool := range result.Tools {
			tools = append(tools, ToolInfo{
				Server:      def.Name,
				Name:        tool.Name,
				Description: tool.Description,
			})
		}
	}

	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Server != tools[j].Server {
			return tools[i].Server < tools[j].Server
		}
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// CallTool invokes a tool on the named server and returns the
// concatenated text content. A transport failure discards the session
// and retries once against a fresh one.
func (p *Pool) CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error) {
	session, err := p.session(ctx, server)
	if err != nil {
		return "", err
	}

	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		p.logger.Warn().Err(err).Str("server", server).Str("tool", tool).
			Msg("Tool call failed, respawning server")
		p.discard(server, session)

		session, err = p.session(ctx, server)
		if err != nil {
			return "", err
		}
		result, err = session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
		if err != nil {
			return "", fmt.Errorf("call %s/%s: %w", server, tool, err)
		}
	}

	text := contentText(result)
	if result.IsError {
		return "", fmt.Errorf("tool %s/%s: %s", server, tool, text)
	}
	return text, nil
}

func contentText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
