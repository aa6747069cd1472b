package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	msmcp "github.com/rickchristie/mssql-mcp"
	"github.com/rickchristie/mssql-mcp/internal/meta"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

const (
	defaultConfigPath = ".gomsmcp/config.json"
	defaultPort       = 8009
	mcpEndpoint       = "/mcp"
)

func runServe() error {
	ctx := context.Background()

	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	transport := resolveTransport(serverConfig.Server)
	port := resolvePort(serverConfig.Server)
	if transport == "stdio" && serverConfig.Logging.Output == "stdout" {
		return fmt.Errorf("logging.output cannot be stdout with the stdio transport")
	}

	// 2. Resolve credentials. stdin belongs to the MCP client under stdio.
	input, password := promptInput, promptPassword
	if transport == "stdio" {
		input, password = noPrompt, noPrompt
	}
	creds := resolveCredentials(os.Getenv, input, password)

	// 3. Setup logger
	logger := setupLogger(serverConfig.Logging)

	// 4. Create SQLServerMcp instance
	var opts []msmcp.Option
	if len(serverConfig.ServerHooks.BeforeQuery) > 0 || len(serverConfig.ServerHooks.AfterQuery) > 0 {
		opts = append(opts, msmcp.WithServerHooks(serverConfig.ServerHooks))
	}
	msMcp, err := msmcp.New(serverConfig.Config, creds, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SQLServerMcp: %w", err)
	}

	// 5. Test database connection
	logger.Info().Str("database", msMcp.DefaultDatabase()).Msg("testing database connection")
	if err := msMcp.Ping(ctx, ""); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 6. Create MCP server
	mcpServer := newMCPServer(msMcp, logger)

	if transport == "stdio" {
		logger.Info().Msg("starting gomsmcp server on stdio")
		return server.ServeStdio(mcpServer, server.WithErrorLogger(log.New(logger, "", 0)))
	}

	// 7. Start HTTP server with optional health check
	streamableServer, addr := newHTTPServer(mcpServer, serverConfig.Server, port)
	logger.Info().Int("port", port).Msg("starting gomsmcp server")
	return streamableServer.Start(addr)
}

// newMCPServer creates the MCP server with the five tools registered and
// initialize lifecycle logging.
func newMCPServer(msMcp *msmcp.SQLServerMcp, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gomsmcp", meta.Version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	msmcp.RegisterMCPTools(mcpServer, msMcp)
	return mcpServer
}

// newHTTPServer builds the streamable HTTP server on its own mux, with the
// health check mounted when enabled. Panics when the health check is enabled
// without a path.
func newHTTPServer(mcpServer *server.MCPServer, settings msmcp.ServerSettings, port int) (*server.StreamableHTTPServer, string) {
	addr := fmt.Sprintf(":%d", port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if settings.HealthCheckEnabled {
		if settings.HealthCheckPath == "" {
			panic("gomsmcp: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(settings.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath(mcpEndpoint),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Start() does not register the handler when a custom *http.Server is
	// provided via WithStreamableHTTPServer.
	mux.Handle(mcpEndpoint, streamableServer)
	return streamableServer, addr
}

func configPath() string {
	if p := os.Getenv("GOMSMCP_CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

func loadServerConfig() (*msmcp.ServerConfig, error) {
	path := configPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config msmcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// resolveTransport returns "http" or "stdio". Panics on anything else.
func resolveTransport(settings msmcp.ServerSettings) string {
	switch strings.ToLower(settings.Transport) {
	case "", "http":
		return "http"
	case "stdio":
		return "stdio"
	default:
		panic(fmt.Sprintf("gomsmcp: server.transport must be http or stdio, got %q", settings.Transport))
	}
}

// resolvePort returns the listen port, defaulting to 8009. Panics when out of range.
func resolvePort(settings msmcp.ServerSettings) int {
	if settings.Port == 0 {
		return defaultPort
	}
	if settings.Port < 0 || settings.Port > 65535 {
		panic(fmt.Sprintf("gomsmcp: server.port %d out of range", settings.Port))
	}
	return settings.Port
}

// resolveCredentials reads GOMSMCP_MSSQL_USER and GOMSMCP_MSSQL_PASSWORD,
// prompting for whichever is missing.
func resolveCredentials(getenv func(string) string, input, password func(string) string) msmcp.Credentials {
	creds := msmcp.Credentials{
		User:     getenv("GOMSMCP_MSSQL_USER"),
		Password: getenv("GOMSMCP_MSSQL_PASSWORD"),
	}
	if creds.User == "" {
		creds.User = input("Username: ")
	}
	if creds.Password == "" {
		creds.Password = password("Password: ")
	}
	return creds
}

func setupLogger(config msmcp.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func noPrompt(string) string { return "" }

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}
