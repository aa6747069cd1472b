package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	msmcp "github.com/rickchristie/mssql-mcp"
	"github.com/rickchristie/mssql-mcp/internal/meta"
)

// agentServerName is the MCP server name used in agent snippets.
const agentServerName = "mssql"

func runDoctor() error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	path := fs.String("config", configPath(), "Path to configuration file")
	fs.Parse(os.Args[2:])

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *path)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gomsmcp %s\n\n", meta.Version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gomsmcp doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config, configPath)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*msmcp.ServerConfig, bool) {
	allPassed := true
	check := func(pass bool, msg string) {
		printCheck(w, useColor, pass, msg)
		if !pass {
			allPassed = false
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		check(false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	check(true, fmt.Sprintf("Config file readable (%s)", configPath))

	var config msmcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		check(false, fmt.Sprintf("Config file is valid JSON: %v", err))
		return nil, false
	}
	check(true, "Config file is valid JSON")

	if config.Connection.Host == "" {
		check(false, "connection.host is set")
	} else {
		check(true, fmt.Sprintf("connection.host is set (%s)", config.Connection.Host))
	}

	switch config.Connection.Driver {
	case "", "mssql", "sqlserver":
		check(true, fmt.Sprintf("connection.driver is supported (%s)", driverLabel(config.Connection.Driver)))
	default:
		check(false, fmt.Sprintf("connection.driver is mssql or sqlserver (got %q)", config.Connection.Driver))
	}

	if config.Server.Port < 0 || config.Server.Port > 65535 {
		check(false, fmt.Sprintf("server.port is in range (got %d)", config.Server.Port))
	} else if config.Server.Port == 0 {
		check(true, fmt.Sprintf("server.port defaults to %d", defaultPort))
	} else {
		check(true, fmt.Sprintf("server.port is in range (%d)", config.Server.Port))
	}

	transport := strings.ToLower(config.Server.Transport)
	switch transport {
	case "", "http", "stdio":
		check(true, fmt.Sprintf("server.transport is supported (%s)", transportLabel(transport)))
	default:
		check(false, fmt.Sprintf("server.transport is http or stdio (got %q)", config.Server.Transport))
	}
	if transport == "stdio" && config.Logging.Output == "stdout" {
		check(false, "logging.output is not stdout (stdout carries the stdio transport)")
	}

	if config.Server.HealthCheckEnabled {
		if config.Server.HealthCheckPath == "" {
			check(false, "health_check_path is set (required when health_check_enabled)")
		} else {
			check(true, fmt.Sprintf("health_check_path is set (%s)", config.Server.HealthCheckPath))
		}
	}

	hooksConfigured := len(config.ServerHooks.BeforeQuery) > 0 || len(config.ServerHooks.AfterQuery) > 0
	if hooksConfigured && config.DefaultHookTimeoutSeconds <= 0 {
		check(false, "default_hook_timeout_seconds is > 0 (required when server_hooks are set)")
	}

	regexOK := true
	compile := func(label string, i int, pattern string) {
		if _, err := regexp.Compile(pattern); err != nil {
			check(false, fmt.Sprintf("%s[%d] regex compiles: %v", label, i, err))
			regexOK = false
		}
	}
	for i, rule := range config.ErrorPrompts {
		compile("error_prompts", i, rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		compile("sanitization", i, rule.Pattern)
	}
	for i, rule := range config.Query.TimeoutRules {
		compile("timeout_rules", i, rule.Pattern)
	}
	for i, hook := range config.ServerHooks.BeforeQuery {
		compile("server_hooks.before_query", i, hook.Pattern)
	}
	for i, hook := range config.ServerHooks.AfterQuery {
		compile("server_hooks.after_query", i, hook.Pattern)
	}
	if regexOK {
		check(true, "All regex patterns compile")
	}

	return &config, allPassed
}

func driverLabel(driver string) string {
	if driver == "" {
		return "mssql"
	}
	return driver
}

func transportLabel(transport string) string {
	if transport == "" {
		return "http"
	}
	return transport
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *msmcp.ServerConfig, configPath string) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if strings.ToLower(config.Server.Transport) == "stdio" {
		printStdioSnippets(w, subheading, configPath)
		return
	}

	port := config.Server.Port
	if port == 0 {
		port = defaultPort
	}
	url := fmt.Sprintf("http://localhost:%d%s", port, mcpEndpoint)

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http %s %s\n\n", agentServerName, url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, agentServerName, url)
	fmt.Fprintln(w)

	subheading("Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, agentServerName, url)
	fmt.Fprintln(w)

	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "httpUrl": "%s"
      }
    }
  }
`, agentServerName, url)
	fmt.Fprintln(w)

	subheading("OpenCode (opencode.json)")
	fmt.Fprintf(w, `  {
    "mcp": {
      "%s": {
        "type": "remote",
        "url": "%s"
      }
    }
  }
`, agentServerName, url)
	fmt.Fprintln(w)

	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "url": "%s"
      }
    }
  }
`, agentServerName, url)
	fmt.Fprintln(w)

	subheading("Windsurf (~/.codeium/windsurf/mcp_config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "serverUrl": "%s"
      }
    }
  }
`, agentServerName, url)
}

// printStdioSnippets prints snippets that launch gomsmcp as a subprocess.
// Credentials must come from the environment since stdin is the transport.
func printStdioSnippets(w io.Writer, subheading func(string), configPath string) {
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add %s -e GOMSMCP_CONFIG_PATH=%s -e GOMSMCP_MSSQL_USER=<user> -e GOMSMCP_MSSQL_PASSWORD=<password> -- gomsmcp serve\n\n",
		agentServerName, configPath)

	subheading("Generic stdio client (mcpServers)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "%s": {
        "command": "gomsmcp",
        "args": ["serve"],
        "env": {
          "GOMSMCP_CONFIG_PATH": "%s",
          "GOMSMCP_MSSQL_USER": "<user>",
          "GOMSMCP_MSSQL_PASSWORD": "<password>"
        }
      }
    }
  }
`, agentServerName, configPath)
}
