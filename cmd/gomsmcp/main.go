package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "configure":
		err = runConfigure()
	case "doctor":
		err = runDoctor()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("gomsmcp: read-only SQL Server MCP Server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gomsmcp serve       Start the MCP server")
	fmt.Println("  gomsmcp configure   Run interactive configuration wizard")
	fmt.Println("  gomsmcp doctor      Validate config and print agent connection snippets")
	fmt.Println("  gomsmcp --help      Show this help message")
}
