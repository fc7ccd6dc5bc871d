// Command review-mcp-server exposes the review pipeline's Tool Surface
// (read_file_snippet, run_grep, fetch_repo_map) over JSON-RPC/stdio, so
// any MCP client can drive the same read-only tools the Expert Runtime binds.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/coderisk/internal/mcp"
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
)

func main() {
	workspaceRoot := getEnvOrDefault("REVIEW_WORKSPACE_ROOT", ".")

	var repoMap *toolsurface.RepoMapAsset
	if treePath := os.Getenv("REVIEW_REPO_MAP_TREE_FILE"); treePath != "" {
		tree, err := os.ReadFile(treePath)
		if err != nil {
			log.Fatalf("failed to read repo map tree file: %v", err)
		}
		repoMap = &toolsurface.RepoMapAsset{Tree: string(tree)}
	}

	surface := toolsurface.New(workspaceRoot, repoMap)

	handler := mcp.NewHandler()
	mcp.RegisterReviewTools(handler, surface)
	log.Printf("registered %d review tools rooted at %s", len(surface.Definitions()), workspaceRoot)

	transport := mcp.NewStdioTransport(handler)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("shutting down")
		os.Exit(0)
	}()

	log.Println("review-mcp-server started on stdio")
	if err := transport.Start(); err != nil {
		log.Fatalf("transport error: %v", err)
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
