package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/coderisk/internal/review/expert"
	"github.com/rohankatakam/coderisk/internal/review/pipeline"
	"github.com/rohankatakam/coderisk/internal/review/prompt"
	"github.com/rohankatakam/coderisk/internal/review/toolsurface"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Run the review pipeline once against a local diff and print the report",
	Long: `run computes the diff for the repository at [path] (default: current
directory) against --base, feeds it through the review pipeline, and prints
the rendered report to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReviewOnce,
}

func init() {
	runCmd.Flags().String("base", "HEAD~1", "base ref to diff against")
	runCmd.Flags().String("templates", "templates", "prompt template directory")
	runCmd.Flags().String("repo-map-tree", "", "path to a pre-built repo map tree file")
}

func runReviewOnce(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve repo path: %w", err)
	}

	base, _ := cmd.Flags().GetString("base")
	templatesDir, _ := cmd.Flags().GetString("templates")
	repoMapTree, _ := cmd.Flags().GetString("repo-map-tree")

	diffText, err := gitDiff(ctx, absRoot, base)
	if err != nil {
		return err
	}
	if strings.TrimSpace(diffText) == "" {
		fmt.Println("no changes to review")
		return nil
	}

	gw, err := buildGateway(ctx, cfg.Review)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	var repoMap *toolsurface.RepoMapAsset
	if repoMapTree != "" {
		tree, err := os.ReadFile(repoMapTree)
		if err != nil {
			return fmt.Errorf("read repo map tree: %w", err)
		}
		repoMap = &toolsurface.RepoMapAsset{Tree: string(tree)}
	}
	surface := toolsurface.New(absRoot, repoMap)

	renderer := prompt.New(templatesDir)

	read := func(path string) (string, error) {
		b, err := os.ReadFile(filepath.Join(absRoot, path))
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	driver := pipeline.New(gw, surface, renderer, expert.ContentReader(read), buildPipelineConfig(cfg.Review))
	state := driver.Run(ctx, diffText, nil, expert.ContentReader(read))

	fmt.Println(state.FinalReport)
	return nil
}

func gitDiff(ctx context.Context, repoRoot, base string) (string, error) {
	c := exec.CommandContext(ctx, "git", "diff", base)
	c.Dir = repoRoot
	out, err := c.Output()
	if err != nil {
		return "", fmt.Errorf("git diff failed: %w", err)
	}
	return string(out), nil
}
