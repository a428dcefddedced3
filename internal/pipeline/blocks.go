package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// FileBlock represents a single extracted sub-document from solution text.
type FileBlock struct {
	Path    string // e.g. "src/login/LoginActivity.kt"
	Content string // content between the fences
}

var fenceOpenRe = regexp.MustCompile("^```\\w*\\s*file=(\\S+)")

// ExtractBlocks extracts fenced code blocks annotated with file= from
// generated solution text. It recognizes opening fences like:
//
//	```go file=internal/auth/login.go
//	```file=tests/scenario.yaml
//
// Blocks without a file annotation are silently skipped; model output is
// never assumed to be well formed. Returns blocks in order of appearance.
func ExtractBlocks(text string) []FileBlock {
	lines := strings.Split(text, "\n")
	var blocks []FileBlock
	var current *FileBlock
	var buf strings.Builder

	for _, line := range lines {
		if current != nil {
			trimmed := strings.TrimSpace(line)
			if trimmed == "```" {
				current.Content = buf.String()
				blocks = append(blocks, *current)
				current = nil
				buf.Reset()
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(line)
			continue
		}

		m := fenceOpenRe.FindStringSubmatch(strings.TrimSpace(line))
		if m != nil {
			current = &FileBlock{Path: m[1]}
			buf.Reset()
		}
	}

	return blocks
}

// WriteBlocks writes extracted blocks under dir, creating parent
// directories as needed. Paths that escape dir are skipped with a
// warning instead of failing the whole pipeline run.
func WriteBlocks(dir string, blocks []FileBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating files dir: %w", err)
	}

	for _, block := range blocks {
		clean := filepath.Clean(block.Path)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			fmt.Fprintf(os.Stderr, "Warning: skipping block with unsafe path %q\n", block.Path)
			continue
		}
		target := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(block.Content), 0644); err != nil {
			return err
		}
	}
	return nil
}
