package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brand-assistant/backend/internal/models"
	appLogger "github.com/brand-assistant/backend/pkg/logger"
)

var (
	ingestBrand string
	ingestPath  string
)

var ingestCmd = &cobra.Command{
	Use:   "documents",
	Short: "Ingest text, markdown and HTML files for one brand",
	Long: `Walks --path and indexes every .txt, .md, .html and .htm file for --brand.
Each file is keyed by its path relative to --path, so re-running replaces the
chunks of files that changed.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBrand, "brand", "", "brand id the documents belong to")
	ingestCmd.Flags().StringVar(&ingestPath, "path", ".", "file or directory to ingest")
	_ = ingestCmd.MarkFlagRequired("brand")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	docs, err := collectDocuments(ingestPath, ingestBrand)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		cmd.Println("No documents found.")
		return nil
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	defer appLogger.Sync()

	results, err := a.Processor.IngestBatch(cmd.Context(), docs)
	chunks := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		chunks += r.Chunks
		cmd.Printf("  %s: %d chunks\n", r.SourceURI, r.Chunks)
	}
	cmd.Printf("Ingested %d chunks for brand %s\n", chunks, ingestBrand)
	if err != nil {
		return fmt.Errorf("some documents failed: %w", err)
	}
	return nil
}

var ingestExtensions = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".htm":  "text/html",
}

// collectDocuments reads every supported file under root. SourceURI is the
// slash-separated path relative to root, or the base name when root is a file.
func collectDocuments(root, brandID string) ([]models.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}

	var docs []models.Document
	add := func(path, rel string) error {
		contentType, ok := ingestExtensions[strings.ToLower(filepath.Ext(path))]
		if !ok {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		docs = append(docs, models.Document{
			BrandID:     brandID,
			SourceURI:   filepath.ToSlash(rel),
			RawText:     string(raw),
			ContentType: contentType,
		})
		return nil
	}

	if !info.IsDir() {
		return docs, add(root, filepath.Base(root))
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return add(path, rel)
	})
	return docs, err
}
