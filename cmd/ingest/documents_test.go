package main

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brand-assistant/backend/internal/models"
)

func TestCollectDocuments(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("faq.md", "# FAQ")
	write("policies/returns.HTML", "<p>30 days</p>")
	write("notes.pdf", "binary")
	write(".git/config", "ignored")

	docs, err := collectDocuments(root, "acme")
	require.NoError(t, err)
	sort.Slice(docs, func(i, j int) bool { return docs[i].SourceURI < docs[j].SourceURI })

	require.Len(t, docs, 2)
	assert.Equal(t, models.Document{BrandID: "acme", SourceURI: "faq.md", RawText: "# FAQ", ContentType: "text/markdown"}, docs[0])
	assert.Equal(t, "policies/returns.HTML", docs[1].SourceURI)
	assert.True(t, docs[1].IsHTML())

	single, err := collectDocuments(filepath.Join(root, "faq.md"), "acme")
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "faq.md", single[0].SourceURI)
}
