package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultChunkSize is the target size of a document chunk in characters.
const DefaultChunkSize = 1500

const maxFileSize = 1 << 20

var skipDirs = map[string]bool{
	".git":         true,
	".chatpilot":   true,
	"node_modules": true,
	"vendor":       true,
}

// Progress receives ingestion progress.
type Progress interface {
	Start(total int)
	Update(current int, message string)
	Finish()
}

// FindFiles returns the paths under root, relative to it, that match any of
// the include patterns.
func FindFiles(root string, include []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if matchesAny(rel, include) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, nil
}

func matchesAny(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		p = filepath.ToSlash(p)
		if ok, err := doublestar.PathMatch(p, rel); err == nil && ok {
			return true
		}
		if ok, err := doublestar.PathMatch(p, filepath.Base(rel)); err == nil && ok {
			return true
		}
	}
	return false
}

// Chunk splits text on blank lines and packs paragraphs into chunks of at
// most size characters. Paragraphs longer than size are split hard.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for len(para) > size {
			flush()
			chunks = append(chunks, para[:size])
			para = strings.TrimSpace(para[size:])
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return chunks
}

// Ingest chunks every matching file under root and adds it to the store.
// It returns the number of chunks stored.
func Ingest(ctx context.Context, store *Store, root string, include []string, progress Progress) (int, error) {
	files, err := FindFiles(root, include)
	if err != nil {
		return 0, err
	}

	if progress != nil {
		progress.Start(len(files))
		defer progress.Finish()
	}

	total := 0
	for i, rel := range files {
		if progress != nil {
			progress.Update(i, rel)
		}
		path := filepath.Join(root, rel)
		info, err := os.Stat(path)
		if err != nil || info.Size() > maxFileSize {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("reading %s: %w", rel, err)
		}

		var docs []Document
		for n, chunk := range Chunk(string(data), DefaultChunkSize) {
			sum := sha256.Sum256([]byte(rel + "\x00" + chunk))
			docs = append(docs, Document{
				ID:      fmt.Sprintf("%s#%d-%s", filepath.ToSlash(rel), n, hex.EncodeToString(sum[:6])),
				Source:  filepath.ToSlash(rel),
				Content: chunk,
			})
		}
		if err := store.Add(ctx, docs); err != nil {
			return total, fmt.Errorf("embedding %s: %w", rel, err)
		}
		total += len(docs)
	}
	if progress != nil {
		progress.Update(len(files), "done")
	}
	return total, nil
}
