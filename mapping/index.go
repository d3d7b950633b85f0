package mapping

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/reproforge/reproforge/model"
	"github.com/reproforge/reproforge/store"
	"github.com/reproforge/reproforge/vectors"
)

// indexableExtensions whitelist the files included in a project's chunk
// index.
var indexableExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".tsx": true, ".jsx": true,
	".java": true, ".go": true, ".rb": true, ".php": true,
	".md": true, ".rst": true, ".txt": true,
	".json": true, ".yaml": true, ".yml": true,
}

const indexBatchSize = 10

// Indexer builds the doc_chunks similarity index of a project.
type Indexer struct {
	Store     *store.Store
	Embedder  vectors.Embedder
	ChunkSize int
	Overlap   int
}

// IndexProject chunks every whitelisted file under |repoPath|, embeds the
// chunks, and stores them in ten-chunk batches.
func (ix *Indexer) IndexProject(ctx context.Context, projectID, repoPath string) (int, error) {
	var size, overlap = ix.ChunkSize, ix.Overlap
	if size == 0 {
		size = DefaultChunkSize
	}
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}

	var batch []model.DocChunk
	var total int

	var flush = func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ix.Store.InsertDocChunks(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	var walkErr error
	walkRepo(repoPath, func(rel string, _ []byte) {
		if walkErr != nil || !indexableExtensions[strings.ToLower(filepath.Ext(rel))] {
			return
		}
		var body, err = os.ReadFile(filepath.Join(repoPath, rel))
		if err != nil {
			log.WithFields(log.Fields{"path": rel, "err": err}).Warn("skipping unreadable file")
			return
		}

		for _, chunk := range ChunkText(string(body), size, overlap) {
			embedding, err := ix.Embedder.Embed(ctx, chunk)
			if err != nil {
				walkErr = fmt.Errorf("embedding chunk of %s: %w", rel, err)
				return
			}
			batch = append(batch, model.DocChunk{
				ProjectID: projectID,
				FilePath:  rel,
				ChunkText: chunk,
				Embedding: embedding,
				Meta:      model.JSONMap{"file_size": len(body)},
			})
			if len(batch) == indexBatchSize {
				if walkErr = flush(); walkErr != nil {
					return
				}
			}
		}
	})
	if walkErr != nil {
		return total, walkErr
	}
	if err := flush(); err != nil {
		return total, err
	}

	log.WithFields(log.Fields{
		"project": projectID,
		"chunks":  total,
	}).Info("indexed project")
	return total, nil
}
