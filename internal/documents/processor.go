// ABOUTME: Document-processing queue handler: chunk, embed, persist vectors
// ABOUTME: Skips documents whose embeddings already exist so redelivery is safe

package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley-gateway/internal/agent"
	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
	"github.com/parleyhq/parley-gateway/internal/store"
)

// Payload is the job payload on the document-processing queue.
type Payload struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
}

// Processor turns uploaded documents into embedded chunks the agent can be
// grounded on later.
type Processor struct {
	store    store.Store
	embedder agent.Embedder
	chunker  *Chunker
	logger   *slog.Logger
}

// NewProcessor creates the document-processing handler.
func NewProcessor(st store.Store, embedder agent.Embedder, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    st,
		embedder: embedder,
		chunker:  NewChunker(0, 0),
		logger:   logger.With("component", "documents"),
	}
}

// Execute implements jobs.Handler.
func (p *Processor) Execute(ctx context.Context, job *jobs.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding document payload: %w", err))
	}
	if payload.DocumentID == "" {
		return retry.Permanent(fmt.Errorf("document payload missing documentId"))
	}

	// Redelivered jobs must not duplicate vectors
	existing, err := p.store.CountEmbeddings(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("checking existing embeddings: %w", err)
	}
	if existing > 0 {
		p.logger.Debug("document already processed",
			"document_id", payload.DocumentID, "chunks", existing)
		return nil
	}

	chunks := p.chunker.Split(payload.Content)
	if len(chunks) == 0 {
		return retry.Permanent(fmt.Errorf("document %s has no content", payload.DocumentID))
	}

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding document %s: %w", payload.DocumentID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	embeddings := make([]*store.Embedding, len(chunks))
	for i, chunk := range chunks {
		embeddings[i] = &store.Embedding{
			DocumentID: payload.DocumentID,
			ChunkIndex: i,
			Content:    chunk,
			Vector:     vectors[i],
		}
	}
	if err := p.store.SaveEmbeddings(ctx, embeddings); err != nil {
		return fmt.Errorf("saving embeddings: %w", err)
	}

	p.logger.Info("document processed",
		"document_id", payload.DocumentID, "chunks", len(chunks))
	return nil
}
