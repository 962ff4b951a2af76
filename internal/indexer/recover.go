package indexer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/shiryo/internal/models"
)

const listPageSize = 200

// eachDocument calls fn for every stored document.
func (o *Orchestrator) eachDocument(ctx context.Context, fn func(*models.Document) error) error {
	for offset := 0; ; offset += listPageSize {
		docs, err := o.storage.ListDocuments(ctx, offset, listPageSize)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		for _, doc := range docs {
			if err := fn(doc); err != nil {
				return err
			}
		}
		if len(docs) < listPageSize {
			return nil
		}
	}
}

// Rebuild reloads the index from stored chunk records of every completed document.
// A memory-only index starts empty, so the server calls this at startup.
func (o *Orchestrator) Rebuild(ctx context.Context) (int, error) {
	var ids []int64
	err := o.eachDocument(ctx, func(doc *models.Document) error {
		if doc.Status == models.StatusCompleted {
			ids = append(ids, doc.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	rebuilt := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rebuilt, err
		}
		if err := o.Reindex(ctx, id); err != nil {
			o.logger.Warn("rebuild document failed", zap.Int64("doc_id", id), zap.Error(err))
			continue
		}
		rebuilt++
	}
	o.logger.Info("index rebuilt from storage", zap.Int("documents", rebuilt))
	return rebuilt, nil
}

// Resume returns the ids of documents left pending or processing by a previous run,
// oldest first. Processing documents are reset to pending so they can be enqueued again.
func (o *Orchestrator) Resume(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := o.eachDocument(ctx, func(doc *models.Document) error {
		switch doc.Status {
		case models.StatusProcessing:
			doc.Status = models.StatusPending
			if err := o.storage.UpdateDocument(ctx, doc); err != nil {
				return fmt.Errorf("reset document %d: %w", doc.ID, err)
			}
			ids = append(ids, doc.ID)
		case models.StatusPending:
			ids = append(ids, doc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
