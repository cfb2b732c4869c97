package merge

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ourresearch/curate/pkg/identifier"
	"github.com/ourresearch/curate/pkg/models"
	"github.com/ourresearch/curate/pkg/tracing"
)

// MergeBatch processes an ordered list of (away, into) pairs. Each pair
// commits independently; a failure is recorded in the batch report and the
// batch continues with the next pair.
func (r *Resolver) MergeBatch(ctx context.Context, entityType models.EntityType, pairs []models.MergePair) *models.BatchMergeReport {
	ctx, span := tracing.StartSpan(ctx, "merge.Resolver.MergeBatch")
	defer span.End()

	batch := &models.BatchMergeReport{EntityType: entityType}
	for _, pair := range pairs {
		report, err := r.Merge(ctx, models.MergeRequest{
			EntityType: entityType,
			AwayID:     pair.AwayID,
			IntoID:     pair.IntoID,
		})
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"away_id": pair.AwayID,
				"into_id": pair.IntoID,
			}).Error("Batch merge pair failed, continuing")
		}

		batch.Reports = append(batch.Reports, *report)
		if report.State == models.MergeStateCommitted {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"succeeded":   batch.Succeeded,
		"failed":      batch.Failed,
	}).Info("Batch merge finished")
	return batch
}

// ReadPairs parses a two-column CSV of (away, into) identifiers. Both bare
// numeric ids and prefixed forms are accepted; prefixed forms must match
// entityType. A header row of "away,into" (any case) is skipped.
func ReadPairs(reader io.Reader, entityType models.EntityType) ([]models.MergePair, error) {
	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var pairs []models.MergePair
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read merge pairs: %w", err)
		}
		line++

		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "away") {
			continue
		}

		away, err := identifier.ParseWithType(record[0], entityType)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		into, err := identifier.ParseWithType(record[1], entityType)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		pairs = append(pairs, models.MergePair{AwayID: away.ID, IntoID: into.ID})
	}

	return pairs, nil
}
