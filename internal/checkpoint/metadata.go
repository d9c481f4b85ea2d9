package checkpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/born-ml/genbound/internal/dataset"
)

// TrainingContext is the part of a checkpoint's metadata that describes how
// the parameters were trained.
type TrainingContext struct {
	Dataset    dataset.Config
	Criterion  string
	Activation string
}

// Context decodes the training context from the header metadata.
// dataset.kind and criterion are required; the remaining keys default to
// the validation split, batch size 64, every example and true labels.
//
// When only required keys are absent, Context returns the otherwise fully
// decoded context together with an ErrMissingMetadata naming them, so a
// caller can fill the gaps from elsewhere.
func (h Header) Context() (TrainingContext, error) {
	meta := h.Metadata
	ctx := TrainingContext{
		Dataset: dataset.Config{
			Kind:       dataset.Kind(meta[MetaDatasetKind]),
			Path:       meta[MetaDatasetPath],
			BatchSize:  64,
			SubsetSize: -1,
		},
		Criterion:  meta[MetaCriterion],
		Activation: meta[MetaActivation],
	}

	var err error
	if v, ok := meta[MetaDatasetTrain]; ok {
		if ctx.Dataset.Train, err = strconv.ParseBool(v); err != nil {
			return ctx, fmt.Errorf("metadata %s: %w", MetaDatasetTrain, err)
		}
	}
	if v, ok := meta[MetaDatasetBatchSize]; ok {
		if ctx.Dataset.BatchSize, err = strconv.Atoi(v); err != nil {
			return ctx, fmt.Errorf("metadata %s: %w", MetaDatasetBatchSize, err)
		}
	}
	if v, ok := meta[MetaDatasetSubsetSize]; ok {
		if ctx.Dataset.SubsetSize, err = strconv.Atoi(v); err != nil {
			return ctx, fmt.Errorf("metadata %s: %w", MetaDatasetSubsetSize, err)
		}
	}
	if v, ok := meta[MetaDatasetRandomLabels]; ok {
		if ctx.Dataset.RandomLabels, err = strconv.ParseBool(v); err != nil {
			return ctx, fmt.Errorf("metadata %s: %w", MetaDatasetRandomLabels, err)
		}
	}

	var missing []string
	if ctx.Dataset.Kind == "" {
		missing = append(missing, MetaDatasetKind)
	}
	if ctx.Criterion == "" {
		missing = append(missing, MetaCriterion)
	}
	if len(missing) > 0 {
		return ctx, fmt.Errorf("%w: %s", ErrMissingMetadata, strings.Join(missing, ", "))
	}
	return ctx, nil
}

// Metadata encodes the context into header metadata.
func (c TrainingContext) Metadata() map[string]string {
	meta := map[string]string{
		MetaDatasetKind:         string(c.Dataset.Kind),
		MetaDatasetTrain:        strconv.FormatBool(c.Dataset.Train),
		MetaDatasetBatchSize:    strconv.Itoa(c.Dataset.BatchSize),
		MetaDatasetSubsetSize:   strconv.Itoa(c.Dataset.SubsetSize),
		MetaDatasetRandomLabels: strconv.FormatBool(c.Dataset.RandomLabels),
		MetaCriterion:           c.Criterion,
	}
	if c.Dataset.Path != "" {
		meta[MetaDatasetPath] = c.Dataset.Path
	}
	if c.Activation != "" {
		meta[MetaActivation] = c.Activation
	}
	return meta
}
