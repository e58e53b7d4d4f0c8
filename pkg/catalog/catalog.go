// Package catalog holds the two static, task-type-keyed capability tables
// named in spec §4.5.1 and §9: the task-type -> container image mapping,
// and the task-type -> result combiner mapping used by the split execution
// path. Both are modeled as plain registered lookups rather than an
// inheritance hierarchy, per the "polymorphic combiner" design note.
package catalog

const defaultImage = "fogdispatch/default-runner:latest"

var builtinImages = map[string]string{
	"image_processing": "fogdispatch/image-processing:latest",
	"text_analysis":    "fogdispatch/text-analysis:latest",
	"ml_training":      "fogdispatch/ml-training:latest",
}

// ImageCatalog resolves a task type to the container image that runs it,
// falling back to a default image for unrecognised types.
type ImageCatalog struct {
	images map[string]string
}

// NewImageCatalog builds a catalog seeded with the built-in task-type
// mapping, optionally overridden/extended by extra.
func NewImageCatalog(extra map[string]string) *ImageCatalog {
	images := make(map[string]string, len(builtinImages)+len(extra))
	for k, v := range builtinImages {
		images[k] = v
	}
	for k, v := range extra {
		images[k] = v
	}
	return &ImageCatalog{images: images}
}

// ImageFor returns the image for taskType, or the default image if unknown.
func (c *ImageCatalog) ImageFor(taskType string) string {
	if img, ok := c.images[taskType]; ok {
		return img
	}
	return defaultImage
}

// Combiner merges the per-shard results of a distributed task into one
// result, in shard-index order (spec §4.5.3 step 4).
type Combiner func(shardResults []any) (any, error)

// identityCombiner is the default combiner: the list of per-shard results,
// unchanged.
func identityCombiner(shardResults []any) (any, error) {
	return shardResults, nil
}

// CombinerCatalog resolves a task type to its result combiner, falling
// back to the identity combiner (the list of per-shard results unchanged)
// for task types with no type-aware combiner registered.
type CombinerCatalog struct {
	combiners map[string]Combiner
}

// NewCombinerCatalog builds a catalog seeded with any caller-registered
// combiners.
func NewCombinerCatalog(extra map[string]Combiner) *CombinerCatalog {
	combiners := make(map[string]Combiner, len(extra))
	for k, v := range extra {
		combiners[k] = v
	}
	return &CombinerCatalog{combiners: combiners}
}

// CombinerFor returns the combiner registered for taskType, or the
// identity combiner if none is registered.
func (c *CombinerCatalog) CombinerFor(taskType string) Combiner {
	if fn, ok := c.combiners[taskType]; ok {
		return fn
	}
	return identityCombiner
}
