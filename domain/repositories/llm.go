package repositories

import (
	"context"

	"github.com/lingtin/lingtin/server/domain/entities"
)

// Annotator extracts structured feedback from a transcript using a language model.
// Implementations never fail: upstream problems degrade to a deterministic fallback.
type Annotator interface {
	Annotate(ctx context.Context, transcript string, vocabulary []string) entities.Annotation
}
