package analysis

import "context"

// Annotator produces a short description of an image. Callers treat every
// error as "no annotation"; implementations must honour ctx cancellation.
type Annotator interface {
	Annotate(ctx context.Context, image []byte, mimeType string) (string, error)
}
