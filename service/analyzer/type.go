package analyzer

import "context"

// IService is the remote semantic analyzer boundary: one compressed
// JPEG plus a free-text instruction in, the provider's raw text verdict
// out. Implementations must honor ctx cancellation/deadline; the caller
// treats a deadline exactly like a network failure.
type IService interface {
	Name() string
	Analyze(ctx context.Context, imageJPEG []byte, query string) (string, error)
}
