package output

import (
	"context"
)

type OutputHandler interface {
	// Name identifies the handler in logs and run results.
	Name() string

	// WriteIdentifiers persists the collected transaction identifiers, replacing any previous list.
	WriteIdentifiers(ctx context.Context, identifiers []string) error

	// Close closes the output handler.
	Close() error
}
