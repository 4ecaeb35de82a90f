package sources

import (
	"context"

	"cpidash/internal/core"
)

// Ports for inbound dataset adapters.
type (
	// DatasetSource produces the full CPI dataset. It is called once at
	// startup; the result is read-only for the life of the process.
	DatasetSource interface {
		Load(ctx context.Context) (*core.Dataset, error)
	}

	// Describer is implemented by sources that can name where they read from.
	Describer interface {
		Describe() string
	}
)
