package cart

import (
	"context"

	"github.com/Zhima-Mochi/diner/internal/domain/menu"
)

type CatalogLoader interface {
	Load(ctx context.Context, selector string) (*menu.Catalog, error)
}

type IDGenerator interface {
	NewID() string
}
