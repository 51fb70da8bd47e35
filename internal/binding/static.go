package binding

import (
	"context"

	"appbuilder/internal/domain"
)

// staticSource serves inline literal data. No asynchronous work.
type staticSource struct{}

// NewStaticSource returns the inline-data source.
func NewStaticSource() Source { return staticSource{} }

func (staticSource) Kind() domain.BindingSource { return domain.SourceStatic }

func (staticSource) Fetch(_ context.Context, desc domain.BindingDescriptor) (any, error) {
	cfg, err := desc.StaticConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Data, nil
}
