package spider

import (
	"context"
	"fmt"

	"vodstream/models"
)

// ModuleSpider drives a dynamically loaded native module through the
// external module loader's Invoker handle. Same call surface as the script
// backend; only the resolution path differs.
type ModuleSpider struct {
	ScriptSpider
}

// NewModuleSpider resolves the site's module reference into an Invoker and
// initializes it with the site ext blob.
func NewModuleSpider(ctx context.Context, site models.Site, loader ModuleLoader) (*ModuleSpider, error) {
	if loader == nil {
		return nil, fmt.Errorf("%w: no module loader configured", ErrBackendInit)
	}
	ref := site.ModuleRef
	if ref == "" {
		ref = site.API
	}
	invoker, err := loader.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve module %q for %s: %v", ErrBackendInit, ref, site.Key, err)
	}
	if _, err := invoker.Call(ctx, "init", site.Ext); err != nil {
		return nil, fmt.Errorf("%w: init module for %s: %v", ErrBackendInit, site.Key, err)
	}
	return &ModuleSpider{ScriptSpider: ScriptSpider{site: site, invoker: invoker}}, nil
}
