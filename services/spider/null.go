package spider

import (
	"context"

	"vodstream/models"
)

// NullSpider answers every operation with an empty envelope. The selector
// hands it out for sites with no usable endpoint so callers never branch on
// nil spiders.
type NullSpider struct{}

func (NullSpider) HomeContent(context.Context, bool) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) HomeVideoContent(context.Context) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) CategoryContent(context.Context, string, int, bool, map[string]string) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) DetailContent(context.Context, []string) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) SearchContent(context.Context, string, bool) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) PlayerContent(context.Context, string, string, []string) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) Action(context.Context, string) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (NullSpider) Destroy() {}
