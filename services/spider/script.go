package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vodstream/models"
)

// ScriptSpider drives a script-backed site through the external script
// runtime bridge. The engine only sees the Invoker contract; compiling and
// host-function injection happen on the other side of the bridge.
type ScriptSpider struct {
	site    models.Site
	invoker Invoker
}

// NewScriptSpider downloads the script body from the site api url, compiles
// it through the runtime and initializes it with the site ext blob. Any
// failure here is a backend init error the selector can fall back from.
func NewScriptSpider(ctx context.Context, site models.Site, runtime ScriptRuntime, client *Client) (*ScriptSpider, error) {
	if runtime == nil {
		return nil, fmt.Errorf("%w: no script runtime configured", ErrBackendInit)
	}
	body, err := client.Get(ctx, site.Key, site.API, site.Headers, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: download script for %s: %v", ErrBackendInit, site.Key, err)
	}
	invoker, err := runtime.Compile(ctx, site.Key, body)
	if err != nil {
		return nil, fmt.Errorf("%w: compile script for %s: %v", ErrBackendInit, site.Key, err)
	}
	if _, err := invoker.Call(ctx, "init", site.Ext); err != nil {
		return nil, fmt.Errorf("%w: init script for %s: %v", ErrBackendInit, site.Key, err)
	}
	return &ScriptSpider{site: site, invoker: invoker}, nil
}

func (s *ScriptSpider) HomeContent(ctx context.Context, filter bool) (models.Result, error) {
	return s.invoke(ctx, "homeContent", strconv.FormatBool(filter))
}

func (s *ScriptSpider) HomeVideoContent(ctx context.Context) (models.Result, error) {
	return s.invoke(ctx, "homeVideoContent")
}

func (s *ScriptSpider) CategoryContent(ctx context.Context, typeID string, page int, filter bool, ext map[string]string) (models.Result, error) {
	blob, err := json.Marshal(ext)
	if err != nil {
		blob = []byte("{}")
	}
	return s.invoke(ctx, "categoryContent", typeID, strconv.Itoa(page), strconv.FormatBool(filter), string(blob))
}

func (s *ScriptSpider) DetailContent(ctx context.Context, ids []string) (models.Result, error) {
	return s.invoke(ctx, "detailContent", strings.Join(ids, ","))
}

func (s *ScriptSpider) SearchContent(ctx context.Context, keyword string, quick bool) (models.Result, error) {
	return s.invoke(ctx, "searchContent", keyword, strconv.FormatBool(quick))
}

func (s *ScriptSpider) PlayerContent(ctx context.Context, flag, id string, vipFlags []string) (models.Result, error) {
	res, err := s.invoke(ctx, "playerContent", flag, id, strings.Join(vipFlags, ","))
	if err != nil {
		return res, err
	}
	if res.Flag == "" {
		res.Flag = flag
	}
	if res.Header == nil {
		res.Header = s.site.Headers
	}
	return res, nil
}

func (s *ScriptSpider) Action(ctx context.Context, action string) (models.Result, error) {
	return s.invoke(ctx, "action", action)
}

func (s *ScriptSpider) Destroy() {}

func (s *ScriptSpider) invoke(ctx context.Context, fn string, args ...string) (models.Result, error) {
	payload, err := s.invoker.Call(ctx, fn, args...)
	if err != nil {
		return models.EmptyResult(), fmt.Errorf("script %s.%s: %w", s.site.Key, fn, err)
	}
	res := models.ResultFromJSON(payload)
	if res.IsError() {
		return res, &MalformedError{SiteKey: s.site.Key, Cause: errorFromEnvelope(res)}
	}
	return res, nil
}
