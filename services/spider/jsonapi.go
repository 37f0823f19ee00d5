package spider

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"vodstream/models"
	"vodstream/services/hooks"
)

// maxExtQueryLen is the largest ext payload sent as a query parameter;
// anything bigger switches the call to a POST form.
const maxExtQueryLen = 1000

// JSONSpider adapts a JSON REST API site to the Spider contract. This is
// also the fallback backend the selector demotes to when a script or module
// backend fails to initialize.
type JSONSpider struct {
	site   models.Site
	client *Client
}

// NewJSONSpider builds the rule backend for a JSON API site.
func NewJSONSpider(site models.Site, client *Client) *JSONSpider {
	return &JSONSpider{site: site, client: client}
}

func (s *JSONSpider) HomeContent(ctx context.Context, filter bool) (models.Result, error) {
	body, err := s.client.Get(ctx, s.site.Key, s.site.API, s.site.Headers, nil)
	if err != nil {
		return models.EmptyResult(), err
	}
	res, err := s.parse(body)
	if err != nil {
		return models.EmptyResult(), err
	}
	return s.backfillPosters(ctx, res)
}

func (s *JSONSpider) HomeVideoContent(ctx context.Context) (models.Result, error) {
	// JSON APIs return the home shelf inline; nothing extra to fetch.
	return models.EmptyResult(), nil
}

func (s *JSONSpider) CategoryContent(ctx context.Context, typeID string, page int, filter bool, ext map[string]string) (models.Result, error) {
	params := map[string]string{
		"ac": s.site.ListAction(),
		"t":  typeID,
		"pg": strconv.Itoa(page),
	}
	if filter && len(ext) > 0 {
		blob, err := json.Marshal(ext)
		if err == nil {
			params["f"] = string(blob)
		}
	}
	body, err := s.call(ctx, params)
	if err != nil {
		return models.EmptyResult(), err
	}
	res, err := s.parse(body)
	if err != nil {
		return models.EmptyResult(), err
	}
	if res.Page == 0 {
		res.Page = page
	}
	return res, nil
}

func (s *JSONSpider) DetailContent(ctx context.Context, ids []string) (models.Result, error) {
	params := map[string]string{
		"ac":  s.site.ListAction(),
		"ids": strings.Join(ids, ","),
	}
	body, err := s.call(ctx, params)
	if err != nil {
		return models.EmptyResult(), err
	}
	return s.parse(body)
}

func (s *JSONSpider) SearchContent(ctx context.Context, keyword string, quick bool) (models.Result, error) {
	params := map[string]string{
		"wd":    keyword,
		"quick": strconv.FormatBool(quick),
	}
	body, err := s.call(ctx, params)
	if err != nil {
		return models.EmptyResult(), err
	}
	res, err := s.parse(body)
	if err != nil {
		return models.EmptyResult(), err
	}
	return s.backfillPosters(ctx, res)
}

// PlayerContent for JSON API sites resolves without a round-trip: the id is
// the url, and parse is decided by whether it already points at direct media.
func (s *JSONSpider) PlayerContent(ctx context.Context, flag, id string, vipFlags []string) (models.Result, error) {
	res := models.EmptyResult()
	res.URL = id
	res.Flag = flag
	res.Header = s.site.Headers
	res.PlayURL = s.site.PlayURL
	if hooks.IsDirectMedia(id) && s.site.PlayURL == "" {
		res.Parse = 0
	} else {
		res.Parse = 1
	}
	return res, nil
}

// Action treats the action string as a url fetch when it looks like one.
func (s *JSONSpider) Action(ctx context.Context, action string) (models.Result, error) {
	if !strings.HasPrefix(action, "http://") && !strings.HasPrefix(action, "https://") {
		return models.EmptyResult(), nil
	}
	body, err := s.client.Get(ctx, s.site.Key, action, s.site.Headers, nil)
	if err != nil {
		return models.EmptyResult(), err
	}
	return s.parse(body)
}

func (s *JSONSpider) Destroy() {}

// call performs the shared API request. The opaque ext blob rides along as
// the extend parameter; large blobs switch the request to a POST form so the
// query string stays within upstream limits.
func (s *JSONSpider) call(ctx context.Context, params map[string]string) (string, error) {
	if s.site.Ext != "" {
		params["extend"] = s.site.Ext
	}
	if len(s.site.Ext) > maxExtQueryLen {
		return s.client.PostForm(ctx, s.site.Key, s.site.API, s.site.Headers, params)
	}
	return s.client.Get(ctx, s.site.Key, s.site.API, s.site.Headers, params)
}

func (s *JSONSpider) parse(body string) (models.Result, error) {
	res := models.ResultFromJSON(body)
	if res.IsError() {
		return res, &MalformedError{SiteKey: s.site.Key, Cause: errorFromEnvelope(res)}
	}
	return res, nil
}

// backfillPosters performs the second detail round-trip when a listing comes
// back without poster urls, restricted to the site's category allow-list.
func (s *JSONSpider) backfillPosters(ctx context.Context, res models.Result) (models.Result, error) {
	if len(res.List) == 0 || res.List[0].Pic != "" {
		return res, nil
	}
	var ids []string
	for _, item := range res.List {
		if len(s.site.Categories) > 0 && !contains(s.site.Categories, item.TypeName) {
			continue
		}
		ids = append(ids, item.ID)
	}
	if len(ids) == 0 {
		res.List = []models.Vod{}
		return res, nil
	}
	params := map[string]string{
		"ac":  s.site.ListAction(),
		"ids": strings.Join(ids, ","),
	}
	body, err := s.client.Get(ctx, s.site.Key, s.site.API, s.site.Headers, params)
	if err != nil {
		// Keep the bare listing rather than failing the whole query.
		return res, nil
	}
	detail := models.ResultFromJSON(body)
	if !detail.IsError() && len(detail.List) > 0 {
		res.List = detail.List
	}
	return res, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

type envelopeError struct{ msg string }

func (e *envelopeError) Error() string { return e.msg }

func errorFromEnvelope(r models.Result) error {
	return &envelopeError{msg: r.Error}
}
