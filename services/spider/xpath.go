package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vodstream/models"
	"vodstream/services/hooks"
)

// xpathRule is the selector rule set carried in a site's ext blob. Selectors
// use "css" or "css@attr" syntax; "@text" is the default.
type xpathRule struct {
	HomeURL     string         `json:"homeUrl,omitempty"`
	CategoryURL string         `json:"categoryUrl"` // {tid} and {pg} placeholders
	DetailURL   string         `json:"detailUrl"`   // {id} placeholder
	SearchURL   string         `json:"searchUrl"`   // {wd} placeholder
	Classes     []models.Class `json:"classes,omitempty"`

	List   string `json:"list"` // listing item selector
	Title  string `json:"title"`
	Link   string `json:"link"`
	Pic    string `json:"pic"`
	Remark string `json:"remark,omitempty"`

	DetailTitle  string `json:"detailTitle,omitempty"`
	DetailPic    string `json:"detailPic,omitempty"`
	DetailDesc   string `json:"detailDesc,omitempty"`
	EpisodeFlag  string `json:"episodeFlag,omitempty"` // play source tab selector
	EpisodeList  string `json:"episodeList,omitempty"` // episode anchor selector
	EpisodeName  string `json:"episodeName,omitempty"`
	EpisodeLink  string `json:"episodeLink,omitempty"`
	PageCountSel string `json:"pageCount,omitempty"`
}

// XPathSpider scrapes rule-driven HTML sites.
type XPathSpider struct {
	site   models.Site
	rule   xpathRule
	client *Client
	base   *url.URL
}

// NewXPathSpider parses the site's ext blob as a selector rule set. A bad
// rule blob is a backend init failure, which the selector turns into a
// fallback demotion.
func NewXPathSpider(site models.Site, client *Client) (*XPathSpider, error) {
	var rule xpathRule
	if err := json.Unmarshal([]byte(site.Ext), &rule); err != nil {
		return nil, fmt.Errorf("%w: parse xpath rule for %s: %v", ErrBackendInit, site.Key, err)
	}
	if rule.List == "" || rule.Title == "" || rule.Link == "" {
		return nil, fmt.Errorf("%w: xpath rule for %s missing list/title/link selectors", ErrBackendInit, site.Key)
	}
	base, err := url.Parse(site.API)
	if err != nil {
		return nil, fmt.Errorf("%w: bad site url %q: %v", ErrBackendInit, site.API, err)
	}
	return &XPathSpider{site: site, rule: rule, client: client, base: base}, nil
}

func (s *XPathSpider) HomeContent(ctx context.Context, filter bool) (models.Result, error) {
	target := s.rule.HomeURL
	if target == "" {
		target = s.site.API
	}
	doc, err := s.fetchDocument(ctx, target)
	if err != nil {
		return models.EmptyResult(), err
	}
	res := models.EmptyResult()
	res.Classes = append(res.Classes, s.rule.Classes...)
	res.List = s.parseList(doc)
	return res, nil
}

func (s *XPathSpider) HomeVideoContent(ctx context.Context) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (s *XPathSpider) CategoryContent(ctx context.Context, typeID string, page int, filter bool, ext map[string]string) (models.Result, error) {
	target := strings.NewReplacer("{tid}", typeID, "{pg}", strconv.Itoa(page)).Replace(s.rule.CategoryURL)
	doc, err := s.fetchDocument(ctx, target)
	if err != nil {
		return models.EmptyResult(), err
	}
	res := models.EmptyResult()
	res.List = s.parseList(doc)
	res.Page = page
	if s.rule.PageCountSel != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(extractText(doc.Selection, s.rule.PageCountSel))); err == nil {
			res.PageCount = n
		}
	}
	if res.PageCount == 0 && len(res.List) > 0 {
		// Upstream didn't expose a page count; assume there is a next page.
		res.PageCount = page + 1
	}
	return res, nil
}

func (s *XPathSpider) DetailContent(ctx context.Context, ids []string) (models.Result, error) {
	if len(ids) == 0 {
		return models.EmptyResult(), nil
	}
	id := ids[0]
	target := strings.ReplaceAll(s.rule.DetailURL, "{id}", id)
	doc, err := s.fetchDocument(ctx, target)
	if err != nil {
		return models.EmptyResult(), err
	}
	vod := models.Vod{ID: id}
	if s.rule.DetailTitle != "" {
		vod.Name = extractText(doc.Selection, s.rule.DetailTitle)
	}
	if s.rule.DetailPic != "" {
		vod.Pic = s.absolute(extractText(doc.Selection, s.rule.DetailPic))
	}
	if s.rule.DetailDesc != "" {
		vod.Content = extractText(doc.Selection, s.rule.DetailDesc)
	}
	vod.PlayFrom, vod.PlayURL = s.parseEpisodes(doc)
	res := models.EmptyResult()
	res.List = []models.Vod{vod}
	return res, nil
}

func (s *XPathSpider) SearchContent(ctx context.Context, keyword string, quick bool) (models.Result, error) {
	target := strings.ReplaceAll(s.rule.SearchURL, "{wd}", url.QueryEscape(keyword))
	doc, err := s.fetchDocument(ctx, target)
	if err != nil {
		return models.EmptyResult(), err
	}
	res := models.EmptyResult()
	res.List = s.parseList(doc)
	return res, nil
}

func (s *XPathSpider) PlayerContent(ctx context.Context, flag, id string, vipFlags []string) (models.Result, error) {
	res := models.EmptyResult()
	res.URL = s.absolute(id)
	res.Flag = flag
	res.Header = s.site.Headers
	res.PlayURL = s.site.PlayURL
	if hooks.IsDirectMedia(res.URL) && s.site.PlayURL == "" {
		res.Parse = 0
	} else {
		res.Parse = 1
	}
	return res, nil
}

func (s *XPathSpider) Action(ctx context.Context, action string) (models.Result, error) {
	return models.EmptyResult(), nil
}

func (s *XPathSpider) Destroy() {}

func (s *XPathSpider) fetchDocument(ctx context.Context, target string) (*goquery.Document, error) {
	body, err := s.client.Get(ctx, s.site.Key, s.absolute(target), s.site.Headers, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, &MalformedError{SiteKey: s.site.Key, Cause: err}
	}
	return doc, nil
}

func (s *XPathSpider) parseList(doc *goquery.Document) []models.Vod {
	var items []models.Vod
	doc.Find(s.rule.List).Each(func(_ int, sel *goquery.Selection) {
		link := extractText(sel, s.rule.Link)
		if link == "" {
			return
		}
		item := models.Vod{
			ID:      link,
			Name:    extractText(sel, s.rule.Title),
			Pic:     s.absolute(extractText(sel, s.rule.Pic)),
			Remarks: extractText(sel, s.rule.Remark),
		}
		if item.Name == "" {
			return
		}
		items = append(items, item)
	})
	if items == nil {
		items = []models.Vod{}
	}
	return items
}

// parseEpisodes flattens the play sources into the catvod wire format:
// flags joined by "$$$", episodes by "#", name/url by "$".
func (s *XPathSpider) parseEpisodes(doc *goquery.Document) (string, string) {
	if s.rule.EpisodeList == "" {
		return "", ""
	}
	var flags, urls []string
	appendGroup := func(name string, group *goquery.Selection) {
		var eps []string
		group.Each(func(i int, sel *goquery.Selection) {
			epName := extractText(sel, s.rule.EpisodeName)
			epLink := extractText(sel, s.rule.EpisodeLink)
			if epLink == "" {
				return
			}
			if epName == "" {
				epName = strconv.Itoa(i + 1)
			}
			eps = append(eps, epName+"$"+s.absolute(epLink))
		})
		if len(eps) > 0 {
			flags = append(flags, name)
			urls = append(urls, strings.Join(eps, "#"))
		}
	}
	if s.rule.EpisodeFlag == "" {
		appendGroup(s.site.Name, doc.Find(s.rule.EpisodeList))
		return strings.Join(flags, "$$$"), strings.Join(urls, "$$$")
	}
	doc.Find(s.rule.EpisodeFlag).Each(func(i int, tab *goquery.Selection) {
		name := strings.TrimSpace(tab.Text())
		if name == "" {
			name = fmt.Sprintf("%s %d", s.site.Name, i+1)
		}
		appendGroup(name, doc.Find(s.rule.EpisodeList).Slice(i, i+1).Find("a"))
	})
	if len(flags) == 0 {
		appendGroup(s.site.Name, doc.Find(s.rule.EpisodeList))
	}
	return strings.Join(flags, "$$$"), strings.Join(urls, "$$$")
}

func (s *XPathSpider) absolute(ref string) string {
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.base.ResolveReference(u).String()
}

// extractText evaluates a "css@attr" selector against sel. An empty selector
// yields an empty string; "@text" and a bare selector both take node text.
func extractText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	css, attr := selector, "text"
	if i := strings.LastIndex(selector, "@"); i >= 0 {
		css, attr = selector[:i], selector[i+1:]
	}
	target := sel
	if css != "" {
		target = sel.Find(css).First()
	}
	if attr == "text" || attr == "" {
		return strings.TrimSpace(target.Text())
	}
	v, _ := target.Attr(attr)
	return strings.TrimSpace(v)
}
