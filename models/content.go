package models

import (
	"encoding/json"
	"strings"
)

// Class is a category exposed by a site's home content.
type Class struct {
	TypeID   string `json:"type_id"`
	TypeName string `json:"type_name"`
}

// FilterValue is one selectable value inside a category filter.
type FilterValue struct {
	Name  string `json:"n"`
	Value string `json:"v"`
}

// Filter is a named filter group for a category.
type Filter struct {
	Key    string        `json:"key"`
	Name   string        `json:"name"`
	Values []FilterValue `json:"value"`
}

// Vod is one content item in a listing, search or detail result.
type Vod struct {
	ID       string `json:"vod_id"`
	Name     string `json:"vod_name"`
	Pic      string `json:"vod_pic"`
	Remarks  string `json:"vod_remarks"`
	Year     string `json:"vod_year,omitempty"`
	Area     string `json:"vod_area,omitempty"`
	Actor    string `json:"vod_actor,omitempty"`
	Director string `json:"vod_director,omitempty"`
	Content  string `json:"vod_content,omitempty"`
	TypeName string `json:"type_name,omitempty"`
	// Play flags and urls use the catvod wire format:
	// flags joined by "$$$", episodes by "#", name/url by "$".
	PlayFrom string `json:"vod_play_from,omitempty"`
	PlayURL  string `json:"vod_play_url,omitempty"`
	// SiteKey is stamped by the aggregator so mixed search results stay attributable.
	SiteKey  string `json:"site_key,omitempty"`
	SiteName string `json:"site_name,omitempty"`
}

// Result is the normalized envelope every parser backend produces, for both
// listing operations and play resolution.
type Result struct {
	Classes []Class             `json:"class,omitempty"`
	List    []Vod               `json:"list,omitempty"`
	Filters map[string][]Filter `json:"filters,omitempty"`

	Page      int `json:"page,omitempty"`
	PageCount int `json:"pagecount,omitempty"`
	Limit     int `json:"limit,omitempty"`
	Total     int `json:"total,omitempty"`

	// Play resolution fields.
	URL     string            `json:"url,omitempty"`
	Header  map[string]string `json:"header,omitempty"`
	Parse   int               `json:"parse,omitempty"` // 0 = direct media, 1 = needs secondary parse
	Flag    string            `json:"flag,omitempty"`
	PlayURL string            `json:"playUrl,omitempty"`

	// Error is set on degraded envelopes; errored results are never cached.
	Error string `json:"error,omitempty"`
}

// EmptyResult returns a well-formed envelope with no content.
func EmptyResult() Result {
	return Result{List: []Vod{}}
}

// ErrorResult returns an empty envelope flagged with a diagnostic.
func ErrorResult(msg string) Result {
	r := EmptyResult()
	r.Error = msg
	return r
}

// IsError reports whether the envelope is a degraded placeholder.
func (r Result) IsError() bool {
	return r.Error != ""
}

// ResultFromJSON parses a backend payload into a Result. Malformed payloads
// are coerced to an empty error-flagged envelope instead of propagating.
func ResultFromJSON(data string) Result {
	data = strings.TrimSpace(data)
	if data == "" {
		return ErrorResult("empty payload")
	}
	var r Result
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return ErrorResult("malformed payload: " + err.Error())
	}
	if r.List == nil {
		r.List = []Vod{}
	}
	return r
}

// StampSite attributes every item in the envelope to the given site.
func (r *Result) StampSite(site Site) {
	for i := range r.List {
		r.List[i].SiteKey = site.Key
		r.List[i].SiteName = site.Name
	}
}
