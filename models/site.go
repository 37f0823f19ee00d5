package models

// ParserKind identifies which execution backend a site's parser runs on.
type ParserKind string

const (
	KindJSON   ParserKind = "json"   // JSON REST API site
	KindXPath  ParserKind = "xpath"  // rule-driven HTML scraping
	KindScript ParserKind = "script" // embedded-script spider
	KindModule ParserKind = "module" // dynamically loaded native module
)

// Site describes a configured content source. Sites are loaded from the
// settings file and treated as read-only by the engine.
type Site struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Kind        ParserKind        `json:"kind"`
	API         string            `json:"api"`
	Ext         string            `json:"ext,omitempty"`       // opaque backend config blob
	ModuleRef   string            `json:"moduleRef,omitempty"` // for module-backed sites
	Headers     map[string]string `json:"headers,omitempty"`
	Searchable  bool              `json:"searchable"`
	QuickSearch bool              `json:"quickSearch"`
	Filterable  bool              `json:"filterable"`
	Categories  []string          `json:"categories,omitempty"` // allow-list for poster backfill
	PlayURL     string            `json:"playUrl,omitempty"`    // secondary parse prefix
	// Legacy JSON API style: "videolist" sites answer ac=videolist,
	// everything else answers ac=detail.
	VideoList      bool `json:"videoList,omitempty"`
	TimeoutSeconds int  `json:"timeoutSeconds,omitempty"` // per-site override, 0 = default
}

// IsEmpty reports whether the site carries no usable endpoint.
func (s Site) IsEmpty() bool {
	return s.Key == "" || s.API == ""
}

// ListAction returns the ac= parameter value for JSON API sites.
func (s Site) ListAction() string {
	if s.VideoList {
		return "videolist"
	}
	return "detail"
}
