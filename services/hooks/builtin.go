package hooks

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// refererByHost maps destination hosts to the Referer upstream expects.
// Extend via configuration-driven hooks when a site needs a special value.
var refererByHost = map[string]string{
	"v.qq.com":         "https://v.qq.com/",
	"www.iqiyi.com":    "https://www.iqiyi.com/",
	"v.youku.com":      "https://v.youku.com/",
	"www.mgtv.com":     "https://www.mgtv.com/",
	"www.bilibili.com": "https://www.bilibili.com/",
}

// tlsCapableHosts are known to serve the same content over https.
var tlsCapableHosts = map[string]bool{
	"v.qq.com":             true,
	"www.iqiyi.com":        true,
	"v.youku.com":          true,
	"www.mgtv.com":         true,
	"www.bilibili.com":     true,
	"vip.kuaikan-play.com": true,
}

// directMediaExts marks file extensions playable without a secondary parse.
var directMediaExts = map[string]bool{
	".m3u8": true, ".mp4": true, ".mkv": true, ".flv": true, ".avi": true,
	".ts": true, ".mov": true, ".wmv": true, ".3gp": true, ".mpd": true,
	".mp3": true, ".aac": true, ".m4a": true, ".flac": true, ".webm": true,
}

// trackingParams are stripped from resolved play urls.
var trackingParams = map[string]bool{
	"spm": true, "from": true, "refer": true, "share_token": true,
}

// headerNormalizer injects a User-Agent and per-host Referer on outbound
// requests that lack them.
type headerNormalizer struct{}

func (h *headerNormalizer) Name() string            { return "header-normalizer" }
func (h *headerNormalizer) Priority() int           { return 10 }
func (h *headerNormalizer) Enabled() bool           { return true }
func (h *headerNormalizer) Matches(r *Request) bool { return r != nil && r.URL != "" }

func (h *headerNormalizer) Execute(_ context.Context, r *Request) Outcome[Request] {
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	if _, ok := headerValue(r.Headers, "User-Agent"); !ok {
		r.Headers["User-Agent"] = defaultUserAgent
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return Fail[Request](err)
	}
	if ref, ok := refererByHost[u.Host]; ok {
		if _, has := headerValue(r.Headers, "Referer"); !has {
			r.Headers["Referer"] = ref
		}
	}
	return Success(r)
}

// charsetFixer transcodes non-UTF-8 response bodies to UTF-8 so downstream
// rule parsing sees one encoding.
type charsetFixer struct{}

func (h *charsetFixer) Name() string  { return "charset-fixer" }
func (h *charsetFixer) Priority() int { return 10 }
func (h *charsetFixer) Enabled() bool { return true }
func (h *charsetFixer) Matches(r *Response) bool {
	return r != nil && len(r.Body) > 0 && isTextual(contentType(r))
}

func (h *charsetFixer) Execute(_ context.Context, r *Response) Outcome[Response] {
	enc, name, _ := charset.DetermineEncoding(r.Body, contentType(r))
	if name == "utf-8" {
		return Skip[Response]("already utf-8")
	}
	decoded, _, err := transform.Bytes(enc.NewDecoder(), r.Body)
	if err != nil {
		return Fail[Response](err)
	}
	r.Body = decoded
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	base := contentType(r)
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		base = "text/html"
	}
	r.Headers["Content-Type"] = base + "; charset=utf-8"
	return Success(r)
}

// contentTypeSniffer replaces missing or generic content types with the type
// detected from the body bytes.
type contentTypeSniffer struct{}

func (h *contentTypeSniffer) Name() string  { return "content-type-sniffer" }
func (h *contentTypeSniffer) Priority() int { return 20 }
func (h *contentTypeSniffer) Enabled() bool { return true }
func (h *contentTypeSniffer) Matches(r *Response) bool {
	if r == nil || len(r.Body) == 0 {
		return false
	}
	ct := contentType(r)
	return ct == "" || strings.HasPrefix(ct, "application/octet-stream")
}

func (h *contentTypeSniffer) Execute(_ context.Context, r *Response) Outcome[Response] {
	detected := mimetype.Detect(r.Body)
	if detected == nil {
		return Skip[Response]("undetectable")
	}
	if r.Headers == nil {
		r.Headers = map[string]string{}
	}
	r.Headers["Content-Type"] = detected.String()
	return Success(r)
}

// trackingParamStripper removes analytics query parameters from play urls.
type trackingParamStripper struct{}

func (h *trackingParamStripper) Name() string  { return "tracking-param-stripper" }
func (h *trackingParamStripper) Priority() int { return 10 }
func (h *trackingParamStripper) Enabled() bool { return true }
func (h *trackingParamStripper) Matches(p *Player) bool {
	return p != nil && strings.Contains(p.URL, "?")
}

func (h *trackingParamStripper) Execute(_ context.Context, p *Player) Outcome[Player] {
	u, err := url.Parse(p.URL)
	if err != nil {
		return Fail[Player](err)
	}
	q := u.Query()
	changed := false
	for key := range q {
		if trackingParams[key] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if !changed {
		return Skip[Player]("no tracking params")
	}
	u.RawQuery = q.Encode()
	p.URL = u.String()
	return Success(p)
}

// schemeUpgrader rewrites http urls to https for hosts known to support it.
type schemeUpgrader struct{}

func (h *schemeUpgrader) Name() string  { return "scheme-upgrader" }
func (h *schemeUpgrader) Priority() int { return 20 }
func (h *schemeUpgrader) Enabled() bool { return true }
func (h *schemeUpgrader) Matches(p *Player) bool {
	return p != nil && strings.HasPrefix(p.URL, "http://")
}

func (h *schemeUpgrader) Execute(_ context.Context, p *Player) Outcome[Player] {
	u, err := url.Parse(p.URL)
	if err != nil {
		return Fail[Player](err)
	}
	if !tlsCapableHosts[u.Host] {
		return Skip[Player]("host not known tls-capable")
	}
	u.Scheme = "https"
	p.URL = u.String()
	return Success(p)
}

// mediaClassifier decides whether a play url is direct media or needs a
// secondary parse step.
type mediaClassifier struct{}

func (h *mediaClassifier) Name() string           { return "media-classifier" }
func (h *mediaClassifier) Priority() int          { return 30 }
func (h *mediaClassifier) Enabled() bool          { return true }
func (h *mediaClassifier) Matches(p *Player) bool { return p != nil && p.URL != "" }

func (h *mediaClassifier) Execute(_ context.Context, p *Player) Outcome[Player] {
	if IsDirectMedia(p.URL) {
		p.Parse = 0
		return Success(p)
	}
	if NeedsSecondaryParse(p.URL) {
		p.Parse = 1
		return Success(p)
	}
	return Skip[Player]("inconclusive")
}

// playerHeaderInjector attaches per-host playback headers the player will need.
type playerHeaderInjector struct{}

func (h *playerHeaderInjector) Name() string           { return "player-header-injector" }
func (h *playerHeaderInjector) Priority() int          { return 40 }
func (h *playerHeaderInjector) Enabled() bool          { return true }
func (h *playerHeaderInjector) Matches(p *Player) bool { return p != nil && p.URL != "" }

func (h *playerHeaderInjector) Execute(_ context.Context, p *Player) Outcome[Player] {
	u, err := url.Parse(p.URL)
	if err != nil {
		return Fail[Player](err)
	}
	if p.Headers == nil {
		p.Headers = map[string]string{}
	}
	if _, ok := headerValue(p.Headers, "User-Agent"); !ok {
		p.Headers["User-Agent"] = defaultUserAgent
	}
	if ref, ok := refererByHost[u.Host]; ok {
		if _, has := headerValue(p.Headers, "Referer"); !has {
			p.Headers["Referer"] = ref
		}
		if _, has := headerValue(p.Headers, "Origin"); !has {
			p.Headers["Origin"] = strings.TrimSuffix(ref, "/")
		}
	}
	return Success(p)
}

// IsDirectMedia reports whether the url points at a playable media file.
func IsDirectMedia(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return directMediaExts[ext]
}

// NeedsSecondaryParse reports whether the url looks like a parse-page rather
// than a media asset.
func NeedsSecondaryParse(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "parse") || strings.Contains(lower, "url=") || strings.Contains(lower, "jx.")
}

func contentType(r *Response) string {
	if r == nil {
		return ""
	}
	v, _ := headerValue(r.Headers, "Content-Type")
	return v
}

func isTextual(ct string) bool {
	ct = strings.ToLower(ct)
	return ct == "" || strings.HasPrefix(ct, "text/") ||
		strings.Contains(ct, "json") || strings.Contains(ct, "xml") ||
		strings.Contains(ct, "javascript") || strings.Contains(ct, "html")
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
