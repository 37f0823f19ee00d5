package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"vodstream/services/vod"
)

// ContentHandler serves the content resolution endpoints: home, category,
// detail, search, play and custom actions. Every response body is the result
// envelope; errors still carry a best-effort envelope so clients always have
// something renderable.
type ContentHandler struct {
	Service *vod.Service
}

func NewContentHandler(svc *vod.Service) *ContentHandler {
	return &ContentHandler{Service: svc}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseExt decodes the filter selection query parameter, a JSON object of
// filter key to selected value.
func parseExt(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	ext := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &ext); err != nil {
		return nil, err
	}
	return ext, nil
}

// Home handles GET /api/content/home?site=key&filter=true
func (h *ContentHandler) Home(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	filter := r.URL.Query().Get("filter") == "true"

	res, err := h.Service.ResolveHome(r.Context(), site, filter)
	if err != nil {
		log.Printf("[content] home failed for site %s: %v", site, err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Category handles GET /api/content/category?site=key&tid=1&page=2&filter=true&ext={...}
func (h *ContentHandler) Category(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	site := q.Get("site")
	tid := q.Get("tid")
	if site == "" || tid == "" {
		writeError(w, http.StatusBadRequest, "site and tid are required")
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	filter := q.Get("filter") == "true"
	ext, err := parseExt(q.Get("ext"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "ext must be a JSON object of filter selections")
		return
	}

	var res any
	if q.Get("more") == "true" {
		res, err = h.Service.LoadMore(r.Context(), site, tid, filter, ext)
	} else {
		res, err = h.Service.ResolveCategory(r.Context(), site, tid, page, filter, ext)
	}
	if err != nil {
		log.Printf("[content] category failed for site %s tid %s: %v", site, tid, err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Detail handles GET /api/content/detail?site=key&ids=a,b
func (h *ContentHandler) Detail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	site := q.Get("site")
	rawIDs := q.Get("ids")
	if site == "" || rawIDs == "" {
		writeError(w, http.StatusBadRequest, "site and ids are required")
		return
	}
	var ids []string
	for _, id := range strings.Split(rawIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "ids is empty")
		return
	}

	res, err := h.Service.ResolveDetail(r.Context(), site, ids)
	if err != nil {
		log.Printf("[content] detail failed for site %s: %v", site, err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// searchUpdate is the wire shape of one streamed search result line.
type searchUpdate struct {
	QueryID  string `json:"queryId"`
	Site     string `json:"site"`
	SiteName string `json:"siteName"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	TimedOut bool   `json:"timedOut,omitempty"`
	Millis   int64  `json:"millis"`
}

// Search handles GET /api/content/search?wd=keyword&sites=a,b&quick=true and
// streams newline-delimited JSON, one line per site as each resolves. The
// stream ending is the completion signal.
func (h *ContentHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := strings.TrimSpace(q.Get("wd"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "wd is required")
		return
	}
	var keys []string
	if raw := q.Get("sites"); raw != "" {
		keys = strings.Split(raw, ",")
	}
	quick := q.Get("quick") == "true"

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	updates := h.Service.Search(r.Context(), keys, keyword, quick)
	for u := range updates {
		line := searchUpdate{
			QueryID:  u.QueryID,
			Site:     u.Site.Key,
			SiteName: u.Site.Name,
			TimedOut: u.TimedOut,
			Millis:   u.Elapsed.Milliseconds(),
		}
		if u.Err != nil {
			line.Error = u.Err.Error()
		} else {
			line.Result = u.Result
		}
		if err := enc.Encode(line); err != nil {
			// Client went away; drain so the fan-out goroutine can finish.
			go func() {
				for range updates {
				}
			}()
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Play handles GET /api/content/play?site=key&flag=m3u8&id=episodeid
func (h *ContentHandler) Play(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	site := q.Get("site")
	id := q.Get("id")
	if site == "" || id == "" {
		writeError(w, http.StatusBadRequest, "site and id are required")
		return
	}

	res, err := h.Service.ResolvePlay(r.Context(), site, q.Get("flag"), id)
	if err != nil {
		log.Printf("[content] play failed for site %s: %v", site, err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Action handles POST /api/content/action?site=key with the action string as
// the request body.
func (h *ContentHandler) Action(w http.ResponseWriter, r *http.Request) {
	site := r.URL.Query().Get("site")
	if site == "" {
		writeError(w, http.StatusBadRequest, "site is required")
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	res, err := h.Service.ResolveAction(r.Context(), site, body.Action)
	if err != nil {
		log.Printf("[content] action failed for site %s: %v", site, err)
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
