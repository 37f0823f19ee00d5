package spider

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"vodstream/models"
)

// Spider is the uniform capability set every parser backend implements,
// mirroring the catvod crawler contract.
type Spider interface {
	HomeContent(ctx context.Context, filter bool) (models.Result, error)
	// HomeVideoContent supplies the home listing when HomeContent returned
	// categories but no items.
	HomeVideoContent(ctx context.Context) (models.Result, error)
	CategoryContent(ctx context.Context, typeID string, page int, filter bool, ext map[string]string) (models.Result, error)
	DetailContent(ctx context.Context, ids []string) (models.Result, error)
	SearchContent(ctx context.Context, keyword string, quick bool) (models.Result, error)
	PlayerContent(ctx context.Context, flag, id string, vipFlags []string) (models.Result, error)
	// Action executes a spider-defined custom action.
	Action(ctx context.Context, action string) (models.Result, error)
	Destroy()
}

// Invoker executes one function of a loaded script or module and returns its
// JSON payload. The script runtime and module loader live outside the engine;
// this is the whole contract.
type Invoker interface {
	Call(ctx context.Context, fn string, args ...string) (string, error)
}

// ScriptRuntime compiles a script body into an Invoker.
type ScriptRuntime interface {
	Compile(ctx context.Context, scriptID, body string) (Invoker, error)
}

// ModuleLoader resolves a dynamic module reference into an Invoker.
type ModuleLoader interface {
	Resolve(ctx context.Context, ref string) (Invoker, error)
}

// OpName identifies one parser operation.
type OpName string

const (
	OpHome     OpName = "home"
	OpCategory OpName = "category"
	OpDetail   OpName = "detail"
	OpSearch   OpName = "search"
	OpPlayer   OpName = "player"
	OpAction   OpName = "action"
)

// Operation carries the arguments of one parser call: enough to dispatch to
// a backend and to derive a deterministic cache key.
type Operation struct {
	Name     OpName
	Filter   bool
	TypeID   string
	Page     int
	Ext      map[string]string
	IDs      []string
	Keyword  string
	Quick    bool
	Flag     string
	ID       string
	VipFlags []string
	Action   string
}

// Home builds a home-content operation.
func Home(filter bool) Operation { return Operation{Name: OpHome, Filter: filter} }

// Category builds a category listing operation.
func Category(typeID string, page int, filter bool, ext map[string]string) Operation {
	return Operation{Name: OpCategory, TypeID: typeID, Page: page, Filter: filter, Ext: ext}
}

// Detail builds a detail operation.
func Detail(ids []string) Operation { return Operation{Name: OpDetail, IDs: ids} }

// Search builds a search operation.
func Search(keyword string, quick bool) Operation {
	return Operation{Name: OpSearch, Keyword: keyword, Quick: quick}
}

// Player builds a play-resolve operation.
func Player(flag, id string, vipFlags []string) Operation {
	return Operation{Name: OpPlayer, Flag: flag, ID: id, VipFlags: vipFlags}
}

// Act builds a custom-action operation.
func Act(action string) Operation { return Operation{Name: OpAction, Action: action} }

// CacheKey derives the deterministic cache key for this operation against a
// site. Arguments are canonicalized so logically identical queries collide:
// keywords are trimmed and lower-cased, filter maps sorted by key.
func (op Operation) CacheKey(siteKey string) string {
	var b strings.Builder
	b.WriteString(siteKey)
	b.WriteByte('|')
	b.WriteString(string(op.Name))
	switch op.Name {
	case OpHome:
		b.WriteString("|f=")
		b.WriteString(strconv.FormatBool(op.Filter))
	case OpCategory:
		b.WriteString("|t=")
		b.WriteString(op.TypeID)
		b.WriteString("|pg=")
		b.WriteString(strconv.Itoa(op.Page))
		if len(op.Ext) > 0 {
			keys := make([]string, 0, len(op.Ext))
			for k := range op.Ext {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				b.WriteByte('|')
				b.WriteString(k)
				b.WriteByte('=')
				b.WriteString(op.Ext[k])
			}
		}
	case OpDetail:
		ids := append([]string(nil), op.IDs...)
		sort.Strings(ids)
		b.WriteString("|ids=")
		b.WriteString(strings.Join(ids, ","))
	case OpSearch:
		b.WriteString("|kw=")
		b.WriteString(strings.ToLower(strings.TrimSpace(op.Keyword)))
		b.WriteString("|q=")
		b.WriteString(strconv.FormatBool(op.Quick))
	case OpPlayer:
		b.WriteString("|flag=")
		b.WriteString(op.Flag)
		b.WriteString("|id=")
		b.WriteString(op.ID)
	case OpAction:
		b.WriteString("|a=")
		b.WriteString(op.Action)
	}
	return b.String()
}

// Dispatch routes the operation to the matching Spider method.
func Dispatch(ctx context.Context, sp Spider, op Operation) (models.Result, error) {
	switch op.Name {
	case OpHome:
		res, err := sp.HomeContent(ctx, op.Filter)
		if err != nil {
			return res, err
		}
		// Script spiders may answer home with categories only; fetch the
		// video shelf separately (original homeVideoContent fallback).
		if len(res.List) == 0 && len(res.Classes) > 0 {
			if video, verr := sp.HomeVideoContent(ctx); verr == nil && len(video.List) > 0 {
				res.List = video.List
			}
		}
		return res, nil
	case OpCategory:
		return sp.CategoryContent(ctx, op.TypeID, op.Page, op.Filter, op.Ext)
	case OpDetail:
		return sp.DetailContent(ctx, op.IDs)
	case OpSearch:
		return sp.SearchContent(ctx, op.Keyword, op.Quick)
	case OpPlayer:
		return sp.PlayerContent(ctx, op.Flag, op.ID, op.VipFlags)
	case OpAction:
		return sp.Action(ctx, op.Action)
	default:
		return models.EmptyResult(), ErrUnknownOperation
	}
}
