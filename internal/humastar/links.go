package humastar

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// LinkSet holds the RFC 8288 Link header values derived from the OpenAPI
// document, keyed by operation path.
type LinkSet struct {
	byPath map[string][]string
}

// NewLinkSet returns an empty set. Install its Transformer in the Huma
// config, then call Discover once the routes are registered.
func NewLinkSet() *LinkSet {
	return &LinkSet{byPath: map[string][]string{}}
}

// Discover walks the registered operations and derives hypermedia links:
// item to collection, collection to item template, entry point to every
// collection, and cross links between collections sharing a tag. Operations
// tagged "stream" are skipped.
func (ls *LinkSet) Discover(api huma.API) {
	oapi := api.OpenAPI()

	type pathInfo struct {
		path string
		tags []string
	}
	var collections, items []pathInfo
	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if hasTag(tags, "stream") {
			continue
		}
		info := pathInfo{path: p, tags: tags}
		if strings.Contains(p, "{") {
			items = append(items, info)
		} else {
			collections = append(collections, info)
		}
	}
	sort.Slice(collections, func(i, j int) bool { return collections[i].path < collections[j].path })
	sort.Slice(items, func(i, j int) bool { return items[i].path < items[j].path })

	for _, item := range items {
		parent := path.Dir(item.path)
		if _, ok := oapi.Paths[parent]; ok {
			ls.add(item.path, parent, "collection")
		}
	}
	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				ls.add(coll.path, item.path, "item")
			}
		}
		if coll.path != "/health" {
			ls.add(coll.path, "/health", "up")
		}
	}
	for i, a := range collections {
		for j, b := range collections {
			if i != j && sharedTag(a.tags, b.tags) {
				ls.add(a.path, b.path, lastSegment(b.path))
			}
		}
	}
	for _, coll := range collections {
		if coll.path != "/health" {
			ls.add("/health", coll.path, lastSegment(coll.path))
		}
	}
	ls.add("/health", "/openapi.json", "service-desc")
	ls.add("/health", "/docs", "service-doc")
}

// For returns the links of an operation path.
func (ls *LinkSet) For(opPath string) []string { return ls.byPath[opPath] }

// Transformer returns a Huma Transformer that injects the derived links, a
// self link on item endpoints, pagination links from Pager bodies and action
// links from Actor bodies.
func (ls *LinkSet) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}
		for _, link := range ls.byPath[op.Path] {
			ctx.AppendHeader("Link", link)
		}
		u := ctx.URL()
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, u.Path))
		}
		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(u.Path, u.Query()) {
				ctx.AppendHeader("Link", link)
			}
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}
		return v, nil
	}
}

func (ls *LinkSet) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	for _, existing := range ls.byPath[from] {
		if existing == val {
			return
		}
	}
	ls.byPath[from] = append(ls.byPath[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sharedTag(a, b []string) bool {
	for _, at := range a {
		if hasTag(b, at) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}
