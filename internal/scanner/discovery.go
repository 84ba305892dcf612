/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scanner

import (
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Discover parses an HTML document and returns every playable media
// element found: <video> and <audio> tags, including URLs carried on
// nested <source> children. Relative URLs are resolved against pageURL.
// Items with no usable source are omitted; unfetchable schemes are kept
// but marked skipped so the caller can surface them.
func Discover(r io.Reader, pageURL string) ([]MediaItem, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(pageURL)
	now := time.Now()
	var items []MediaItem
	seen := make(map[string]struct{})

	collect := func(mediaType string) func(int, *goquery.Selection) {
		return func(_ int, sel *goquery.Selection) {
			for _, raw := range candidateSources(sel) {
				resolved := resolveURL(base, raw)
				if resolved == "" {
					continue
				}
				if _, dup := seen[resolved]; dup {
					continue
				}
				seen[resolved] = struct{}{}

				item := MediaItem{
					URL:          resolved,
					MediaType:    mediaType,
					PageURL:      pageURL,
					State:        StateUnscanned,
					DiscoveredAt: now,
				}
				if !Fetchable(resolved) {
					item.State = StateSkipped
				}
				items = append(items, item)
			}
		}
	}

	doc.Find("video").Each(collect("video"))
	doc.Find("audio").Each(collect("audio"))
	return items, nil
}

// candidateSources lists a media element's own src plus any <source>
// children, in document order.
func candidateSources(sel *goquery.Selection) []string {
	var out []string
	if src, ok := sel.Attr("src"); ok && strings.TrimSpace(src) != "" {
		out = append(out, src)
	}
	sel.Find("source").Each(func(_ int, child *goquery.Selection) {
		if src, ok := child.Attr("src"); ok && strings.TrimSpace(src) != "" {
			out = append(out, src)
		}
	})
	return out
}

// resolveURL makes raw absolute against base. Unfetchable schemes are
// passed through untouched so the state machine can mark them skipped.
func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !Fetchable(raw) {
		return raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base == nil {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return base.ResolveReference(ref).String()
}
