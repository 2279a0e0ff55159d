package materializer

import (
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

// linkMetadata is the subset of OpenGraph/Twitter-card meta tags a
// comp_link row cares about.
type linkMetadata struct {
	Title       string
	Description string
	Image       string
}

// fetchLinkMetadata scrapes og:*/twitter:* meta tags from uri. A nil
// result (bad URL, fetch failure, or no usable tags) means "no
// enrichment" — never an error the caller needs to handle specially.
func fetchLinkMetadata(uri string) *linkMetadata {
	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil
	}

	doc, err := goquery.NewDocument(u.String())
	if err != nil {
		return nil
	}

	g := &linkMetadata{}
	doc.Find("meta").Each(func(_ int, node *goquery.Selection) {
		prop, _ := node.Attr("property")
		if prop == "" {
			prop, _ = node.Attr("name")
		}
		content, _ := node.Attr("content")
		if content == "" {
			return
		}
		parts := strings.SplitN(prop, ":", 2)
		if len(parts) < 2 || (parts[0] != "og" && parts[0] != "twitter") {
			return
		}
		switch parts[1] {
		case "title":
			if g.Title == "" {
				g.Title = content
			}
		case "description":
			if g.Description == "" {
				g.Description = content
			}
		case "image", "image:src":
			if g.Image == "" {
				g.Image = content
			}
		}
	})

	if g.Title == "" && g.Description == "" && g.Image == "" {
		return nil
	}
	return g
}

// enrichLinkPreview runs fetchLinkMetadata in the background and, on a
// usable result, issues a standalone UPDATE against comp_link outside
// any batch savepoint. It never blocks or reports back to the batch
// that spawned it: a slow or dead link host cannot stall materialize
// throughput, and a failed fetch leaves comp_link exactly as it was
// when the createMessage event first landed.
func (m *Materializer) enrichLinkPreview(ctx context.Context, entity sid.ID, uri string) {
	go func() {
		meta := fetchLinkMetadata(uri)
		if meta == nil {
			return
		}
		_, err := m.db.Execute(ctx, sqlstore.Statement{
			Query: `UPDATE comp_link SET title = ?, description = ?, image = ? WHERE entity = ?`,
			Args:  []any{meta.Title, meta.Description, meta.Image, entity},
			Table: "comp_link",
		})
		if err != nil {
			m.log.Warn("link preview fetch failed", "entity", entity, "url", uri, "error", err)
		}
	}()
}
