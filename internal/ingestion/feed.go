package ingestion

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mr1hm/go-cap-alerts/internal/cap"
)

const maxDocumentSize = 4 << 20

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string     `xml:"id"`
	Links   []atomLink `xml:"link"`
	Content struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"content"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID      string `xml:"guid"`
	Link      string `xml:"link"`
	Enclosure struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	} `xml:"enclosure"`
}

// fetchFeed returns the CAP alerts published at url. The document may be a
// single alert, an Atom feed or an RSS feed; feed entries either embed the
// alert or link to it.
func (m *Manager) fetchFeed(ctx context.Context, url string) ([]*cap.Alert, error) {
	data, err := m.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	root, err := rootElement(data)
	if err != nil {
		return nil, fmt.Errorf("error reading feed %s: %w", url, err)
	}

	var (
		alerts []*cap.Alert
		links  []string
	)
	switch root {
	case "alert":
		a, err := cap.Unmarshal(data)
		if err != nil {
			return nil, err
		}
		return []*cap.Alert{a}, nil

	case "feed":
		var feed atomFeed
		if err := xml.Unmarshal(data, &feed); err != nil {
			return nil, fmt.Errorf("error decoding atom feed: %w", err)
		}
		for _, e := range feed.Entries {
			if bytes.Contains(e.Content.Inner, []byte("<alert")) {
				a, err := cap.Unmarshal(e.Content.Inner)
				if err != nil {
					slog.Warn("skipping embedded alert", "entry", e.ID, "error", err)
					continue
				}
				alerts = append(alerts, a)
				continue
			}
			if href := capLink(e.Links); href != "" {
				links = append(links, href)
			}
		}

	case "rss":
		var feed rssFeed
		if err := xml.Unmarshal(data, &feed); err != nil {
			return nil, fmt.Errorf("error decoding rss feed: %w", err)
		}
		for _, item := range feed.Channel.Items {
			switch {
			case item.Enclosure.URL != "" && strings.Contains(item.Enclosure.Type, "cap"):
				links = append(links, item.Enclosure.URL)
			case item.Link != "":
				links = append(links, item.Link)
			}
		}

	default:
		return nil, fmt.Errorf("unsupported feed root element %q", root)
	}

	for _, link := range links {
		doc, err := m.fetch(ctx, link)
		if err != nil {
			slog.Warn("skipping linked alert", "url", link, "error", err)
			continue
		}
		a, err := cap.Unmarshal(doc)
		if err != nil {
			slog.Warn("skipping linked alert", "url", link, "error", err)
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func capLink(links []atomLink) string {
	for _, l := range links {
		if strings.Contains(l.Type, "cap") {
			return l.Href
		}
	}
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	return ""
}

func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errors.New("empty document")
			}
			return "", err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

func (m *Manager) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/cap+xml, application/atom+xml, application/xml;q=0.9")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("error reading resp.Body: %w", err)
	}
	return data, nil
}
