package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Search backends
const (
	SearchDuckDuckGo = "duckduckgo"
	SearchPubMed     = "pubmed"
	SearchTavily     = "tavily"
)

// Source is one search hit
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Searcher runs a web search
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Source, error)
}

// NewSearcher picks a backend by name. Tavily without a key falls back to
// DuckDuckGo.
func NewSearcher(api, tavilyKey string) Searcher {
	client := &http.Client{Timeout: 20 * time.Second}
	switch strings.ToLower(api) {
	case SearchPubMed:
		return &PubMed{Client: client, BaseURL: "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"}
	case SearchTavily:
		if tavilyKey != "" {
			return &Tavily{Client: client, BaseURL: "https://api.tavily.com", APIKey: tavilyKey}
		}
	}
	return &DuckDuckGo{Client: client, BaseURL: "https://html.duckduckgo.com/html/"}
}

func fetch(ctx context.Context, client *http.Client, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; devguard-research)")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search request failed: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 5<<20))
}

// DuckDuckGo scrapes the HTML results page
type DuckDuckGo struct {
	Client  *http.Client
	BaseURL string
}

// Search implements Searcher
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	req, err := http.NewRequest(http.MethodGet, d.BaseURL+"?"+url.Values{"q": {query}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, d.Client, req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	var out []Source
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "result__a") {
			out = append(out, Source{Title: textOf(n), URL: resultURL(attr(n, "href"))})
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(out) > 0 && out[len(out)-1].Content == "" {
			out[len(out)-1].Content = textOf(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// resultURL unwraps DuckDuckGo's /l/?uddg= redirect links
func resultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// PubMed queries the NCBI E-utilities
type PubMed struct {
	Client  *http.Client
	BaseURL string
}

// Search implements Searcher
func (p *PubMed) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	q := url.Values{"db": {"pubmed"}, "term": {query}, "retmax": {fmt.Sprint(limit)}, "retmode": {"json"}}
	req, err := http.NewRequest(http.MethodGet, p.BaseURL+"/esearch.fcgi?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err := fetch(ctx, p.Client, req)
	if err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}
	var search struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}
	ids := search.Result.IDList
	if len(ids) == 0 {
		return nil, nil
	}

	q = url.Values{"db": {"pubmed"}, "id": {strings.Join(ids, ",")}, "retmode": {"json"}}
	req, err = http.NewRequest(http.MethodGet, p.BaseURL+"/esummary.fcgi?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	body, err = fetch(ctx, p.Client, req)
	if err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}
	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("pubmed: %w", err)
	}

	var out []Source
	for _, id := range ids {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			Source  string `json:"source"`
			PubDate string `json:"pubdate"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		out = append(out, Source{
			Title:   doc.Title,
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
			Content: strings.TrimSpace(doc.Source + " " + doc.PubDate),
		})
	}
	return out, nil
}

// Tavily calls the Tavily search API
type Tavily struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

// Search implements Searcher
func (t *Tavily) Search(ctx context.Context, query string, limit int) ([]Source, error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"api_key":     t.APIKey,
		"query":       query,
		"max_results": limit,
	})
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(t.BaseURL, "/")+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := fetch(ctx, t.Client, req)
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	var resp struct {
		Results []Source `json:"results"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	if len(resp.Results) > limit {
		resp.Results = resp.Results[:limit]
	}
	return resp.Results, nil
}
