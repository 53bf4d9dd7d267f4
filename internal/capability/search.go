package capability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"toolcall/internal/command"
	"toolcall/internal/logger"
)

// Search answers search_duckduckgo through the DuckDuckGo instant-answer
// API. An empty result set is a valid answer, not a failure.
type Search struct {
	logger logger.Logger
	client *http.Client
	base   string
}

func NewSearch() *Search {
	return &Search{
		logger: logger.NoOp(),
		client: &http.Client{Timeout: 10 * time.Second},
		base:   "https://api.duckduckgo.com",
	}
}

func (s *Search) SetLogger(logger logger.Logger) *Search {
	s.logger = logger
	return s
}

func (s *Search) Handle(ctx context.Context, cmd command.Command) (string, error) {
	sc, ok := cmd.(command.Search)
	if !ok {
		return "", fmt.Errorf("unexpected command type %T", cmd)
	}
	query := strings.TrimSpace(sc.Query)
	if query == "" {
		return "", fmt.Errorf("empty search query")
	}
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
		"no_redirect":   {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search service unreachable: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading search response: %w", err)
	}
	s.logger.Debug("search response: %s", string(body))
	return formatSearchResult(query, body), nil
}

func formatSearchResult(query string, body []byte) string {
	var sb strings.Builder
	if abstract := gjson.GetBytes(body, "AbstractText").String(); abstract != "" {
		if heading := gjson.GetBytes(body, "Heading").String(); heading != "" {
			sb.WriteString(heading + ": ")
		}
		sb.WriteString(abstract)
		if source := gjson.GetBytes(body, "AbstractURL").String(); source != "" {
			sb.WriteString(" (" + source + ")")
		}
	}
	if answer := gjson.GetBytes(body, "Answer").String(); answer != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(answer)
	}
	count := 0
	gjson.GetBytes(body, "RelatedTopics").ForEach(func(_, topic gjson.Result) bool {
		text := topic.Get("Text").String()
		if text == "" {
			return true
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- " + text)
		count++
		return count < 3
	})
	if sb.Len() == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	return sb.String()
}
