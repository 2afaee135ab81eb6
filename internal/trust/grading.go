package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GradingSource supplies the skill, behavior and experience components.
type GradingSource interface {
	Components(ctx context.Context, userID string) (GradingComponents, error)
}

// NeutralGrading always answers 50s. Used when no grading service is set.
type NeutralGrading struct{}

func (NeutralGrading) Components(context.Context, string) (GradingComponents, error) {
	return Neutral(), nil
}

// HTTPGrading reads components from the grading service at
// GET {base}/api/grading/users/{id}/components.
type HTTPGrading struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGrading(baseURL string, timeout time.Duration) *HTTPGrading {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPGrading{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGrading) Components(ctx context.Context, userID string) (GradingComponents, error) {
	endpoint := fmt.Sprintf("%s/api/grading/users/%s/components", g.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return GradingComponents{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return GradingComponents{}, fmt.Errorf("grading request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No graded submissions yet.
		return Neutral(), nil
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return GradingComponents{}, fmt.Errorf("grading service returned %d", resp.StatusCode)
	}

	var out GradingComponents
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return GradingComponents{}, fmt.Errorf("decode grading components: %w", err)
	}
	return out, nil
}
