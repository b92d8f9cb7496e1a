package budgetlinesdk

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

	"github.com/shopspring/decimal"
)

// Client is a minimal Budgetline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "/v0",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Item represents the API budget item model.
type Item struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"project_id"`
	Description         string          `json:"description"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	TimingMethod        string          `json:"timing_method"`
	StartPeriod         *int            `json:"start_period,omitempty"`
	PeriodsToComplete   int             `json:"periods_to_complete"`
	DistributionProfile string          `json:"distribution_profile"`
	CurveSteepness      float64         `json:"curve_steepness"`
	EscalationPct       *float64        `json:"escalation_pct,omitempty"`
	EscalationTiming    string          `json:"escalation_timing"`
	SortOrder           int             `json:"sort_order"`
	DependencyCount     int             `json:"dependency_count"`
}

// NewItem is the payload for CreateItem. Empty fields take project defaults.
type NewItem struct {
	ID                  string          `json:"id,omitempty"`
	Description         string          `json:"description,omitempty"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	TimingMethod        string          `json:"timing_method,omitempty"`
	StartPeriod         *int            `json:"start_period,omitempty"`
	PeriodsToComplete   int             `json:"periods_to_complete"`
	DistributionProfile string          `json:"distribution_profile,omitempty"`
	EscalationPct       *float64        `json:"escalation_pct,omitempty"`
	EscalationTiming    string          `json:"escalation_timing,omitempty"`
}

// Dependency represents an edge: DependentItemID waits on TriggerItemID.
type Dependency struct {
	ID               string               `json:"id,omitempty"`
	DependentItemID  string               `json:"dependent_item_id"`
	TriggerItemID    string               `json:"trigger_item_id"`
	TriggerEvent     string               `json:"trigger_event"`
	TriggerValue     *decimal.NullDecimal `json:"trigger_value,omitempty"`
	OffsetPeriods    int                  `json:"offset_periods"`
	IsHardDependency *bool                `json:"is_hard_dependency,omitempty"`
}

type PeriodAmount struct {
	Period int             `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

// Issue is an item-level error or warning from a calculation.
type Issue struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	ItemID  string   `json:"item_id"`
	ItemIDs []string `json:"item_ids,omitempty"`
}

// ItemSchedule is one item's computed schedule (partial).
type ItemSchedule struct {
	ItemID          string          `json:"item_id"`
	TimingMethod    string          `json:"timing_method"`
	State           string          `json:"state"`
	StartPeriod     *int            `json:"start_period,omitempty"`
	EndPeriod       *int            `json:"end_period,omitempty"`
	EffectiveAmount decimal.Decimal `json:"effective_amount"`
	Periods         []PeriodAmount  `json:"periods"`
	Error           *Issue          `json:"error,omitempty"`
}

// Timeline represents a calculated project timeline.
type Timeline struct {
	ProjectID    string         `json:"project_id"`
	Items        []ItemSchedule `json:"items"`
	PeriodTotals []PeriodAmount `json:"period_totals"`
	Summary      struct {
		TotalAmount   decimal.Decimal `json:"total_amount"`
		ItemCount     int             `json:"item_count"`
		ResolvedCount int             `json:"resolved_count"`
		BlockedCount  int             `json:"blocked_count"`
	} `json:"summary"`
	Issues []Issue `json:"issues"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CalculateTimeline recomputes the project timeline.
func (c *Client) CalculateTimeline(ctx context.Context) (Timeline, error) {
	var resp Timeline
	err := c.do(ctx, http.MethodPost, c.projectPath("timeline/calculate"), nil, &resp)
	return resp, err
}

// Timeline returns the last calculated timeline.
func (c *Client) Timeline(ctx context.Context) (Timeline, error) {
	var resp Timeline
	err := c.do(ctx, http.MethodGet, c.projectPath("timeline"), nil, &resp)
	return resp, err
}

// Items lists the project's budget items in grid order.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	var resp []Item
	err := c.do(ctx, http.MethodGet, c.projectPath("items"), nil, &resp)
	return resp, err
}

// CreateItem adds a budget item.
func (c *Client) CreateItem(ctx context.Context, in NewItem) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, c.projectPath("items"), in, &resp)
	return resp, err
}

// AddDependency adds a dependency edge.
func (c *Client) AddDependency(ctx context.Context, d Dependency) (Dependency, error) {
	body := map[string]any{
		"dependent_item_id": d.DependentItemID,
		"trigger_item_id":   d.TriggerItemID,
		"trigger_event":     d.TriggerEvent,
		"offset_periods":    d.OffsetPeriods,
	}
	if d.ID != "" {
		body["id"] = d.ID
	}
	if d.TriggerValue != nil && d.TriggerValue.Valid {
		body["trigger_value"] = d.TriggerValue.Decimal.String()
	}
	if d.IsHardDependency != nil {
		body["is_hard_dependency"] = *d.IsHardDependency
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, c.projectPath("dependencies"), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return fmt.Sprintf("projects/%s/%s", project, strings.TrimLeft(p, "/"))
	}
	return fmt.Sprintf("%s/projects/%s/%s", base, project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
