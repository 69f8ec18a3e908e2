package router

import "github.com/zen-systems/supportgate/pkg/schema"

// Candidate captures a keyword-scored label.
type Candidate struct {
	Label    schema.Label `json:"intent"`
	Score    int          `json:"score"`
	Triggers []string     `json:"triggers,omitempty"`
}

// RouteInfo describes one intent's routing configuration.
type RouteInfo struct {
	Label         schema.Label
	Description   string
	Triggers      []string
	Examples      []string
	ResponseStyle string
	Priority      string
	Primary       string
	Fallback      string
}
