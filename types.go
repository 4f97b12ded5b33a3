package cortex

// The types below mirror the server's wire format. They are declared here
// rather than shared with the internal packages so the client stays usable
// outside this module.

// Source is one fused retrieval result.
type Source struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Score      float64  `json:"score"`
	Expert     string   `json:"expert"`
	FinalScore float64  `json:"final_score"`
	Experts    []string `json:"experts"`
}

// RouteResponse is the result of a retrieval route.
type RouteResponse struct {
	Answer        string             `json:"answer"`
	Sources       []Source           `json:"sources"`
	ExpertsUsed   []string           `json:"experts_used"`
	QueryType     string             `json:"query_type"`
	FusionMethod  string             `json:"fusion_method"`
	FusionWeights map[string]float64 `json:"fusion_weights"`
	CacheHit      bool               `json:"cache_hit"`
	ElapsedMS     int64              `json:"elapsed_ms"`
}

// VoteRequest asks the committee a question.
type VoteRequest struct {
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// Vote is one committee member's contribution.
type Vote struct {
	Role    string `json:"role"`
	Model   string `json:"model"`
	Answer  string `json:"answer"`
	Success bool   `json:"success"`
}

// VoteOutcome is the result of a consensus vote. Status is "ok" or
// "timeout"; a timeout still decodes successfully, it is not an error.
type VoteOutcome struct {
	Status         string  `json:"status"`
	FinalAnswer    string  `json:"final_answer"`
	Votes          []Vote  `json:"votes"`
	Confidence     float64 `json:"confidence"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Mode           string  `json:"mode"`
	CacheHit       bool    `json:"cache_hit"`
}

// HealthResponse reports dependency liveness and the recommended mode.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Deps          map[string]bool `json:"deps"`
	SuggestedMode string          `json:"suggested_mode"`
}

// SchedulePlan is the predicted capacity allocation for the current hour.
type SchedulePlan struct {
	Allocate      map[string]int  `json:"allocate"`
	PreloadModels []string        `json:"preload_models"`
	Notes         string          `json:"notes"`
	Explain       ScheduleExplain `json:"explain"`
}

// ScheduleExplain carries the inputs behind the plan.
type ScheduleExplain struct {
	Hour    int     `json:"hour"`
	Peak    bool    `json:"peak"`
	QPSPred float64 `json:"qps_pred"`
}

// SwapResponse acknowledges a model prewarm request.
type SwapResponse struct {
	OK     bool     `json:"ok"`
	Models []string `json:"models"`
}
