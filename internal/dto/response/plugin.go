package response

import (
	"slices"
	"time"

	"github.com/jrjohn/arcana-plugin-runtime/internal/domain/entity"
	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
	"github.com/jrjohn/arcana-plugin-runtime/internal/resilience"
	"github.com/jrjohn/arcana-plugin-runtime/internal/utils"
)

// PluginResponse represents a loaded plugin in responses
type PluginResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description,omitempty"`
	Author      string     `json:"author,omitempty"`
	Status      string     `json:"status"`
	Dir         string     `json:"dir"`
	LoadedAt    time.Time  `json:"loaded_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// NewPluginResponse converts a plugin summary
func NewPluginResponse(s api.Summary) PluginResponse {
	return PluginResponse{
		ID:          s.ID,
		Name:        s.Name,
		Version:     s.Version,
		Description: s.Description,
		Author:      s.Author,
		Status:      string(s.Status),
		Dir:         s.Dir,
		LoadedAt:    s.LoadedAt,
		ActivatedAt: s.ActivatedAt,
	}
}

// PluginHookResponse is one hook a plugin registered
type PluginHookResponse struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Handler string `json:"handler"`
}

// PluginDetailResponse adds the plugin's contributions and errors
type PluginDetailResponse struct {
	PluginResponse
	Queries       []string              `json:"queries"`
	Mutations     []string              `json:"mutations"`
	Subscriptions []string              `json:"subscriptions"`
	Types         []string              `json:"types"`
	Tables        []string              `json:"tables"`
	Enums         []string              `json:"enums"`
	Hooks         []PluginHookResponse  `json:"hooks"`
	Errors        []PluginErrorResponse `json:"errors"`
}

// NewPluginDetailResponse converts a loaded plugin and its recorded errors
func NewPluginDetailResponse(p api.LoadedPlugin, errs []api.PluginError) PluginDetailResponse {
	detail := PluginDetailResponse{
		PluginResponse: NewPluginResponse(p.Summary()),
		Types:          sortedKeys(p.GraphQLTypes),
		Tables:         sortedKeys(p.DatabaseTables),
		Enums:          sortedKeys(p.DatabaseEnums),
		Hooks:          make([]PluginHookResponse, 0, len(p.Hooks)),
		Errors:         NewPluginErrorResponses(errs),
	}

	fields := make([]api.GraphQLExtension, 0, len(p.GraphQLResolvers))
	for _, r := range p.GraphQLResolvers {
		fields = append(fields, r.Extension)
	}
	fields = utils.SortExtensions(fields)
	detail.Queries = extensionNames(utils.FilterExtensions(fields, string(api.GraphQLQuery)))
	detail.Mutations = extensionNames(utils.FilterExtensions(fields, string(api.GraphQLMutation)))
	detail.Subscriptions = extensionNames(utils.FilterExtensions(fields, string(api.GraphQLSubscription)))

	for _, h := range p.Hooks {
		detail.Hooks = append(detail.Hooks, PluginHookResponse{
			Type:    string(h.Type),
			Event:   h.Event,
			Handler: h.HandlerName,
		})
	}
	return detail
}

func extensionNames(exts []api.GraphQLExtension) []string {
	names := make([]string, 0, len(exts))
	for _, e := range exts {
		names = append(names, e.Name)
	}
	return names
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// PluginErrorResponse represents a recorded plugin error
type PluginErrorResponse struct {
	ID        string    `json:"id"`
	PluginID  string    `json:"plugin_id"`
	Phase     string    `json:"phase"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPluginErrorResponses converts recorded plugin errors
func NewPluginErrorResponses(errs []api.PluginError) []PluginErrorResponse {
	out := make([]PluginErrorResponse, 0, len(errs))
	for _, pe := range errs {
		out = append(out, PluginErrorResponse{
			ID:        pe.ID,
			PluginID:  pe.PluginID,
			Phase:     string(pe.Phase),
			Kind:      string(pe.Kind),
			Message:   pe.Message,
			Timestamp: pe.Timestamp,
		})
	}
	return out
}

// PluginHealthResponse represents plugin system health status
type PluginHealthResponse struct {
	Status           string         `json:"status"`
	TotalPlugins     int            `json:"total_plugins"`
	ByStatus         map[string]int `json:"by_status"`
	ErrorCount       int            `json:"error_count"`
	RegistryVersion  uint64         `json:"registry_version"`
	OpenCircuitCount int            `json:"open_circuit_count"`
}

// BreakerResponse represents one hook handler circuit breaker
type BreakerResponse struct {
	Name             string `json:"name"`
	State            string `json:"state"`
	TotalCalls       int64  `json:"total_calls"`
	SuccessfulCalls  int64  `json:"successful_calls"`
	FailedCalls      int64  `json:"failed_calls"`
	RejectedCalls    int64  `json:"rejected_calls"`
	StateTransitions int64  `json:"state_transitions"`
}

// NewBreakerResponses converts breaker statuses
func NewBreakerResponses(statuses []resilience.BreakerStatus) []BreakerResponse {
	out := make([]BreakerResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, BreakerResponse{
			Name:             s.Name,
			State:            s.State,
			TotalCalls:       s.Counts.TotalCalls,
			SuccessfulCalls:  s.Counts.SuccessfulCalls,
			FailedCalls:      s.Counts.FailedCalls,
			RejectedCalls:    s.Counts.RejectedCalls,
			StateTransitions: s.Counts.StateTransitions,
		})
	}
	return out
}

// PluginHistoryResponse is the persisted state of a plugin
type PluginHistoryResponse struct {
	PluginID    string     `json:"plugin_id"`
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Status      string     `json:"status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ErrorCount  int64      `json:"error_count"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewPluginHistoryResponse converts a persisted plugin record
func NewPluginHistoryResponse(r *entity.PluginRecord) PluginHistoryResponse {
	return PluginHistoryResponse{
		PluginID:    r.PluginID,
		Name:        r.Name,
		Version:     r.Version,
		Status:      r.Status,
		ActivatedAt: r.ActivatedAt,
		ErrorCount:  r.ErrorCount,
		LastSeenAt:  r.LastSeenAt,
		CreatedAt:   r.CreatedAt,
	}
}

// TransitionResponse represents a persisted lifecycle transition
type TransitionResponse struct {
	PluginID   string    `json:"plugin_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewTransitionResponses converts persisted transitions
func NewTransitionResponses(items []*entity.PluginTransition) []TransitionResponse {
	out := make([]TransitionResponse, 0, len(items))
	for _, t := range items {
		out = append(out, TransitionResponse{
			PluginID:   t.PluginID,
			From:       t.FromStatus,
			To:         t.ToStatus,
			OccurredAt: t.OccurredAt,
		})
	}
	return out
}

// NewStoredErrorResponses converts persisted plugin errors
func NewStoredErrorResponses(items []*entity.PluginErrorRecord) []PluginErrorResponse {
	out := make([]PluginErrorResponse, 0, len(items))
	for _, e := range items {
		out = append(out, PluginErrorResponse{
			ID:        e.ErrorID,
			PluginID:  e.PluginID,
			Phase:     e.Phase,
			Kind:      e.Kind,
			Message:   e.Message,
			Timestamp: e.OccurredAt,
		})
	}
	return out
}
