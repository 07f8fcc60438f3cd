package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/httputil"
)

const superOpsProviderID = "superops"

const createTicketMutation = `mutation CreateTicket($input: CreateTicketInput!) {
  createTicket(input: $input) {
    id
    ticketNumber
    status
    createdAt
  }
}`

const createTaskMutation = `mutation CreateTask($input: CreateTaskInput!) {
  createTask(input: $input) {
    id
    scheduledTime
    status
  }
}`

const pingQuery = `query Ping { __typename }`

type TicketingConfig struct {
	APIURL            string
	APIKey            string
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
}

// SuperOpsAdapter files tickets and callback tasks through the SuperOps GraphQL API.
type SuperOpsAdapter struct {
	cfg     TicketingConfig
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewSuperOpsAdapter(cfg TicketingConfig, log zerolog.Logger) *SuperOpsAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient(httputil.TicketingClientConfig())
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	log = log.With().Str("component", "superops").Logger()

	settings := gobreaker.Settings{
		Name:        "superops-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &SuperOpsAdapter{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      gobreaker.NewCircuitBreaker(settings),
		log:     log,
	}
}

func (a *SuperOpsAdapter) Name() string {
	return superOpsProviderID
}

// Connect checks the endpoint and API key with a trivial query.
func (a *SuperOpsAdapter) Connect(ctx context.Context) error {
	if a.cfg.APIURL == "" || a.cfg.APIKey == "" {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrAuth, "api url and key are required", nil, false)
	}
	var data struct {
		Typename string `json:"__typename"`
	}
	return a.execute(ctx, "ping", pingQuery, nil, &data)
}

func (a *SuperOpsAdapter) CreateTicket(ctx context.Context, req *out.TicketRequest) (string, error) {
	input := map[string]any{
		"title":               req.Title,
		"description":         req.Description,
		"priority":            strings.ToUpper(string(req.Priority)),
		"category":            string(req.Category),
		"customerEmail":       req.CustomerEmail,
		"source":              strings.ToUpper(req.Source),
		"tags":                []string{string(req.Category), string(req.Priority)},
		"escalateImmediately": req.Priority == domain.PriorityHigh,
		"metadata":            req.Metadata,
	}

	var data struct {
		CreateTicket struct {
			ID           string `json:"id"`
			TicketNumber string `json:"ticketNumber"`
		} `json:"createTicket"`
	}
	if err := a.execute(ctx, "createTicket", createTicketMutation, map[string]any{"input": input}, &data); err != nil {
		return "", err
	}

	id := data.CreateTicket.TicketNumber
	if id == "" {
		id = data.CreateTicket.ID
	}
	if id == "" {
		return "", out.NewProviderError(superOpsProviderID, out.ProviderErrServer, "ticket created without id", nil, false)
	}
	a.log.Info().Str("ticket_id", id).Str("priority", string(req.Priority)).Msg("ticket created")
	return id, nil
}

func (a *SuperOpsAdapter) CreateFollowupTask(ctx context.Context, req *out.FollowupRequest) (string, error) {
	input := map[string]any{
		"title":           req.Title,
		"description":     req.Description,
		"type":            "CALLBACK",
		"priority":        taskPriority(req.Urgency),
		"scheduledTime":   req.DueAt.UTC().Format(time.RFC3339),
		"relatedTicketId": req.TicketID,
		"metadata": map[string]string{
			"callback_type": string(req.Urgency),
		},
	}

	var data struct {
		CreateTask struct {
			ID string `json:"id"`
		} `json:"createTask"`
	}
	if err := a.execute(ctx, "createTask", createTaskMutation, map[string]any{"input": input}, &data); err != nil {
		return "", err
	}
	a.log.Info().Str("task_id", data.CreateTask.ID).Str("ticket_id", req.TicketID).Time("due_at", req.DueAt).Msg("follow-up task created")
	return data.CreateTask.ID, nil
}

func taskPriority(u domain.CallbackUrgency) string {
	switch u {
	case domain.UrgencyImmediate, domain.UrgencyWithinTwoHours:
		return "HIGH"
	case domain.UrgencyNextBusinessDay:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// IsCircuitOpen reports whether calls currently fail fast.
func (a *SuperOpsAdapter) IsCircuitOpen() bool {
	return a.cb.State() == gobreaker.StateOpen
}

// =============================================================================
// GraphQL transport
// =============================================================================

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors graphQLErrors   `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLErrors []graphQLError

func (e graphQLErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ge := range e {
		msgs[i] = ge.Message
	}
	return "graphql: " + strings.Join(msgs, "; ")
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.status, e.body)
}

func (a *SuperOpsAdapter) execute(ctx context.Context, op, query string, vars map[string]any, dst any) error {
	if vars == nil {
		vars = map[string]any{}
	}
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", op, err)
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrRateLimit, "rate limiter wait aborted", err, true)
	}

	result, err := a.cb.Execute(func() (interface{}, error) {
		resp, err := a.post(ctx, payload)
		if err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			// rejected input is not an outage
			return nil, &nonCircuitError{err: resp.Errors}
		}
		return resp.Data, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	if err != nil {
		a.log.Debug().Err(err).Str("op", op).Str("state", a.cb.State().String()).Msg("superops call failed")
		return wrapTicketingError(err, op+" failed")
	}

	data, _ := result.(json.RawMessage)
	if len(data) == 0 || string(data) == "null" {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrServer, op+" returned no data", nil, true)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrServer, "malformed "+op+" response", err, false)
	}
	return nil
}

func (a *SuperOpsAdapter) post(ctx context.Context, payload []byte) (*graphQLResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, &nonCircuitError{err: err}
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 300 {
		statusErr := &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &nonCircuitError{err: statusErr}
		}
		return nil, statusErr
	}

	var gr graphQLResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, &nonCircuitError{err: fmt.Errorf("decode graphql response: %w", err)}
	}
	return &gr, nil
}

func wrapTicketingError(err error, msg string) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrUnavailable, "circuit open", err, true)
	}

	var gqlErrs graphQLErrors
	if errors.As(err, &gqlErrs) {
		return out.NewProviderError(superOpsProviderID, out.ProviderErrInvalidInput, msg, err, false)
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.status == http.StatusUnauthorized || statusErr.status == http.StatusForbidden:
			return out.NewProviderError(superOpsProviderID, out.ProviderErrAuth, msg, err, false)
		case statusErr.status == http.StatusNotFound:
			return out.NewProviderError(superOpsProviderID, out.ProviderErrNotFound, msg, err, false)
		case statusErr.status == http.StatusTooManyRequests:
			return out.NewProviderError(superOpsProviderID, out.ProviderErrRateLimit, msg, err, true)
		case statusErr.status >= 500:
			return out.NewProviderError(superOpsProviderID, out.ProviderErrServer, msg, err, true)
		default:
			return out.NewProviderError(superOpsProviderID, out.ProviderErrInvalidInput, msg, err, false)
		}
	}

	return out.NewProviderError(superOpsProviderID, out.ProviderErrNetwork, msg, err, true)
}

var (
	_ out.TicketingProvider = (*SuperOpsAdapter)(nil)
	_ out.Connector         = (*SuperOpsAdapter)(nil)
)
