// Package backend is the HTTP client for the StageLink domain API, the system
// of record for students, coordinators, rosters, and activities.
//
// All calls go through a circuit breaker with per-call retry. A 404 from the
// API maps to models.ErrNotFound and is never retried; everything else is
// treated as transient.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stagelink/chatbot/internal/models"
)

// ClientInterface is the surface the flows and the tool executor depend on.
type ClientInterface interface {
	StudentByCPF(ctx context.Context, cpf string) (*models.Student, error)
	CoordinatorByCPF(ctx context.Context, cpf string) (*models.Coordinator, error)
	ResolveActor(ctx context.Context, cpf string) (*models.Actor, error)
	ScheduledActivities(ctx context.Context, actorID string) ([]models.Activity, error)
	OngoingActivities(ctx context.Context, actorID string) ([]models.Activity, error)
	Preceptors(ctx context.Context, organization string) ([]models.Person, error)
	StudentsUnderCoordinator(ctx context.Context, coordinatorID string) ([]models.Student, error)
}

// Client talks to the domain API over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	retry      RetryConfig
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig overrides the retry parameters.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a domain API client. apiKey may be empty when the API is
// reachable without authentication (local development).
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cb:         newCircuitBreaker("stagelink-backend"),
		retry:      DefaultRetryConfig,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// getJSON fetches path with query values and decodes the response into out,
// applying the breaker and per-call retry.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		err := retryWithBackoff(ctx, c.retry, func() error {
			u := c.baseURL + path
			if len(query) > 0 {
				u += "?" + query.Encode()
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return err
			}
			if c.apiKey != "" {
				req.Header.Set("Authorization", "Bearer "+c.apiKey)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return models.ErrNotFound
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("domain API returned status %d for %s", resp.StatusCode, path)
			}
			return json.NewDecoder(resp.Body).Decode(out)
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("Backend.getJSON: %s: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, models.ErrNotFound)
}

// StudentByCPF looks up a student record by CPF.
func (c *Client) StudentByCPF(ctx context.Context, cpf string) (*models.Student, error) {
	var s models.Student
	q := url.Values{"cpf": {cpf}}
	if err := c.getJSON(ctx, "/v1/students/by-cpf", q, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CoordinatorByCPF looks up a coordinator record by CPF.
func (c *Client) CoordinatorByCPF(ctx context.Context, cpf string) (*models.Coordinator, error) {
	var co models.Coordinator
	q := url.Values{"cpf": {cpf}}
	if err := c.getJSON(ctx, "/v1/coordinators/by-cpf", q, &co); err != nil {
		return nil, err
	}
	return &co, nil
}

// ResolveActor identifies the actor behind a CPF, trying the student roster
// first and the coordinator roster second. Returns models.ErrNotFound only
// when both rosters miss.
func (c *Client) ResolveActor(ctx context.Context, cpf string) (*models.Actor, error) {
	s, err := c.StudentByCPF(ctx, cpf)
	if err == nil {
		return &models.Actor{
			ID:           s.ID,
			Role:         models.RoleStudent,
			Name:         s.Name,
			CPF:          s.CPF,
			Phone:        s.Phone,
			Email:        s.Email,
			Organization: s.Organization,
		}, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	co, err := c.CoordinatorByCPF(ctx, cpf)
	if err != nil {
		return nil, err
	}
	return &models.Actor{
		ID:           co.ID,
		Role:         models.RoleCoordinator,
		Name:         co.Name,
		CPF:          co.CPF,
		Phone:        co.Phone,
		Email:        co.Email,
		Organization: co.Organization,
	}, nil
}

// ScheduledActivities returns the upcoming activities visible to the actor.
func (c *Client) ScheduledActivities(ctx context.Context, actorID string) ([]models.Activity, error) {
	var acts []models.Activity
	q := url.Values{"actor_id": {actorID}}
	if err := c.getJSON(ctx, "/v1/activities/scheduled", q, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// OngoingActivities returns the activities currently in progress for the actor.
func (c *Client) OngoingActivities(ctx context.Context, actorID string) ([]models.Activity, error) {
	var acts []models.Activity
	q := url.Values{"actor_id": {actorID}}
	if err := c.getJSON(ctx, "/v1/activities/ongoing", q, &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// Preceptors returns the preceptor roster of an organization, used by the
// fuzzy person lookup.
func (c *Client) Preceptors(ctx context.Context, organization string) ([]models.Person, error) {
	var people []models.Person
	q := url.Values{"organization": {organization}}
	if err := c.getJSON(ctx, "/v1/preceptors", q, &people); err != nil {
		return nil, err
	}
	slog.Debug("Backend.Preceptors: fetched roster", "organization", organization, "count", len(people))
	return people, nil
}

// StudentsUnderCoordinator returns the students supervised by a coordinator.
func (c *Client) StudentsUnderCoordinator(ctx context.Context, coordinatorID string) ([]models.Student, error) {
	var students []models.Student
	q := url.Values{"coordinator_id": {coordinatorID}}
	if err := c.getJSON(ctx, "/v1/coordinators/students", q, &students); err != nil {
		return nil, err
	}
	return students, nil
}
