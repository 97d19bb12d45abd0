package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"rendellc/aquarium2mqtt/aquarium"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrNoResponseData = errors.New("service response has no data")
)

type Config struct {
	// URL of the Home Assistant instance, e.g. http://homeassistant.local:8123
	URL string
	// Token is a long-lived access token.
	Token string
	// AITaskEntity is the ai_task entity used for text generation.
	AITaskEntity string
	// NotifyService is a notify service name such as mobile_app_phone.
	// Empty sends persistent notifications instead.
	NotifyService string
}

type Client struct {
	baseURL       *url.URL
	client        *http.Client
	aiTaskEntity  string
	notifyService string
	logger        zerolog.Logger
}

// NewClient creates a REST client authenticated with a bearer token. An
// *http.Client stored in ctx under oauth2.HTTPClient is used as the base
// transport.
func NewClient(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("home assistant url is empty")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("home assistant token is empty")
	}
	if cfg.AITaskEntity == "" {
		return nil, fmt.Errorf("home assistant ai_task entity is empty")
	}
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid home assistant url %q: %w", cfg.URL, err)
	}

	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})

	return &Client{
		baseURL:       baseURL,
		client:        oauth2.NewClient(ctx, tokenSource),
		aiTaskEntity:  cfg.AITaskEntity,
		notifyService: cfg.NotifyService,
		logger:        logger.With().Str("component", "homeassistant").Logger(),
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("unable to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, req.URL.Path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrEntityNotFound
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s %s returned %s: %s", method, req.URL.Path, res.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	err = json.NewDecoder(res.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("unable to decode response of %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	state := State{}
	err := c.do(ctx, http.MethodGet, c.endpoint("/api/states/"+url.PathEscape(entityID), nil), nil, &state)
	if err != nil {
		return nil, fmt.Errorf("unable to get state of %s: %w", entityID, err)
	}
	return &state, nil
}

// ReadSensor returns the current value and unit of an entity. ok is false
// when the entity exists but has no usable value.
func (c *Client) ReadSensor(ctx context.Context, entityID string) (aquarium.SensorValue, bool, error) {
	state, err := c.GetState(ctx, entityID)
	if err != nil {
		return aquarium.SensorValue{}, false, err
	}
	if !state.Available() {
		c.logger.Debug().Str("entity_id", entityID).Str("state", state.State).Msg("sensor has no value")
		return aquarium.SensorValue{}, false, nil
	}

	attrs, err := state.SensorAttributes()
	if err != nil {
		// the value is still usable without a unit or name
		c.logger.Warn().Err(err).Str("entity_id", entityID).Msg("ignoring undecodable attributes")
	}
	name := attrs.FriendlyName
	if name == "" {
		name = entityID
	}

	return aquarium.SensorValue{
		Value:        state.State,
		Unit:         attrs.UnitOfMeasurement,
		FriendlyName: name,
	}, true, nil
}

// CallService invokes domain.service with data. With returnResponse the
// decoded response object is returned.
func (c *Client) CallService(ctx context.Context, domain, service string, data any, returnResponse bool) (map[string]any, error) {
	query := url.Values{}
	if returnResponse {
		query.Set("return_response", "")
	}
	endpoint := c.endpoint(fmt.Sprintf("/api/services/%s/%s", url.PathEscape(domain), url.PathEscape(service)), query)

	if !returnResponse {
		err := c.do(ctx, http.MethodPost, endpoint, data, nil)
		if err != nil {
			return nil, fmt.Errorf("unable to call %s.%s: %w", domain, service, err)
		}
		return nil, nil
	}

	response := map[string]any{}
	err := c.do(ctx, http.MethodPost, endpoint, data, &response)
	if err != nil {
		return nil, fmt.Errorf("unable to call %s.%s: %w", domain, service, err)
	}
	return response, nil
}

// GenerateData runs ai_task.generate_data and returns the generated fields.
func (c *Client) GenerateData(ctx context.Context, req aquarium.GenerationRequest) (map[string]string, error) {
	payload := generateDataRequest{
		EntityID:     c.aiTaskEntity,
		TaskName:     req.TaskName,
		Instructions: req.Instructions,
		Structure:    req.Structure,
		Attachments:  req.Attachments,
	}

	c.logger.Debug().Str("task_name", req.TaskName).Int("fields", len(req.Structure)).Msg("calling ai_task.generate_data")
	response, err := c.CallService(ctx, "ai_task", "generate_data", payload, true)
	if err != nil {
		return nil, err
	}

	data, err := mapGet[map[string]any](response, "service_response", "data")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoResponseData, err)
	}

	texts, err := parseGeneratedData(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Int("fields", len(texts)).Msg("received generated data")
	return texts, nil
}

// Notify delivers n as a persistent notification, or through the
// configured notify service.
func (c *Client) Notify(ctx context.Context, n aquarium.Notification) error {
	if c.notifyService == "" {
		_, err := c.CallService(ctx, "persistent_notification", "create", persistentNotification{
			Title:          n.Title,
			Message:        n.Message,
			NotificationID: n.ID,
		}, false)
		return err
	}

	_, err := c.CallService(ctx, "notify", c.notifyService, notifyMessage{
		Title:   n.Title,
		Message: n.Message,
		Data:    map[string]any{"tag": n.ID},
	}, false)
	return err
}
