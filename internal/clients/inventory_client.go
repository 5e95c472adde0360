// internal/clients/inventory_client.go
package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"hdlend/internal/errs"
	"hdlend/internal/inventory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InventoryClient talks to a remote hdlend server. It satisfies
// inventory.Service, so callers can swap a local engine for a remote one.
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

var _ inventory.Service = (*InventoryClient)(nil)

// Option configures an InventoryClient.
type Option func(*InventoryClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(ic *InventoryClient) { ic.httpClient = c }
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(l *slog.Logger) Option {
	return func(ic *InventoryClient) { ic.logger = l }
}

// BreakerSettings tunes the circuit breaker.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func defaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenTimeout: 10 * time.Second}
}

// WithBreaker overrides the breaker thresholds.
func WithBreaker(s BreakerSettings) Option {
	return func(ic *InventoryClient) { ic.breaker = newBreaker(s, ic) }
}

func NewInventoryClient(baseURL string, opts ...Option) *InventoryClient {
	c := &InventoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = newBreaker(defaultBreakerSettings(), c)
	}
	return c
}

func newBreaker(s BreakerSettings, c *InventoryClient) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "hdlend-inventory",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// Domain rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			code := errs.CodeOf(err)
			return code != errs.CodeUnavailable && code != errs.CodeInternal
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

// BreakerState reports the current breaker state.
func (c *InventoryClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// do sends one request through the breaker and decodes a 2xx body into out.
func (c *InventoryClient) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, body, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.Unavailable("inventory service circuit open", err)
	}
	return err
}

func (c *InventoryClient) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errs.Internal("encode request", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errs.Internal("build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Unavailable("inventory service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.Internal("decode response", err)
	}
	return nil
}

// decodeError turns an error body back into the *errs.Error the server sent.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e errs.Error
	if err := json.Unmarshal(raw, &e); err != nil || e.Code == "" {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return errs.Unavailable(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
		}
		return errs.Internal(fmt.Sprintf("unexpected status code: %d", resp.StatusCode), nil)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.Code = errs.CodeUnavailable
	}
	return &e
}

type titleWithSlots struct {
	Title *inventory.Title  `json:"title"`
	Slots []*inventory.Slot `json:"slots"`
}

// Titles

func (c *InventoryClient) CreateTitle(ctx context.Context, name string, slotCapacity int) (*inventory.Title, []*inventory.Slot, error) {
	var out titleWithSlots
	body := map[string]any{"name": name, "slot_capacity": slotCapacity}
	if err := c.do(ctx, http.MethodPost, "/titles", body, &out); err != nil {
		return nil, nil, err
	}
	return out.Title, out.Slots, nil
}

func (c *InventoryClient) AddSlots(ctx context.Context, titleID uuid.UUID, count int, note string) (*inventory.Title, []*inventory.Slot, error) {
	var out titleWithSlots
	body := map[string]any{"count": count, "note": note}
	if err := c.do(ctx, http.MethodPost, "/titles/"+titleID.String()+"/slots", body, &out); err != nil {
		return nil, nil, err
	}
	return out.Title, out.Slots, nil
}

func (c *InventoryClient) CreateSlot(ctx context.Context, titleID uuid.UUID, slotIndex int, note string) (*inventory.Slot, error) {
	var slot inventory.Slot
	path := fmt.Sprintf("/titles/%s/slots/%d", titleID, slotIndex)
	if err := c.do(ctx, http.MethodPut, path, map[string]string{"note": note}, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *InventoryClient) UpdateTitle(ctx context.Context, titleID uuid.UUID, update inventory.TitleUpdate) (*inventory.Title, error) {
	var title inventory.Title
	if err := c.do(ctx, http.MethodPatch, "/titles/"+titleID.String(), update, &title); err != nil {
		return nil, err
	}
	return &title, nil
}

func (c *InventoryClient) GetTitle(ctx context.Context, titleID uuid.UUID) (*inventory.Title, error) {
	var title inventory.Title
	if err := c.do(ctx, http.MethodGet, "/titles/"+titleID.String(), nil, &title); err != nil {
		return nil, err
	}
	return &title, nil
}

func (c *InventoryClient) ListTitles(ctx context.Context) ([]*inventory.Title, error) {
	var titles []*inventory.Title
	if err := c.do(ctx, http.MethodGet, "/titles", nil, &titles); err != nil {
		return nil, err
	}
	return titles, nil
}

func (c *InventoryClient) TitleStats(ctx context.Context, titleID uuid.UUID) (*inventory.TitleStats, error) {
	var stats inventory.TitleStats
	if err := c.do(ctx, http.MethodGet, "/titles/"+titleID.String()+"/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *InventoryClient) TitleUnits(ctx context.Context, titleID uuid.UUID) ([]*inventory.Unit, error) {
	var units []*inventory.Unit
	if err := c.do(ctx, http.MethodGet, "/titles/"+titleID.String()+"/units", nil, &units); err != nil {
		return nil, err
	}
	return units, nil
}

// Slots

func (c *InventoryClient) AssignUnit(ctx context.Context, slotID, unitID uuid.UUID) (*inventory.Transition, error) {
	return c.transition(ctx, http.MethodPut, "/slots/"+slotID.String()+"/unit", map[string]uuid.UUID{"unit_id": unitID})
}

func (c *InventoryClient) StartSlot(ctx context.Context, slotID uuid.UUID) (*inventory.Transition, error) {
	return c.transition(ctx, http.MethodPost, "/slots/"+slotID.String()+"/start", nil)
}

func (c *InventoryClient) CloseSlot(ctx context.Context, slotID uuid.UUID) (*inventory.Transition, error) {
	return c.transition(ctx, http.MethodPost, "/slots/"+slotID.String()+"/close", nil)
}

func (c *InventoryClient) StartByTag(ctx context.Context, tag string) (*inventory.Transition, error) {
	return c.transition(ctx, http.MethodPost, "/tags/"+url.PathEscape(tag)+"/start", nil)
}

func (c *InventoryClient) CloseByTag(ctx context.Context, tag string) (*inventory.Transition, error) {
	return c.transition(ctx, http.MethodPost, "/tags/"+url.PathEscape(tag)+"/close", nil)
}

func (c *InventoryClient) transition(ctx context.Context, method, path string, body any) (*inventory.Transition, error) {
	var tr inventory.Transition
	if err := c.do(ctx, method, path, body, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

func (c *InventoryClient) BatchStart(ctx context.Context, slotIDs []uuid.UUID) (*inventory.BatchResult, error) {
	var result inventory.BatchResult
	if err := c.do(ctx, http.MethodPost, "/slots/batch-start", map[string][]uuid.UUID{"slot_ids": slotIDs}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *InventoryClient) SetSlotNote(ctx context.Context, slotID uuid.UUID, note string) (*inventory.Slot, error) {
	var slot inventory.Slot
	if err := c.do(ctx, http.MethodPut, "/slots/"+slotID.String()+"/note", map[string]string{"note": note}, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *InventoryClient) GetSlot(ctx context.Context, slotID uuid.UUID) (*inventory.Slot, error) {
	var slot inventory.Slot
	if err := c.do(ctx, http.MethodGet, "/slots/"+slotID.String(), nil, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

func (c *InventoryClient) ListSlots(ctx context.Context, filter inventory.SlotFilter) ([]*inventory.Slot, error) {
	q := url.Values{}
	if filter.TitleID != nil {
		q.Set("title_id", filter.TitleID.String())
	}
	if filter.UnitID != nil {
		q.Set("unit_id", filter.UnitID.String())
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q.Set("status", strings.Join(states, ","))
	}

	var slots []*inventory.Slot
	if err := c.do(ctx, http.MethodGet, withQuery("/slots", q), nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// Units

func (c *InventoryClient) RegisterUnit(ctx context.Context, tag string) (*inventory.Unit, error) {
	var unit inventory.Unit
	if err := c.do(ctx, http.MethodPost, "/units", map[string]string{"tag": tag}, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (c *InventoryClient) AttachTag(ctx context.Context, unitID uuid.UUID, tag string) (*inventory.Unit, error) {
	var unit inventory.Unit
	if err := c.do(ctx, http.MethodPut, "/units/"+unitID.String()+"/tag", map[string]string{"tag": tag}, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (c *InventoryClient) Certify(ctx context.Context, unitID uuid.UUID) (*inventory.Unit, error) {
	return c.unit(ctx, http.MethodPost, "/units/"+unitID.String()+"/certify")
}

func (c *InventoryClient) Decertify(ctx context.Context, unitID uuid.UUID) (*inventory.Unit, error) {
	return c.unit(ctx, http.MethodPost, "/units/"+unitID.String()+"/decertify")
}

func (c *InventoryClient) GetUnit(ctx context.Context, unitID uuid.UUID) (*inventory.Unit, error) {
	return c.unit(ctx, http.MethodGet, "/units/"+unitID.String())
}

func (c *InventoryClient) FindUnitByTag(ctx context.Context, tag string) (*inventory.Unit, error) {
	return c.unit(ctx, http.MethodGet, "/units/by-tag/"+url.PathEscape(tag))
}

func (c *InventoryClient) unit(ctx context.Context, method, path string) (*inventory.Unit, error) {
	var unit inventory.Unit
	if err := c.do(ctx, method, path, nil, &unit); err != nil {
		return nil, err
	}
	return &unit, nil
}

func (c *InventoryClient) DeleteUnit(ctx context.Context, unitID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/units/"+unitID.String(), nil, nil)
}

func (c *InventoryClient) UnitStatus(ctx context.Context, unitID uuid.UUID) (*inventory.UnitStatus, error) {
	var status inventory.UnitStatus
	if err := c.do(ctx, http.MethodGet, "/units/"+unitID.String()+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListUnits filters by ID on the client side; the server only filters by
// flags.
func (c *InventoryClient) ListUnits(ctx context.Context, filter inventory.UnitFilter) ([]*inventory.Unit, error) {
	q := url.Values{}
	if filter.Ready != nil {
		q.Set("ready", strconv.FormatBool(*filter.Ready))
	}
	if filter.Available != nil {
		q.Set("available", strconv.FormatBool(*filter.Available))
	}

	var units []*inventory.Unit
	if err := c.do(ctx, http.MethodGet, withQuery("/units", q), nil, &units); err != nil {
		return nil, err
	}
	if len(filter.IDs) == 0 {
		return units, nil
	}
	matched := units[:0]
	for _, u := range units {
		if filter.Match(u) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}

func (c *InventoryClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
