package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webhook-sync-engine/config"
	"webhook-sync-engine/internal/core/domain"
	"webhook-sync-engine/pkg/apperror"

	"github.com/google/uuid"
)

// RouteKey identifies one (source, event_type) combination.
type RouteKey struct {
	Source    domain.Source
	EventType string
}

// RouteRule describes the queue item derived from a matched event.
type RouteRule struct {
	Action     domain.SyncAction
	EntityType domain.EntityType
	IDPath     string // dot path into the payload, e.g. "customer.id"
	Priority   int
}

// RouteTable maps inbound events to downstream sync work. Injected at
// construction so new sources are a config change, not a code change.
type RouteTable map[RouteKey]RouteRule

// DefaultRouteTable covers the providers wired out of the box.
func DefaultRouteTable() RouteTable {
	return RouteTable{
		{domain.SourceShopify, "customers/create"}: {domain.ActionUpsert, domain.EntityCustomer, "id", domain.PriorityHigh},
		{domain.SourceShopify, "customers/update"}: {domain.ActionUpsert, domain.EntityCustomer, "id", domain.PriorityHigh},
		{domain.SourceShopify, "customers/delete"}: {domain.ActionDelete, domain.EntityCustomer, "id", domain.PriorityHigh},
		{domain.SourceShopify, "orders/create"}:    {domain.ActionUpsert, domain.EntityOrder, "id", domain.PriorityHigh},
		{domain.SourceShopify, "orders/updated"}:   {domain.ActionUpsert, domain.EntityOrder, "id", domain.PriorityHigh},
		{domain.SourceShopify, "orders/cancelled"}: {domain.ActionUpsert, domain.EntityOrder, "id", domain.PriorityHigh},

		{domain.SourceKajabi, "purchase.created"}: {domain.ActionUpsert, domain.EntityPurchase, "purchase.id", domain.PriorityHigh},
		{domain.SourceKajabi, "purchase.updated"}: {domain.ActionUpsert, domain.EntityPurchase, "purchase.id", domain.PriorityHigh},
		{domain.SourceKajabi, "member.created"}:   {domain.ActionUpsert, domain.EntityCustomer, "member.id", domain.PriorityHigh},
		{domain.SourceKajabi, "member.updated"}:   {domain.ActionUpsert, domain.EntityCustomer, "member.id", domain.PriorityHigh},

		{domain.SourceClickUp, "taskCreated"}: {domain.ActionUpsert, domain.EntityTask, "task_id", domain.PriorityMedium},
		{domain.SourceClickUp, "taskUpdated"}: {domain.ActionUpsert, domain.EntityTask, "task_id", domain.PriorityMedium},
		{domain.SourceClickUp, "taskDeleted"}: {domain.ActionDelete, domain.EntityTask, "task_id", domain.PriorityMedium},

		{domain.SourceSocial, "profile.updated"}: {domain.ActionUpsert, domain.EntitySocialProfile, "profile.id", domain.PriorityLow},
		{domain.SourceSocial, "profile.deleted"}: {domain.ActionDelete, domain.EntitySocialProfile, "profile.id", domain.PriorityLow},
	}
}

// DispatcherService derives sync queue items from verified webhook events.
// Purely functional over the routing table: no I/O, the caller persists
// the derived items transactionally with the event status update.
type DispatcherService struct {
	table      RouteTable
	allowed    map[domain.Source]map[string]struct{}
	maxRetries int
}

// NewDispatcherService creates a dispatcher over the given routing table.
// Sources carrying a non-empty allowed_events list only sync those event
// types; an empty list places no restriction. maxRetries becomes the retry
// budget of every derived item; zero selects the domain default.
func NewDispatcherService(table RouteTable, sources map[string]config.SourceConfig, maxRetries int) *DispatcherService {
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}
	allowed := make(map[domain.Source]map[string]struct{})
	for name, src := range sources {
		if len(src.AllowedEvents) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(src.AllowedEvents))
		for _, eventType := range src.AllowedEvents {
			set[eventType] = struct{}{}
		}
		allowed[domain.Source(name)] = set
	}
	return &DispatcherService{table: table, allowed: allowed, maxRetries: maxRetries}
}

// ExtractMeta pulls the event type and external event ID from a raw
// delivery, per source convention. A missing event type is a validation
// error; a missing external ID is acceptable (the event just cannot be
// deduplicated by key).
func (d *DispatcherService) ExtractMeta(source domain.Source, header http.Header, body []byte) (string, *string, error) {
	switch source {
	case domain.SourceShopify:
		eventType := header.Get("X-Shopify-Topic")
		if eventType == "" {
			return "", nil, apperror.Validation("missing X-Shopify-Topic header")
		}
		var externalID *string
		if id := header.Get("X-Shopify-Event-Id"); id != "" {
			externalID = &id
		}
		return eventType, externalID, nil
	default:
		// Remaining providers carry the envelope in the body.
		var envelope struct {
			EventType string `json:"event_type"`
			Event     string `json:"event"`
			EventID   string `json:"event_id"`
			ID        string `json:"id"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return "", nil, apperror.Validation("malformed JSON body")
		}
		eventType := envelope.EventType
		if eventType == "" {
			eventType = envelope.Event
		}
		if eventType == "" {
			return "", nil, apperror.Validation("missing event type in body")
		}
		var externalID *string
		if envelope.EventID != "" {
			externalID = &envelope.EventID
		} else if envelope.ID != "" {
			externalID = &envelope.ID
		}
		return eventType, externalID, nil
	}
}

// Route maps a verified event to its derived queue items. An unmatched
// (source, event_type) yields zero items and no error: unknown event types
// from known providers are acknowledged, not rejected. The same applies to
// event types outside a source's allowlist.
func (d *DispatcherService) Route(event *domain.WebhookEvent, now time.Time) ([]*domain.SyncQueueItem, error) {
	if set, ok := d.allowed[event.Source]; ok {
		if _, ok := set[event.EventType]; !ok {
			return nil, nil
		}
	}

	rule, ok := d.table[RouteKey{event.Source, event.EventType}]
	if !ok {
		return nil, nil
	}

	entityID, err := extractEntityID(event.Payload, rule.IDPath)
	if err != nil {
		return nil, apperror.Validation(fmt.Sprintf("payload missing entity id at %q", rule.IDPath))
	}

	item := &domain.SyncQueueItem{
		ID:           uuid.New(),
		EventID:      event.ID,
		Source:       event.Source,
		Action:       rule.Action,
		EntityType:   rule.EntityType,
		EntityID:     entityID,
		Payload:      event.Payload,
		Priority:     rule.Priority,
		Status:       domain.QueueStatusPending,
		MaxRetries:   d.maxRetries,
		ScheduledFor: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return []*domain.SyncQueueItem{item}, nil
}

// extractEntityID walks a dot path through the payload and renders the leaf
// as a string. Numeric IDs (Shopify) are normalized without an exponent.
func extractEntityID(payload json.RawMessage, path string) (string, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}

	current := doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", fmt.Errorf("path %q: not an object", path)
		}
		current, ok = obj[part]
		if !ok {
			return "", fmt.Errorf("path %q: key %q absent", path, part)
		}
	}

	switch v := current.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("path %q: empty id", path)
		}
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("path %q: unsupported id type %T", path, current)
	}
}
