package grpc

import "github.com/martinez099/ordershop/internal/domain"

type PublishRequest struct {
	Topic          string        `json:"topic"`
	Action         domain.Action `json:"action"`
	Entity         domain.Entity `json:"entity"`
	Conditional    bool          `json:"conditional,omitempty"`
	ExpectedLastID string        `json:"expected_last_id,omitempty"`
}

type PublishResponse struct {
	EntryID string `json:"entry_id"`
}

type SubscribeRequest struct {
	Topic string `json:"topic"`
}

type FindOneRequest struct {
	Topic    string `json:"topic"`
	EntityID string `json:"entity_id"`
}

type FindOneResponse struct {
	Entity domain.Entity `json:"entity"`
}

type FindAllRequest struct {
	Topic string `json:"topic"`
}

type FindAllResponse struct {
	Entities []domain.Entity `json:"entities"`
}

type EntityCacheRequest struct {
	Topic string `json:"topic"`
}

type EntityCacheResponse struct {
	Active bool `json:"active"`
}
