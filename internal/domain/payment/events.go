package payment

import (
	"time"

	"github.com/lllypuk/estately/internal/domain/event"
)

// AggregateType is the stream type of payments.
const AggregateType = "payment"

// Event types. Wire names are part of the stored format.
const (
	EventTypeInitiated       = "PAYMENT_INITIATED"
	EventTypeProcessing      = "PAYMENT_PROCESSING"
	EventTypeCompleted       = "PAYMENT_COMPLETED"
	EventTypeFailed          = "PAYMENT_FAILED"
	EventTypeCancelled       = "PAYMENT_CANCELLED"
	EventTypeRefundInitiated = "REFUND_INITIATED"
	EventTypeRefundCompleted = "REFUND_COMPLETED"
	EventTypeRefundFailed    = "REFUND_FAILED"
)

// Initiated платеж создан в статусе PENDING
type Initiated struct {
	event.BaseEvent `json:"-" bson:"-"`

	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Method    Method    `json:"method"`
	PayerID   string    `json:"payerId"`
	Reference string    `json:"reference,omitempty"`
	Fees      Fees      `json:"fees"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Processing провайдер принял платеж и выдал свою ссылку
type Processing struct {
	event.BaseEvent `json:"-" bson:"-"`

	ProviderRef  string            `json:"providerRef"`
	Instructions map[string]string `json:"instructions,omitempty"`
	Attempts     int               `json:"attempts"`
}

// Completed провайдер подтвердил успешную оплату
type Completed struct {
	event.BaseEvent `json:"-" bson:"-"`

	ProviderRef           string `json:"providerRef"`
	ProviderTransactionID string `json:"providerTransactionId"`
}

// Failed платеж завершился ошибкой
type Failed struct {
	event.BaseEvent `json:"-" bson:"-"`

	Reason           string `json:"reason"`
	Stage            Stage  `json:"stage"`
	Attempts         int    `json:"attempts"`
	RetriesExhausted bool   `json:"retriesExhausted"`
}

// Cancelled платеж истек в статусе PENDING
type Cancelled struct {
	event.BaseEvent `json:"-" bson:"-"`

	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RefundInitiated запрошен возврат
type RefundInitiated struct {
	event.BaseEvent `json:"-" bson:"-"`

	RefundID string `json:"refundId"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason,omitempty"`
}

// RefundCompleted возврат выполнен провайдером
type RefundCompleted struct {
	event.BaseEvent `json:"-" bson:"-"`

	RefundID  string `json:"refundId"`
	Amount    int64  `json:"amount"`
	RefundRef string `json:"refundRef,omitempty"`
}

// RefundFailed возврат отклонен или не выполнен
type RefundFailed struct {
	event.BaseEvent `json:"-" bson:"-"`

	RefundID         string `json:"refundId"`
	Amount           int64  `json:"amount"`
	Reason           string `json:"reason"`
	RetriesExhausted bool   `json:"retriesExhausted"`
}

func base(eventType, paymentID string, version int, metadata event.Metadata) event.BaseEvent {
	return event.NewBaseEvent(eventType, paymentID, AggregateType, version, metadata)
}

// RegisterEvents registers payment events for decoding.
func RegisterEvents(registry *event.Registry) {
	registry.Register(EventTypeInitiated, func() event.Rehydratable { return &Initiated{} })
	registry.Register(EventTypeProcessing, func() event.Rehydratable { return &Processing{} })
	registry.Register(EventTypeCompleted, func() event.Rehydratable { return &Completed{} })
	registry.Register(EventTypeFailed, func() event.Rehydratable { return &Failed{} })
	registry.Register(EventTypeCancelled, func() event.Rehydratable { return &Cancelled{} })
	registry.Register(EventTypeRefundInitiated, func() event.Rehydratable { return &RefundInitiated{} })
	registry.Register(EventTypeRefundCompleted, func() event.Rehydratable { return &RefundCompleted{} })
	registry.Register(EventTypeRefundFailed, func() event.Rehydratable { return &RefundFailed{} })
}
