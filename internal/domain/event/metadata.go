package event

import "time"

// Metadata содержит метаданные события
type Metadata struct {
	UserID        string    `json:"user_id,omitempty"        bson:"user_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	CausationID   string    `json:"causation_id,omitempty"   bson:"causation_id,omitempty"`
	Source        string    `json:"source,omitempty"         bson:"source,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitempty"      bson:"timestamp,omitempty"`
}

// NewMetadata создает новые метаданные
func NewMetadata(userID, correlationID, causationID string) Metadata {
	return Metadata{
		UserID:        userID,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Timestamp:     time.Now().UTC(),
	}
}

// At returns a copy stamped with the given time.
func (m Metadata) At(ts time.Time) Metadata {
	m.Timestamp = ts.UTC()
	return m
}

// WithSource records where the command came from (api, webhook, sweep).
func (m Metadata) WithSource(source string) Metadata {
	m.Source = source
	return m
}
