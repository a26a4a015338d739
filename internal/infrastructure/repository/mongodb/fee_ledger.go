package mongodb

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/estately/internal/domain/payment"
)

// FeeLedgerCollection is the collection name of fee settlements.
const FeeLedgerCollection = "fee_settlements"

type settlementDocument struct {
	Key        string       `bson:"_id"`
	PaymentID  string       `bson:"payment_id"`
	PayerID    string       `bson:"payer_id"`
	Currency   string       `bson:"currency"`
	Amount     int64        `bson:"amount"`
	Fees       payment.Fees `bson:"fees"`
	SettledAt  time.Time    `bson:"settled_at"`
	ProviderTx string       `bson:"provider_transaction_id,omitempty"`
}

// MongoFeeLedger books one settlement per idempotency key.
type MongoFeeLedger struct {
	collection *mongo.Collection
	logger     *slog.Logger
	now        func() time.Time
}

// NewMongoFeeLedger creates the ledger.
func NewMongoFeeLedger(collection *mongo.Collection, logger *slog.Logger) *MongoFeeLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoFeeLedger{collection: collection, logger: logger, now: time.Now}
}

// Settle implements materialize.FeeSettler. A duplicate key means the
// settlement is already booked.
func (l *MongoFeeLedger) Settle(ctx context.Context, key string, p payment.State) error {
	_, err := l.collection.InsertOne(ctx, settlementDocument{
		Key:        key,
		PaymentID:  p.PaymentID,
		PayerID:    p.PayerID,
		Currency:   p.Currency,
		Amount:     p.Amount,
		Fees:       p.Fees,
		SettledAt:  l.now().UTC(),
		ProviderTx: p.ProviderTransactionID,
	})
	if mongo.IsDuplicateKeyError(err) {
		l.logger.DebugContext(ctx, "fee settlement already booked", slog.String("key", key))
		return nil
	}
	return HandleMongoError(err, "fee settlement")
}
