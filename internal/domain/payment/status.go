package payment

// Status статус платежа
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusProcessing        Status = "PROCESSING"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

var transitions = map[Status][]Status{
	"":                      {StatusPending},
	StatusPending:           {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing:        {StatusCompleted, StatusFailed},
	StatusCompleted:         {StatusPartiallyRefunded, StatusRefunded},
	StatusPartiallyRefunded: {StatusPartiallyRefunded, StatusRefunded},
}

// CanTransition reports whether the state graph has an edge from -> to.
// The empty status is the state before PAYMENT_INITIATED.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further lifecycle event may be applied.
// COMPLETED is terminal for the payment flow but still accepts refunds.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// InFlight reports whether the payment still awaits a provider outcome.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// Refundable reports whether refunds may be requested.
func (s Status) Refundable() bool {
	return s == StatusCompleted || s == StatusPartiallyRefunded
}

func (s Status) String() string {
	return string(s)
}

// Method способ оплаты; определяет провайдера
type Method string

const (
	MethodMobileMoney  Method = "mobile_money"
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
)

// Valid reports whether the method is supported.
func (m Method) Valid() bool {
	switch m {
	case MethodMobileMoney, MethodCard, MethodBankTransfer:
		return true
	default:
		return false
	}
}

func (m Method) String() string {
	return string(m)
}

// Stage where a payment failed.
type Stage string

const (
	StageInitiation   Stage = "initiation"
	StageVerification Stage = "verification"
)
