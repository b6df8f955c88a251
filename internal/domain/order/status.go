package order

// Status is the fulfillment state of an order.
type Status string

const (
	StatusPending             Status = "pending"
	StatusWaitingPayment      Status = "waiting_payment"
	StatusWaitingConfirmation Status = "waiting_confirmation"
	StatusProcessing          Status = "processing"
	StatusShipped             Status = "shipped"
	StatusDelivered           Status = "delivered"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

// PaymentStatus is the payment state of an order, tracked independently of
// Status.
type PaymentStatus string

const (
	PaymentPending             PaymentStatus = "pending"
	PaymentWaitingConfirmation PaymentStatus = "waiting_confirmation"
	PaymentPaid                PaymentStatus = "paid"
	PaymentFailed              PaymentStatus = "failed"
	PaymentRefunded            PaymentStatus = "refunded"
)

type edges map[Status]map[Status]bool

var productTransitions = edges{
	StatusPending: {
		StatusWaitingPayment:      true,
		StatusWaitingConfirmation: true,
		StatusProcessing:          true,
		StatusCancelled:           true,
	},
	StatusWaitingPayment: {
		StatusWaitingConfirmation: true,
		StatusProcessing:          true,
		StatusCancelled:           true,
	},
	StatusWaitingConfirmation: {
		StatusWaitingPayment: true,
		StatusProcessing:     true,
		StatusCancelled:      true,
	},
	StatusProcessing: {StatusShipped: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {StatusCompleted: true},
}

var topupTransitions = edges{
	StatusPending: {
		StatusWaitingPayment:      true,
		StatusWaitingConfirmation: true,
		StatusCompleted:           true,
		StatusCancelled:           true,
	},
	StatusWaitingPayment: {
		StatusWaitingConfirmation: true,
		StatusCompleted:           true,
		StatusCancelled:           true,
	},
	StatusWaitingConfirmation: {
		StatusWaitingPayment: true,
		StatusCompleted:      true,
		StatusCancelled:      true,
	},
}

var paymentTransitions = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {
		PaymentWaitingConfirmation: true,
		PaymentPaid:                true,
		PaymentFailed:              true,
	},
	PaymentWaitingConfirmation: {
		PaymentPending: true,
		PaymentPaid:    true,
		PaymentFailed:  true,
	},
	PaymentPaid: {PaymentRefunded: true},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusWaitingPayment, StatusWaitingConfirmation, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further status transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Cancellable reports whether an order in s may still be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusWaitingPayment || s == StatusWaitingConfirmation
}

// Fulfilling reports whether fulfillment has begun, freezing pricing.
func (s Status) Fulfilling() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered, StatusCompleted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentWaitingConfirmation, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	default:
		return false
	}
}

// CanTransition reports whether an order of type t may move from one status
// to another.
func CanTransition(t Type, from, to Status) bool {
	table := productTransitions
	if t == TypePointsTopup {
		table = topupTransitions
	}
	return table[from][to]
}

// CanTransitionPayment reports whether payment status may move from one
// value to another.
func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentTransitions[from][to]
}

func checkStatus(o *Order, to Status) error {
	if !CanTransition(o.Type, o.Status, to) {
		return &IllegalTransitionError{Field: FieldStatus, From: string(o.Status), To: string(to)}
	}
	return nil
}

func checkPayment(o *Order, to PaymentStatus) error {
	if !CanTransitionPayment(o.PaymentStatus, to) {
		return &IllegalTransitionError{Field: FieldPaymentStatus, From: string(o.PaymentStatus), To: string(to)}
	}
	return nil
}
