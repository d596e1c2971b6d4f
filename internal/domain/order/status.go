package order

type Status string

const (
	StatusInitiated          Status = "INITIATED"
	StatusStockReserved      Status = "STOCK_RESERVED"
	StatusPaymentAuthorized  Status = "PAYMENT_AUTHORIZED"
	StatusConfirmed          Status = "CONFIRMED"
	StatusStockUnavailable   Status = "STOCK_UNAVAILABLE"
	StatusPaymentDeclined    Status = "PAYMENT_DECLINED"
	StatusPaymentUnavailable Status = "PAYMENT_UNAVAILABLE"
	StatusCancelled          Status = "CANCELLED"
)

var validNext = map[Status]map[Status]bool{
	StatusInitiated: {
		StatusStockReserved:    true,
		StatusStockUnavailable: true,
		StatusCancelled:        true,
	},
	StatusStockReserved: {
		StatusPaymentAuthorized:  true,
		StatusPaymentDeclined:    true,
		StatusPaymentUnavailable: true,
		StatusCancelled:          true,
	},
	StatusPaymentAuthorized: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed:          {},
	StatusStockUnavailable:   {},
	StatusPaymentDeclined:    {},
	StatusPaymentUnavailable: {},
	StatusCancelled:          {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether the status ends the saga; terminal orders are immutable.
func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}
