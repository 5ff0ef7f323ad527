package payment

import "github.com/shopspring/decimal"

// ResultApproved is the only card gateway result that settles a payment.
const ResultApproved = "APPROVED"

type CardAuthorization struct {
	TransactionID string
	Amount        decimal.Decimal
}

// CardResult is the gateway's answer. CardNumber arrives masked and is passed through untouched.
type CardResult struct {
	ResultCode       string
	CardNumber       string
	AuthorizedAmount decimal.Decimal
}

func (r CardResult) Approved() bool {
	return r.ResultCode == ResultApproved
}
