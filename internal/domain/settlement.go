package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// Settlement records a direct repayment between two group members.
type Settlement struct {
	ID             string     `json:"id"`
	GroupID        string     `json:"groupId"`
	PayerID        string     `json:"payerId"`
	PayeeID        string     `json:"payeeId"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	SettlementDate civil.Date `json:"settlementDate"`
	CreatedAt      time.Time  `json:"createdAt"`
}
