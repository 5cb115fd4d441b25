package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/splitledger/internal/split"
)

// Expense is a payment made by one member on behalf of several participants.
// Amounts are in minor currency units.
type Expense struct {
	ID           string        `json:"id"`
	GroupID      string        `json:"groupId"`
	PayerID      string        `json:"payerId"`
	Description  string        `json:"description"`
	Amount       int64         `json:"amount"`
	Currency     string        `json:"currency"`
	ExpenseDate  civil.Date    `json:"expenseDate"`
	SplitType    split.Type    `json:"splitType"`
	Participants []split.Share `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}
