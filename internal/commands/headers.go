package commands

// CSV column names.
const (
	ColCommandType            = "commandType"
	ColDescription            = "description"
	ColCurrency               = "currency"
	ColAmount                 = "amount"
	ColSettlementDate         = "settlementDate"
	ColExpenseDate            = "expenseDate"
	ColGroupID                = "groupId"
	ColPayerID                = "payerId"
	ColPayeeID                = "payeeId"
	ColInvolvedParticipantIDs = "involvedParticipantIds"
	ColRequestingUserID       = "requestingUserId"
	ColSplitType              = "splitType"
	ColName                   = "name"
	ColEmail                  = "email"
	ColUserID                 = "userId"
	ColInitialMemberIDs       = "initialMemberIds"
)

// Headers lists every recognised column.
var Headers = []string{
	ColCommandType,
	ColDescription,
	ColCurrency,
	ColAmount,
	ColSettlementDate,
	ColExpenseDate,
	ColGroupID,
	ColPayerID,
	ColPayeeID,
	ColInvolvedParticipantIDs,
	ColRequestingUserID,
	ColSplitType,
	ColName,
	ColEmail,
	ColUserID,
	ColInitialMemberIDs,
}
