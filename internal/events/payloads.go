package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ProcessingStarted is the payload of TopicProcessingStarted.
type ProcessingStarted struct {
	JobID      string `json:"jobId"`
	UserID     string `json:"userId"`
	StorageKey string `json:"s3Key"`
	BucketName string `json:"bucketName"`
}

// Validate implements Payload.
func (p ProcessingStarted) Validate() error {
	return requireFields(map[string]string{
		"jobId":      p.JobID,
		"userId":     p.UserID,
		"s3Key":      p.StorageKey,
		"bucketName": p.BucketName,
	})
}

// ProcessingCompleted is the payload of TopicProcessingCompleted.
type ProcessingCompleted struct {
	JobID string `json:"jobId"`
}

// Validate implements Payload.
func (p ProcessingCompleted) Validate() error {
	return requireFields(map[string]string{"jobId": p.JobID})
}

// CommandResultPersistFailed carries a row outcome that could not be stored.
type CommandResultPersistFailed struct {
	JobID        string `json:"jobId"`
	CommandType  string `json:"commandType"`
	LineNumber   int    `json:"lineNumber"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Cause        string `json:"cause,omitempty"`
}

// Validate implements Payload.
func (p CommandResultPersistFailed) Validate() error {
	if err := requireFields(map[string]string{
		"jobId":       p.JobID,
		"commandType": p.CommandType,
		"status":      p.Status,
	}); err != nil {
		return err
	}
	if p.LineNumber < 1 {
		return fmt.Errorf("lineNumber: must be positive, got %d", p.LineNumber)
	}
	return nil
}

// ExpenseCreated is the payload of TopicExpenseCreated.
type ExpenseCreated struct {
	ExpenseID string `json:"expenseId"`
}

// Validate implements Payload.
func (p ExpenseCreated) Validate() error {
	return requireFields(map[string]string{"expenseId": p.ExpenseID})
}

// SettlementCreated is the payload of TopicSettlementCreated.
type SettlementCreated struct {
	SettlementID string `json:"settlementId"`
}

// Validate implements Payload.
func (p SettlementCreated) Validate() error {
	return requireFields(map[string]string{"settlementId": p.SettlementID})
}

// NotificationSend is the payload of TopicNotificationSend.
type NotificationSend struct {
	EventID        string `json:"eventId"`
	EventType      string `json:"eventType"`
	RecipientEmail string `json:"recipientEmail"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// Validate implements Payload.
func (p NotificationSend) Validate() error {
	if err := requireFields(map[string]string{
		"eventId":        p.EventID,
		"eventType":      p.EventType,
		"recipientEmail": p.RecipientEmail,
		"subject":        p.Subject,
		"body":           p.Body,
	}); err != nil {
		return err
	}
	if !strings.Contains(p.RecipientEmail, "@") {
		return errors.New("recipientEmail: invalid email address")
	}
	return nil
}

func requireFields(fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
}
