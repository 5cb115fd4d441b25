package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/events"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/dvloznov/splitledger/internal/ledger/inmemory"
	"github.com/dvloznov/splitledger/internal/split"
	"github.com/rs/zerolog"
)

// MockProducer records sent payloads.
type MockProducer struct {
	mu      sync.Mutex
	Sent    []sentEvent
	SendErr error
}

type sentEvent struct {
	Topic   events.Topic
	Payload []byte
}

func (m *MockProducer) Send(ctx context.Context, topic events.Topic, payload interface{}, attrs map[string]string) (string, error) {
	if m.SendErr != nil {
		return "", m.SendErr
	}
	body, _ := json.Marshal(payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, sentEvent{Topic: topic, Payload: body})
	return "msg", nil
}

func (m *MockProducer) onTopic(topic events.Topic) []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentEvent
	for _, e := range m.Sent {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store       *inmemory.Store
	producer    *MockProducer
	users       *ledger.UserService
	groups      *ledger.GroupService
	expenses    *ledger.ExpenseService
	settlements *ledger.SettlementService
}

func newFixture() *fixture {
	log := zerolog.New(io.Discard)
	store := inmemory.NewStore()
	producer := &MockProducer{}
	return &fixture{
		store:       store,
		producer:    producer,
		users:       ledger.NewUserService(store, log),
		groups:      ledger.NewGroupService(store, store, log),
		expenses:    ledger.NewExpenseService(store, store, producer, log),
		settlements: ledger.NewSettlementService(store, store, producer, log),
	}
}

func (f *fixture) user(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := f.users.CreateUser(context.Background(), ledger.CreateUserInput{Name: name, Email: strings.ToLower(name) + "@example.com"})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	return u
}

func (f *fixture) group(t *testing.T, name string, members ...*domain.User) *domain.Group {
	t.Helper()
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	g, err := f.groups.CreateGroup(context.Background(), ledger.CreateGroupInput{Name: name, InitialMemberIDs: ids})
	if err != nil {
		t.Fatalf("CreateGroup(%s) error = %v", name, err)
	}
	return g
}

func assertKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Errorf("Expected %s, got %s (%v)", kind, got, err)
	}
}

func TestUserService_DuplicateEmail(t *testing.T) {
	f := newFixture()
	f.user(t, "Ann")

	_, err := f.users.CreateUser(context.Background(), ledger.CreateUserInput{Name: "Other", Email: "ANN@example.com"})
	assertKind(t, err, apperr.KindConflict)

	_, err = f.users.GetUser(context.Background(), "missing")
	assertKind(t, err, apperr.KindNotFound)
}

func TestGroupService_CreateGroup(t *testing.T) {
	f := newFixture()
	ann := f.user(t, "Ann")
	f.group(t, "Trip", ann)

	t.Run("unknown member", func(t *testing.T) {
		_, err := f.groups.CreateGroup(context.Background(), ledger.CreateGroupInput{Name: "X", InitialMemberIDs: []string{"ghost"}})
		assertKind(t, err, apperr.KindBadRequest)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := f.groups.CreateGroup(context.Background(), ledger.CreateGroupInput{Name: "Trip"})
		assertKind(t, err, apperr.KindConflict)
	})
}

func TestGroupService_Membership(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ann, bob := f.user(t, "Ann"), f.user(t, "Bob")
	g := f.group(t, "Flat", ann)

	updated, err := f.groups.AddMember(ctx, g.ID, bob.ID)
	if err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if !updated.HasMember(bob.ID) {
		t.Error("Expected Bob to be a member")
	}

	_, err = f.groups.AddMember(ctx, g.ID, bob.ID)
	assertKind(t, err, apperr.KindConflict)

	_, err = f.groups.AddMember(ctx, "missing", bob.ID)
	assertKind(t, err, apperr.KindNotFound)

	_, err = f.groups.AddMember(ctx, g.ID, "ghost")
	assertKind(t, err, apperr.KindNotFound)

	if _, err := f.groups.RemoveMember(ctx, g.ID, bob.ID); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	_, err = f.groups.RemoveMember(ctx, g.ID, bob.ID)
	assertKind(t, err, apperr.KindBadRequest)
}

func TestExpenseService_EqualSplit(t *testing.T) {
	f := newFixture()
	a, b, c := f.user(t, "A"), f.user(t, "B"), f.user(t, "C")
	g := f.group(t, "Trip", a, b, c)

	exp, err := f.expenses.CreateExpense(context.Background(), ledger.CreateExpenseInput{
		GroupID:          g.ID,
		PayerID:          a.ID,
		RequestingUserID: a.ID,
		Description:      "Dinner",
		Amount:           1001,
		Currency:         "USD",
		ExpenseDate:      civil.Date{Year: 2024, Month: 3, Day: 1},
		SplitType:        split.TypeEqual,
	})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}

	var total int64
	ones := 0
	for _, s := range exp.Participants {
		total += s.Amount
		if s.Amount == 334 {
			ones++
		}
	}
	if total != 1001 || len(exp.Participants) != 3 || ones != 2 {
		t.Errorf("Unexpected shares: %+v", exp.Participants)
	}

	if sent := f.producer.onTopic(events.TopicExpenseCreated); len(sent) != 1 {
		t.Errorf("Expected one expense.created event, got %d", len(sent))
	}
}

func TestExpenseService_Errors(t *testing.T) {
	f := newFixture()
	a, b, outsider := f.user(t, "A"), f.user(t, "B"), f.user(t, "Out")
	g := f.group(t, "Trip", a, b)
	empty := f.group(t, "Empty")

	base := ledger.CreateExpenseInput{
		GroupID:          g.ID,
		PayerID:          a.ID,
		RequestingUserID: a.ID,
		Description:      "Taxi",
		Amount:           500,
		Currency:         "USD",
		SplitType:        split.TypeEqual,
	}

	tests := []struct {
		name   string
		mutate func(in *ledger.CreateExpenseInput)
		kind   apperr.Kind
	}{
		{"group not found", func(in *ledger.CreateExpenseInput) { in.GroupID = "nope" }, apperr.KindNotFound},
		{"empty group", func(in *ledger.CreateExpenseInput) { in.GroupID = empty.ID }, apperr.KindBadRequest},
		{"requester not member", func(in *ledger.CreateExpenseInput) { in.RequestingUserID = outsider.ID }, apperr.KindForbidden},
		{"payer not member", func(in *ledger.CreateExpenseInput) { in.PayerID = outsider.ID }, apperr.KindBadRequest},
		{"partial without participants", func(in *ledger.CreateExpenseInput) { in.SplitType = split.TypePartialEqual }, apperr.KindBadRequest},
		{"partial with outsider", func(in *ledger.CreateExpenseInput) {
			in.SplitType = split.TypePartialEqual
			in.InvolvedParticipantIDs = []string{a.ID, outsider.ID}
		}, apperr.KindBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.expenses.CreateExpense(context.Background(), in)
			assertKind(t, err, tt.kind)
		})
	}

	if n := len(f.store.Expenses()); n != 0 {
		t.Errorf("No expense should be persisted on failure, found %d", n)
	}
}

func TestExpenseService_PublishFailureKeepsExpense(t *testing.T) {
	f := newFixture()
	a := f.user(t, "A")
	g := f.group(t, "Solo", a)
	f.producer.SendErr = errors.New("queue down")

	_, err := f.expenses.CreateExpense(context.Background(), ledger.CreateExpenseInput{
		GroupID: g.ID, PayerID: a.ID, RequestingUserID: a.ID,
		Description: "Lunch", Amount: 10, Currency: "USD", SplitType: split.TypeEqual,
	})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}
	if n := len(f.store.Expenses()); n != 1 {
		t.Errorf("Expected persisted expense, found %d", n)
	}
}

func TestSettlementService(t *testing.T) {
	f := newFixture()
	a, b, outsider := f.user(t, "A"), f.user(t, "B"), f.user(t, "Out")
	g := f.group(t, "Trip", a, b)
	ctx := context.Background()

	base := ledger.CreateSettlementInput{
		GroupID: g.ID, PayerID: a.ID, PayeeID: b.ID, RequestingUserID: a.ID,
		Amount: 2500, Currency: "USD", SettlementDate: civil.Date{Year: 2024, Month: 1, Day: 15},
	}

	if _, err := f.settlements.CreateSettlement(ctx, base); err != nil {
		t.Fatalf("CreateSettlement() error = %v", err)
	}
	if sent := f.producer.onTopic(events.TopicSettlementCreated); len(sent) != 1 {
		t.Errorf("Expected one settlement.created event, got %d", len(sent))
	}

	tests := []struct {
		name   string
		mutate func(in *ledger.CreateSettlementInput)
		kind   apperr.Kind
	}{
		{"group not found", func(in *ledger.CreateSettlementInput) { in.GroupID = "nope" }, apperr.KindNotFound},
		{"requester not member", func(in *ledger.CreateSettlementInput) { in.RequestingUserID = outsider.ID }, apperr.KindForbidden},
		{"payer not member", func(in *ledger.CreateSettlementInput) { in.PayerID = outsider.ID }, apperr.KindBadRequest},
		{"payee not member", func(in *ledger.CreateSettlementInput) { in.PayeeID = outsider.ID }, apperr.KindBadRequest},
		{"payer is payee", func(in *ledger.CreateSettlementInput) { in.PayeeID = a.ID }, apperr.KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := f.settlements.CreateSettlement(ctx, in)
			assertKind(t, err, tt.kind)
		})
	}
}

func TestNotifier_ExpenseCreatedFansOutPerParticipant(t *testing.T) {
	f := newFixture()
	a, b, c := f.user(t, "A"), f.user(t, "B"), f.user(t, "C")
	g := f.group(t, "Trip", a, b, c)

	exp, err := f.expenses.CreateExpense(context.Background(), ledger.CreateExpenseInput{
		GroupID: g.ID, PayerID: a.ID, RequestingUserID: b.ID,
		Description: "Museum", Amount: 1001, Currency: "USD", SplitType: split.TypeEqual,
	})
	if err != nil {
		t.Fatalf("CreateExpense() error = %v", err)
	}

	notifier := ledger.NewNotifier(f.store, f.store, f.store, f.producer, zerolog.New(io.Discard))
	if err := notifier.HandleExpenseCreated(context.Background(), events.ExpenseCreated{ExpenseID: exp.ID}); err != nil {
		t.Fatalf("HandleExpenseCreated() error = %v", err)
	}

	sent := f.producer.onTopic(events.TopicNotificationSend)
	if len(sent) != 3 {
		t.Fatalf("Expected 3 notifications, got %d", len(sent))
	}
	recipients := map[string]bool{}
	for _, s := range sent {
		var req events.NotificationSend
		if err := json.Unmarshal(s.Payload, &req); err != nil {
			t.Fatalf("decoding notification: %v", err)
		}
		if req.EventID != exp.ID {
			t.Errorf("Expected event ID %s, got %s", exp.ID, req.EventID)
		}
		if !strings.Contains(req.Body, "$3.34") && !strings.Contains(req.Body, "$3.33") {
			t.Errorf("Body does not contain the formatted share: %q", req.Body)
		}
		recipients[req.RecipientEmail] = true
	}
	if len(recipients) != 3 {
		t.Errorf("Expected 3 distinct recipients, got %v", recipients)
	}

	// Unknown expenses are dropped without error.
	if err := notifier.HandleExpenseCreated(context.Background(), events.ExpenseCreated{ExpenseID: "gone"}); err != nil {
		t.Errorf("Expected nil for missing expense, got %v", err)
	}
}

func TestNotifier_SettlementCreatedNotifiesBothSides(t *testing.T) {
	f := newFixture()
	a, b := f.user(t, "A"), f.user(t, "B")
	g := f.group(t, "Trip", a, b)

	st, err := f.settlements.CreateSettlement(context.Background(), ledger.CreateSettlementInput{
		GroupID: g.ID, PayerID: a.ID, PayeeID: b.ID, RequestingUserID: a.ID, Amount: 1234, Currency: "USD",
	})
	if err != nil {
		t.Fatalf("CreateSettlement() error = %v", err)
	}

	notifier := ledger.NewNotifier(f.store, f.store, f.store, f.producer, zerolog.New(io.Discard))
	if err := notifier.HandleSettlementCreated(context.Background(), events.SettlementCreated{SettlementID: st.ID}); err != nil {
		t.Fatalf("HandleSettlementCreated() error = %v", err)
	}
	if sent := f.producer.onTopic(events.TopicNotificationSend); len(sent) != 2 {
		t.Errorf("Expected 2 notifications, got %d", len(sent))
	}
}
