package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

// day devolve a data testNow + offset dias
func day(offset int) time.Time {
	return dateOnly(testNow).AddDate(0, 0, offset)
}

func window(t *testing.T, from, to int) DateRange {
	t.Helper()
	r, err := NewDateRange(day(from), day(to))
	require.NoError(t, err)
	return r
}

func item(productID string, qty, from, to int) OrderItem {
	return OrderItem{ProductID: productID, Quantity: qty, StartDate: day(from), EndDate: day(to)}
}

func newTestUseCase(repo Repository) *AvailabilityUseCase {
	uc := NewAvailabilityUseCase(repo, DefaultPolicy(), nil, nil)
	uc.now = func() time.Time { return testNow }
	return uc
}

func TestEvaluate_BaseRule(t *testing.T) {
	// Arrange
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	uc := newTestUseCase(repo)
	ctx := context.Background()

	// Act
	ok, err := uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 5, Window: window(t, 3, 5)})
	require.NoError(t, err)
	over, err := uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 6, Window: window(t, 3, 5)})
	require.NoError(t, err)

	// Assert
	assert.True(t, ok.Admit)
	assert.Equal(t, 5, ok.AvailableStock)
	assert.Equal(t, 0, ok.Deficit)
	assert.Equal(t, ReasonNone, ok.Reason)

	assert.False(t, over.Admit)
	assert.Equal(t, 1, over.Deficit)
	assert.Equal(t, ReasonInsufficientStock, over.Reason)
	assert.NotEmpty(t, over.Message)
}

func TestEvaluate_CountsOnlyConsumingStatuses(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("chair", 10)
	repo.addOrder("o1", OrderStatusPending, item("chair", 3, 5, 7))
	uc := newTestUseCase(repo)
	ctx := context.Background()
	req := EvaluationRequest{ProductID: "chair", Quantity: 10, Window: window(t, 6, 6)}

	d, err := uc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Reserved, "pending orders must not consume stock")
	assert.True(t, d.Admit)

	repo.setStatus("o1", OrderStatusConfirmed)

	d, err = uc.Evaluate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Reserved)
	assert.Equal(t, 7, d.AvailableStock)
	assert.Equal(t, 3, d.Deficit)
	assert.False(t, d.Admit)

	for _, status := range []OrderStatus{OrderStatusCancelled, OrderStatusCompleted, OrderStatusReturned} {
		repo.setStatus("o1", status)
		d, err = uc.Evaluate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, 0, d.Reserved, "status %s must not consume stock", status)
	}
}

func TestEvaluate_ClampsAvailableAtZero(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("chair", 2)
	repo.addOrder("o1", OrderStatusConfirmed, item("chair", 5, 1, 3))
	uc := newTestUseCase(repo)

	d, err := uc.Evaluate(context.Background(), EvaluationRequest{ProductID: "chair", Quantity: 1, Window: window(t, 2, 2)})
	require.NoError(t, err)
	assert.Equal(t, 5, d.Reserved)
	assert.Equal(t, 0, d.AvailableStock)
	assert.Equal(t, 1, d.Deficit)
}

func TestReservedQuantity_MonotonicInOverlappingOrders(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("table", 20)
	uc := newTestUseCase(repo)
	ctx := context.Background()
	w := window(t, 10, 12)

	before, err := uc.ReservedQuantity(ctx, "table", w, "")
	require.NoError(t, err)

	repo.addOrder("outside", OrderStatusConfirmed, item("table", 4, 13, 20))
	repo.addOrder("other-product", OrderStatusConfirmed, item("chair", 4, 10, 12))
	unchanged, err := uc.ReservedQuantity(ctx, "table", w, "")
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)

	repo.addOrder("touching", OrderStatusInTransit, item("table", 2, 12, 14))
	after, err := uc.ReservedQuantity(ctx, "table", w, "")
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	repo.addOrder("delivered", OrderStatusDelivered, item("table", 1, 8, 10))
	after2, err := uc.ReservedQuantity(ctx, "table", w, "")
	require.NoError(t, err)
	assert.Equal(t, after+1, after2)
}

func TestReservedQuantity_Errors(t *testing.T) {
	repo := newFakeRepository()
	uc := newTestUseCase(repo)
	ctx := context.Background()

	_, err := uc.ReservedQuantity(ctx, "ghost", window(t, 1, 2), "")
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = uc.ReservedQuantity(ctx, "ghost", DateRange{Start: day(5), End: day(1)}, "")
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestEvaluate_LeadTimeException(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("stage", 0)
	repo.addProduct("tent", 5)
	uc := newTestUseCase(repo)
	ctx := context.Background()

	tests := []struct {
		name      string
		productID string
		quantity  int
		startIn   int
		admit     bool
		grant     bool
		reason    RejectionReason
	}{
		{"too short", "stage", 1, 10, false, false, ReasonLeadTimeTooShort},
		{"one day short", "stage", 1, 29, false, false, ReasonLeadTimeTooShort},
		{"exactly lead time", "stage", 1, 30, true, true, ReasonNone},
		{"well ahead", "stage", 3, 45, true, true, ReasonNone},
		{"stocked product ignores lead time", "tent", 6, 45, false, false, ReasonInsufficientStock},
		{"stocked product within stock", "tent", 5, 1, true, false, ReasonNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := uc.Evaluate(ctx, EvaluationRequest{
				ProductID: tt.productID,
				Quantity:  tt.quantity,
				Window:    window(t, tt.startIn, tt.startIn+2),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.admit, d.Admit)
			assert.Equal(t, tt.grant, d.LeadTimeGrant)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.startIn, d.DaysUntilStart)
		})
	}
}

func TestEvaluate_LeadTimeGrantStillReportsDeficit(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("stage", 0)
	uc := newTestUseCase(repo)

	d, err := uc.Evaluate(context.Background(), EvaluationRequest{ProductID: "stage", Quantity: 4, Window: window(t, 40, 41)})
	require.NoError(t, err)
	assert.True(t, d.Admit)
	assert.Equal(t, 4, d.Deficit)
}

func TestEvaluate_SelfExclusionIsIdempotent(t *testing.T) {
	// Arrange
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("mine", OrderStatusConfirmed, item("tent", 4, 3, 5))
	repo.addOrder("theirs", OrderStatusConfirmed, item("tent", 1, 3, 5))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	// Act: reavaliar a mesma quantidade do próprio pedido
	d, err := uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 4, Window: window(t, 3, 5), ExcludeOrderID: "mine"})
	require.NoError(t, err)
	withoutExclusion, err := uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 4, Window: window(t, 3, 5)})
	require.NoError(t, err)

	// Assert
	assert.True(t, d.Admit)
	assert.Equal(t, 1, d.Reserved)
	assert.False(t, withoutExclusion.Admit)
}

func TestEvaluate_InvalidInput(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	uc := newTestUseCase(repo)
	ctx := context.Background()

	_, err := uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 0, Window: window(t, 1, 2)})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = uc.Evaluate(ctx, EvaluationRequest{ProductID: "tent", Quantity: 1, Window: DateRange{Start: day(3), End: day(1)}})
	assert.ErrorIs(t, err, ErrInvalidDateRange)

	_, err = uc.Evaluate(ctx, EvaluationRequest{ProductID: "ghost", Quantity: 1, Window: window(t, 1, 2)})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestEvaluate_StoreFailureIsAnError(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.findErr = errors.New("connection reset")
	uc := newTestUseCase(repo)

	d, err := uc.Evaluate(context.Background(), EvaluationRequest{ProductID: "tent", Quantity: 1, Window: window(t, 1, 2)})
	assert.Nil(t, d)
	assert.ErrorContains(t, err, "connection reset")
}

func TestReserveItems_AdmitsAndPersists(t *testing.T) {
	// Arrange
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addProduct("chair", 10)
	repo.addOrder("o1", OrderStatusPending)
	uc := newTestUseCase(repo)

	// Act
	result, err := uc.ReserveItems(context.Background(), ReserveRequest{
		OrderID: "o1",
		Items: []ItemRequest{
			{ProductID: "tent", Quantity: 2, Window: window(t, 3, 5)},
			{ProductID: "chair", Quantity: 8, Window: window(t, 3, 5)},
		},
	})

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.Len(t, result.Decisions, 2)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 1, repo.commits)

	stored := repo.itemsOf("o1")
	require.Len(t, stored, 2)
	for _, it := range stored {
		assert.NotEmpty(t, it.ID)
		assert.Equal(t, "o1", it.OrderID)
	}
}

func TestReserveItems_RejectionPersistsNothing(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addProduct("stage", 0)
	repo.addOrder("busy", OrderStatusConfirmed, item("tent", 4, 3, 5))
	repo.addOrder("o1", OrderStatusPending)
	uc := newTestUseCase(repo)

	result, err := uc.ReserveItems(context.Background(), ReserveRequest{
		OrderID: "o1",
		Items: []ItemRequest{
			{ProductID: "tent", Quantity: 2, Window: window(t, 4, 6)},
			{ProductID: "stage", Quantity: 1, Window: window(t, 4, 6)},
		},
	})

	require.NoError(t, err)
	assert.False(t, result.Admitted)
	require.Len(t, result.Decisions, 2)
	assert.Equal(t, ReasonInsufficientStock, result.Decisions[0].Reason)
	assert.Equal(t, 1, result.Decisions[0].Deficit)
	assert.Equal(t, ReasonLeadTimeTooShort, result.Decisions[1].Reason)

	assert.Empty(t, repo.itemsOf("o1"))
	assert.Equal(t, 0, repo.commits)
	assert.Equal(t, 1, repo.rollbacks)
}

func TestReserveItems_SiblingsCompete(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("o1", OrderStatusPending)
	uc := newTestUseCase(repo)

	// 3 + 3 da mesma barraca em janelas que se tocam no dia 5
	result, err := uc.ReserveItems(context.Background(), ReserveRequest{
		OrderID: "o1",
		Items: []ItemRequest{
			{ProductID: "tent", Quantity: 3, Window: window(t, 3, 5)},
			{ProductID: "tent", Quantity: 3, Window: window(t, 5, 7)},
		},
	})

	require.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, 3, result.Decisions[0].Reserved)
	assert.Equal(t, 1, result.Decisions[0].Deficit)
	assert.Empty(t, repo.itemsOf("o1"))
}

func TestReserveItems_ReplacesOwnItems(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("o1", OrderStatusConfirmed, item("tent", 5, 3, 5))
	uc := newTestUseCase(repo)

	// o próprio pedido não compete consigo mesmo ao ser regravado
	result, err := uc.ReserveItems(context.Background(), ReserveRequest{
		OrderID: "o1",
		Items:   []ItemRequest{{ProductID: "tent", Quantity: 5, Window: window(t, 3, 5)}},
	})

	require.NoError(t, err)
	assert.True(t, result.Admitted)
	assert.Len(t, repo.itemsOf("o1"), 1)
}

func TestReserveItems_Errors(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("done", OrderStatusCompleted)
	repo.addOrder("o1", OrderStatusPending)
	uc := newTestUseCase(repo)
	ctx := context.Background()
	valid := []ItemRequest{{ProductID: "tent", Quantity: 1, Window: window(t, 1, 2)}}

	_, err := uc.ReserveItems(ctx, ReserveRequest{OrderID: "o1"})
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = uc.ReserveItems(ctx, ReserveRequest{OrderID: "o1", Items: []ItemRequest{{ProductID: "tent", Quantity: -1, Window: window(t, 1, 2)}}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = uc.ReserveItems(ctx, ReserveRequest{OrderID: "missing", Items: valid})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = uc.ReserveItems(ctx, ReserveRequest{OrderID: "done", Items: valid})
	assert.ErrorIs(t, err, ErrOrderClosed)

	_, err = uc.ReserveItems(ctx, ReserveRequest{OrderID: "o1", Items: []ItemRequest{{ProductID: "ghost", Quantity: 1, Window: window(t, 1, 2)}}})
	assert.ErrorIs(t, err, ErrProductNotFound)

	assert.Equal(t, 0, repo.commits)
}

func TestReleaseItems_Idempotent(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("o1", OrderStatusConfirmed, item("tent", 2, 1, 2))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	require.NoError(t, uc.ReleaseItems(ctx, "o1"))
	assert.Empty(t, repo.itemsOf("o1"))
	assert.Equal(t, 1, repo.commits)

	require.NoError(t, uc.ReleaseItems(ctx, "o1"))
	require.NoError(t, uc.ReleaseItems(ctx, "never-existed"))
	assert.Equal(t, 1, repo.commits)
}

func TestCheckOrder(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("pending", OrderStatusPending, item("tent", 3, 3, 5))
	repo.addOrder("confirmed", OrderStatusConfirmed, item("tent", 3, 4, 6))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	result, err := uc.CheckOrder(ctx, "pending")
	require.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, 1, result.Decisions[0].Deficit)

	result, err = uc.CheckOrder(ctx, "confirmed")
	require.NoError(t, err)
	assert.True(t, result.Admitted, "an order never competes with its own items")

	_, err = uc.CheckOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCheckOrder_MatchesEvaluateWithExclusion(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("a", OrderStatusConfirmed, item("tent", 3, 2, 4), item("tent", 3, 4, 6))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	result, err := uc.CheckOrder(ctx, "a")
	require.NoError(t, err)

	for i, it := range repo.itemsOf("a") {
		d, err := uc.Evaluate(ctx, EvaluationRequest{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			Window:         it.Window(),
			ExcludeOrderID: "a",
		})
		require.NoError(t, err)
		assert.Equal(t, d.Admit, result.Decisions[i].Admit)
		assert.Equal(t, d.Deficit, result.Decisions[i].Deficit)
	}
	assert.True(t, result.Admitted)
}

func TestConfirmOrder_CompetingPendingOrders(t *testing.T) {
	// Arrange
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("a", OrderStatusPending, item("tent", 5, 3, 5))
	repo.addOrder("b", OrderStatusPending, item("tent", 5, 3, 5))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	// Act
	first, err := uc.ConfirmOrder(ctx, "a")
	require.NoError(t, err)
	second, err := uc.ConfirmOrder(ctx, "b")
	require.NoError(t, err)

	// Assert
	assert.True(t, first.Admitted)
	assert.False(t, second.Admitted)
	assert.Equal(t, ReasonInsufficientStock, second.Decisions[0].Reason)
	assert.Equal(t, 5, second.Decisions[0].Deficit)

	assert.Equal(t, OrderStatusConfirmed, repo.orders["a"].Status)
	assert.Equal(t, OrderStatusPending, repo.orders["b"].Status)

	reserved, err := uc.ReservedQuantity(ctx, "tent", window(t, 3, 5), "")
	require.NoError(t, err)
	assert.Equal(t, 5, reserved)
}

func TestConfirmOrder_ConcurrentConfirmsNeverOverbook(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		repo.addOrder(id, OrderStatusPending, item("tent", 5, 3, 5))
	}
	uc := newTestUseCase(repo)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			result, err := uc.ConfirmOrder(ctx, id)
			if err != nil {
				t.Errorf("confirm %s: %v", id, err)
				return
			}
			if result.Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	reserved, err := uc.ReservedQuantity(ctx, "tent", window(t, 3, 5), "")
	require.NoError(t, err)
	assert.Equal(t, 5, reserved)
}

func TestConfirmOrder_ItemsOfTheOrderCompete(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("a", OrderStatusPending, item("tent", 3, 3, 5), item("tent", 3, 5, 7))
	uc := newTestUseCase(repo)

	result, err := uc.ConfirmOrder(context.Background(), "a")

	require.NoError(t, err)
	assert.False(t, result.Admitted)
	assert.Equal(t, OrderStatusPending, repo.orders["a"].Status)
	assert.Equal(t, 0, repo.commits)
}

func TestConfirmOrder_Errors(t *testing.T) {
	repo := newFakeRepository()
	repo.addProduct("tent", 5)
	repo.addOrder("confirmed", OrderStatusConfirmed, item("tent", 1, 3, 5))
	repo.addOrder("cancelled", OrderStatusCancelled, item("tent", 1, 3, 5))
	repo.addOrder("empty", OrderStatusPending)
	repo.addOrder("ghost", OrderStatusPending, item("ghost", 1, 3, 5))
	uc := newTestUseCase(repo)
	ctx := context.Background()

	_, err := uc.ConfirmOrder(ctx, "confirmed")
	assert.ErrorIs(t, err, ErrOrderNotPending)

	_, err = uc.ConfirmOrder(ctx, "cancelled")
	assert.ErrorIs(t, err, ErrOrderNotPending)

	_, err = uc.ConfirmOrder(ctx, "empty")
	assert.ErrorIs(t, err, ErrNoItems)

	_, err = uc.ConfirmOrder(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = uc.ConfirmOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	assert.Equal(t, 0, repo.commits)
}

func TestProductIDs(t *testing.T) {
	ids := productIDs([]ItemRequest{{ProductID: "b"}, {ProductID: "a"}, {ProductID: "b"}})
	assert.Equal(t, []string{"a", "b"}, ids)
}
