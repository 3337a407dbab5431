package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"orderhub/internal/model"
	"orderhub/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderRepository is a mock implementation of OrderRepository.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	if tx, ok := args.Get(0).(pgx.Tx); ok {
		return tx, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockOrderRepository) CreateOrder(ctx context.Context, tx pgx.Tx, order *model.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) CreateOrderLines(ctx context.Context, tx pgx.Tx, lines []model.OrderLine) error {
	args := m.Called(ctx, tx, lines)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]model.Order, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, id int64, from, to model.OrderStatus) (bool, error) {
	args := m.Called(ctx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) UpdateReservation(ctx context.Context, id int64, reservation model.ReservationStatus) error {
	args := m.Called(ctx, id, reservation)
	return args.Error(0)
}

func (m *MockOrderRepository) UpdateLineDeduction(ctx context.Context, lineID int64, state model.DeductionState) error {
	args := m.Called(ctx, lineID, state)
	return args.Error(0)
}

func (m *MockOrderRepository) ListUnsettled(ctx context.Context, maxAttempts int, pendingBefore time.Time, limit int) ([]model.Order, error) {
	args := m.Called(ctx, maxAttempts, pendingBefore, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *MockOrderRepository) IncrementReconcileAttempts(ctx context.Context, id int64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

// MockTx is a minimal mock implementation of pgx.Tx for testing.
type MockTx struct {
	mock.Mock
}

func (m *MockTx) Commit(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockTx) Rollback(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Stub methods to satisfy pgx.Tx interface - these are not used in our tests
func (m *MockTx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, nil }
func (m *MockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (m *MockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (m *MockTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (m *MockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (m *MockTx) Exec(ctx context.Context, sql string, arguments ...any) (commandTag pgconn.CommandTag, err error) {
	return
}
func (m *MockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (m *MockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (m *MockTx) Conn() *pgx.Conn                                               { return nil }

// fakeLedger is an in-memory stock ledger honouring references.
type fakeLedger struct {
	mu       sync.Mutex
	products map[int64]*model.StockRecord
	applied  map[string]bool
	// failures injects transient errors per product; each call consumes one.
	failures map[int64]int
	// advertised overrides the quantity GetStock reports.
	advertised map[int64]int
	// deltas records every delta requested per product, in call order.
	deltas map[int64][]int
	calls  int
}

func newFakeLedger(products ...model.StockRecord) *fakeLedger {
	l := &fakeLedger{
		products:   make(map[int64]*model.StockRecord),
		applied:    make(map[string]bool),
		failures:   make(map[int64]int),
		advertised: make(map[int64]int),
		deltas:     make(map[int64][]int),
	}
	for i := range products {
		p := products[i]
		l.products[p.ID] = &p
	}
	return l
}

func (l *fakeLedger) GetStock(ctx context.Context, productID int64) (*model.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.products[productID]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	record := *p
	if q, ok := l.advertised[productID]; ok {
		record.StockQuantity = q
	}
	return &record, nil
}

func (l *fakeLedger) ApplyDelta(ctx context.Context, productID int64, delta int, reference string) (*model.StockChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.deltas[productID] = append(l.deltas[productID], delta)

	if l.failures[productID] > 0 {
		l.failures[productID]--
		return nil, model.WrapError(model.KindUpstreamUnavailable, "inventory service unavailable", errors.New("connection refused"))
	}

	p, ok := l.products[productID]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	if reference != "" && l.applied[reference] {
		return &model.StockChange{ProductID: productID, NewQuantity: p.StockQuantity, Replayed: true}, nil
	}
	if p.StockQuantity+delta < 0 {
		return nil, model.ErrInsufficientStock
	}
	p.StockQuantity += delta
	if reference != "" {
		l.applied[reference] = true
	}
	return &model.StockChange{ProductID: productID, NewQuantity: p.StockQuantity}, nil
}

func (l *fakeLedger) stock(productID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.products[productID].StockQuantity
}

func (l *fakeLedger) fail(productID int64, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[productID] = times
}

func (l *fakeLedger) deltasFor(productID int64) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.deltas[productID]...)
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.OrderEvent
}

func (p *recordingPublisher) Publish(event model.OrderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// stubQueue records enqueued order IDs.
type stubQueue struct {
	mu  sync.Mutex
	ids []int64
}

func (q *stubQueue) Enqueue(orderID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, orderID)
	return true
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// catalogue is the two-product ledger most tests start from.
func catalogue() *fakeLedger {
	return newFakeLedger(
		model.StockRecord{ID: 1, Name: "Laptop", Price: dec("45000.00"), StockQuantity: 50},
		model.StockRecord{ID: 2, Name: "Mouse", Price: dec("1500.00"), StockQuantity: 5},
	)
}

// expectPersist wires a successful order transaction, assigning IDs as the database would.
func expectPersist(repo *MockOrderRepository, tx *MockTx) {
	var nextOrderID, nextLineID atomic.Int64

	repo.On("BeginTx", mock.Anything).Return(tx, nil)
	repo.On("CreateOrder", mock.Anything, tx, mock.AnythingOfType("*model.Order")).
		Run(func(args mock.Arguments) {
			order := args.Get(2).(*model.Order)
			order.ID = nextOrderID.Add(1)
			order.CreatedAt = time.Now()
			order.UpdatedAt = order.CreatedAt
		}).
		Return(nil)
	repo.On("CreateOrderLines", mock.Anything, tx, mock.AnythingOfType("[]model.OrderLine")).
		Run(func(args mock.Arguments) {
			lines := args.Get(2).([]model.OrderLine)
			for i := range lines {
				lines[i].ID = nextLineID.Add(1)
			}
		}).
		Return(nil)
	tx.On("Commit", mock.Anything).Return(nil)
}

// allowBookkeeping accepts every state write the workflow makes after commit.
func allowBookkeeping(repo *MockOrderRepository) {
	repo.On("UpdateLineDeduction", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("UpdateReservation", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()
}

func newTestOrderService(repo *MockOrderRepository, ledger StockLedger, policy string) (OrderService, *stubQueue, *recordingPublisher) {
	queue := &stubQueue{}
	events := &recordingPublisher{}
	svc := NewOrderService(repo, ledger, queue, events, OrderOptions{
		PartialFailurePolicy: policy,
		EnforceTransitions:   true,
		Retry:                RetryOptions{MaxRetries: 1, Interval: time.Millisecond},
	}, zerolog.Nop())
	return svc, queue, events
}

var customer = model.Caller{ID: 7, Email: "buyer@example.com"}

func laptopsAndMouse() *model.PlaceOrderRequest {
	return &model.PlaceOrderRequest{Items: []model.OrderLineRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}}
}

func TestOrderService_PlaceOrder_Success(t *testing.T) {
	ctx := context.Background()
	ledger := catalogue()
	mockOrderRepo := new(MockOrderRepository)
	mockTx := new(MockTx)
	expectPersist(mockOrderRepo, mockTx)
	allowBookkeeping(mockOrderRepo)

	service, queue, events := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	order, err := service.PlaceOrder(ctx, customer, laptopsAndMouse())

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, int64(7), order.UserID)
	assert.True(t, dec("91500").Equal(order.TotalAmount), "total was %s", order.TotalAmount)
	assert.Equal(t, model.StatusConfirmed, order.Status)
	assert.Equal(t, model.ReservationComplete, order.Reservation)
	require.Len(t, order.Lines, 2)
	for _, line := range order.Lines {
		assert.Equal(t, model.DeductionApplied, line.Deduction)
	}
	assert.True(t, dec("45000").Equal(order.Lines[0].PriceAtPurchase))

	assert.Equal(t, 48, ledger.stock(1))
	assert.Equal(t, 4, ledger.stock(2))

	assert.Equal(t, []int64{order.ID}, queue.ids)
	assert.Equal(t, []string{model.EventOrderPlaced}, events.types())

	mockOrderRepo.AssertCalled(t, "UpdateReservation", mock.Anything, order.ID, model.ReservationComplete)
	mockOrderRepo.AssertCalled(t, "UpdateStatus", mock.Anything, order.ID, model.StatusCreated, model.StatusConfirmed)
	mockTx.AssertExpectations(t)
}

func TestOrderService_PlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  *model.PlaceOrderRequest
	}{
		{name: "Nil request", req: nil},
		{name: "No items", req: &model.PlaceOrderRequest{}},
		{name: "Zero quantity", req: &model.PlaceOrderRequest{Items: []model.OrderLineRequest{{ProductID: 1, Quantity: 0}}}},
		{name: "Negative quantity", req: &model.PlaceOrderRequest{Items: []model.OrderLineRequest{{ProductID: 1, Quantity: -3}}}},
		{name: "Invalid product", req: &model.PlaceOrderRequest{Items: []model.OrderLineRequest{{ProductID: 0, Quantity: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := catalogue()
			mockOrderRepo := new(MockOrderRepository)
			service, _, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

			order, err := service.PlaceOrder(context.Background(), customer, tt.req)

			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, model.KindValidation, model.KindOf(err))
			assert.Zero(t, ledger.callCount())
			mockOrderRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
		})
	}
}

func TestOrderService_PlaceOrder_StockCheckFailures(t *testing.T) {
	tests := []struct {
		name         string
		items        []model.OrderLineRequest
		expectedKind model.ErrorKind
	}{
		{
			name:         "Unknown product",
			items:        []model.OrderLineRequest{{ProductID: 99, Quantity: 1}},
			expectedKind: model.KindNotFound,
		},
		{
			name:         "Quantity above stock",
			items:        []model.OrderLineRequest{{ProductID: 2, Quantity: 6}},
			expectedKind: model.KindInsufficientStock,
		},
		{
			name: "Repeated product exceeds stock in total",
			items: []model.OrderLineRequest{
				{ProductID: 2, Quantity: 3},
				{ProductID: 2, Quantity: 3},
			},
			expectedKind: model.KindInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := catalogue()
			mockOrderRepo := new(MockOrderRepository)
			service, queue, events := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

			order, err := service.PlaceOrder(context.Background(), customer, &model.PlaceOrderRequest{Items: tt.items})

			require.Error(t, err)
			assert.Nil(t, order)
			assert.Equal(t, tt.expectedKind, model.KindOf(err))
			assert.Equal(t, 50, ledger.stock(1))
			assert.Equal(t, 5, ledger.stock(2))
			assert.Empty(t, queue.ids)
			assert.Empty(t, events.types())
			mockOrderRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
		})
	}
}

// unavailableLedger fails every call at the transport level.
type unavailableLedger struct{}

func (unavailableLedger) GetStock(ctx context.Context, productID int64) (*model.StockRecord, error) {
	return nil, model.WrapError(model.KindUpstreamUnavailable, "inventory service unavailable", errors.New("dial tcp: connection refused"))
}

func (unavailableLedger) ApplyDelta(ctx context.Context, productID int64, delta int, reference string) (*model.StockChange, error) {
	return nil, model.WrapError(model.KindUpstreamUnavailable, "inventory service unavailable", errors.New("dial tcp: connection refused"))
}

func TestOrderService_PlaceOrder_LedgerUnavailable(t *testing.T) {
	mockOrderRepo := new(MockOrderRepository)
	service, _, _ := newTestOrderService(mockOrderRepo, unavailableLedger{}, PolicyHold)

	order, err := service.PlaceOrder(context.Background(), customer, laptopsAndMouse())

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindUpstreamUnavailable, model.KindOf(err))
	mockOrderRepo.AssertNotCalled(t, "BeginTx", mock.Anything)
}

func TestOrderService_PlaceOrder_PersistFailure(t *testing.T) {
	ctx := context.Background()
	ledger := catalogue()
	mockOrderRepo := new(MockOrderRepository)
	mockTx := new(MockTx)

	mockOrderRepo.On("BeginTx", ctx).Return(mockTx, nil)
	mockOrderRepo.On("CreateOrder", ctx, mockTx, mock.AnythingOfType("*model.Order")).Return(errors.New("database error"))
	mockTx.On("Rollback", ctx).Return(nil)

	service, queue, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	order, err := service.PlaceOrder(ctx, customer, laptopsAndMouse())

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindInternal, model.KindOf(err))
	assert.Zero(t, ledger.callCount())
	assert.Empty(t, queue.ids)
	mockTx.AssertCalled(t, "Rollback", ctx)
	mockTx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestOrderService_PlaceOrder_BeginTxFailure(t *testing.T) {
	ctx := context.Background()
	mockOrderRepo := new(MockOrderRepository)
	mockOrderRepo.On("BeginTx", ctx).Return(nil, errors.New("connection failed"))

	service, _, _ := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

	order, err := service.PlaceOrder(ctx, customer, laptopsAndMouse())

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Contains(t, err.Error(), "failed to create order")
}

func TestOrderService_PlaceOrder_LostStockRace(t *testing.T) {
	ctx := context.Background()
	ledger := catalogue()
	// The check sees stock that is gone by the time the deduction lands.
	ledger.advertised[1] = 50
	ledger.products[1].StockQuantity = 1

	mockOrderRepo := new(MockOrderRepository)
	expectPersist(mockOrderRepo, new(MockTx))
	allowBookkeeping(mockOrderRepo)

	service, queue, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	req := &model.PlaceOrderRequest{Items: []model.OrderLineRequest{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	}}
	order, err := service.PlaceOrder(ctx, customer, req)

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindInsufficientStock, model.KindOf(err))

	// The mouse deduction was applied and then credited back.
	assert.Equal(t, 5, ledger.stock(2))
	assert.Equal(t, 1, ledger.stock(1))
	assert.Empty(t, queue.ids)

	mockOrderRepo.AssertCalled(t, "UpdateReservation", mock.Anything, int64(1), model.ReservationReleased)
	mockOrderRepo.AssertCalled(t, "UpdateStatus", mock.Anything, int64(1), model.StatusCreated, model.StatusCancelled)
	mockOrderRepo.AssertCalled(t, "UpdateLineDeduction", mock.Anything, int64(1), model.DeductionReleased)
	mockOrderRepo.AssertCalled(t, "UpdateLineDeduction", mock.Anything, int64(2), model.DeductionFailed)
}

func TestOrderService_PlaceOrder_RejectedMiddleLine(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger(
		model.StockRecord{ID: 1, Name: "Laptop", Price: dec("45000.00"), StockQuantity: 50},
		model.StockRecord{ID: 2, Name: "Mouse", Price: dec("1500.00"), StockQuantity: 0},
		model.StockRecord{ID: 3, Name: "Cable", Price: dec("9.90"), StockQuantity: 1},
	)
	// The mouse sold out between the check and the deduction.
	ledger.advertised[2] = 5

	mockOrderRepo := new(MockOrderRepository)
	expectPersist(mockOrderRepo, new(MockTx))
	allowBookkeeping(mockOrderRepo)

	service, _, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	req := &model.PlaceOrderRequest{Items: []model.OrderLineRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
		{ProductID: 3, Quantity: 1},
	}}
	order, err := service.PlaceOrder(ctx, customer, req)

	require.Error(t, err)
	assert.Nil(t, order)
	assert.Equal(t, model.KindInsufficientStock, model.KindOf(err))

	assert.Equal(t, []int{-2, 2}, ledger.deltasFor(1))
	assert.Equal(t, []int{-1}, ledger.deltasFor(2))
	assert.Empty(t, ledger.deltasFor(3), "the line after the rejection never reaches the ledger")
	assert.Equal(t, 1, ledger.stock(3))

	mockOrderRepo.AssertCalled(t, "UpdateLineDeduction", mock.Anything, int64(1), model.DeductionReleased)
	mockOrderRepo.AssertCalled(t, "UpdateLineDeduction", mock.Anything, int64(2), model.DeductionFailed)
	mockOrderRepo.AssertCalled(t, "UpdateLineDeduction", mock.Anything, int64(3), model.DeductionReleased)
	mockOrderRepo.AssertNotCalled(t, "UpdateLineDeduction", mock.Anything, int64(3), model.DeductionPending)
	mockOrderRepo.AssertCalled(t, "UpdateReservation", mock.Anything, int64(1), model.ReservationReleased)
}

func TestOrderService_PlaceOrder_PartialFailurePolicies(t *testing.T) {
	tests := []struct {
		name                string
		policy              string
		expectedStatus      model.OrderStatus
		expectedReservation model.ReservationStatus
		expectedLaptopStock int
	}{
		{
			name:                "Confirm keeps the order",
			policy:              PolicyConfirm,
			expectedStatus:      model.StatusConfirmed,
			expectedReservation: model.ReservationPartial,
			expectedLaptopStock: 48,
		},
		{
			name:                "Hold leaves the order for reconciliation",
			policy:              PolicyHold,
			expectedStatus:      model.StatusCreated,
			expectedReservation: model.ReservationPartial,
			expectedLaptopStock: 48,
		},
		{
			name:   "Cancel releases what was applied",
			policy: PolicyCancel,
			// The mouse line is still unsettled, so the release is incomplete.
			expectedStatus:      model.StatusCancelled,
			expectedReservation: model.ReservationPartial,
			expectedLaptopStock: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := catalogue()
			ledger.fail(2, 100)

			mockOrderRepo := new(MockOrderRepository)
			expectPersist(mockOrderRepo, new(MockTx))
			allowBookkeeping(mockOrderRepo)

			service, queue, events := newTestOrderService(mockOrderRepo, ledger, tt.policy)

			order, err := service.PlaceOrder(context.Background(), customer, laptopsAndMouse())

			require.NoError(t, err)
			require.NotNil(t, order)
			assert.Equal(t, tt.expectedStatus, order.Status)
			assert.Equal(t, tt.expectedReservation, order.Reservation)
			assert.Equal(t, tt.expectedLaptopStock, ledger.stock(1))
			assert.Equal(t, model.DeductionPending, order.Lines[1].Deduction)
			assert.Equal(t, []int64{order.ID}, queue.ids)
			assert.Equal(t, []string{model.EventOrderPlaced}, events.types())
		})
	}
}

func TestOrderService_PlaceOrder_TransientFailureRecovers(t *testing.T) {
	ledger := catalogue()
	ledger.fail(1, 1)

	mockOrderRepo := new(MockOrderRepository)
	expectPersist(mockOrderRepo, new(MockTx))
	allowBookkeeping(mockOrderRepo)

	service, _, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	order, err := service.PlaceOrder(context.Background(), customer, laptopsAndMouse())

	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, order.Status)
	assert.Equal(t, model.ReservationComplete, order.Reservation)
	assert.Equal(t, 48, ledger.stock(1))
}

func TestOrderService_PlaceOrder_ConcurrentLastUnit(t *testing.T) {
	ledger := newFakeLedger(model.StockRecord{ID: 3, Name: "Last one", Price: dec("99.90"), StockQuantity: 1})

	mockOrderRepo := new(MockOrderRepository)
	expectPersist(mockOrderRepo, new(MockTx))
	allowBookkeeping(mockOrderRepo)

	service, _, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	const buyers = 2
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			req := &model.PlaceOrderRequest{Items: []model.OrderLineRequest{{ProductID: 3, Quantity: 1}}}
			_, err := service.PlaceOrder(context.Background(), model.Caller{ID: userID}, req)
			switch {
			case err == nil:
				succeeded.Add(1)
			case model.KindOf(err) == model.KindInsufficientStock:
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, 0, ledger.stock(3))
}

func TestOrderService_GetOrder(t *testing.T) {
	ctx := context.Background()
	stored := &model.Order{ID: 12, UserID: 7, Status: model.StatusConfirmed}

	tests := []struct {
		name         string
		caller       model.Caller
		id           int64
		setupMocks   func(*MockOrderRepository)
		expectedKind model.ErrorKind
	}{
		{
			name:   "Owner sees order",
			caller: customer,
			id:     12,
			setupMocks: func(m *MockOrderRepository) {
				m.On("GetByID", ctx, int64(12)).Return(stored, nil)
			},
		},
		{
			name:   "Privileged caller sees any order",
			caller: model.Caller{ID: 1, Privileged: true},
			id:     12,
			setupMocks: func(m *MockOrderRepository) {
				m.On("GetByID", ctx, int64(12)).Return(stored, nil)
			},
		},
		{
			name:   "Other user gets not found",
			caller: model.Caller{ID: 8},
			id:     12,
			setupMocks: func(m *MockOrderRepository) {
				m.On("GetByID", ctx, int64(12)).Return(stored, nil)
			},
			expectedKind: model.KindNotFound,
		},
		{
			name:   "Missing order",
			caller: customer,
			id:     13,
			setupMocks: func(m *MockOrderRepository) {
				m.On("GetByID", ctx, int64(13)).Return(nil, nil)
			},
			expectedKind: model.KindNotFound,
		},
		{
			name:   "Database error",
			caller: customer,
			id:     12,
			setupMocks: func(m *MockOrderRepository) {
				m.On("GetByID", ctx, int64(12)).Return(nil, errors.New("database error"))
			},
			expectedKind: model.KindInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockOrderRepo := new(MockOrderRepository)
			tt.setupMocks(mockOrderRepo)
			service, _, _ := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

			order, err := service.GetOrder(ctx, tt.caller, tt.id)

			if tt.expectedKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectedKind, model.KindOf(err))
				assert.Nil(t, order)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(12), order.ID)
			mockOrderRepo.AssertExpectations(t)
		})
	}
}

func TestOrderService_ListOrders(t *testing.T) {
	ctx := context.Background()
	owner := int64(7)

	tests := []struct {
		name           string
		caller         model.Caller
		limit          int
		offset         int
		expectedFilter repository.OrderFilter
	}{
		{
			name:           "Customer sees own orders",
			caller:         customer,
			limit:          5,
			expectedFilter: repository.OrderFilter{UserID: &owner, Limit: 5},
		},
		{
			name:           "Privileged caller sees all orders",
			caller:         model.Caller{ID: 1, Privileged: true},
			limit:          5,
			offset:         10,
			expectedFilter: repository.OrderFilter{Limit: 5, Offset: 10},
		},
		{
			name:           "Defaults applied",
			caller:         customer,
			limit:          0,
			offset:         -1,
			expectedFilter: repository.OrderFilter{UserID: &owner, Limit: 10},
		},
		{
			name:           "Limit capped",
			caller:         customer,
			limit:          500,
			expectedFilter: repository.OrderFilter{UserID: &owner, Limit: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockOrderRepo := new(MockOrderRepository)
			mockOrderRepo.On("List", ctx, tt.expectedFilter).Return([]model.Order{{ID: 1}}, nil)
			service, _, _ := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

			orders, err := service.ListOrders(ctx, tt.caller, tt.limit, tt.offset)

			require.NoError(t, err)
			assert.Len(t, orders, 1)
			mockOrderRepo.AssertExpectations(t)
		})
	}
}

func TestOrderService_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		current        model.OrderStatus
		caller         model.Caller
		status         string
		repoUpdated    bool
		expectedKind   model.ErrorKind
		expectedStatus model.OrderStatus
		expectUpdate   bool
		expectEvent    bool
	}{
		{
			name:           "Legal transition",
			current:        model.StatusConfirmed,
			caller:         customer,
			status:         "shipped",
			repoUpdated:    true,
			expectedStatus: model.StatusShipped,
			expectUpdate:   true,
			expectEvent:    true,
		},
		{
			name:           "Privileged caller on another user's order",
			current:        model.StatusShipped,
			caller:         model.Caller{ID: 1, Privileged: true},
			status:         "DELIVERED",
			repoUpdated:    true,
			expectedStatus: model.StatusDelivered,
			expectUpdate:   true,
			expectEvent:    true,
		},
		{
			name:           "Same status is a no-op",
			current:        model.StatusConfirmed,
			caller:         customer,
			status:         "CONFIRMED",
			expectedStatus: model.StatusConfirmed,
		},
		{
			name:         "Unknown status",
			current:      model.StatusConfirmed,
			caller:       customer,
			status:       "LOST",
			expectedKind: model.KindValidation,
		},
		{
			name:         "Illegal transition",
			current:      model.StatusDelivered,
			caller:       customer,
			status:       "CREATED",
			expectedKind: model.KindConflict,
		},
		{
			name:         "Other user cannot see the order",
			current:      model.StatusConfirmed,
			caller:       model.Caller{ID: 8},
			status:       "SHIPPED",
			expectedKind: model.KindNotFound,
		},
		{
			name:         "Concurrent change",
			current:      model.StatusConfirmed,
			caller:       customer,
			status:       "SHIPPED",
			repoUpdated:  false,
			expectedKind: model.KindConflict,
			expectUpdate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := &model.Order{ID: 12, UserID: 7, Status: tt.current, Reservation: model.ReservationComplete}

			mockOrderRepo := new(MockOrderRepository)
			mockOrderRepo.On("GetByID", ctx, int64(12)).Return(stored, nil).Maybe()
			next, _ := model.ParseOrderStatus(tt.status)
			mockOrderRepo.On("UpdateStatus", ctx, int64(12), tt.current, next).Return(tt.repoUpdated, nil).Maybe()

			service, _, events := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

			order, err := service.UpdateStatus(ctx, tt.caller, 12, tt.status)

			if tt.expectUpdate {
				mockOrderRepo.AssertCalled(t, "UpdateStatus", ctx, int64(12), tt.current, next)
			} else {
				mockOrderRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}

			if tt.expectedKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectedKind, model.KindOf(err))
				assert.Nil(t, order)
				assert.Empty(t, events.types())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedStatus, order.Status)
			if tt.expectEvent {
				assert.Equal(t, []string{model.EventOrderStatusChanged}, events.types())
			} else {
				assert.Empty(t, events.types())
			}
		})
	}
}

func TestOrderService_UpdateStatus_RejectionDetail(t *testing.T) {
	tests := []struct {
		name           string
		current        model.OrderStatus
		status         string
		expectedDetail string
	}{
		{name: "Terminal order", current: model.StatusCancelled, status: "CONFIRMED", expectedDetail: "order is CANCELLED and can no longer change status"},
		{name: "Skipped step", current: model.StatusConfirmed, status: "DELIVERED", expectedDetail: "cannot change order status from CONFIRMED to DELIVERED"},
		{name: "Unknown status", current: model.StatusConfirmed, status: "lost", expectedDetail: `invalid status "lost"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			stored := &model.Order{ID: 12, UserID: 7, Status: tt.current, Reservation: model.ReservationReleased}

			mockOrderRepo := new(MockOrderRepository)
			mockOrderRepo.On("GetByID", ctx, int64(12)).Return(stored, nil).Maybe()
			service, _, _ := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

			_, err := service.UpdateStatus(ctx, customer, 12, tt.status)

			require.Error(t, err)
			assert.Equal(t, tt.expectedDetail, model.DetailOf(err))
			mockOrderRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestOrderService_UpdateStatus_TransitionsNotEnforced(t *testing.T) {
	ctx := context.Background()
	stored := &model.Order{ID: 12, UserID: 7, Status: model.StatusDelivered, Reservation: model.ReservationComplete}

	mockOrderRepo := new(MockOrderRepository)
	mockOrderRepo.On("GetByID", ctx, int64(12)).Return(stored, nil)
	mockOrderRepo.On("UpdateStatus", ctx, int64(12), model.StatusDelivered, model.StatusShipped).Return(true, nil)

	service := NewOrderService(mockOrderRepo, catalogue(), &stubQueue{}, &recordingPublisher{}, OrderOptions{
		PartialFailurePolicy: PolicyHold,
	}, zerolog.Nop())

	order, err := service.UpdateStatus(ctx, customer, 12, "SHIPPED")

	require.NoError(t, err)
	assert.Equal(t, model.StatusShipped, order.Status)
}

func TestOrderService_UpdateStatus_CancelReleasesStock(t *testing.T) {
	ctx := context.Background()
	ledger := catalogue()

	stored := &model.Order{
		ID:          12,
		UserID:      7,
		Status:      model.StatusConfirmed,
		Reservation: model.ReservationComplete,
		Lines: []model.OrderLine{
			{ID: 1, OrderID: 12, ProductID: 1, Quantity: 2, PriceAtPurchase: dec("45000"), Deduction: model.DeductionApplied},
			{ID: 2, OrderID: 12, ProductID: 2, Quantity: 1, PriceAtPurchase: dec("1500"), Deduction: model.DeductionApplied},
		},
	}
	for _, line := range stored.Lines {
		_, err := ledger.ApplyDelta(ctx, line.ProductID, -line.Quantity, line.DeductionReference())
		require.NoError(t, err)
	}
	require.Equal(t, 48, ledger.stock(1))

	mockOrderRepo := new(MockOrderRepository)
	mockOrderRepo.On("GetByID", ctx, int64(12)).Return(stored, nil)
	mockOrderRepo.On("UpdateStatus", ctx, int64(12), model.StatusConfirmed, model.StatusCancelled).Return(true, nil)
	allowBookkeeping(mockOrderRepo)

	service, _, events := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

	order, err := service.UpdateStatus(ctx, customer, 12, "CANCELLED")

	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, order.Status)
	assert.Equal(t, model.ReservationReleased, order.Reservation)
	assert.Equal(t, 50, ledger.stock(1))
	assert.Equal(t, 5, ledger.stock(2))
	assert.Equal(t, []string{model.EventOrderStatusChanged}, events.types())
}

func TestOrderService_CancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing order", func(t *testing.T) {
		mockOrderRepo := new(MockOrderRepository)
		mockOrderRepo.On("GetByID", ctx, int64(5)).Return(nil, nil)
		service, _, _ := newTestOrderService(mockOrderRepo, catalogue(), PolicyHold)

		err := service.CancelOrder(ctx, 5)

		require.Error(t, err)
		assert.Equal(t, model.KindNotFound, model.KindOf(err))
	})

	t.Run("Already released", func(t *testing.T) {
		mockOrderRepo := new(MockOrderRepository)
		mockOrderRepo.On("GetByID", ctx, int64(5)).Return(&model.Order{
			ID: 5, Status: model.StatusCancelled, Reservation: model.ReservationReleased,
		}, nil)
		ledger := catalogue()
		service, _, _ := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

		require.NoError(t, service.CancelOrder(ctx, 5))
		assert.Zero(t, ledger.callCount())
	})

	t.Run("Releases held stock", func(t *testing.T) {
		ledger := catalogue()
		line := model.OrderLine{ID: 9, OrderID: 5, ProductID: 2, Quantity: 2, Deduction: model.DeductionApplied}
		_, err := ledger.ApplyDelta(ctx, 2, -2, line.DeductionReference())
		require.NoError(t, err)

		mockOrderRepo := new(MockOrderRepository)
		mockOrderRepo.On("GetByID", ctx, int64(5)).Return(&model.Order{
			ID: 5, UserID: 7, Status: model.StatusConfirmed, Reservation: model.ReservationComplete,
			Lines: []model.OrderLine{line},
		}, nil)
		allowBookkeeping(mockOrderRepo)
		service, _, events := newTestOrderService(mockOrderRepo, ledger, PolicyHold)

		require.NoError(t, service.CancelOrder(ctx, 5))
		assert.Equal(t, 5, ledger.stock(2))
		mockOrderRepo.AssertCalled(t, "UpdateStatus", mock.Anything, int64(5), model.StatusConfirmed, model.StatusCancelled)
		mockOrderRepo.AssertCalled(t, "UpdateReservation", mock.Anything, int64(5), model.ReservationReleased)
		assert.Equal(t, []string{model.EventOrderStatusChanged}, events.types())
	})
}
