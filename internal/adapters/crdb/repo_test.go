package crdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	"github.com/eventora/ticketing-core/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

func newTestRepo(t *testing.T) (*crdb.Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	dsn, err := crdbContainer.Endpoint(ctx, "postgresql")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, dsn+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, crdb.Schema); err != nil {
		t.Fatal(err)
	}
	return crdb.NewRepository(pool), pool
}

func TestTryHoldCategory_Ledger(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, pool := newTestRepo(t)

	cat := domain.TicketCategory{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Name:      "GA",
		UnitPrice: 50,
		Total:     10,
	}
	if err := repo.CreateCategory(ctx, repo.Pool(), cat); err != nil {
		t.Fatal(err)
	}

	// 20 callers race for 10 units; the conditional update must admit
	// exactly 10 and keep sold+held within total.
	var g errgroup.Group
	granted := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			err := repo.WithTx(ctx, func(tx pgx.Tx) error {
				return repo.TryHoldCategory(ctx, tx, cat.ID, 1)
			})
			if err == nil {
				granted <- struct{}{}
				return nil
			}
			if errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrSerializationFailure) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	close(granted)

	var sold, held, total int
	err := pool.QueryRow(ctx, `SELECT sold, held, total FROM ticket_categories WHERE id = $1`, cat.ID).
		Scan(&sold, &held, &total)
	if err != nil {
		t.Fatal(err)
	}
	if sold+held > total {
		t.Errorf("ledger overdrawn: sold=%d held=%d total=%d", sold, held, total)
	}
	if held != len(granted) {
		t.Errorf("held counter %d does not match %d granted holds", held, len(granted))
	}
	if held > total {
		t.Errorf("granted %d holds for capacity %d", held, total)
	}
}

func TestTryHoldCategory_Oversubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	cat := domain.TicketCategory{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Name:      "VIP",
		UnitPrice: 120,
		Total:     3,
	}
	if err := repo.CreateCategory(ctx, repo.Pool(), cat); err != nil {
		t.Fatal(err)
	}

	if err := repo.TryHoldCategory(ctx, repo.Pool(), cat.ID, 3); err != nil {
		t.Fatalf("hold within capacity: %v", err)
	}
	err := repo.TryHoldCategory(ctx, repo.Pool(), cat.ID, 1)
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}

	if err := repo.ConfirmCategory(ctx, repo.Pool(), cat.ID, 2); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReleaseCategory(ctx, repo.Pool(), cat.ID, 1); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetCategory(ctx, repo.Pool(), cat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sold != 2 || got.Held != 0 || got.Available() != 1 {
		t.Errorf("expected sold=2 held=0 available=1, got sold=%d held=%d available=%d",
			got.Sold, got.Held, got.Available())
	}
}

func TestTryHoldEvent_Oversubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, pool := newTestRepo(t)

	eventID := uuid.New()
	if err := repo.CreateEventCapacity(ctx, repo.Pool(), eventID, 3); err != nil {
		t.Fatal(err)
	}

	if err := repo.TryHoldEvent(ctx, repo.Pool(), eventID, 3); err != nil {
		t.Fatalf("hold within capacity: %v", err)
	}
	err := repo.TryHoldEvent(ctx, repo.Pool(), eventID, 1)
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("expected ErrCapacityExceeded, got %v", err)
	}

	if err := repo.ConfirmEvent(ctx, repo.Pool(), eventID, 2); err != nil {
		t.Fatal(err)
	}
	if err := repo.ReleaseEvent(ctx, repo.Pool(), eventID, 1); err != nil {
		t.Fatal(err)
	}

	var sold, held, total int
	err = pool.QueryRow(ctx, `SELECT sold, held, total FROM event_capacity WHERE event_id = $1`, eventID).
		Scan(&sold, &held, &total)
	if err != nil {
		t.Fatal(err)
	}
	if sold != 2 || held != 0 || total != 3 {
		t.Errorf("expected sold=2 held=0 total=3, got sold=%d held=%d total=%d", sold, held, total)
	}

	// Releasing more than is held must not drive the counter negative.
	if err := repo.ReleaseEvent(ctx, repo.Pool(), eventID, 1); err == nil {
		t.Error("expected release beyond held to fail")
	}
}

func TestTryHoldSeats_Exclusivity(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	eventID := uuid.New()
	categoryID := uuid.New()
	seats := []crdb.SeatRequest{
		{SeatID: "A1", CategoryID: categoryID},
		{SeatID: "A2", CategoryID: categoryID},
	}
	expiresAt := time.Now().Add(15 * time.Minute)

	// Two bookings race for overlapping seats; the unique index must award
	// each seat to at most one of them.
	wins := make([]int, 2)
	var g errgroup.Group
	for i := 0; i < 2; i++ {
		i := i
		g.Go(func() error {
			bookingID := uuid.New()
			var accepted []string
			err := repo.WithTx(ctx, func(tx pgx.Tx) error {
				var rejected []string
				var err error
				accepted, rejected, err = repo.TryHoldSeats(ctx, tx, eventID, seats, bookingID, expiresAt)
				if err != nil {
					return err
				}
				if len(rejected) > 0 {
					return &domain.CapacityError{Seats: rejected}
				}
				return nil
			})
			if err == nil {
				wins[i] = len(accepted)
				return nil
			}
			if errors.Is(err, domain.ErrCapacityExceeded) || errors.Is(err, domain.ErrSerializationFailure) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if wins[0]+wins[1] > 2 {
		t.Errorf("seats double-awarded: %v", wins)
	}
	_, held, err := repo.SeatStatus(ctx, repo.Pool(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(held) > 2 {
		t.Errorf("expected at most 2 held seats, got %v", held)
	}
}

func TestSettleBooking_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	b := domain.Booking{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		Mode:        domain.ModeCategory,
		CategoryID:  uuid.New(),
		Quantity:    2,
		TotalAmount: 100,
		Status:      domain.StatusPending,
		ExpiresAt:   time.Now().Add(15 * time.Minute),
		CreatedAt:   time.Now(),
	}
	if err := repo.CreateBooking(ctx, repo.Pool(), b); err != nil {
		t.Fatal(err)
	}

	// Ten concurrent settlement attempts; exactly one may observe the
	// PENDING->PAID transition.
	amount := 100.0
	won := make(chan string, 10)
	var g errgroup.Group
	for i := 0; i < 10; i++ {
		ref := uuid.New().String()
		g.Go(func() error {
			var ok bool
			err := repo.WithTx(ctx, func(tx pgx.Tx) error {
				var err error
				ok, err = repo.SettleBooking(ctx, tx, b.ID, ref, &amount, time.Now())
				return err
			})
			if errors.Is(err, domain.ErrSerializationFailure) {
				return nil
			}
			if err != nil {
				return err
			}
			if ok {
				won <- ref
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	close(won)

	var winners []string
	for ref := range won {
		winners = append(winners, ref)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}

	fetched, err := repo.GetBooking(ctx, repo.Pool(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != domain.StatusPaid {
		t.Errorf("expected PAID, got %s", fetched.Status)
	}
	if fetched.PaymentRef != winners[0] {
		t.Errorf("payment_ref %s does not match winning attempt %s", fetched.PaymentRef, winners[0])
	}
}

func TestSettleBooking_AmountGuard(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	b := domain.Booking{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		Mode:        domain.ModeCategory,
		CategoryID:  uuid.New(),
		Quantity:    1,
		TotalAmount: 150000,
		Status:      domain.StatusPending,
		ExpiresAt:   time.Now().Add(15 * time.Minute),
		CreatedAt:   time.Now(),
	}
	if err := repo.CreateBooking(ctx, repo.Pool(), b); err != nil {
		t.Fatal(err)
	}

	wrong := 140000.0
	ok, err := repo.SettleBooking(ctx, repo.Pool(), b.ID, "tx-1", &wrong, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("settlement accepted a mismatched amount")
	}

	// A sub-unit difference rounds away and settles.
	nearby := 150000.4
	ok, err = repo.SettleBooking(ctx, repo.Pool(), b.ID, "tx-2", &nearby, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("settlement rejected an amount equal after rounding")
	}

	fetched, err := repo.GetBooking(ctx, repo.Pool(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.Status != domain.StatusPaid || fetched.PaymentRef != "tx-2" {
		t.Errorf("expected PAID via tx-2, got %s via %s", fetched.Status, fetched.PaymentRef)
	}
}

func TestExpireBooking_Overdue(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	b := domain.Booking{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		EventID:     uuid.New(),
		Mode:        domain.ModeCategory,
		CategoryID:  uuid.New(),
		Quantity:    1,
		TotalAmount: 75,
		Status:      domain.StatusPending,
		ExpiresAt:   time.Now().Add(-time.Minute),
		CreatedAt:   time.Now().Add(-16 * time.Minute),
	}
	if err := repo.CreateBooking(ctx, repo.Pool(), b); err != nil {
		t.Fatal(err)
	}

	// Settlement must refuse the overdue booking even before any reaper
	// has marked it.
	ok, err := repo.SettleBooking(ctx, repo.Pool(), b.ID, "late-tx", nil, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("settled a booking past its hold window")
	}

	ok, err = repo.ExpireBooking(ctx, repo.Pool(), b.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected overdue booking to expire")
	}

	// Second expiry is a no-op, not an error.
	ok, err = repo.ExpireBooking(ctx, repo.Pool(), b.ID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expired the same booking twice")
	}

	ids, err := repo.GetOverdueBookings(ctx, repo.Pool(), time.Now(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no overdue bookings after expiry, got %v", ids)
	}
}

func TestReleaseExpiredSeats(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	repo, _ := newTestRepo(t)

	eventID := uuid.New()
	catA := uuid.New()
	catB := uuid.New()
	staleBooking := uuid.New()
	liveBooking := uuid.New()

	stale := []crdb.SeatRequest{
		{SeatID: "B1", CategoryID: catA},
		{SeatID: "B2", CategoryID: catA},
		{SeatID: "B3", CategoryID: catB},
	}
	if _, _, err := repo.TryHoldSeats(ctx, repo.Pool(), eventID, stale, staleBooking, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	live := []crdb.SeatRequest{{SeatID: "B4", CategoryID: catB}}
	if _, _, err := repo.TryHoldSeats(ctx, repo.Pool(), eventID, live, liveBooking, time.Now().Add(15*time.Minute)); err != nil {
		t.Fatal(err)
	}

	released, err := repo.ReleaseExpiredSeats(ctx, repo.Pool(), eventID, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 3 {
		t.Fatalf("expected 3 released seats, got %d", len(released))
	}
	perCategory := map[uuid.UUID]int{}
	for _, rel := range released {
		perCategory[rel.CategoryID]++
	}
	if perCategory[catA] != 2 || perCategory[catB] != 1 {
		t.Errorf("released counts per category wrong: %v", perCategory)
	}

	_, held, err := repo.SeatStatus(ctx, repo.Pool(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(held) != 1 || held[0] != "B4" {
		t.Errorf("expected only B4 still held, got %v", held)
	}
}
