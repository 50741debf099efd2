package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/eventora/ticketing-core/internal/adapters/crdb"
	mongoadapter "github.com/eventora/ticketing-core/internal/adapters/mongo"
	redisadapter "github.com/eventora/ticketing-core/internal/adapters/redis"
	"github.com/eventora/ticketing-core/internal/booking"
	"github.com/eventora/ticketing-core/internal/config"
	"github.com/eventora/ticketing-core/internal/domain"
	httphandler "github.com/eventora/ticketing-core/internal/http"
	"github.com/eventora/ticketing-core/internal/idempotency"
	"github.com/eventora/ticketing-core/internal/observability"
	"github.com/eventora/ticketing-core/internal/rateLimit"
	"github.com/eventora/ticketing-core/internal/settlement"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestIntegration_ReserveAndSettle(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	crdbHost, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	crdbPort, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}
	mongoHost, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mongoPort, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	redisHost, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		CRDBDSN:        "postgresql://root@" + crdbHost + ":" + crdbPort.Port() + "/defaultdb?sslmode=disable",
		MongoURI:       "mongodb://" + mongoHost + ":" + mongoPort.Port(),
		RedisAddr:      redisHost + ":" + redisPort.Port(),
		JWTSecret:      "integration-test-secret",
		WebhookAPIKey:  "hook-key-123",
		HoldTTL:        5 * time.Minute,
		QRImageBaseURL: "https://qr.example/image.png",
	}

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, crdb.Schema); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("ticketing")
	logger := observability.NewLogger()
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	reservations := booking.NewService(repo, catalog, redisCache, audit, logger, cfg.HoldTTL)
	settlements := settlement.NewService(repo, audit, logger)

	handlers := httphandler.NewHandlers(cfg, reservations, settlements, idemp)
	r := httphandler.SetupRouter(cfg, handlers, logger, rl)

	srv := &http.Server{Addr: ":8081", Handler: r}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(100 * time.Millisecond)

	base := "http://localhost:8081"

	// Seed the catalog and the capacity ledger.
	eventID := uuid.New()
	categoryID := uuid.New()
	event := mongoadapter.EventDoc{
		ID:       eventID,
		Name:     "Integration Night",
		Venue:    "Hall 1",
		Date:     time.Now().Add(48 * time.Hour),
		SeatMode: true,
		Seats: []mongoadapter.SeatDoc{
			{SeatID: "A1", Row: "A", Section: "Main", CategoryID: categoryID.String()},
			{SeatID: "A2", Row: "A", Section: "Main", CategoryID: categoryID.String()},
			{SeatID: "A3", Row: "A", Section: "Main", CategoryID: categoryID.String()},
		},
	}
	if err := catalog.CreateEvent(ctx, event); err != nil {
		t.Fatal(err)
	}
	cat := domain.TicketCategory{
		ID:        categoryID,
		EventID:   eventID,
		Name:      "Main",
		UnitPrice: 100000,
		Total:     10,
	}
	if err := repo.CreateCategory(ctx, repo.Pool(), cat); err != nil {
		t.Fatal(err)
	}

	userID := uuid.New()
	userToken := signToken(t, cfg.JWTSecret, userID, "user")
	adminToken := signToken(t, cfg.JWTSecret, uuid.New(), "admin")

	// Reserve two seats.
	reserveReq := map[string]interface{}{
		"event_id": eventID.String(),
		"mode":     "seat",
		"seats": []map[string]string{
			{"seat_id": "A1", "ticket_category_id": categoryID.String()},
			{"seat_id": "A2", "ticket_category_id": categoryID.String()},
		},
	}
	body, _ := json.Marshal(reserveReq)
	req, _ := http.NewRequest("POST", base+"/v1/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve failed, status %d", resp.StatusCode)
	}
	var reserved struct {
		BookingID   string  `json:"booking_id"`
		Status      string  `json:"status"`
		TotalAmount float64 `json:"total_amount"`
	}
	json.NewDecoder(resp.Body).Decode(&reserved)
	resp.Body.Close()
	if reserved.Status != "PENDING" || reserved.TotalAmount != 200000 {
		t.Fatalf("unexpected reservation %+v", reserved)
	}

	// Fetch the transfer instruction; its memo token is what the webhook
	// parser recovers.
	req, _ = http.NewRequest("GET", base+"/v1/bookings/"+reserved.BookingID+"/payment", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("descriptor failed, status %d", resp.StatusCode)
	}
	var desc struct {
		AddInfo string `json:"addInfo"`
	}
	json.NewDecoder(resp.Body).Decode(&desc)
	resp.Body.Close()
	if desc.AddInfo == "" {
		t.Fatal("empty addInfo in descriptor")
	}

	// Gateway callback settles the booking.
	hook := map[string]interface{}{
		"content":        "CT DEN " + desc.AddInfo + " GD 123",
		"transferAmount": 200000,
		"transferType":   "in",
		"referenceCode":  "FT0001",
	}
	body, _ = json.Marshal(hook)
	req, _ = http.NewRequest("POST", base+"/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Apikey "+cfg.WebhookAPIKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook failed, status %d", resp.StatusCode)
	}
	var hookResp struct {
		Success bool   `json:"success"`
		Ignored string `json:"ignored"`
		Booking struct {
			Status string `json:"status"`
		} `json:"booking"`
	}
	json.NewDecoder(resp.Body).Decode(&hookResp)
	resp.Body.Close()
	if !hookResp.Success || hookResp.Ignored != "" || hookResp.Booking.Status != "PAID" {
		t.Fatalf("unexpected webhook response %+v", hookResp)
	}

	// Gateway retry of the same callback must stay 200 and change nothing.
	body, _ = json.Marshal(hook)
	req, _ = http.NewRequest("POST", base+"/v1/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Apikey "+cfg.WebhookAPIKey)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook retry failed, status %d", resp.StatusCode)
	}
	hookResp.Ignored = ""
	json.NewDecoder(resp.Body).Decode(&hookResp)
	resp.Body.Close()
	if hookResp.Ignored == "" {
		t.Error("expected the retried webhook to be ignored")
	}

	// Admin confirm after the webhook already won answers 409.
	req, _ = http.NewRequest("POST", base+"/v1/bookings/"+reserved.BookingID+"/settle", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for admin settle of paid booking, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The settled seats show as sold.
	req, _ = http.NewRequest("GET", base+"/v1/events/"+eventID.String()+"/seats", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seat status failed, status %d", resp.StatusCode)
	}
	var seats struct {
		SoldSeatIDs []string `json:"soldSeatIds"`
		HeldSeatIDs []string `json:"heldSeatIds"`
	}
	json.NewDecoder(resp.Body).Decode(&seats)
	resp.Body.Close()
	if len(seats.SoldSeatIDs) != 2 || len(seats.HeldSeatIDs) != 0 {
		t.Errorf("expected 2 sold and 0 held, got %+v", seats)
	}

	// Ledger counters moved from held to sold.
	got, err := repo.GetCategory(ctx, repo.Pool(), categoryID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Sold != 2 || got.Held != 0 {
		t.Errorf("expected sold=2 held=0, got sold=%d held=%d", got.Sold, got.Held)
	}

	// Cancelling a seat booking must free the seat for the next buyer
	// immediately, pre-locks included.
	reserveA3 := func() (*http.Response, string) {
		t.Helper()
		body, _ := json.Marshal(map[string]interface{}{
			"event_id": eventID.String(),
			"mode":     "seat",
			"seats": []map[string]string{
				{"seat_id": "A3", "ticket_category_id": categoryID.String()},
			},
		})
		req, _ := http.NewRequest("POST", base+"/v1/bookings", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", uuid.New().String())
		req.Header.Set("Authorization", "Bearer "+userToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		var out struct {
			BookingID string `json:"booking_id"`
		}
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		return resp, out.BookingID
	}

	resp, firstA3 := reserveA3()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("reserve A3 failed, status %d", resp.StatusCode)
	}
	req, _ = http.NewRequest("POST", base+"/v1/bookings/"+firstA3+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel failed, status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, secondA3 := reserveA3()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected A3 free right after cancel, status %d", resp.StatusCode)
	}
	if secondA3 == firstA3 {
		t.Error("re-reservation returned the cancelled booking id")
	}

	// General admission events sell from the event aggregate counters,
	// priced from the catalog's base price.
	gaEventID := uuid.New()
	gaEvent := mongoadapter.EventDoc{
		ID:        gaEventID,
		Name:      "Open Field Night",
		Venue:     "Field",
		Date:      time.Now().Add(72 * time.Hour),
		BasePrice: 50000,
	}
	if err := catalog.CreateEvent(ctx, gaEvent); err != nil {
		t.Fatal(err)
	}
	if err := repo.CreateEventCapacity(ctx, repo.Pool(), gaEventID, 100); err != nil {
		t.Fatal(err)
	}

	body, _ = json.Marshal(map[string]interface{}{
		"event_id": gaEventID.String(),
		"mode":     "category",
		"quantity": 3,
	})
	req, _ = http.NewRequest("POST", base+"/v1/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("general admission reserve failed, status %d", resp.StatusCode)
	}
	var ga struct {
		BookingID   string  `json:"booking_id"`
		TotalAmount float64 `json:"total_amount"`
	}
	json.NewDecoder(resp.Body).Decode(&ga)
	resp.Body.Close()
	if ga.TotalAmount != 150000 {
		t.Errorf("expected base price snapshot 150000, got %v", ga.TotalAmount)
	}
}

func signToken(t *testing.T, secret string, userID uuid.UUID, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}
