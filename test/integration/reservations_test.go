package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/equipment-reservations/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/equipment-reservations/internal/adapters/mongo"
	"github.com/robertarktes/equipment-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/equipment-reservations/internal/adapters/redis"
	httphandler "github.com/robertarktes/equipment-reservations/internal/http"
	"github.com/robertarktes/equipment-reservations/internal/idempotency"
	"github.com/robertarktes/equipment-reservations/internal/inventory"
	"github.com/robertarktes/equipment-reservations/internal/observability"
	"github.com/robertarktes/equipment-reservations/internal/outbox"
	"github.com/robertarktes/equipment-reservations/internal/rateLimit"
	"github.com/robertarktes/equipment-reservations/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Terminate(ctx) })
	return c
}

func hostPort(t *testing.T, c testcontainers.Container, port nat.Port) string {
	t.Helper()
	endpoint, err := c.PortEndpoint(context.Background(), port, "")
	require.NoError(t, err)
	return endpoint
}

func post(t *testing.T, url, key string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIntegration_ReserveReturnPublish(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	crdbC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	})
	mongoC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	})
	redisC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
	rabbitC := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete"),
	})

	crdbAddr := hostPort(t, crdbC, "26257/tcp")
	mongoAddr := hostPort(t, mongoC, "27017/tcp")
	redisAddr := hostPort(t, redisC, "6379/tcp")
	rabbitAddr := hostPort(t, rabbitC, "5672/tcp")

	logger := observability.NewDiscardLogger()

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	require.NoError(t, err)
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("erv")

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer redisClient.Close()
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient))

	rabbitConn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	require.NoError(t, err)
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	require.NoError(t, err)
	defer rabbitPub.Close()

	consumeCh, err := rabbitConn.Channel()
	require.NoError(t, err)
	defer consumeCh.Close()
	q, err := consumeCh.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, consumeCh.QueueBind(q.Name, "reservation.*", rabbit.Exchange, false, nil))
	deliveries, err := consumeCh.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	manager := reservation.NewManager(repo, mongoadapter.NewHistoryRepository(mongoDB, logger), logger,
		reservation.WithAuditor(mongoadapter.NewAuditLogger(mongoDB, logger)))
	handlers := httphandler.NewHandlers(manager, inventory.NewLedger(repo, logger), idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rl, 1000, idemp))
	defer srv.Close()

	// equipment create is replayed for a repeated key
	key := uuid.NewString()
	first := post(t, srv.URL+"/v1/equipment", key, map[string]any{"name": "HDMI-kabel", "quantity": 5})
	require.Equal(t, http.StatusCreated, first.StatusCode)
	replay := post(t, srv.URL+"/v1/equipment", key, map[string]any{"name": "HDMI-kabel", "quantity": 5})
	require.Equal(t, http.StatusCreated, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("Idempotent-Replayed"))

	assert.Equal(t, http.StatusBadRequest, post(t, srv.URL+"/v1/equipment", "", map[string]any{"name": "Projektor", "quantity": 1}).StatusCode)

	resp := post(t, srv.URL+"/v1/reservations", uuid.NewString(), map[string]any{
		"email": "student@uni.dk",
		"items": []map[string]any{{"equipment": "HDMI-kabel", "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))

	resp = post(t, srv.URL+"/v1/reservations/"+created.ID+"/return", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var returned struct {
		UpdatedRows int `json:"updatedRows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&returned))
	assert.Equal(t, 2, returned.UpdatedRows)

	require.Equal(t, http.StatusCreated, post(t, srv.URL+"/v1/reservations/"+created.ID+"/history", "", nil).StatusCode)
	history, err := manager.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, created.ID, history[0].ReservationID.String())

	audits, err := mongoDB.Collection("audit_logs").CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, audits)

	pub := outbox.NewPublisher(repo, rabbitPub, logger, time.Second, 10)
	n, err := pub.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seen := map[string]bool{}
	timeout := time.After(10 * time.Second)
	for len(seen) < 2 {
		select {
		case d := <-deliveries:
			seen[d.Type] = true
			assert.NotEmpty(t, d.MessageId)
		case <-timeout:
			t.Fatalf("only received %v", seen)
		}
	}
	assert.True(t, seen["reservation.created"])
	assert.True(t, seen["reservation.returned"])
}
