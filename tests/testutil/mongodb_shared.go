package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDB limits database names to 63 bytes.
const maxTestNameLength = 40

var mongoContainer = newSharedContainer("mongodb", "27017", testcontainers.ContainerRequest{
	Image: "mongo:8",
	Env: map[string]string{
		"MONGO_INITDB_ROOT_USERNAME": "admin",
		"MONGO_INITDB_ROOT_PASSWORD": "admin123",
	},
	WaitingFor: wait.ForLog("Waiting for connections").WithStartupTimeout(containerStartupTimeout),
})

// SetupSharedTestMongoDB returns an isolated database on the shared container.
func SetupSharedTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()
	_, db := SetupSharedTestMongoDBWithClient(t)
	return db
}

// SetupSharedTestMongoDBWithClient is SetupSharedTestMongoDB that also hands
// out the client, for stores that open sessions.
func SetupSharedTestMongoDBWithClient(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()

	addr, err := mongoContainer.Address(context.Background())
	if err != nil {
		t.Fatalf("Failed to get shared MongoDB container: %v", err)
	}
	return connectTestMongo(t, "mongodb://admin:admin123@"+addr)
}

func connectTestMongo(t *testing.T, uri string) (*mongo.Client, *mongo.Database) {
	t.Helper()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	if err = retryPing(func(ctx context.Context) error { return client.Ping(ctx, nil) }); err != nil {
		_ = client.Disconnect(context.Background())
		t.Fatalf("Failed to ping MongoDB: %v", err)
	}

	db := client.Database(generateTestDBName(sanitizeDatabaseName(t.Name())))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	return client, db
}

// generateTestDBName creates a unique database name from test name
func generateTestDBName(testName string) string {
	if len(testName) > maxTestNameLength {
		hash := sha256.Sum256([]byte(testName))
		testName = testName[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return "estately_test_" + testName
}
