package testutil

import (
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// SetupTestMongoDB returns an isolated database. TEST_MONGODB_URI points the
// tests at an existing server (docker-compose, CI service); without it the
// shared testcontainer is used.
func SetupTestMongoDB(t *testing.T) *mongo.Database {
	t.Helper()

	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		return SetupSharedTestMongoDB(t)
	}
	_, db := connectTestMongo(t, uri)
	return db
}

// sanitizeDatabaseName replaces characters MongoDB rejects in database names.
func sanitizeDatabaseName(name string) string {
	out := []rune(name)
	for i, ch := range out {
		if (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			out[i] = '_'
		}
	}
	return string(out)
}
