package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/lllypuk/estately/internal/application/appcore"
	"github.com/lllypuk/estately/internal/application/query"
)

const defaultSampleSize = 50

// StreamVersions returns the committed version of a stream.
type StreamVersions interface {
	GetVersion(ctx context.Context, streamID string) (int, error)
}

// ReadModelSyncChecker samples the most recent read models of each aggregate
// type and compares their versions with the event log.
type ReadModelSyncChecker struct {
	readModels query.Lister
	store      StreamVersions
	types      []string
	sampleSize int
	maxLagging int
}

// NewReadModelSyncChecker creates the checker. maxLagging is the number of
// lagging samples tolerated per check; materialization runs after the commit,
// so a sample may briefly trail the log.
func NewReadModelSyncChecker(
	readModels query.Lister,
	store StreamVersions,
	aggregateTypes []string,
	sampleSize, maxLagging int,
) *ReadModelSyncChecker {
	if sampleSize <= 0 {
		sampleSize = defaultSampleSize
	}
	return &ReadModelSyncChecker{
		readModels: readModels,
		store:      store,
		types:      aggregateTypes,
		sampleSize: sampleSize,
		maxLagging: max(maxLagging, 0),
	}
}

// Name returns the name of this health checker.
func (c *ReadModelSyncChecker) Name() string {
	return "readmodel_sync"
}

// Check performs the health check.
func (c *ReadModelSyncChecker) Check(ctx context.Context) appcore.HealthStatus {
	sampled, lagging := 0, 0
	perType := make(map[string]any, len(c.types))

	for _, aggregateType := range c.types {
		views, err := c.readModels.List(ctx, aggregateType, 0, c.sampleSize)
		if err != nil {
			return unhealthy(fmt.Sprintf("failed to sample %s read models: %v", aggregateType, err))
		}

		typeLagging := 0
		for _, view := range views {
			version, err := c.store.GetVersion(ctx, view.ID)
			if err != nil {
				return unhealthy(fmt.Sprintf("failed to read version of %s: %v", view.ID, err))
			}
			if version > view.Version {
				typeLagging++
			}
		}
		sampled += len(views)
		lagging += typeLagging
		perType[aggregateType] = map[string]int{"sampled": len(views), "lagging": typeLagging}
	}

	return appcore.HealthStatus{
		Healthy: lagging <= c.maxLagging,
		Message: fmt.Sprintf("read models: %d sampled, %d lagging", sampled, lagging),
		Details: map[string]any{
			"sampled":     sampled,
			"lagging":     lagging,
			"max_lagging": c.maxLagging,
			"types":       perType,
		},
		CheckedAt: time.Now(),
	}
}
