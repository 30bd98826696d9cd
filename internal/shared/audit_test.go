package shared

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryAuditLogger(t *testing.T) {
	logger := NewMemoryAuditLogger()
	ctx := context.Background()

	require.Error(t, logger.Record(ctx, AuditLog{Action: "period.close"}))
	require.NoError(t, logger.Record(ctx, AuditLog{
		ActorID:  3,
		Action:   "period.close",
		Entity:   "ledger_period",
		EntityID: "1",
		At:       time.Now(),
	}))

	logs := logger.Logs()
	require.Len(t, logs, 1)
	logs[0].Action = "changed"
	require.Equal(t, "period.close", logger.Logs()[0].Action)
}

func TestAuditLoggerRequiresPool(t *testing.T) {
	var l *AuditLogger
	require.Error(t, l.Record(context.Background(), AuditLog{Action: "a", Entity: "b", EntityID: "c"}))
}
