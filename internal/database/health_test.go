//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/dejobratic/fetchstate/internal/database"
	"github.com/dejobratic/fetchstate/internal/database/dbtest"
)

func TestCheckHealth(t *testing.T) {
	pool := dbtest.NewPool(t)

	health, err := database.CheckHealth(context.Background(), pool)
	if err != nil {
		t.Fatalf("CheckHealth() failed: %v", err)
	}
	if health.MaxConns <= 0 {
		t.Errorf("expected positive max connections, got %d", health.MaxConns)
	}
	if health.TotalConns < health.IdleConns {
		t.Errorf("expected total >= idle, got %d < %d", health.TotalConns, health.IdleConns)
	}
}
