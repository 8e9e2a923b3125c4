package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lueurxax/newspipe/internal/migrate"
)

func TestMigrationsStatus_CountsPending(t *testing.T) {
	applied := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	migrator := &fakeMigrator{statuses: []migrate.Status{
		{Version: 1, Description: "base schema", Applied: true, AppliedAt: &applied, Satisfied: true},
		{Version: 2, Description: "task queue", Applied: false, Satisfied: false},
	}}
	s := newTestServer(&fakeStore{}, migrator)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/migrations/status", adminToken(t, s), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp migrationsStatusResponse

	decodeBody(t, rec, &resp)

	if len(resp.Migrations) != 2 || resp.Pending != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestMigrationsRun_ReportsResult(t *testing.T) {
	migrator := &fakeMigrator{result: &migrate.Result{Applied: []int64{3, 4}, Skipped: []int64{1, 2}}}
	s := newTestServer(&fakeStore{}, migrator)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/migrations/run", adminToken(t, s), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp migrationsRunResponse

	decodeBody(t, rec, &resp)

	if len(resp.Applied) != 2 || resp.Applied[0] != 3 || resp.Error != "" {
		t.Errorf("response = %+v", resp)
	}

	if migrator.upCalls != 1 {
		t.Errorf("up calls = %d", migrator.upCalls)
	}
}

func TestMigrationsRun_ErrorKeepsPartialProgress(t *testing.T) {
	migrator := &fakeMigrator{
		result: &migrate.Result{Applied: []int64{3}},
		upErr:  errors.New("migration 4: column exists"),
	}
	s := newTestServer(&fakeStore{}, migrator)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/migrations/run", adminToken(t, s), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}

	var resp migrationsRunResponse

	decodeBody(t, rec, &resp)

	if len(resp.Applied) != 1 || resp.Error == "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestMigrations_UnavailableWithoutManager(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/migrations/status", adminToken(t, s), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
