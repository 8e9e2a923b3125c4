package api

import (
	"net/http"
	"testing"
	"time"

	db "github.com/lueurxax/newspipe/internal/storage"
)

func digestSetting() db.ScheduleSetting {
	next := time.Date(2025, 8, 22, 8, 0, 0, 0, time.UTC)

	return db.ScheduleSetting{
		ID:           1,
		TaskName:     "news_digest",
		Enabled:      true,
		ScheduleType: "daily",
		Hour:         8,
		Minute:       0,
		Timezone:     "UTC",
		NextRun:      &next,
	}
}

func TestListSchedules(t *testing.T) {
	store := &fakeStore{settings: []db.ScheduleSetting{digestSetting()}}
	s := newTestServer(store, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/schedule/settings", adminToken(t, s), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp scheduleListResponse

	decodeBody(t, rec, &resp)

	if len(resp.Settings) != 1 || resp.Settings[0].TaskName != "news_digest" || resp.Settings[0].Hour != 8 {
		t.Errorf("settings = %+v", resp.Settings)
	}
}

func TestUpdateSchedule_AppliesPartialUpdate(t *testing.T) {
	store := &fakeStore{settings: []db.ScheduleSetting{digestSetting()}}
	s := newTestServer(store, nil)

	hour := 21

	rec := doRequest(t, s, http.MethodPut, "/api/v1/schedule/settings/news_digest", adminToken(t, s),
		scheduleUpdateRequest{Hour: &hour})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if store.updated == nil {
		t.Fatal("setting was not persisted")
	}

	if store.updated.Hour != 21 || store.updated.Minute != 0 || store.updated.ScheduleType != "daily" {
		t.Errorf("updated = %+v, want only hour changed", store.updated)
	}

	if store.updated.NextRun == nil {
		t.Fatal("next_run was not recomputed")
	}

	if !store.updated.NextRun.After(time.Now().UTC()) {
		t.Errorf("next_run = %v, want in the future", store.updated.NextRun)
	}

	var resp scheduleSettingItem

	decodeBody(t, rec, &resp)

	if resp.Hour != 21 || resp.NextRun == nil {
		t.Errorf("response = %+v", resp)
	}
}

func TestUpdateSchedule_ValidatesFields(t *testing.T) {
	store := &fakeStore{settings: []db.ScheduleSetting{digestSetting()}}
	s := newTestServer(store, nil)

	badHour := 99

	rec := doRequest(t, s, http.MethodPut, "/api/v1/schedule/settings/news_digest", adminToken(t, s),
		scheduleUpdateRequest{Hour: &badHour})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	if store.updated != nil {
		t.Error("invalid update must not be persisted")
	}

	badType := "weekly"

	rec = doRequest(t, s, http.MethodPut, "/api/v1/schedule/settings/news_digest", adminToken(t, s),
		scheduleUpdateRequest{ScheduleType: &badType})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", rec.Code)
	}

	badZone := "Mars/Olympus"

	rec = doRequest(t, s, http.MethodPut, "/api/v1/schedule/settings/news_digest", adminToken(t, s),
		scheduleUpdateRequest{Timezone: &badZone})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad timezone status = %d, want 400", rec.Code)
	}
}

func TestUpdateSchedule_UnknownTask(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil)

	enabled := false

	rec := doRequest(t, s, http.MethodPut, "/api/v1/schedule/settings/sports_digest", adminToken(t, s),
		scheduleUpdateRequest{Enabled: &enabled})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
