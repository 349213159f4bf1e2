package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conductor/internal/services/queue"
	"conductor/internal/services/scheduler"
	logx "conductor/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *queue.Service, *scheduler.Service) {
	t.Helper()

	q := queue.New(queue.Config{Workers: 1, PollInterval: 10 * time.Millisecond}, logx.Nop(), nil)
	q.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Enabled: true, Tick: 50 * time.Millisecond}, logx.Nop(), nil)

	ts := httptest.NewServer(NewServer(q, sched, nil).Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return ts, q, sched
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)
	if code := getJSON(t, ts.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	t.Parallel()
	ts, q, _ := newTestServer(t)

	j, err := q.Submit("alice", "report", func(context.Context) (any, error) { return "ok", nil }, queue.PriorityNormal, 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if got, ok := q.Job(j.ID); ok && got.Status == queue.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("job never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var list struct {
		Jobs []queue.Job `json:"jobs"`
	}
	if code := getJSON(t, ts.URL+"/jobs?owner=alice", &list); code != http.StatusOK {
		t.Fatalf("list = %d, want 200", code)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].ID != j.ID {
		t.Fatalf("unexpected list: %+v", list.Jobs)
	}

	var single queue.Job
	if code := getJSON(t, ts.URL+"/jobs/"+j.ID, &single); code != http.StatusOK {
		t.Fatalf("get = %d, want 200", code)
	}
	if single.Status != queue.StatusCompleted {
		t.Fatalf("Status = %s, want completed", single.Status)
	}

	if code := getJSON(t, ts.URL+"/jobs/nope", nil); code != http.StatusNotFound {
		t.Fatalf("missing job = %d, want 404", code)
	}

	if code := getJSON(t, ts.URL+"/jobs?limit=x", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", code)
	}
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Parallel()
	ts, q, _ := newTestServer(t)

	started := make(chan struct{}, 1)
	j, err := q.Submit("alice", "long", func(ctx context.Context) (any, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}, queue.PriorityNormal, time.Minute)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	post := func(owner string) int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/jobs/"+j.ID+"/cancel", nil)
		if owner != "" {
			req.Header.Set("X-Owner", owner)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST cancel: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(""); code != http.StatusBadRequest {
		t.Fatalf("missing owner = %d, want 400", code)
	}
	if code := post("mallory"); code != http.StatusConflict {
		t.Fatalf("wrong owner = %d, want 409", code)
	}
	if code := post("alice"); code != http.StatusOK {
		t.Fatalf("owner cancel = %d, want 200", code)
	}
	// Already terminal.
	if code := post("alice"); code != http.StatusConflict {
		t.Fatalf("repeat cancel = %d, want 409", code)
	}
}

func TestSchedulesEndpoints(t *testing.T) {
	t.Parallel()
	ts, _, sched := newTestServer(t)

	id, err := sched.ScheduleOnce("future", time.Now().Add(time.Hour), scheduler.Options{}, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("ScheduleOnce: %v", err)
	}

	var list struct {
		Schedules []scheduler.ScheduledJob `json:"schedules"`
	}
	if code := getJSON(t, ts.URL+"/schedules", &list); code != http.StatusOK {
		t.Fatalf("list = %d, want 200", code)
	}
	if len(list.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(list.Schedules))
	}

	if code := getJSON(t, ts.URL+"/schedules/"+id, nil); code != http.StatusOK {
		t.Fatalf("get = %d, want 200", code)
	}

	resp, err := http.Post(ts.URL+"/schedules/"+id+"/cancel", "", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d, want 200", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)

	var stats map[string]any
	if code := getJSON(t, ts.URL+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats = %d, want 200", code)
	}
	if _, ok := stats["queue"]; !ok {
		t.Fatal("stats missing queue section")
	}
	if _, ok := stats["scheduler"]; !ok {
		t.Fatal("stats missing scheduler section")
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	t.Parallel()
	ts, _, _ := newTestServer(t)
	if code := getJSON(t, ts.URL+"/history", nil); code != http.StatusNotImplemented {
		t.Fatalf("history = %d, want 501", code)
	}
}
