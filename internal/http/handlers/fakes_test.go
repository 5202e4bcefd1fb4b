// README: Shared test doubles for handler tests.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"

	"multidrop/internal/ai"
	"multidrop/internal/infra"
	"multidrop/internal/modules/aiusage"
	"multidrop/internal/modules/dispatch"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/modules/route"
	"multidrop/internal/types"
)

type stubTokenVerifier struct {
	token *infra.FirebaseToken
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.FirebaseToken, error) {
	return s.token, s.err
}

func makeVerifier(uid, role string) *stubTokenVerifier {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &stubTokenVerifier{token: &infra.FirebaseToken{UID: uid, Claims: claims}}
}

func doRequest(r *gin.Engine, method, path string, body interface{}, authHeader string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type fakeRouting struct {
	mu        sync.Mutex
	result    orchestration.RunResult
	runErr    error
	lastRun   dispatch.ManualRun
	cancelErr error
	cancelled []types.ID
	runs      []dispatch.RunRecord
	lastQuery dispatch.RunFilter
	mode      dispatch.Mode
	modeActor string
	inflight  []types.ID
}

func (f *fakeRouting) RunManual(_ context.Context, req dispatch.ManualRun) (orchestration.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRun = req
	return f.result, f.runErr
}

func (f *fakeRouting) CancelRun(id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeRouting) History(_ context.Context, q dispatch.RunFilter) ([]dispatch.RunRecord, error) {
	f.lastQuery = q
	return f.runs, nil
}

func (f *fakeRouting) Run(_ context.Context, id types.ID) (*dispatch.RunRecord, error) {
	for _, r := range f.runs {
		if r.ID == id {
			rec := r
			return &rec, nil
		}
	}
	return nil, dispatch.ErrRunNotFound
}

func (f *fakeRouting) Mode() dispatch.Mode { return f.mode }

func (f *fakeRouting) SetMode(_ context.Context, m dispatch.Mode, actorID string) error {
	f.mode = m
	f.modeActor = actorID
	return nil
}

func (f *fakeRouting) InFlight() []types.ID { return f.inflight }

type staticAlerts []overflow.Alert

func (s staticAlerts) Alerts(context.Context) ([]overflow.Alert, error) { return s, nil }

type fakeNarrator struct {
	got ai.RunDigest
}

func (n *fakeNarrator) Summarize(_ context.Context, d ai.RunDigest) (*ai.RunSummary, error) {
	n.got = d
	return &ai.RunSummary{Summary: "one route built", Actions: []string{"check overflow"}}, nil
}

type fakeRoutes struct {
	routes    map[types.ID]*route.Route
	assignErr error
	assigned  map[types.ID]types.ID
}

func (f *fakeRoutes) Get(_ context.Context, id types.ID) (*route.Route, error) {
	r, ok := f.routes[id]
	if !ok {
		return nil, route.ErrNotFound
	}
	return r, nil
}

func (f *fakeRoutes) AssignRoute(_ context.Context, routeID, driverID types.ID, _ string) (*route.Route, error) {
	if f.assignErr != nil {
		return nil, f.assignErr
	}
	r, ok := f.routes[routeID]
	if !ok {
		return nil, route.ErrNotFound
	}
	if f.assigned == nil {
		f.assigned = map[types.ID]types.ID{}
	}
	f.assigned[routeID] = driverID
	out := *r
	out.DriverID = &driverID
	out.Status = route.StatusAssigned
	return &out, nil
}

func (f *fakeRoutes) CancelRoute(_ context.Context, routeID types.ID, _ string) ([]types.ID, error) {
	r, ok := f.routes[routeID]
	if !ok {
		return nil, route.ErrNotFound
	}
	if r.Status != route.StatusPlanned && r.Status != route.StatusAssigned {
		return nil, route.ErrInvalidState
	}
	return r.DropIDs(), nil
}

func (f *fakeRoutes) AdvanceRoute(_ context.Context, routeID types.ID, to route.Status, _ string) (*route.Route, error) {
	r, ok := f.routes[routeID]
	if !ok {
		return nil, route.ErrNotFound
	}
	if !route.CanTransition(r.Status, to) {
		return nil, route.ErrInvalidState
	}
	r.Status = to
	out := *r
	return &out, nil
}

type fakeQuota struct {
	left  int
	users []string
}

func (q *fakeQuota) Consume(_ context.Context, uid string) error {
	if q.left <= 0 {
		return aiusage.ErrQuotaExhausted
	}
	q.left--
	q.users = append(q.users, uid)
	return nil
}
