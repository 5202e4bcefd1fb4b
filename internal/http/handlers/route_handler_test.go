package handlers_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"multidrop/internal/geo"
	"multidrop/internal/http/handlers"
	httpmiddleware "multidrop/internal/http/middleware"
	"multidrop/internal/modules/capacity"
	"multidrop/internal/modules/dispatch"
	"multidrop/internal/modules/route"
	"multidrop/internal/modules/validator"
	"multidrop/internal/types"
)

func buildRouteRouter(svc *fakeRoutes) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(httpmiddleware.Auth(makeVerifier("op1", "operator")))
	h := handlers.NewRouteHandler(svc, svc, geo.DefaultTravelModel())
	r.POST("/routes/analyze", h.Analyze)
	r.GET("/routes/:id", h.Get)
	r.POST("/routes/:id/assign", h.Assign)
	r.POST("/routes/:id/cancel", h.Cancel)
	r.POST("/routes/:id/status", h.UpdateStatus)
	return r
}

func sampleRoutes() *fakeRoutes {
	return &fakeRoutes{routes: map[types.ID]*route.Route{
		"r1": {ID: "r1", Status: route.StatusPlanned, Stops: []route.Stop{
			{Sequence: 1, DropID: "d1", Action: route.ActionPickup},
			{Sequence: 2, DropID: "d1", Action: route.ActionDelivery},
		}},
		"r2": {ID: "r2", Status: route.StatusCompleted},
	}}
}

func TestRouteGet(t *testing.T) {
	r := buildRouteRouter(sampleRoutes())
	w := doRequest(r, http.MethodGet, "/routes/r1", nil, "Bearer ok")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"r1"`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	if w := doRequest(r, http.MethodGet, "/routes/nope", nil, "Bearer ok"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestRouteAssign(t *testing.T) {
	svc := sampleRoutes()
	r := buildRouteRouter(svc)

	w := doRequest(r, http.MethodPost, "/routes/r1/assign", map[string]string{"driver_id": "drv1"}, "Bearer ok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.assigned["r1"] != "drv1" {
		t.Errorf("expected drv1 assigned to r1, got %v", svc.assigned)
	}

	if w := doRequest(r, http.MethodPost, "/routes/r1/assign", map[string]string{}, "Bearer ok"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without driver, got %d", w.Code)
	}

	svc.assignErr = dispatch.ErrInsufficientHeadroom
	if w := doRequest(r, http.MethodPost, "/routes/r1/assign", map[string]string{"driver_id": "drv2"}, "Bearer ok"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on headroom, got %d", w.Code)
	}
	svc.assignErr = route.ErrConflict
	if w := doRequest(r, http.MethodPost, "/routes/r1/assign", map[string]string{"driver_id": "drv2"}, "Bearer ok"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 on version conflict, got %d", w.Code)
	}
}

func TestRouteCancel(t *testing.T) {
	r := buildRouteRouter(sampleRoutes())
	w := doRequest(r, http.MethodPost, "/routes/r1/cancel", nil, "Bearer ok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status   string     `json:"status"`
		Released []types.ID `json:"released_drops"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "cancelled" || len(body.Released) != 1 || body.Released[0] != "d1" {
		t.Errorf("unexpected body %+v", body)
	}

	if w := doRequest(r, http.MethodPost, "/routes/r2/cancel", nil, "Bearer ok"); w.Code != http.StatusConflict {
		t.Errorf("expected 409 for completed route, got %d", w.Code)
	}
}

func TestRouteUpdateStatus(t *testing.T) {
	svc := sampleRoutes()
	svc.routes["r3"] = &route.Route{ID: "r3", Status: route.StatusAssigned}
	r := buildRouteRouter(svc)

	if w := doRequest(r, http.MethodPost, "/routes/r3/status", map[string]string{"status": "completed"}, "Bearer ok"); w.Code != http.StatusConflict {
		t.Fatalf("assigned route cannot complete, got %d", w.Code)
	}
	for _, next := range []string{"active", "completed"} {
		w := doRequest(r, http.MethodPost, "/routes/r3/status", map[string]string{"status": next}, "Bearer ok")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"`+next+`"`) {
			t.Fatalf("%s: unexpected response %d %s", next, w.Code, w.Body.String())
		}
	}

	if w := doRequest(r, http.MethodPost, "/routes/r1/status", map[string]string{"status": "cancelled"}, "Bearer ok"); w.Code != http.StatusBadRequest {
		t.Errorf("cancel goes through its own endpoint, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/routes/nope/status", map[string]string{"status": "active"}, "Bearer ok"); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func overloadedStops() []route.Stop {
	a := types.Point{Lat: 51.5074, Lng: -0.1278}
	b := types.Point{Lat: 51.5155, Lng: -0.0922}
	return []route.Stop{
		{DropID: "a", Action: route.ActionPickup, Location: a, Volume: 6, Weight: 100},
		{DropID: "b", Action: route.ActionPickup, Location: a, Volume: 6, Weight: 100},
		{DropID: "a", Action: route.ActionDelivery, Location: b, Volume: 6, Weight: 100},
		{DropID: "b", Action: route.ActionDelivery, Location: b, Volume: 6, Weight: 100},
	}
}

func TestAnalyze_ReportsEveryViolation(t *testing.T) {
	r := buildRouteRouter(sampleRoutes())
	body := map[string]any{
		"capacity": capacity.Capacity{MaxVolume: 10, MaxWeight: 500, MaxDrops: 5, MultiDrop: true},
		"stops":    overloadedStops(),
	}
	w := doRequest(r, http.MethodPost, "/routes/analyze", body, "Bearer ok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var rep validator.Report
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.OK {
		t.Fatal("expected report to fail")
	}
	vol := rep.ViolationsOf(validator.KindVolumeExceeded)
	if len(vol) != 1 || vol[0].Sequence != 2 {
		t.Errorf("expected one volume violation at stop 2, got %+v", vol)
	}
	if len(rep.Legs) != 4 {
		t.Errorf("expected 4 legs, got %d", len(rep.Legs))
	}
}

func TestAnalyze_TableFormat(t *testing.T) {
	r := buildRouteRouter(sampleRoutes())
	body := map[string]any{
		"capacity": capacity.Capacity{MaxVolume: 10, MaxWeight: 500, MaxDrops: 5, MultiDrop: true},
		"tier":     "standard",
		"stops":    overloadedStops(),
	}
	w := doRequest(r, http.MethodPost, "/routes/analyze?format=table", body, "Bearer ok")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, "Seq") || !strings.Contains(out, "volume_exceeded") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestAnalyze_BadInput(t *testing.T) {
	r := buildRouteRouter(sampleRoutes())
	good := capacity.Capacity{MaxVolume: 10, MaxWeight: 500, MaxDrops: 5, MultiDrop: true}
	cases := map[string]map[string]any{
		"no stops":     {"capacity": good},
		"no capacity":  {"stops": overloadedStops()},
		"unknown tier": {"capacity": good, "tier": "platinum", "stops": overloadedStops()},
	}
	for name, body := range cases {
		if w := doRequest(r, http.MethodPost, "/routes/analyze", body, "Bearer ok"); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}
