package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/mr1hm/go-green-corridor/internal/audit"
	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/config"
	"github.com/mr1hm/go-green-corridor/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-green-corridor/internal/grpc"
	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/registry"
	"github.com/mr1hm/go-green-corridor/internal/schema"
	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/store"
	"github.com/mr1hm/go-green-corridor/internal/upload"
	"github.com/mr1hm/go-green-corridor/internal/wizard"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUploader struct {
	url string
	err error
}

func (f *fakeUploader) Upload(ctx context.Context, filename string, image io.Reader) (upload.Result, error) {
	if f.err != nil {
		return upload.Result{}, f.err
	}
	return upload.Result{Success: true, URL: f.url}, nil
}

type testEnv struct {
	t        *testing.T
	router   *gin.Engine
	auth     *auth.Local
	registry *registry.Registry
	wizards  *wizard.Manager
	uploader *fakeUploader
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}

	v := schema.MustDefault()
	provider, err := auth.NewLocal(db, auth.LocalOptions{
		Secret:     []byte("handler-test-secret-0123"),
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create auth provider: %v", err)
	}

	reg := registry.New(db, v, audit.NewRecorder(db))
	resolver := session.NewResolver(db, v)
	wizards := wizard.NewManager(reg, wizard.Options{LocateTimeout: 5 * time.Second}, time.Minute)
	uploader := &fakeUploader{url: "https://img.example/p.png"}

	ctx, cancel := context.WithCancel(context.Background())
	wizardsDone := make(chan struct{})
	go func() {
		defer close(wizardsDone)
		wizards.Run(ctx, time.Hour)
	}()

	handler := NewHandler(Deps{
		Auth:         provider,
		Registry:     reg,
		Profiles:     resolver,
		Locks:        session.NewNavigationLocks(),
		Wizards:      wizards,
		Dispatcher:   dispatch.New(resolver, db, v),
		Monitor:      internalgrpc.NewBroadcaster[dispatch.Notification](),
		Uploader:     uploader,
		Map:          config.MapConfig{TileURL: "https://tiles.example/{z}/{x}/{y}.png", Zoom: 16},
		PingInterval: time.Hour,
	})
	router := gin.New()
	handler.RegisterRoutes(router)

	t.Cleanup(func() {
		cancel()
		<-wizardsDone
		db.Close()
	})
	return &testEnv{t: t, router: router, auth: provider, registry: reg, wizards: wizards, uploader: uploader}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("failed to encode body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) signUp(fields map[string]string, image []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "avatar.png")
		if err != nil {
			e.t.Fatalf("failed to create form file: %v", err)
		}
		fw.Write(image)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type signUpResult struct {
	Token   string              `json:"token"`
	Route   string              `json:"route"`
	Profile *models.UserProfile `json:"profile"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// user signs up a new account and optionally verifies it.
func (e *testEnv) user(email, fullName string, role models.Role, verified bool) signUpResult {
	e.t.Helper()
	w := e.signUp(map[string]string{
		"email":           email,
		"password":        "secret123",
		"confirmPassword": "secret123",
		"fullName":        fullName,
		"role":            string(role),
	}, nil)
	expectStatus(e.t, w, http.StatusCreated)
	res := decode[signUpResult](e.t, w)
	if verified {
		if err := e.registry.SetStatus(context.Background(), "test", res.Profile.UID, models.StatusVerified); err != nil {
			e.t.Fatalf("failed to verify %s: %v", email, err)
		}
	}
	return res
}

func (e *testEnv) view(route, token string) session.Decision {
	e.t.Helper()
	w := e.do(http.MethodGet, "/api/session?route="+route, token, nil)
	expectStatus(e.t, w, http.StatusOK)
	return decode[session.Decision](e.t, w)
}

func TestHealth(t *testing.T) {
	e := setupTestEnv(t)

	w := e.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[map[string]string](t, w)["status"]; got != "ok" {
		t.Errorf("expected status ok, got %q", got)
	}
}

func TestMapConfig(t *testing.T) {
	e := setupTestEnv(t)

	w := e.do(http.MethodGet, "/api/map/config", "", nil)
	expectStatus(t, w, http.StatusOK)
	cfg := decode[map[string]any](t, w)
	if cfg["tileUrl"] != "https://tiles.example/{z}/{x}/{y}.png" {
		t.Errorf("unexpected tile url %v", cfg["tileUrl"])
	}
	if cfg["zoom"] != float64(16) {
		t.Errorf("expected zoom 16, got %v", cfg["zoom"])
	}
}

func TestSignUp_CreatesPendingProfile(t *testing.T) {
	e := setupTestEnv(t)

	res := e.user("medic@city.gov", "Meera Iyer", models.RoleAmbulance, false)
	if res.Token == "" {
		t.Error("expected a token")
	}
	if res.Route != "/dashboard/ambulance" {
		t.Errorf("expected route /dashboard/ambulance, got %s", res.Route)
	}
	if res.Profile == nil {
		t.Fatal("expected profile in response")
	}
	if res.Profile.Status != models.StatusPending {
		t.Errorf("expected status pending, got %s", res.Profile.Status)
	}
	if res.Profile.Availability != models.AvailabilityOffline {
		t.Errorf("expected availability offline, got %s", res.Profile.Availability)
	}

	if d := e.view("/dashboard/ambulance", res.Token); d.View != session.ViewAwaitingVerification {
		t.Errorf("expected awaiting_verification, got %s", d.View)
	}
}

func TestSignUp_Validation(t *testing.T) {
	e := setupTestEnv(t)
	base := map[string]string{
		"email":           "a@city.gov",
		"password":        "secret123",
		"confirmPassword": "secret123",
		"role":            "fire",
	}
	with := func(k, v string) map[string]string {
		m := make(map[string]string, len(base))
		for key, val := range base {
			m[key] = val
		}
		m[k] = v
		return m
	}

	tests := []struct {
		name   string
		fields map[string]string
		status int
		msg    string
	}{
		{"password mismatch", with("confirmPassword", "other"), http.StatusBadRequest, "passwords do not match"},
		{"missing role", with("role", ""), http.StatusBadRequest, "please select a role"},
		{"mismatch before strength", with("password", "abc"), http.StatusBadRequest, "passwords do not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.signUp(tt.fields, nil)
			expectStatus(t, w, tt.status)
			if tt.msg != "" && !strings.Contains(w.Body.String(), tt.msg) {
				t.Errorf("expected %q in body, got %s", tt.msg, w.Body.String())
			}
		})
	}

	expectStatus(t, e.signUp(base, nil), http.StatusCreated)
	expectStatus(t, e.signUp(base, nil), http.StatusConflict)
}

func TestSignUp_ProfileImage(t *testing.T) {
	e := setupTestEnv(t)
	fields := func(email string) map[string]string {
		return map[string]string{
			"email": email, "password": "secret123", "confirmPassword": "secret123", "role": "police",
		}
	}

	w := e.signUp(fields("with@city.gov"), []byte("png"))
	expectStatus(t, w, http.StatusCreated)
	res := decode[signUpResult](t, w)
	if res.Profile.ProfileImage == nil || *res.Profile.ProfileImage != "https://img.example/p.png" {
		t.Errorf("expected uploaded image url, got %v", res.Profile.ProfileImage)
	}

	// upload failure must not block the account
	e.uploader.err = errors.New("upload host down")
	w = e.signUp(fields("without@city.gov"), []byte("png"))
	expectStatus(t, w, http.StatusCreated)
	if img := decode[signUpResult](t, w).Profile.ProfileImage; img != nil {
		t.Errorf("expected no image, got %s", *img)
	}
}

func TestLogin(t *testing.T) {
	e := setupTestEnv(t)
	e.user("fire@city.gov", "Farid", models.RoleFire, false)

	w := e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "fire@city.gov", "password": "wrong"})
	expectStatus(t, w, http.StatusUnauthorized)
	if msg := decode[map[string]string](t, w)["error"]; msg != "invalid email or password" {
		t.Errorf("unexpected error message %q", msg)
	}

	w = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "FIRE@city.gov", "password": "secret123"})
	expectStatus(t, w, http.StatusOK)
	res := decode[signUpResult](t, w)
	if res.Route != "/dashboard/fire" {
		t.Errorf("expected route /dashboard/fire, got %s", res.Route)
	}
	if res.Token == "" {
		t.Error("expected a token")
	}

	// an identity without a profile lands on the entry route
	if _, err := e.auth.SignUp(context.Background(), "ghost@city.gov", "secret123", ""); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	w = e.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ghost@city.gov", "password": "secret123"})
	expectStatus(t, w, http.StatusOK)
	if route := decode[signUpResult](t, w).Route; route != "/" {
		t.Errorf("expected route /, got %s", route)
	}
}

func TestFederatedLogin_Unavailable(t *testing.T) {
	e := setupTestEnv(t)

	w := e.do(http.MethodPost, "/api/auth/federated", "", map[string]string{"idToken": "x"})
	expectStatus(t, w, http.StatusNotImplemented)
}

func TestCompleteProfile(t *testing.T) {
	e := setupTestEnv(t)
	ctx := context.Background()

	id, err := e.auth.SignUp(ctx, "late@city.gov", "secret123", "Lata")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	token, err := e.auth.IssueToken(id)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	expectStatus(t, e.do(http.MethodGet, "/api/signals", token.Value, nil), http.StatusForbidden)

	w := e.do(http.MethodPost, "/api/auth/profile", token.Value, map[string]string{"role": "disaster"})
	expectStatus(t, w, http.StatusCreated)
	if route := decode[map[string]any](t, w)["route"]; route != "/dashboard/disaster" {
		t.Errorf("expected route /dashboard/disaster, got %v", route)
	}

	p, err := e.registry.User(ctx, id.UID)
	if err != nil {
		t.Fatalf("User failed: %v", err)
	}
	if p.FullName != "Lata" || p.Email != "late@city.gov" {
		t.Errorf("unexpected profile %+v", p)
	}

	w = e.do(http.MethodPost, "/api/auth/profile", token.Value, map[string]string{"role": "disaster"})
	expectStatus(t, w, http.StatusConflict)
}

func TestLogout_RevokesToken(t *testing.T) {
	e := setupTestEnv(t)
	res := e.user("p@city.gov", "Pia", models.RolePolice, true)

	expectStatus(t, e.do(http.MethodGet, "/api/auth/me", res.Token, nil), http.StatusOK)

	w := e.do(http.MethodPost, "/api/auth/logout", res.Token, nil)
	expectStatus(t, w, http.StatusOK)
	if route := decode[map[string]string](t, w)["route"]; route != "/" {
		t.Errorf("expected route /, got %s", route)
	}

	expectStatus(t, e.do(http.MethodGet, "/api/auth/me", res.Token, nil), http.StatusUnauthorized)
}

func TestRoleGating(t *testing.T) {
	e := setupTestEnv(t)
	pending := e.user("pending@city.gov", "P", models.RoleFire, false)
	fire := e.user("fire@city.gov", "F", models.RoleFire, true)
	admin := e.user("admin@city.gov", "A", models.RoleAdmin, true)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"anonymous signals", http.MethodGet, "/api/signals", "", http.StatusUnauthorized},
		{"pending signals", http.MethodGet, "/api/signals", pending.Token, http.StatusForbidden},
		{"verified signals", http.MethodGet, "/api/signals", fire.Token, http.StatusOK},
		{"field unit admin view", http.MethodGet, "/api/admin/users", fire.Token, http.StatusForbidden},
		{"admin view", http.MethodGet, "/api/admin/users", admin.Token, http.StatusOK},
		{"field unit wizard", http.MethodPost, "/api/wizard", fire.Token, http.StatusForbidden},
		{"admin without wizard", http.MethodGet, "/api/wizard", admin.Token, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(tt.method, tt.path, tt.token, nil), tt.status)
		})
	}
}

func TestSessionDecision(t *testing.T) {
	e := setupTestEnv(t)
	fire := e.user("fire@city.gov", "F", models.RoleFire, true)

	want := session.Decision{View: session.ViewRedirect, RedirectTo: "/"}
	if d := e.view("/dashboard/fire", ""); !reflect.DeepEqual(d, want) {
		t.Errorf("expected %+v, got %+v", want, d)
	}

	d := e.view("/dashboard/police", fire.Token)
	if d.View != session.ViewRedirect || d.RedirectTo != "/dashboard/fire" {
		t.Errorf("expected redirect to /dashboard/fire, got %s %s", d.View, d.RedirectTo)
	}

	if d := e.view("/dashboard/fire", fire.Token); d.View != session.ViewDashboard {
		t.Errorf("expected dashboard, got %s", d.View)
	}

	if err := e.registry.SetStatus(context.Background(), "admin", fire.Profile.UID, models.StatusSuspended); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if d := e.view("/dashboard/fire", fire.Token); d.View != session.ViewSuspended {
		t.Errorf("expected suspended, got %s", d.View)
	}
}

func TestAdminVerifiesUser(t *testing.T) {
	e := setupTestEnv(t)
	admin := e.user("admin@city.gov", "A", models.RoleAdmin, true)
	medic := e.user("medic@city.gov", "M", models.RoleAmbulance, false)

	expectStatus(t, e.do(http.MethodPost, "/api/admin/users/"+medic.Profile.UID+"/verify", admin.Token, nil), http.StatusOK)

	if d := e.view("/dashboard/ambulance", medic.Token); d.View != session.ViewDashboard {
		t.Errorf("expected dashboard after verification, got %s", d.View)
	}

	expectStatus(t, e.do(http.MethodPost, "/api/admin/users/nobody/suspend", admin.Token, nil), http.StatusNotFound)

	w := e.do(http.MethodGet, "/api/admin/logs", admin.Token, nil)
	expectStatus(t, w, http.StatusOK)
	if msg := "set status of " + medic.Profile.UID + " to verified"; !strings.Contains(w.Body.String(), msg) {
		t.Errorf("expected %q in logs, got %s", msg, w.Body.String())
	}

	w = e.do(http.MethodGet, "/api/admin/overview", admin.Token, nil)
	expectStatus(t, w, http.StatusOK)
	if o := decode[registry.Overview](t, w); o != (registry.Overview{Users: 2, Vehicles: 1}) {
		t.Errorf("unexpected overview %+v", o)
	}
}

func TestNavigationLocks(t *testing.T) {
	e := setupTestEnv(t)
	fire := e.user("fire@city.gov", "F", models.RoleFire, true)

	allowed := func(action string) bool {
		t.Helper()
		w := e.do(http.MethodPost, "/api/navigation", fire.Token, map[string]string{"action": action})
		expectStatus(t, w, http.StatusOK)
		return decode[map[string]bool](t, w)["allowed"]
	}

	w := e.do(http.MethodPost, "/api/navigation/lock", fire.Token, nil)
	expectStatus(t, w, http.StatusOK)
	lock := decode[map[string]string](t, w)["token"]

	if allowed("back") {
		t.Error("back navigation allowed while locked")
	}
	if !allowed("route") {
		t.Error("route navigation refused while locked")
	}

	w = e.do(http.MethodDelete, "/api/navigation/lock/"+lock, fire.Token, nil)
	if !decode[map[string]bool](t, w)["released"] {
		t.Error("expected lock to be released")
	}
	if !allowed("back") {
		t.Error("back navigation refused after release")
	}

	e.do(http.MethodPost, "/api/navigation/lock", fire.Token, nil)
	if !allowed("logout") {
		t.Error("logout refused while locked")
	}
	if !allowed("back") {
		t.Error("logout did not drop the lock")
	}

	expectStatus(t, e.do(http.MethodPost, "/api/navigation", fire.Token, map[string]string{"action": "jump"}), http.StatusBadRequest)
}

func TestAvailabilityAndVehicles(t *testing.T) {
	e := setupTestEnv(t)
	fire := e.user("fire@city.gov", "F", models.RoleFire, true)
	admin := e.user("admin@city.gov", "A", models.RoleAdmin, true)

	expectStatus(t, e.do(http.MethodPut, "/api/me/availability", fire.Token, map[string]string{"availability": "online"}), http.StatusOK)
	expectStatus(t, e.do(http.MethodPut, "/api/me/availability", fire.Token, map[string]string{"availability": "busy"}), http.StatusBadRequest)
	expectStatus(t, e.do(http.MethodPut, "/api/me/availability", admin.Token, map[string]string{"availability": "online"}), http.StatusForbidden)

	w := e.do(http.MethodGet, "/api/vehicles", admin.Token, nil)
	expectStatus(t, w, http.StatusOK)
	vehicles := decode[[]models.UserProfile](t, w)
	if len(vehicles) != 1 {
		t.Fatalf("expected 1 vehicle, got %d", len(vehicles))
	}
	if vehicles[0].Availability != models.AvailabilityOnline {
		t.Errorf("expected vehicle online, got %s", vehicles[0].Availability)
	}
}

func TestRequests(t *testing.T) {
	e := setupTestEnv(t)
	admin := e.user("admin@city.gov", "A", models.RoleAdmin, true)
	police := e.user("police@city.gov", "P", models.RolePolice, true)

	body := map[string]any{"type": "Fire", "location": map[string]float64{"latitude": 12.97, "longitude": 77.59}}
	expectStatus(t, e.do(http.MethodPost, "/api/requests", police.Token, body), http.StatusForbidden)

	w := e.do(http.MethodPost, "/api/requests", admin.Token, body)
	expectStatus(t, w, http.StatusCreated)
	id := decode[map[string]string](t, w)["id"]

	bad := map[string]any{"type": "meteor", "location": map[string]float64{"latitude": 1, "longitude": 1}}
	expectStatus(t, e.do(http.MethodPost, "/api/requests", admin.Token, bad), http.StatusBadRequest)

	w = e.do(http.MethodGet, "/api/requests", police.Token, nil)
	requests := decode[[]map[string]any](t, w)
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	if requests[0]["type"] != "fire" {
		t.Errorf("expected normalized type fire, got %v", requests[0]["type"])
	}

	w = e.do(http.MethodGet, "/api/requests?format=geojson", police.Token, nil)
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("expected content-type application/geo+json, got %s", ct)
	}

	expectStatus(t, e.do(http.MethodPost, "/api/requests/"+id+"/close", admin.Token, nil), http.StatusNoContent)
	expectStatus(t, e.do(http.MethodPost, "/api/requests/missing/close", admin.Token, nil), http.StatusNotFound)
}

func TestWizard_EndToEnd(t *testing.T) {
	e := setupTestEnv(t)
	installer := e.user("ravi@city.gov", "Ravi Kumar", models.RoleInstaller, true)
	tok := installer.Token

	w := e.do(http.MethodPost, "/api/wizard", tok, nil)
	expectStatus(t, w, http.StatusCreated)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepScan || !st.Scanning {
		t.Fatalf("expected scanning in scan step, got %+v", st)
	}

	w = e.do(http.MethodGet, "/api/wizard/devices", tok, nil)
	if !strings.Contains(w.Body.String(), `"facingMode":"environment"`) {
		t.Errorf("expected environment camera constraints, got %s", w.Body.String())
	}

	w = e.do(http.MethodPost, "/api/wizard/scan/decode", tok, map[string]string{"payload": " SIG-4492 "})
	expectStatus(t, w, http.StatusOK)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepLocate || st.LightID != "SIG-4492" {
		t.Fatalf("expected locate with SIG-4492, got %+v", st)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		d := decode[map[string]any](t, e.do(http.MethodGet, "/api/wizard/devices", tok, nil))
		if d["location"] != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for a pending location request")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = e.do(http.MethodPost, "/api/wizard/location", tok, map[string]float64{"latitude": 12.9716, "longitude": 77.5946})
	expectStatus(t, w, http.StatusOK)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepOrient || !st.Listening {
		t.Fatalf("expected listening in orient step, got %+v", st)
	}

	w = e.do(http.MethodPost, "/api/wizard/orientation/sample", tok, map[string]float64{"compassHeading": 187})
	expectStatus(t, w, http.StatusOK)
	if st := decode[wizard.State](t, w); st.Heading == nil || *st.Heading != 187 {
		t.Fatalf("expected heading 187, got %v", st.Heading)
	}

	w = e.do(http.MethodPost, "/api/wizard/orientation/lock", tok, nil)
	expectStatus(t, w, http.StatusOK)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepReview {
		t.Fatalf("expected review step, got %s", st.Step)
	}

	w = e.do(http.MethodPost, "/api/wizard/confirm", tok, nil)
	expectStatus(t, w, http.StatusCreated)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepDone || st.SignalID == "" {
		t.Fatalf("expected done with a signal id, got %+v", st)
	}

	w = e.do(http.MethodGet, "/api/signals/geojson", tok, nil)
	expectStatus(t, w, http.StatusOK)
	fc := decode[FeatureCollection](t, w)
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(fc.Features))
	}
	f := fc.Features[0]
	if !reflect.DeepEqual(f.Geometry.Coordinates, []float64{77.5946, 12.9716}) {
		t.Errorf("unexpected coordinates %v", f.Geometry.Coordinates)
	}
	wantProps := map[string]any{
		"lightId":        "SIG-4492",
		"direction":      float64(187),
		"geoFenceRadius": float64(500),
		"status":         "working",
		"registeredBy":   "Ravi Kumar",
	}
	for k, want := range wantProps {
		if got := f.Properties[k]; got != want {
			t.Errorf("expected %s=%v, got %v", k, want, got)
		}
	}

	w = e.do(http.MethodPost, "/api/wizard/finish", tok, nil)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepList {
		t.Errorf("expected list step after finish, got %s", st.Step)
	}

	expectStatus(t, e.do(http.MethodPost, "/api/wizard/orientation/lock", tok, nil), http.StatusConflict)
	expectStatus(t, e.do(http.MethodDelete, "/api/wizard", tok, nil), http.StatusNoContent)
	if n := e.wizards.Count(); n != 0 {
		t.Errorf("expected no open wizard sessions, got %d", n)
	}
}

func TestWizard_CancelAndCameraErrors(t *testing.T) {
	e := setupTestEnv(t)
	installer := e.user("ravi@city.gov", "Ravi Kumar", models.RoleInstaller, true)
	tok := installer.Token

	expectStatus(t, e.do(http.MethodPost, "/api/wizard", tok, nil), http.StatusCreated)

	w := e.do(http.MethodPost, "/api/wizard/scan/error", tok, map[string]string{"name": "NotAllowedError", "message": "denied"})
	expectStatus(t, w, http.StatusOK)
	if st := decode[wizard.State](t, w); st.Scanning || st.Error == "" {
		t.Errorf("expected scanning stopped with an error, got %+v", st)
	}

	w = e.do(http.MethodPost, "/api/wizard/scan/retry", tok, nil)
	if st := decode[wizard.State](t, w); !st.Scanning {
		t.Error("expected scanning after retry")
	}

	expectStatus(t, e.do(http.MethodPost, "/api/wizard/cancel/confirm", tok, nil), http.StatusConflict)

	w = e.do(http.MethodPost, "/api/wizard/cancel", tok, nil)
	if st := decode[wizard.State](t, w); !st.ConfirmingCancel {
		t.Error("expected cancellation to await confirmation")
	}

	w = e.do(http.MethodPost, "/api/wizard/cancel/confirm", tok, nil)
	if st := decode[wizard.State](t, w); st.Step != wizard.StepList || st.Scanning {
		t.Errorf("expected idle list step, got %+v", st)
	}

	expectStatus(t, e.do(http.MethodPost, "/api/wizard/scan/decode", tok, map[string]string{"payload": "SIG-1"}), http.StatusConflict)
}

func TestRateLimitMiddleware_PerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(2))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	tests := []struct {
		addr   string
		status int
	}{
		{"10.0.0.1:1000", http.StatusOK},
		{"10.0.0.1:1000", http.StatusOK},
		{"10.0.0.1:1000", http.StatusTooManyRequests},
		{"10.0.0.2:1000", http.StatusOK},
	}
	for i, tt := range tests {
		if got := call(tt.addr); got != tt.status {
			t.Errorf("request %d from %s: expected %d, got %d", i, tt.addr, tt.status, got)
		}
	}
}

// readEvent returns the data payload of the next event named name.
func readEvent(t *testing.T, sc *bufio.Scanner, name string) []byte {
	t.Helper()
	current := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == name:
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
	t.Fatalf("stream ended before %s event: %v", name, sc.Err())
	return nil
}

func openStream(t *testing.T, ctx context.Context, srv *httptest.Server, path string) *bufio.Scanner {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	return bufio.NewScanner(resp.Body)
}

func TestSessionStream_FollowsVerification(t *testing.T) {
	e := setupTestEnv(t)
	medic := e.user("medic@city.gov", "M", models.RoleAmbulance, false)

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sc := openStream(t, ctx, srv, "/api/session/stream?route=/dashboard/ambulance&access_token="+medic.Token)

	var d session.Decision
	if err := json.Unmarshal(readEvent(t, sc, eventDecision), &d); err != nil {
		t.Fatalf("failed to parse decision: %v", err)
	}
	if d.View != session.ViewAwaitingVerification {
		t.Errorf("expected awaiting_verification, got %s", d.View)
	}

	if err := e.registry.SetStatus(context.Background(), "admin", medic.Profile.UID, models.StatusVerified); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	if err := json.Unmarshal(readEvent(t, sc, eventDecision), &d); err != nil {
		t.Fatalf("failed to parse decision: %v", err)
	}
	if d.View != session.ViewDashboard {
		t.Errorf("expected dashboard after verification, got %s", d.View)
	}
}

func TestDispatchStream_DeliversRelevantAlert(t *testing.T) {
	e := setupTestEnv(t)
	fire := e.user("fire@city.gov", "F", models.RoleFire, true)
	admin := e.user("admin@city.gov", "A", models.RoleAdmin, true)
	if err := e.registry.SetAvailability(context.Background(), fire.Profile.UID, models.AvailabilityOnline); err != nil {
		t.Fatalf("SetAvailability failed: %v", err)
	}

	srv := httptest.NewServer(e.router)
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sc := openStream(t, ctx, srv, "/api/dispatch/stream?access_token="+fire.Token)

	for _, typ := range []string{"police", "fire"} {
		body := map[string]any{"type": typ, "location": map[string]float64{"latitude": 12.97, "longitude": 77.59}}
		expectStatus(t, e.do(http.MethodPost, "/api/requests", admin.Token, body), http.StatusCreated)
	}

	var n dispatch.Notification
	if err := json.Unmarshal(readEvent(t, sc, eventDispatch), &n); err != nil {
		t.Fatalf("failed to parse notification: %v", err)
	}
	if n.Alert.Type != models.AlertTypeFire {
		t.Errorf("expected fire alert, got %s", n.Alert.Type)
	}
	if n.UID != fire.Profile.UID {
		t.Errorf("expected notification for %s, got %s", fire.Profile.UID, n.UID)
	}
}
