package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"marketline/internal/blob"
	"marketline/internal/db"
	"marketline/internal/domain"
	"marketline/internal/engine"
	"marketline/internal/identity"
	"marketline/internal/migrate"
	"marketline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Gate   identity.JWTGate
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := blob.NewDiskStore(t.TempDir(), "", []byte("test-secret"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	e := engine.New(conn, blobs)
	e.MaxUploadBytes = 10 << 20
	gate := identity.JWTGate{
		Secret: []byte("test-secret"),
		Expiry: time.Hour,
		Repo:   repo.Repo{DB: conn},
	}
	handler, err := New(Config{Engine: e, Gate: gate, Blobs: blobs, BasePath: "/v0", DevLogin: true})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	url := "http://" + ln.Addr().String()
	blobs.BaseURL = url
	ts := &testServer{
		URL:    url,
		Engine: e,
		Gate:   gate,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) register(t *testing.T, email string, role domain.Role) (domain.User, string) {
	t.Helper()
	u, err := s.Engine.CreateUser(context.Background(), engine.UserCreateOptions{
		Email: email,
		Name:  email,
		Role:  role,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := s.Gate.Issue(u.ID, u.Role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return u, token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope %q: %v", data, err)
	}
	return envelope.Error.Code
}

func zipPayload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("out.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	res, _ := doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projects", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list = %d, want 401", res.StatusCode)
	}

	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health = %d, want 200", res.StatusCode)
	}
}

func TestRegisterAndDevLogin(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/register", "", map[string]any{
		"email": "new@example.com",
		"name":  "New Buyer",
		"role":  "BUYER",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("register = %d: %s", res.StatusCode, data)
	}
	var tok TokenResponse
	if err := json.Unmarshal(data, &tok); err != nil {
		t.Fatal(err)
	}
	if tok.Token == "" || tok.User.Role != domain.RoleBuyer {
		t.Fatalf("register response: %+v", tok)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/me", tok.Token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me = %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/dev/login", "", map[string]any{
		"email": "new@example.com",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login = %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/auth/register", "", map[string]any{
		"email": "new@example.com",
		"name":  "Duplicate",
		"role":  "BUYER",
	})
	if res.StatusCode != http.StatusConflict || errCode(t, data) != "conflict" {
		t.Fatalf("duplicate register = %d %s", res.StatusCode, data)
	}
}

func TestMarketplaceFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	_, buyerTok := srv.register(t, "buyer@example.com", domain.RoleBuyer)
	solver, solverTok := srv.register(t, "solver@example.com", domain.RoleSolver)

	// Buyer posts a project.
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects", buyerTok, map[string]any{
		"title":       "Port the ETL jobs",
		"description": "Move nightly jobs off the legacy runner",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project = %d: %s", res.StatusCode, data)
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}

	// Solver cannot create projects.
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects", solverTok, map[string]any{"title": "nope"})
	if res.StatusCode != http.StatusForbidden || errCode(t, data) != "forbidden" {
		t.Fatalf("solver create project = %d %s", res.StatusCode, data)
	}

	// Solver bids; buyer accepts.
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/requests", solverTok, map[string]any{
		"cover_letter": "Done this before",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request = %d: %s", res.StatusCode, data)
	}
	var request domain.Request
	if err := json.Unmarshal(data, &request); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/requests/"+request.ID+"/accept", buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept request = %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID, buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project = %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	if project.Status != domain.ProjectAssigned || project.AssignedSolverID == nil || *project.AssignedSolverID != solver.ID {
		t.Fatalf("project after accept: %+v", project)
	}

	// Editing a frozen project reports invalid_state.
	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v0/projects/"+project.ID, buyerTok, map[string]any{"title": "renamed"})
	if res.StatusCode != http.StatusConflict || errCode(t, data) != "invalid_state" {
		t.Fatalf("patch frozen project = %d %s", res.StatusCode, data)
	}

	// Solver breaks the work down and delivers.
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", solverTok, map[string]any{
		"title": "Migrate jobs",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task = %d: %s", res.StatusCode, data)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	sub := uploadArchive(t, srv, solverTok, task.ID, "delivery.zip", zipPayload(t))
	if sub.Status != domain.SubmissionPendingReview {
		t.Fatalf("submission status = %s", sub.Status)
	}

	// Buyer fetches a signed download link and follows it.
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/submissions/"+sub.ID+"/download", buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("download link = %d: %s", res.StatusCode, data)
	}
	var dl DownloadResponse
	if err := json.Unmarshal(data, &dl); err != nil {
		t.Fatal(err)
	}
	blobRes, err := srv.client.Get(dl.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer blobRes.Body.Close()
	got, _ := io.ReadAll(blobRes.Body)
	if blobRes.StatusCode != http.StatusOK || !bytes.Equal(got, zipPayload(t)) {
		t.Fatalf("blob download = %d, %d bytes", blobRes.StatusCode, len(got))
	}

	// Accepting the only task completes the project.
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/submissions/"+sub.ID+"/accept", buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept submission = %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/projects/"+project.ID, buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project = %d", res.StatusCode)
	}
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	if project.Status != domain.ProjectCompleted {
		t.Fatalf("project status = %s, want COMPLETED", project.Status)
	}
}

func TestUploadRejectsNonZip(t *testing.T) {
	srv := newTestServer(t)
	_, buyerTok := srv.register(t, "buyer@example.com", domain.RoleBuyer)
	_, solverTok := srv.register(t, "solver@example.com", domain.RoleSolver)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects", buyerTok, map[string]any{"title": "P"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project = %d", res.StatusCode)
	}
	var project domain.Project
	if err := json.Unmarshal(data, &project); err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/requests", solverTok, map[string]any{})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create request = %d", res.StatusCode)
	}
	var request domain.Request
	if err := json.Unmarshal(data, &request); err != nil {
		t.Fatal(err)
	}
	if res, _ = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/requests/"+request.ID+"/accept", buyerTok, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("accept request = %d", res.StatusCode)
	}
	res, data = doJSON(t, srv.client, http.MethodPost, srv.URL+"/v0/projects/"+project.ID+"/tasks", solverTok, map[string]any{"title": "T"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task = %d", res.StatusCode)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatal(err)
	}

	status, body := rawUpload(t, srv, solverTok, task.ID, "notes.txt", "text/plain", []byte("not a zip"))
	if status != http.StatusUnprocessableEntity || errCode(t, body) != "validation_failed" {
		t.Fatalf("non-zip upload = %d %s", status, body)
	}
}

func TestOpenAPISpecServedConcurrently(t *testing.T) {
	srv := newTestServer(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("get openapi: %v", err)
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			if res.StatusCode != http.StatusOK {
				t.Errorf("openapi = %d", res.StatusCode)
				return
			}
			var doc struct {
				OpenAPI string `json:"openapi"`
			}
			if err := json.Unmarshal(data, &doc); err != nil || doc.OpenAPI == "" {
				t.Errorf("openapi document: %s (%v)", data, err)
			}
		}()
	}
	wg.Wait()
}

func TestUploadSizeLimitOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	buyer, _ := srv.register(t, "buyer@example.com", domain.RoleBuyer)
	solver, solverTok := srv.register(t, "solver@example.com", domain.RoleSolver)
	task := srv.readyTask(t, buyer, solver)

	// Just over the engine's limit: the body fits through the request
	// reader, the size check rejects it.
	status, body := rawUpload(t, srv, solverTok, task.ID, "big.zip", "application/zip", storedZipPayload(t, (10<<20)+1024))
	if status != http.StatusUnprocessableEntity || errCode(t, body) != "validation_failed" {
		t.Fatalf("oversized upload = %d %s", status, body)
	}

	// Far over the limit: the request reader cuts the body off first.
	// Both paths answer with the same validation failure.
	status, body = rawUpload(t, srv, solverTok, task.ID, "huge.zip", "application/zip", storedZipPayload(t, 12<<20))
	if status != http.StatusUnprocessableEntity || errCode(t, body) != "validation_failed" {
		t.Fatalf("truncated upload = %d %s", status, body)
	}
}

func TestProfileEndpoints(t *testing.T) {
	srv := newTestServer(t)
	solver, solverTok := srv.register(t, "solver@example.com", domain.RoleSolver)
	_, buyerTok := srv.register(t, "buyer@example.com", domain.RoleBuyer)

	res, data := doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v0/me", solverTok, map[string]any{
		"bio":    "Ten years of pipelines",
		"skills": []string{"go", "sqlite"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch me = %d: %s", res.StatusCode, data)
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatal(err)
	}
	if u.Bio != "Ten years of pipelines" || len(u.Skills) != 2 {
		t.Fatalf("patched profile: %+v", u)
	}

	// Any authenticated user can read the public profile.
	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/users/"+solver.ID, buyerTok, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get user = %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &u); err != nil {
		t.Fatal(err)
	}
	if u.ID != solver.ID || u.Bio != "Ten years of pipelines" {
		t.Fatalf("public profile: %+v", u)
	}

	res, data = doJSON(t, srv.client, http.MethodPatch, srv.URL+"/v0/me", solverTok, map[string]any{"name": ""})
	if res.StatusCode != http.StatusUnprocessableEntity || errCode(t, data) != "validation_failed" {
		t.Fatalf("blank name = %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.client, http.MethodGet, srv.URL+"/v0/users/missing", buyerTok, nil)
	if res.StatusCode != http.StatusNotFound || errCode(t, data) != "not_found" {
		t.Fatalf("unknown user = %d %s", res.StatusCode, data)
	}
}

// readyTask walks a project through assignment so uploads against the
// returned task are legal.
func (s *testServer) readyTask(t *testing.T, buyer, solver domain.User) domain.Task {
	t.Helper()
	ctx := context.Background()
	b := domain.Actor{ID: buyer.ID, Role: buyer.Role}
	sv := domain.Actor{ID: solver.ID, Role: solver.Role}
	p, err := s.Engine.CreateProject(ctx, b, engine.ProjectCreateOptions{Title: "Delivery"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	req, err := s.Engine.CreateRequest(ctx, sv, p.ID, "")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := s.Engine.AcceptRequest(ctx, b, req.ID); err != nil {
		t.Fatalf("accept request: %v", err)
	}
	task, err := s.Engine.CreateTask(ctx, sv, engine.TaskCreateOptions{ProjectID: p.ID, Title: "Ship"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

// storedZipPayload builds a valid archive whose entry is stored rather
// than deflated, so the byte size on the wire tracks size.
func storedZipPayload(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: "big.bin", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(bytes.Repeat([]byte("x"), size)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func uploadArchive(t *testing.T, srv *testServer, token, taskID, fileName string, payload []byte) domain.Submission {
	t.Helper()
	status, body := rawUpload(t, srv, token, taskID, fileName, "application/zip", payload)
	if status != http.StatusCreated {
		t.Fatalf("upload = %d: %s", status, body)
	}
	var sub domain.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

func rawUpload(t *testing.T, srv *testServer, token, taskID, fileName, contentType string, payload []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + fileName + `"`}
	h["Content-Type"] = []string{contentType}
	fw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v0/tasks/"+taskID+"/submissions", &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return res.StatusCode, data
}
