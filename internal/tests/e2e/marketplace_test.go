//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/servicehub/apiserver/config"
	"github.com/servicehub/apiserver/internal/db"
	"github.com/servicehub/apiserver/internal/server"
)

const (
	serverPort = 18080
)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}

	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	if err := waitForPostgres(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "postgres not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	if err := runMigrations(root); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv, err := startServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown()
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown()
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

func TestMarketplaceLifecycle(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	providerToken := register(t, baseURL, fmt.Sprintf("provider_%d@example.com", suffix), "PROVIDER")
	adminEmail := fmt.Sprintf("admin_%d@example.com", suffix)
	register(t, baseURL, adminEmail, "USER")
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	adminToken := login(t, baseURL, adminEmail)
	userToken := register(t, baseURL, fmt.Sprintf("user_%d@example.com", suffix), "USER")

	svc := createService(t, baseURL, providerToken, "Dog Walking")
	if svc.ApprovalStatus != "PENDING" {
		t.Fatalf("expected new service to be PENDING, got %q", svc.ApprovalStatus)
	}

	// Pending listings are invisible to the public.
	if status := getStatus(t, baseURL+fmt.Sprintf("/services/%d", svc.ID), ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 for pending service, got %d", status)
	}

	patchExpect(t, baseURL+fmt.Sprintf("/admin/services/%d/approve", svc.ID), adminToken, http.StatusOK)

	if status := getStatus(t, baseURL+fmt.Sprintf("/services/%d", svc.ID), ""); status != http.StatusOK {
		t.Fatalf("expected 200 for approved service, got %d", status)
	}

	postReview(t, baseURL, userToken, svc.ID, 5, "Excellent walker", http.StatusCreated)

	fetched := getService(t, baseURL, svc.ID)
	if fetched.ReviewCount != 1 {
		t.Fatalf("expected review_count 1, got %d", fetched.ReviewCount)
	}
	if fetched.Rating != 5 {
		t.Fatalf("expected rating 5, got %v", fetched.Rating)
	}

	// One review per user per service.
	postReview(t, baseURL, userToken, svc.ID, 4, "Changed my mind", http.StatusConflict)

	// Providers cannot review their own listing.
	postReview(t, baseURL, providerToken, svc.ID, 5, "Great service if I say so myself", http.StatusForbidden)

	// Editing resets the listing to PENDING and hides it again.
	updated := updateService(t, baseURL, providerToken, svc.ID, "Dog Walking Deluxe")
	if updated.ApprovalStatus != "PENDING" {
		t.Fatalf("expected edited service to be PENDING, got %q", updated.ApprovalStatus)
	}
	if status := getStatus(t, baseURL+fmt.Sprintf("/services/%d", svc.ID), ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 after edit, got %d", status)
	}
}

func TestConcurrentReviews(t *testing.T) {
	baseURL := fmt.Sprintf("http://localhost:%d", serverPort)
	suffix := time.Now().UnixNano()

	providerToken := register(t, baseURL, fmt.Sprintf("cprov_%d@example.com", suffix), "PROVIDER")
	adminEmail := fmt.Sprintf("cadmin_%d@example.com", suffix)
	register(t, baseURL, adminEmail, "USER")
	if err := promoteUserToAdmin(adminEmail); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	adminToken := login(t, baseURL, adminEmail)

	svc := createService(t, baseURL, providerToken, "Lawn Care")
	patchExpect(t, baseURL+fmt.Sprintf("/admin/services/%d/approve", svc.ID), adminToken, http.StatusOK)

	tokens := []string{
		register(t, baseURL, fmt.Sprintf("cuser1_%d@example.com", suffix), "USER"),
		register(t, baseURL, fmt.Sprintf("cuser2_%d@example.com", suffix), "USER"),
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(tokens))
	for i, token := range tokens {
		wg.Add(1)
		go func(token string, rating int) {
			defer wg.Done()
			errs <- submitReview(baseURL, token, svc.ID, rating, "concurrent review", http.StatusCreated)
		}(token, 3+i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent review: %v", err)
		}
	}

	fetched := getService(t, baseURL, svc.ID)
	if fetched.ReviewCount != 2 {
		t.Fatalf("expected review_count 2 after concurrent reviews, got %d", fetched.ReviewCount)
	}
	if fetched.Rating != 3.5 {
		t.Fatalf("expected rating 3.5, got %v", fetched.Rating)
	}
}

type serviceResponse struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Rating         float64 `json:"rating"`
	ReviewCount    int     `json:"review_count"`
	ApprovalStatus string  `json:"approval_status"`
}

type authResponse struct {
	Token string `json:"token"`
}

const testPassword = "testpass123!"

func register(t *testing.T, baseURL, email, role string) string {
	t.Helper()

	payload := map[string]string{
		"name":     "Test Person",
		"email":    email,
		"password": testPassword,
		"role":     role,
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(baseURL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("register status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if parsed.Token == "" {
		t.Fatal("missing token in register response")
	}
	return parsed.Token
}

func login(t *testing.T, baseURL, email string) string {
	t.Helper()

	payload := map[string]string{
		"email":    email,
		"password": testPassword,
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("login status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed authResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return parsed.Token
}

func promoteUserToAdmin(email string) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = conn.ExecContext(ctx, "UPDATE users SET role = 'ADMIN', updated_at = NOW() WHERE email = $1", email)
	return err
}

func createService(t *testing.T, baseURL, token, name string) serviceResponse {
	t.Helper()
	return submitServiceForm(t, http.MethodPost, baseURL+"/services", token, name, http.StatusCreated)
}

func updateService(t *testing.T, baseURL, token string, id int, name string) serviceResponse {
	t.Helper()
	return submitServiceForm(t, http.MethodPatch, fmt.Sprintf("%s/services/%d", baseURL, id), token, name, http.StatusOK)
}

func submitServiceForm(t *testing.T, method, url, token, name string, wantStatus int) serviceResponse {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("name", name)
	_ = writer.WriteField("description", "A very reliable service.")
	_ = writer.WriteField("category", "Home")
	_ = writer.WriteField("location", "Springfield")
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req, err := http.NewRequest(method, url, &body)
	if err != nil {
		t.Fatalf("build service request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("service request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("service request status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode service response: %v", err)
	}
	return parsed
}

func getService(t *testing.T, baseURL string, id int) serviceResponse {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/services/%d", baseURL, id))
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("get service status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode service: %v", err)
	}
	return parsed
}

func getStatus(t *testing.T, url, token string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func patchExpect(t *testing.T, url, token string, wantStatus int) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPatch, url, nil)
	if err != nil {
		t.Fatalf("build patch request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("patch status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

func postReview(t *testing.T, baseURL, token string, serviceID, rating int, comment string, wantStatus int) {
	t.Helper()

	if err := submitReview(baseURL, token, serviceID, rating, comment, wantStatus); err != nil {
		t.Fatal(err)
	}
}

func submitReview(baseURL, token string, serviceID, rating int, comment string, wantStatus int) error {
	payload := map[string]any{
		"rating":  rating,
		"comment": comment,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/services/%d/reviews", baseURL, serviceID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build review request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("review request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("review status %d, want %d: %s", resp.StatusCode, wantStatus, strings.TrimSpace(string(msg)))
	}
	return nil
}

func waitForPostgres(ctx context.Context) error {
	cfg := config.LoadConfig()
	conn, err := sql.Open("postgres", db.DSN(cfg))
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres ping timeout: %w", err)
		case <-ticker.C:
		}
	}
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}

func runMigrations(root string) error {
	cfg := config.LoadConfig()
	migrationsPath := filepath.Join(root, "internal", "db", "migrations")
	migrationsURL := "file://" + migrationsPath

	migrator, err := migrate.New(migrationsURL, db.DSN(cfg))
	if err != nil {
		return err
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := migrator.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func startServer() (*server.Server, error) {
	_ = os.Setenv("JWT_SECRET", "test-secret")
	_ = os.Setenv("SERVER_PORT", fmt.Sprintf("%d", serverPort))
	_ = os.Setenv("DB_HOST", "localhost")
	_ = os.Setenv("DB_PORT", "5432")
	_ = os.Setenv("DB_USER", "servicehub")
	_ = os.Setenv("DB_PASSWORD", "password")
	_ = os.Setenv("DB_NAME", "servicehub_db")
	_ = os.Setenv("DB_USE_SSL", "false")
	_ = os.Setenv("STORAGE_DRIVER", "minio")
	_ = os.Setenv("MINIO_ENDPOINT", "localhost:9000")
	_ = os.Setenv("MINIO_ACCESS_KEY", "minioadmin")
	_ = os.Setenv("MINIO_SECRET_KEY", "minioadmin")
	_ = os.Setenv("MINIO_BUCKET", "servicehub-uploads")

	cfg := config.LoadConfig()
	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	go func() {
		_ = srv.Start()
	}()

	return srv, nil
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	composeFile := filepath.Join(root, "development", "docker-compose.yml")
	baseArgs := append([]string{"compose", "-f", composeFile}, args...)
	cmd := exec.CommandContext(ctx, "docker", baseArgs...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
