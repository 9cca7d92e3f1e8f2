package budget

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/middleware"
)

func TestHandlerSetAndStatus(t *testing.T) {
	f := newFixture(t, time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC))
	h := NewHandler(f.budgets)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		middleware.SetIdentity(c, alice)
		return c.Next()
	})
	app.Put("/budgets/:year/:month", h.Set)
	app.Get("/budgets/:year/:month", h.List)
	app.Get("/budgets/:year/:month/status", h.Status)

	req := httptest.NewRequest(fiber.MethodPut, "/budgets/2024/5", strings.NewReader(`{"category":"Food","limit":"300"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/budgets/2024/5/status", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status map[string]CategoryStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s := body.Status["Food"]; s.Status != StatusOK || s.Remaining.String() != "300" {
		t.Fatalf("unexpected status %+v", body.Status)
	}

	for _, path := range []string{"/budgets/2024/13", "/budgets/year/5"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, resp.StatusCode)
		}
	}
}
