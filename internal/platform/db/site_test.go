package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newSiteContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractSiteID_FromHeader(t *testing.T) {
	c := newSiteContext("/")
	c.Request().Header.Set("X-Site-ID", "lisungwi")
	if sid := extractSiteID(c, "neno"); sid != "lisungwi" {
		t.Errorf("expected lisungwi, got %s", sid)
	}
}

func TestExtractSiteID_FromQuery(t *testing.T) {
	c := newSiteContext("/?site_id=matandani")
	if sid := extractSiteID(c, "neno"); sid != "matandani" {
		t.Errorf("expected matandani, got %s", sid)
	}
}

func TestExtractSiteID_Default(t *testing.T) {
	c := newSiteContext("/")
	if sid := extractSiteID(c, "neno"); sid != "neno" {
		t.Errorf("expected neno, got %s", sid)
	}
}

func TestExtractSiteID_TokenWins(t *testing.T) {
	c := newSiteContext("/?site_id=query")
	c.Request().Header.Set("X-Site-ID", "header")
	c.Set("jwt_site_id", "token")
	if sid := extractSiteID(c, "neno"); sid != "token" {
		t.Errorf("expected token, got %s", sid)
	}
}

func TestSiteMiddleware_RejectsBadSite(t *testing.T) {
	c := newSiteContext("/")
	c.Request().Header.Set("X-Site-ID", "bad;site")

	called := false
	h := SiteMiddleware(nil, "neno")(func(c echo.Context) error {
		called = true
		return nil
	})
	err := h(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if called {
		t.Error("next handler should not run")
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx")
	}
	if SiteFromContext(ctx) != "" {
		t.Error("expected empty site")
	}
}
