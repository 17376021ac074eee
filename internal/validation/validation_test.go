package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidID(t *testing.T) {
	valid := []string{
		"txn_3f2a9b8c1d4e5f6a7b8c9d0e",
		"usr_buyer1",
		"lst_bike-2024",
		"auth_abc123",
	}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{
		"",
		"no-underscore",
		"txn_",
		"txn_ab",                // body too short
		"_leading",
		"TXN_uppercase-prefix",
		"txn_has space",
		"txn_" + strings.Repeat("a", 65), // body too long
		"waytoolongprefix_abcd",
	}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"  hello  ", 100, "hello"},
		{"hello\x00world", 100, "helloworld"},
		{"abcdef", 3, "abc"},
		{"", 10, ""},
	}
	for _, tt := range tests {
		if got := SanitizeString(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("listingId", ""),
		ValidID("buyerId", "not valid"),
		PositiveAmount("amount", -5),
		MaxLength("reason", strings.Repeat("x", 20), 10),
	)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	if errs[0].Field != "listingId" {
		t.Errorf("first error field = %q", errs[0].Field)
	}
	if errs.Error() == "" {
		t.Error("expected non-empty error string")
	}

	ok := Validate(
		Required("listingId", "lst_bike001"),
		ValidID("listingId", "lst_bike001"),
		PositiveAmount("amount", 100),
	)
	if len(ok) != 0 {
		t.Errorf("expected no errors, got %v", ok)
	}

	// Empty values pass ValidID; Required is the emptiness check.
	if errs := Validate(ValidID("optional", "")); len(errs) != 0 {
		t.Errorf("expected empty value to pass ValidID, got %v", errs)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RequestSizeMiddleware(64))
	router.POST("/test", func(c *gin.Context) {
		var body map[string]interface{}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	small := httptest.NewRequest("POST", "/test", strings.NewReader(`{"a":1}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, small)
	if w.Code != http.StatusOK {
		t.Errorf("small body status = %d, want 200", w.Code)
	}

	big := httptest.NewRequest("POST", "/test", strings.NewReader(`{"a":"`+strings.Repeat("x", 200)+`"}`))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 400", w.Code)
	}
}

func TestIDParamMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/escrow/:id", IDParamMiddleware("id"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/escrow/txn_abcd1234", nil))
	if w.Code != http.StatusOK {
		t.Errorf("valid id status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/escrow/bogus", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", w.Code)
	}
}
