package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/tidwall/gjson"
)

const secret = "test-jwt-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func signed(t *testing.T, claims jwt.Claims, key string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestParseUserID(t *testing.T) {
	valid := signed(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, secret)
	expired := signed(t, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}, secret)
	wrongKey := signed(t, jwt.RegisteredClaims{Subject: "user-42"}, "other-secret")
	noSubject := signed(t, jwt.RegisteredClaims{}, secret)

	tests := []struct {
		name    string
		token   string
		wantID  string
		wantErr bool
	}{
		{"valid", valid, "user-42", false},
		{"expired", expired, "", true},
		{"wrong key", wrongKey, "", true},
		{"no subject", noSubject, "", true},
		{"garbage", "not.a.jwt", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseUserID(tt.token, secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}
			if id != tt.wantID {
				t.Errorf("expected id %q, got %q", tt.wantID, id)
			}
		})
	}
}

func identityEngine() *gin.Engine {
	r := gin.New()
	r.Use(Identity(secret))
	r.GET("/who", func(c *gin.Context) {
		id, ok := UserID(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id, "authenticated": ok})
	})
	return r
}

func TestIdentity(t *testing.T) {
	r := identityEngine()
	token := signed(t, jwt.RegisteredClaims{Subject: "user-7"}, secret)

	tests := []struct {
		name   string
		header string
		wantID string
	}{
		{"bearer", "Bearer " + token, "user-7"},
		{"anonymous", "", ""},
		{"bad token", "Bearer nope", ""},
		{"wrong scheme", "Basic " + token, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", w.Code)
			}
			if got := gjson.Get(w.Body.String(), "user_id").String(); got != tt.wantID {
				t.Errorf("expected user id %q, got %q", tt.wantID, got)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := w.Body.String()
	if gjson.Get(body, "error").String() != "Internal server error" {
		t.Errorf("unexpected error field: %s", body)
	}
	if gjson.Get(body, "details").String() != "kaboom" {
		t.Errorf("expected panic text in details, got %s", body)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS(), Preflight())
	r.POST("/chat", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	t.Run("preflight with origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set("Origin", "https://tutor.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", w.Body.String())
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected allow-origin *, got %q", got)
		}
	})

	t.Run("preflight without origin", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/chat", nil))
		if w.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", w.Code)
		}
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		req.Header.Set("Origin", "https://tutor.example")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("expected allow-origin *, got %q", got)
		}
	})
}

func TestLogging_SetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logging())
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(KeyRequestID))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	id := w.Header().Get("X-Request-ID")
	if id == "" || id != w.Body.String() {
		t.Errorf("expected request id header to match context, got %q and %q", id, w.Body.String())
	}
}
