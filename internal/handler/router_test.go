package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/bookshare/internal/domain"
	"github.com/hitoshi/bookshare/internal/metrics"
	"github.com/hitoshi/bookshare/internal/middleware"
	"github.com/hitoshi/bookshare/internal/repository/memstore"
)

// plainHasher はテスト高速化のためbcryptを使わないハッシュ実装。
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "hashed:" + pw, nil }
func (plainHasher) Verify(hash, pw string) bool    { return hash == "hashed:"+pw }

// testServer はmemstore上のFacadeで構成したAPIサーバー。
type testServer struct {
	t      *testing.T
	router http.Handler
	store  *memstore.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memstore.New()
	lending := store.Lending()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	facade := domain.New(domain.Repositories{
		Users:     store.Users(),
		Friends:   store.Friends(),
		Books:     store.Books(),
		Shelves:   lending,
		Borrows:   lending,
		Ledger:    lending,
		Timelines: store.Timelines(),
	}, domain.Options{
		Metrics: collector,
		Logger:  logger,
		Hasher:  plainHasher{},
	})

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     1000,
		GeneralBurst:    1000,
		CatalogRate:     1000,
		CatalogBurst:    1000,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Service:           facade,
		Tokens:            middleware.NewTokenAuthenticator("router-test-secret", time.Hour),
		RateLimiter:       rl,
		CORSAllowedOrigin: "http://localhost:3000",
		Logger:            logger,
		Metrics:           collector,
		Gatherer:          reg,
	})
	return &testServer{t: t, router: router, store: store}
}

// do はリクエストを送り、レスポンスを返す。bodyがnilでなければJSONとして送る。
func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type registeredUser struct {
	ID    int64
	Token string
}

func (s *testServer) register(email string) registeredUser {
	s.t.Helper()
	w := s.do(http.MethodPost, "/v1/users", "", map[string]string{
		"email":     email,
		"password":  "password123",
		"firstname": "太郎",
		"lastname":  "山田",
	})
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp authResponse
	decodeBody(s.t, w, &resp)
	return registeredUser{ID: resp.User.ID, Token: resp.Token}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v (body=%s)", err, w.Body.String())
	}
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, want, w.Body.String())
	}
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assertStatus(t, w, status)
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}

func userPath(id int64, suffix string) string {
	return "/v1/users/" + itoa(id) + suffix
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")

	if alice.Token == "" {
		t.Fatal("token should be issued on register")
	}

	w := s.do(http.MethodPost, "/v1/sessions", "", map[string]string{"email": "alice@example.com", "password": "password123"})
	assertStatus(t, w, http.StatusOK)

	w = s.do(http.MethodPost, "/v1/sessions", "", map[string]string{"email": "alice@example.com", "password": "wrong"})
	assertErrorCode(t, w, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	w = s.do(http.MethodPost, "/v1/users", "", map[string]string{
		"email": "alice@example.com", "password": "password123", "firstname": "a", "lastname": "b",
	})
	assertErrorCode(t, w, http.StatusConflict, "USER_ALREADY_EXISTS")

	w = s.do(http.MethodPost, "/v1/users", "", nil)
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestGetUser_HidesPrivateFieldsFromOthers(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")
	bob := s.register("bob@example.com")

	w := s.do(http.MethodGet, userPath(alice.ID, ""), alice.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var self userResponse
	decodeBody(t, w, &self)
	if self.Email != "alice@example.com" || self.InvitationCode == "" {
		t.Errorf("self view should include email and invitation code: %+v", self)
	}

	w = s.do(http.MethodGet, userPath(alice.ID, ""), bob.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var other map[string]any
	decodeBody(t, w, &other)
	if _, ok := other["email"]; ok {
		t.Error("email should not be visible to other users")
	}

	w = s.do(http.MethodGet, userPath(999, ""), bob.Token, nil)
	assertErrorCode(t, w, http.StatusNotFound, "USER_NOT_FOUND")

	w = s.do(http.MethodGet, "/v1/users/abc", bob.Token, nil)
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestAuthAndActorChecks(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")
	bob := s.register("bob@example.com")

	w := s.do(http.MethodGet, userPath(alice.ID, "/timeline"), "", nil)
	assertErrorCode(t, w, http.StatusUnauthorized, "UNAUTHENTICATED")

	// 他人のuser_idに対する操作は403
	w = s.do(http.MethodPut, userPath(alice.ID, ""), bob.Token, map[string]string{"school": "x"})
	assertErrorCode(t, w, http.StatusForbidden, "FORBIDDEN_ACTOR")

	w = s.do(http.MethodDelete, userPath(alice.ID, ""), bob.Token, nil)
	assertErrorCode(t, w, http.StatusForbidden, "FORBIDDEN_ACTOR")

	w = s.do(http.MethodGet, userPath(alice.ID, "/borrow"), bob.Token, nil)
	assertErrorCode(t, w, http.StatusForbidden, "FORBIDDEN_ACTOR")
}

func TestFriendEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")
	bob := s.register("bob@example.com")

	w := s.do(http.MethodPost, userPath(alice.ID, "/friend"), alice.Token, map[string]int64{"friend_id": bob.ID})
	assertStatus(t, w, http.StatusCreated)

	w = s.do(http.MethodPost, userPath(alice.ID, "/friend"), alice.Token, map[string]int64{"friend_id": bob.ID})
	assertErrorCode(t, w, http.StatusConflict, "FRIEND_REQUEST_EXISTS")

	w = s.do(http.MethodPost, userPath(alice.ID, "/friend"), alice.Token, map[string]int64{"friend_id": alice.ID})
	assertErrorCode(t, w, http.StatusConflict, "FRIEND_SELF")

	w = s.do(http.MethodGet, userPath(bob.ID, "/friend/new"), bob.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var incoming []userResponse
	decodeBody(t, w, &incoming)
	if len(incoming) != 1 || incoming[0].ID != alice.ID {
		t.Fatalf("incoming = %+v, want [alice]", incoming)
	}

	w = s.do(http.MethodGet, userPath(alice.ID, "/friend/requested"), alice.Token, nil)
	assertStatus(t, w, http.StatusOK)

	// 申請者自身は承認できない
	w = s.do(http.MethodPut, userPath(alice.ID, "/friend/new/"+itoa(bob.ID)), alice.Token, nil)
	assertErrorCode(t, w, http.StatusForbidden, "NOT_REQUEST_TARGET")

	w = s.do(http.MethodPut, userPath(bob.ID, "/friend/new/"+itoa(alice.ID)), bob.Token, nil)
	assertStatus(t, w, http.StatusOK)

	w = s.do(http.MethodGet, userPath(alice.ID, "/friend"), alice.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var friends []userResponse
	decodeBody(t, w, &friends)
	if len(friends) != 1 || friends[0].ID != bob.ID {
		t.Fatalf("friends = %+v, want [bob]", friends)
	}

	w = s.do(http.MethodDelete, userPath(alice.ID, "/friend/"+itoa(bob.ID)), alice.Token, nil)
	assertStatus(t, w, http.StatusNoContent)

	w = s.do(http.MethodDelete, userPath(alice.ID, "/friend/"+itoa(bob.ID)), alice.Token, nil)
	assertErrorCode(t, w, http.StatusNotFound, "FRIENDSHIP_NOT_FOUND")

	w = s.do(http.MethodDelete, userPath(bob.ID, "/friend/new/"+itoa(alice.ID)), bob.Token, nil)
	assertErrorCode(t, w, http.StatusNotFound, "FRIEND_REQUEST_NOT_FOUND")
}

func TestLendingEndpoints(t *testing.T) {
	s := newTestServer(t)
	lender := s.register("lender@example.com")
	borrower := s.register("borrower@example.com")
	other := s.register("other@example.com")

	w := s.do(http.MethodPost, "/v1/books", lender.Token, map[string]string{"title": "坊っちゃん", "isbn": "9784101010038"})
	assertStatus(t, w, http.StatusCreated)
	var book bookResponse
	decodeBody(t, w, &book)

	w = s.do(http.MethodGet, "/v1/books/"+itoa(book.ID), borrower.Token, nil)
	assertStatus(t, w, http.StatusOK)

	w = s.do(http.MethodPost, userPath(lender.ID, "/bookshelf"), lender.Token, map[string]int64{"book_id": book.ID})
	assertStatus(t, w, http.StatusCreated)

	w = s.do(http.MethodPost, userPath(borrower.ID, "/borrow"), borrower.Token, map[string]any{
		"book_id": book.ID, "lender_id": lender.ID, "due_date": "2026-12-31",
	})
	assertStatus(t, w, http.StatusCreated)
	var borrow borrowResponse
	decodeBody(t, w, &borrow)
	if borrow.DueDate == nil || borrow.DueDate.Format(time.DateOnly) != "2026-12-31" {
		t.Errorf("due_date = %v, want 2026-12-31", borrow.DueDate)
	}

	w = s.do(http.MethodPost, userPath(other.ID, "/borrow"), other.Token, map[string]any{
		"book_id": book.ID, "lender_id": lender.ID,
	})
	assertErrorCode(t, w, http.StatusConflict, "BOOK_COPY_LENT")

	w = s.do(http.MethodPost, userPath(borrower.ID, "/borrow"), borrower.Token, map[string]any{
		"book_id": book.ID, "lender_id": lender.ID, "due_date": "next week",
	})
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")

	w = s.do(http.MethodDelete, userPath(lender.ID, "/bookshelf/"+itoa(book.ID)), lender.Token, nil)
	assertErrorCode(t, w, http.StatusConflict, "BOOK_COPY_LENT")

	returnPath := "/borrow/" + itoa(lender.ID) + "/" + itoa(book.ID)
	w = s.do(http.MethodDelete, userPath(other.ID, returnPath), other.Token, nil)
	assertErrorCode(t, w, http.StatusForbidden, "NOT_CURRENT_BORROWER")

	w = s.do(http.MethodDelete, userPath(borrower.ID, returnPath), borrower.Token, nil)
	assertStatus(t, w, http.StatusNoContent)

	w = s.do(http.MethodDelete, userPath(borrower.ID, returnPath), borrower.Token, nil)
	assertErrorCode(t, w, http.StatusNotFound, "LOAN_NOT_FOUND")

	w = s.do(http.MethodGet, userPath(borrower.ID, "/borrow"), borrower.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var active []borrowResponse
	decodeBody(t, w, &active)
	if len(active) != 0 {
		t.Errorf("active borrows = %d, want 0", len(active))
	}

	w = s.do(http.MethodGet, userPath(borrower.ID, "/borrow?include_returned=true"), borrower.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var history []borrowResponse
	decodeBody(t, w, &history)
	if len(history) != 1 || history[0].ReturnedAt == nil {
		t.Errorf("history = %+v, want one returned borrow", history)
	}

	w = s.do(http.MethodGet, userPath(borrower.ID, "/timeline"), borrower.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var timeline []timelineEntryResponse
	decodeBody(t, w, &timeline)
	if len(timeline) != 2 || timeline[0].Type != "returned" || timeline[1].Type != "borrowed" {
		t.Errorf("timeline = %+v, want [returned borrowed]", timeline)
	}

	w = s.do(http.MethodGet, userPath(lender.ID, "/bookshelf"), lender.Token, nil)
	assertStatus(t, w, http.StatusOK)
	var shelf []bookCopyResponse
	decodeBody(t, w, &shelf)
	if len(shelf) != 1 || !shelf[0].Available {
		t.Errorf("shelf = %+v, want one available copy", shelf)
	}
}

func TestTimelineEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")

	w := s.do(http.MethodPost, userPath(alice.ID, "/timeline"), alice.Token, map[string]string{"type": "note", "message": "<b>読了</b>"})
	assertStatus(t, w, http.StatusCreated)
	var entry timelineEntryResponse
	decodeBody(t, w, &entry)
	if string(entry.Data) != `{"message":"読了"}` {
		t.Errorf("data = %s", entry.Data)
	}

	w = s.do(http.MethodPost, userPath(alice.ID, "/timeline"), alice.Token, map[string]string{"message": "no type"})
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")

	w = s.do(http.MethodPost, userPath(alice.ID, "/timeline"), alice.Token, map[string]string{"type": "returned", "message": "返却済み"})
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")

	w = s.do(http.MethodPost, userPath(alice.ID, "/timeline"), alice.Token, map[string]string{"type": strings.Repeat("t", 33)})
	assertErrorCode(t, w, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestDeleteUserEndpoint(t *testing.T) {
	s := newTestServer(t)
	alice := s.register("alice@example.com")

	w := s.do(http.MethodDelete, userPath(alice.ID, ""), alice.Token, nil)
	assertStatus(t, w, http.StatusNoContent)

	w = s.do(http.MethodGet, userPath(alice.ID, ""), alice.Token, nil)
	assertErrorCode(t, w, http.StatusNotFound, "USER_NOT_FOUND")

	// 退会後もトークン自体は有効期限まで検証を通る
	w = s.do(http.MethodPost, userPath(alice.ID, "/timeline"), alice.Token, map[string]string{"type": "note", "message": "x"})
	assertErrorCode(t, w, http.StatusNotFound, "USER_NOT_FOUND")
	w = s.do(http.MethodPost, userPath(alice.ID, "/bookshelf"), alice.Token, map[string]any{"book_id": 1})
	assertErrorCode(t, w, http.StatusNotFound, "USER_NOT_FOUND")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assertStatus(t, w, http.StatusOK)

	s.register("alice@example.com")

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assertStatus(t, w, http.StatusOK)
	body := w.Body.String()
	for _, want := range []string{"bookshare_operations_total", "bookshare_http_status_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output should contain %s", want)
		}
	}
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestHealth_Unavailable(t *testing.T) {
	w := httptest.NewRecorder()
	Health(failingPinger{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assertStatus(t, w, http.StatusServiceUnavailable)
}
