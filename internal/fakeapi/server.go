// Package fakeapi is an in-process implementation of the API used by the
// client's tests. It issues short-lived JWT access tokens and rotating
// refresh tokens and wraps every JSON response in the API envelope.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/envelope"
	"github.com/jrsteele09/go-auth-client/session"
)

const (
	issuer          = "fakeapi"
	defaultPassword = "password123"
)

// Routes served besides the authentication endpoints.
const (
	RouteCourses       = "/courses"
	RouteCourseExport  = "/courses/export"
	RouteBusinessError = "/business-error"
	RouteRateLimited   = "/rate-limited"
)

type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// XLSXBody is what RouteCourseExport returns. It looks like JSON on purpose.
const XLSXBody = `{"status":true,"data":"not an envelope"}`

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Server struct {
	*httptest.Server

	mu         sync.Mutex
	key        []byte
	generation int
	users      map[string]session.UserProfile // email to user
	courses    []Course

	refreshTokens *refreshTokens
	accessTTL     time.Duration
	nowFunc       func() time.Time

	refreshCalls  atomic.Int64
	refreshDelay  atomic.Int64
	failRefresh   atomic.Bool
	authHeaders   chan string
	idTokenLogins []string
}

func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		key:         []byte(uuid.NewString()),
		users:       make(map[string]session.UserProfile),
		accessTTL:   15 * time.Minute,
		nowFunc:     time.Now,
		authHeaders: make(chan string, 1024),
		courses: []Course{
			{ID: "c-1", Title: "Go Concurrency"},
			{ID: "c-2", Title: "Distributed Systems"},
		},
	}
	s.refreshTokens = newRefreshTokens(7*24*time.Hour, s.now)
	s.AddUser(session.UserProfile{ID: "user-1", Email: "john.doe@example.com", FullName: "John Doe", Role: "STUDENT"})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate/login", s.handleLogin)
	mux.HandleFunc("POST /authenticate/login-with-token", s.handleLoginWithToken)
	mux.HandleFunc("POST /authenticate/refresh-token", s.handleRefresh)
	mux.HandleFunc("GET "+RouteCourses, s.requireAuth(s.handleListCourses))
	mux.HandleFunc("POST "+RouteCourses, s.requireAuth(s.handleCreateCourse))
	mux.HandleFunc("PUT "+RouteCourses+"/{id}", s.requireAuth(s.handleUpdateCourse))
	mux.HandleFunc("PATCH "+RouteCourses+"/{id}", s.requireAuth(s.handleUpdateCourse))
	mux.HandleFunc("DELETE "+RouteCourses+"/{id}", s.requireAuth(s.handleDeleteCourse))
	mux.HandleFunc("GET "+RouteCourseExport, s.requireAuth(s.handleExport))
	mux.HandleFunc("POST "+RouteCourseExport, s.requireAuth(s.handleExport))
	mux.HandleFunc("GET "+RouteBusinessError, s.requireAuth(s.handleBusinessError))
	mux.HandleFunc("GET "+RouteRateLimited, s.handleRateLimited)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowFunc()
}

func (s *Server) AddUser(user session.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Email] = user
}

// Expire invalidates every access token issued so far.
func (s *Server) Expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens makes the next refresh fail as an unknown token.
func (s *Server) RevokeRefreshTokens() {
	s.refreshTokens.RevokeAll()
}

func (s *Server) SetRefreshDelay(d time.Duration) {
	s.refreshDelay.Store(int64(d))
}

func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// AuthHeaders drains the Authorization headers seen so far, in order.
func (s *Server) AuthHeaders() []string {
	var headers []string
	for {
		select {
		case h := <-s.authHeaders:
			headers = append(headers, h)
		default:
			return headers
		}
	}
}

// IDTokenLogins returns the ID tokens accepted by login-with-token.
func (s *Server) IDTokenLogins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.idTokenLogins...)
}

// IssueSession signs in email without going through the HTTP endpoints.
func (s *Server) IssueSession(t testing.TB, email string) session.Session {
	t.Helper()
	resp, err := s.issue(email)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	sess, err := session.FromTokenResponse(resp, session.Session{}, s.now())
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return sess
}

func (s *Server) issue(email string) (*session.TokenResponse, error) {
	s.mu.Lock()
	user, ok := s.users[email]
	generation := s.generation
	now := s.nowFunc()
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown user %s", email)
	}

	claims := jwt.MapClaims{
		"iss":   issuer,
		"sub":   user.ID,
		"email": user.Email,
		"gen":   generation,
		"iat":   now.Unix(),
		"exp":   now.Add(s.accessTTL).Unix(),
		"jti":   uuid.NewString(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := s.refreshTokens.Create(user.ID)
	if err != nil {
		return nil, err
	}

	return &session.TokenResponse{
		Token:        &access,
		RefreshToken: &refresh,
		User:         &user,
		ExpiresIn:    int64(s.accessTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

func (s *Server) userByID(id string) (session.UserProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, true
		}
	}
	return session.UserProfile{}, false
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		select {
		case s.authHeaders <- header:
		default:
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
			writeError(w, http.StatusUnauthorized, "")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
			return s.key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "")
			return
		}

		s.mu.Lock()
		current := s.generation
		s.mu.Unlock()
		if gen, _ := claims["gen"].(float64); int(gen) != current {
			writeError(w, http.StatusUnauthorized, "")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Password != defaultPassword {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	resp, err := s.issue(body.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleLoginWithToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	// The fake trusts the third party token and signs in its email claim
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(body.Token, claims); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	email, _ := claims["email"].(string)
	resp, err := s.issue(email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	s.mu.Lock()
	s.idTokenLogins = append(s.idTokenLogins, body.Token)
	s.mu.Unlock()
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	if s.failRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "Refresh token is invalid")
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userID, err := s.refreshTokens.Consume(body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Refresh token is invalid")
		return
	}
	user, ok := s.userByID(userID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Refresh token is invalid")
		return
	}
	resp, err := s.issue(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "")
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	courses := append([]Course(nil), s.courses...)
	s.mu.Unlock()

	if q := r.URL.Query().Get("q"); q != "" {
		filtered := courses[:0]
		for _, c := range courses {
			if strings.Contains(strings.ToLower(c.Title), strings.ToLower(q)) {
				filtered = append(filtered, c)
			}
		}
		courses = filtered
	}
	writeData(w, http.StatusOK, courses)
}

func (s *Server) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var c Course
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Title == "" {
		writeEnvelope(w, http.StatusOK, envelope.Envelope{Status: false, StatusCode: http.StatusBadRequest, Message: "title is required"})
		return
	}
	c.ID = uuid.NewString()

	s.mu.Lock()
	s.courses = append(s.courses, c)
	s.mu.Unlock()
	writeData(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	var update Course
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.courses {
		if c.ID == r.PathValue("id") {
			if update.Title != "" {
				s.courses[i].Title = update.Title
			}
			writeData(w, http.StatusOK, s.courses[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "course not found")
}

func (s *Server) handleDeleteCourse(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.courses {
		if c.ID == r.PathValue("id") {
			s.courses = append(s.courses[:i], s.courses[i+1:]...)
			writeData[any](w, http.StatusOK, nil)
			return
		}
	}
	writeError(w, http.StatusNotFound, "course not found")
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", XLSXContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="courses.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(XLSXBody))
}

func (s *Server) handleBusinessError(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, http.StatusOK, envelope.Envelope{Status: false, StatusCode: http.StatusBadRequest, Message: "bad"})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusTooManyRequests)
}

func writeData[T any](w http.ResponseWriter, status int, data T) {
	raw, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, status, envelope.Envelope{Status: true, StatusCode: status, Message: "ok", Data: raw})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope.Envelope{Status: false, StatusCode: status, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
