package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/fakeapi"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/stretchr/testify/require"
)

func setupApp(t *testing.T) (*fakeapi.Server, func() (*app, *bytes.Buffer)) {
	t.Helper()

	api := fakeapi.New(t)
	t.Setenv("API_BASE_URL", api.URL)
	t.Setenv("TOKEN_FILE", filepath.Join(t.TempDir(), "session.json"))
	t.Setenv("TOKEN_SECRET", "cli-secret")

	return api, func() (*app, *bytes.Buffer) {
		var out bytes.Buffer
		a, err := newApp(config.New(), &out)
		require.NoError(t, err)
		t.Cleanup(a.close)
		return a, &out
	}
}

func TestApp_SessionSurvivesRuns(t *testing.T) {
	_, newRun := setupApp(t)
	ctx := context.Background()

	first, out := newRun()
	require.NoError(t, first.dispatch(ctx, "login", []string{"-email", "john.doe@example.com", "-password", "password123"}))
	require.Contains(t, out.String(), "Signed in as John Doe")

	second, out := newRun()
	require.NoError(t, second.dispatch(ctx, "whoami", nil))
	var user session.UserProfile
	require.NoError(t, json.Unmarshal(out.Bytes(), &user))
	require.Equal(t, "user-1", user.ID)

	out.Reset()
	require.NoError(t, second.dispatch(ctx, "get", []string{fakeapi.RouteCourses, "-q", "q=distributed"}))
	var courses []fakeapi.Course
	require.NoError(t, json.Unmarshal(out.Bytes(), &courses))
	require.Equal(t, []fakeapi.Course{{ID: "c-2", Title: "Distributed Systems"}}, courses)

	require.NoError(t, second.dispatch(ctx, "logout", nil))
	third, _ := newRun()
	require.ErrorIs(t, third.dispatch(ctx, "whoami", nil), session.ErrNoSession)
}

func TestApp_Download(t *testing.T) {
	_, newRun := setupApp(t)
	ctx := context.Background()
	a, out := newRun()
	require.NoError(t, a.dispatch(ctx, "login", []string{"-email", "john.doe@example.com", "-password", "password123"}))

	dir := t.TempDir()
	require.NoError(t, a.dispatch(ctx, "download", []string{fakeapi.RouteCourseExport, "-o", dir, "-body", `{"ids":["c-1"]}`}))
	require.Contains(t, out.String(), "courses.xlsx")

	data, err := os.ReadFile(filepath.Join(dir, "courses.xlsx"))
	require.NoError(t, err)
	require.Equal(t, fakeapi.XLSXBody, string(data))
}

func TestApp_Errors(t *testing.T) {
	api, newRun := setupApp(t)
	ctx := context.Background()
	a, _ := newRun()

	err := a.dispatch(ctx, "login", []string{"-email", "john.doe@example.com", "-password", "nope"})
	require.EqualError(t, err, "Invalid email or password")

	require.NoError(t, a.dispatch(ctx, "login", []string{"-email", "john.doe@example.com", "-password", "password123"}))
	api.Expire()
	api.FailRefresh(true)
	err = a.dispatch(ctx, "get", []string{fakeapi.RouteCourses})
	require.Error(t, err)

	_, err = a.store.Load()
	require.ErrorIs(t, err, session.ErrNoSession)

	require.Error(t, a.dispatch(ctx, "get", nil))
	require.Error(t, a.dispatch(ctx, "download", []string{"-o", "x"}))
	require.Error(t, a.dispatch(ctx, "subscribe", nil))
	require.Error(t, a.dispatch(ctx, "unknown", nil))
}

func TestQueryFlag(t *testing.T) {
	q := queryFlag{}
	require.NoError(t, q.Set("ids=1"))
	require.NoError(t, q.Set("ids=2"))
	require.Error(t, q.Set("broken"))
	require.Equal(t, "ids=1&ids=2", q.String())
}
