package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/jrsteele09/go-auth-client/apiservice"
	"github.com/jrsteele09/go-auth-client/auth"
	"github.com/jrsteele09/go-auth-client/envelope"
	"github.com/jrsteele09/go-auth-client/httpclient"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/realtime"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog/log"
)

type app struct {
	cfg      config.Config
	out      io.Writer
	store    session.Store
	notifier *session.Notifier
	api      *apiservice.Service
	auth     *auth.Service
	realtime *realtime.Manager
	cleanup  []func()
}

func newApp(c config.Config, out io.Writer) (*app, error) {
	store, err := newStore(c)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      c,
		out:      out,
		store:    store,
		notifier: session.NewNotifier(),
	}
	a.cleanup = append(a.cleanup, a.notifier.OnSessionChanged(a.onSessionChanged))

	a.api, err = apiservice.NewFromConfig(c, store, a.notifier)
	if err != nil {
		return nil, err
	}

	var options []auth.ServiceOption
	if issuer := c.GetOIDCIssuer(); issuer != "" {
		verifier, err := auth.NewProviderVerifier(context.Background(), issuer, c.GetOIDCClientID())
		if err != nil {
			return nil, err
		}
		options = append(options, auth.WithIDTokenVerifier(verifier))
	}
	a.auth, err = auth.NewService(a.api.API(), options...)
	if err != nil {
		return nil, err
	}

	// Realtime CONNECT frames carry a token refreshed ahead of expiry
	a.realtime = realtime.NewFromConfig(c, a.api.Coordinator().TokenSource(context.Background(), c.GetRefreshSkew()))
	return a, nil
}

// newStore keeps the session on disk when a token file is configured, so it
// survives between runs.
func newStore(c config.StorageConfig) (session.Store, error) {
	path := c.GetTokenFile()
	if path == "" {
		return session.NewMemoryStore(), nil
	}
	var options []session.FileStoreOption
	if secret := c.GetTokenSecret(); secret != "" {
		options = append(options, session.WithSecret(secret))
	}
	return session.NewFileStore(path, options...)
}

func (a *app) close() {
	for _, fn := range a.cleanup {
		fn()
	}
}

// onSessionChanged is the hard logout: when a refresh fails the user is told
// to sign in again.
func (a *app) onSessionChanged(e session.Event) {
	switch e.Type {
	case session.EventLogout:
		if e.Reason == session.ReasonSessionExpired {
			fmt.Fprintf(os.Stderr, "%s (%s)\n", a.api.API().Messages().SessionExpired, a.cfg.GetLoginRoute())
		}
	case session.EventRefreshed:
		log.Debug().Str("user_id", e.User.ID).Msg("Session refreshed")
	}
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.auth.Logout()
	case "whoami":
		return a.whoami()
	case "get":
		return a.get(ctx, args)
	case "download":
		return a.download(ctx, args)
	case "subscribe":
		return a.subscribe(ctx, args)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (a *app) login(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("login", flag.ContinueOnError)
	email := flags.String("email", "", "account email")
	password := flags.String("password", "", "account password")
	idToken := flags.String("id-token", "", "ID token issued by a third party")
	if err := flags.Parse(args); err != nil {
		return err
	}

	var (
		user *session.UserProfile
		err  error
	)
	if *idToken != "" {
		user, err = a.auth.LoginWithToken(ctx, *idToken)
	} else {
		user, err = a.auth.Login(ctx, auth.Credentials{Email: *email, Password: *password})
	}
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(a.out, "Signed in as %s <%s>\n", user.FullName, user.Email)
	return nil
}

func (a *app) whoami() error {
	user, err := a.auth.CurrentUser()
	if err != nil {
		return err
	}
	return printJSON(a.out, user)
}

func (a *app) get(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("get", flag.ContinueOnError)
	query := queryFlag{}
	flags.Var(query, "q", "query parameter key=value, repeatable")
	path, err := parseWithPath(flags, args)
	if err != nil {
		return err
	}

	data, err := apiservice.Get[json.RawMessage](ctx, a.api, path, httpclient.WithQuery(url.Values(query)))
	if err != nil {
		return userError(err)
	}
	return printJSON(a.out, data)
}

func (a *app) download(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("download", flag.ContinueOnError)
	dir := flags.String("o", ".", "output file or directory")
	body := flags.String("body", "", "JSON body; the file is requested with POST when set")
	path, err := parseWithPath(flags, args)
	if err != nil {
		return err
	}

	var d *httpclient.Download
	if *body != "" {
		if !json.Valid([]byte(*body)) {
			return fmt.Errorf("-body is not valid JSON")
		}
		d, err = apiservice.PostDownload(ctx, a.api, path, json.RawMessage(*body))
	} else {
		d, err = apiservice.GetDownload(ctx, a.api, path)
	}
	if err != nil {
		return userError(err)
	}

	saved, err := d.SaveAs(*dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s (%s)\n", saved, d.ContentType)
	return nil
}

func (a *app) subscribe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("subscribe takes one destination")
	}
	destination := args[0]

	err := a.realtime.Subscribe(ctx, destination, func(msg realtime.Message) {
		fmt.Fprintf(a.out, "%s %s\n", msg.Destination, msg.Body)
	})
	if err != nil {
		return err
	}
	log.Info().Str("destination", destination).Msg("Listening, press Ctrl+C to stop")

	<-ctx.Done()
	return a.realtime.Disconnect()
}

// userError keeps the message meant for the user.
func userError(err error) error {
	var apiErr *envelope.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s", apiErr.Message)
	}
	return err
}

func parseWithPath(flags *flag.FlagSet, args []string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", fmt.Errorf("%s needs a path", flags.Name())
	}
	if err := flags.Parse(args[1:]); err != nil {
		return "", err
	}
	return args[0], nil
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

type queryFlag url.Values

func (q queryFlag) String() string {
	return url.Values(q).Encode()
}

func (q queryFlag) Set(value string) error {
	key, v, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("query %q is not key=value", value)
	}
	url.Values(q).Add(key, v)
	return nil
}
