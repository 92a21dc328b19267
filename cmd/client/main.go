package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: client [flags] <command> [args]

commands:
  login      -email <email> -password <password> | -id-token <token>
  logout
  whoami
  get        <path> [-q key=value ...]
  download   <path> [-o dir] [-body json]
  subscribe  <destination>

flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	flags := flag.NewFlagSet("client", flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	envFile := flags.String("env-file", ".env", "dotenv file to load")
	apiURL := flags.String("api", "", "API base URL (API_BASE_URL)")
	wsURL := flags.String("ws", "", "websocket URL (WS_URL)")
	tokenFile := flags.String("token-file", "", "file the session is kept in (TOKEN_FILE)")
	quiet := flags.Bool("quiet", false, "do not print the banner")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return flag.ErrHelp
	}

	c := config.Load(*envFile)
	overrideEnv(map[string]string{
		"API_BASE_URL": *apiURL,
		"WS_URL":       *wsURL,
		"TOKEN_FILE":   *tokenFile,
	})
	setupLogging(c)
	if !*quiet {
		displayAppname(c.GetAppName())
	}

	a, err := newApp(c, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.dispatch(ctx, flags.Arg(0), flags.Args()[1:])
}

// overrideEnv gives command line flags priority over the environment and the
// dotenv file.
func overrideEnv(values map[string]string) {
	for name, value := range values {
		if value != "" {
			_ = os.Setenv(name, value)
		}
	}
}

func setupLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
