package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
	slogecho "github.com/samber/slog-echo"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/urfave/cli/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	oauth "github.com/atproto-go/oauth-client"
	"github.com/atproto-go/oauth-client/store/gormstore"
)

const (
	serverBase         = "http://localhost:7070"
	clientMetadataURL  = serverBase + "/oauth/client-metadata.json"
	redirectURL        = serverBase + "/oauth/callback"
)

func main() {
	app := &cli.App{
		Name:   "atproto-oauth-client-tester",
		Action: run,
	}

	app.RunAndExitOnError()
}

func run(cmd *cli.Context) error {
	db, err := gorm.Open(sqlite.Open("client_test.db"), &gorm.Config{})
	if err != nil {
		return err
	}

	storage, err := gormstore.New(db)
	if err != nil {
		return err
	}

	oauthClient, err := oauth.NewClient(oauth.ClientArgs{
		ClientID:    clientMetadataURL,
		RedirectURI: redirectURL,
		Storage:     storage,
		Logger:      slog.Default(),
	})
	if err != nil {
		return err
	}

	s := &TestServer{oauthClient: oauthClient, db: db}

	e := echo.New()
	e.Use(slogecho.New(slog.Default()))
	e.Use(session.Middleware(sessions.NewCookieStore([]byte("atproto-oauth-client-tester-dev-secret"))))

	e.GET("/oauth/client-metadata.json", handleClientMetadata)
	e.GET("/login", handleLoginForm)
	e.POST("/login", s.handleLoginSubmit)
	e.GET("/oauth/callback", s.handleCallback)
	e.POST("/logout", s.handleLogout)
	e.GET("/profile", s.handleProfile)
	e.POST("/post", s.handleMakePost)

	fmt.Println("atproto oauth client tester server")
	fmt.Println("starting http server on :7070")

	httpd := http.Server{Addr: ":7070", Handler: e}
	return httpd.ListenAndServe()
}

func handleClientMetadata(e echo.Context) error {
	metadata := map[string]any{
		"client_id":                   clientMetadataURL,
		"client_name":                 "Atproto Oauth Client Tester",
		"client_uri":                  serverBase,
		"redirect_uris":               []string{redirectURL},
		"grant_types":                 []string{"authorization_code", "refresh_token"},
		"response_types":              []string{"code"},
		"application_type":            "web",
		"token_endpoint_auth_method":  "none",
		"dpop_bound_access_tokens":    true,
		"scope":                       "atproto transition:generic",
	}
	return e.JSON(200, metadata)
}

func handleLoginForm(e echo.Context) error {
	return e.HTML(200, `<form method="post" action="/login"><input name="handle" placeholder="handle.example.com"><button type="submit">Log in</button></form>`)
}
