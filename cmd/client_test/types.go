package main

import (
	"gorm.io/gorm"

	oauth "github.com/atproto-go/oauth-client"
)

// TestServer holds the collaborators every handler needs: the oauth
// client and the gorm handle its storage layer shares with this demo's own
// tables. The cookie store the web session (browser <-> oauth session id
// mapping) rides on is installed as echo middleware in run, not held here.
type TestServer struct {
	oauthClient *oauth.Client
	db          *gorm.DB
}
