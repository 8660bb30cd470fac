package main

import (
	"encoding/json"
	"os"

	"github.com/urfave/cli/v2"

	oauth "github.com/atproto-go/oauth-client"
	"github.com/atproto-go/oauth-client/crypto"
)

func main() {
	app := &cli.App{
		Name: "Atproto Oauth Client Helper",
		Commands: []*cli.Command{
			runGenerateJwks,
		},
	}

	app.RunAndExitOnError()
}

var runGenerateJwks = &cli.Command{
	Name: "generate-jwks",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "prefix",
			Required: false,
		},
	},
	Action: func(cmd *cli.Context) error {
		var prefix *string
		if cmd.String("prefix") != "" {
			inputPrefix := cmd.String("prefix")
			prefix = &inputPrefix
		}

		key, err := crypto.GenerateES256Key(prefix)
		if err != nil {
			return err
		}

		pub, err := key.PublicKey()
		if err != nil {
			return err
		}

		b, err := json.Marshal(oauth.NewJWKSResponse(pub))
		if err != nil {
			return err
		}

		return os.WriteFile("./jwks.json", b, 0644)
	},
}
