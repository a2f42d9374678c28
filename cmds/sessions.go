package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

var SessionCmds = &cli.Command{
	Name:        "sessions",
	Usage:       "app authorization session cmds",
	Subcommands: []*cli.Command{listSessionCmds, getSessionCmds, revokeSessionCmds},
}

var listSessionCmds = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		sessions, err := api.ListSessionInfo(cctx.Context)
		if err != nil {
			return err
		}
		sessionBytes, err := json.MarshalIndent(sessions, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(sessionBytes))
		return nil
	},
}

var getSessionCmds = &cli.Command{
	Name:      "state",
	Flags:     []cli.Flag{},
	ArgsUsage: "app-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		appID := cctx.Args().Get(0)
		detail, err := api.ListSessionInfoByApp(cctx.Context, appID)
		if err != nil {
			return err
		}
		detailBytes, err := json.MarshalIndent(detail, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(detailBytes))
		return nil
	},
}

var revokeSessionCmds = &cli.Command{
	Name:      "revoke",
	Usage:     "end an app's session and delete its grants",
	ArgsUsage: "app-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RevokeApp(cctx.Context, cctx.Args().Get(0))
	},
}
