package cmds

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

var AccountCmds = &cli.Command{
	Name:        "accounts",
	Usage:       "account registry cmds",
	Subcommands: []*cli.Command{listAccountCmds, removeAccountCmds, setLabelCmds},
}

var listAccountCmds = &cli.Command{
	Name:  "list",
	Flags: []cli.Flag{},
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		accounts, err := api.ListAccounts(cctx.Context)
		if err != nil {
			return err
		}
		accountBytes, err := json.MarshalIndent(accounts, " ", "\t")
		if err != nil {
			return err
		}
		fmt.Println(string(accountBytes))
		return nil
	},
}

var removeAccountCmds = &cli.Command{
	Name:      "remove",
	Usage:     "delete an account from the registry, pruning app grants",
	ArgsUsage: "account-id",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.RemoveAccount(cctx.Context, cctx.Args().Get(0))
	},
}

var setLabelCmds = &cli.Command{
	Name:      "set-label",
	ArgsUsage: "account-id label",
	Action: func(cctx *cli.Context) error {
		api, closer, err := NewAgentClient(cctx)
		if err != nil {
			return err
		}
		defer closer()

		return api.SetAccountLabel(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1))
	},
}
