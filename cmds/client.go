package cmds

import (
	"net/http"
	"net/url"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"

	"github.com/keyhaven-io/wallet-agent/api"
)

// NewAgentClient dials the daemon at --listen and binds the admin
// surface of the agent API.
func NewAgentClient(ctx *cli.Context) (*api.AgentStruct, jsonrpc.ClientCloser, error) {
	var agentAPI = &api.AgentStruct{}
	listen := ctx.String("listen")
	addr, err := DialArgs(listen)
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{}
	if appID := ctx.String("app-id"); len(appID) > 0 {
		header.Add("X-App-Id", appID)
	}

	closer, err := jsonrpc.NewMergeClient(ctx.Context, addr,
		"Agent", []interface{}{agentAPI}, header)
	if err != nil {
		return nil, nil, err
	}
	return agentAPI, closer, nil
}

func DialArgs(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err == nil {
		_, addr, err := manet.DialArgs(ma)
		if err != nil {
			return "", err
		}

		return "ws://" + addr + "/rpc/v1", nil
	}

	_, err = url.Parse(addr)
	if err != nil {
		return "", err
	}
	return addr + "/rpc/v1", nil
}
