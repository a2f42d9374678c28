package api

import (
	"context"

	"github.com/keyhaven-io/wallet-agent/types"
)

// AgentStruct is the func-field mirror of IAgentAPI for the jsonrpc
// client side and for permission proxying.
type AgentStruct struct {
	IAppStruct
	IUIStruct
	IAdminStruct
}

// IAppStruct carries the app-facing negotiation surface.
type IAppStruct struct {
	Connect      func(ctx context.Context, params *types.ConnectParams) (*types.ConnectResult, error) `perm:"read"`
	Disconnect   func(ctx context.Context) error                                                      `perm:"read"`
	WalletInfo   func(ctx context.Context) (*types.WalletInfo, error)                                 `perm:"read"`
	ListenEvents func(ctx context.Context, eventNames []string) (<-chan *types.AgentEvent, error)     `perm:"read"`
}

// IUIStruct carries the prompt UI surface.
type IUIStruct struct {
	AttachPromptChannel func(ctx context.Context) (<-chan *types.PromptRequest, error) `perm:"admin"`
	ResponsePromptEvent func(ctx context.Context, resp *types.PromptResponse) error    `perm:"admin"`
}

// IAdminStruct carries wallet-internal and operator operations.
type IAdminStruct struct {
	ListAccounts         func(ctx context.Context) ([]*types.Account, error)                   `perm:"admin"`
	AddAccount           func(ctx context.Context, acc *types.Account) error                   `perm:"admin"`
	RemoveAccount        func(ctx context.Context, id string) error                            `perm:"admin"`
	SetAccountLabel      func(ctx context.Context, id string, label string) error              `perm:"admin"`
	ListSessionInfo      func(ctx context.Context) ([]*types.SessionDetail, error)             `perm:"admin"`
	ListSessionInfoByApp func(ctx context.Context, appID string) (*types.SessionDetail, error) `perm:"admin"`
	RevokeApp            func(ctx context.Context, appID string) error                         `perm:"admin"`
}
