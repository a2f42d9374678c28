package api

import (
	"context"
	"encoding/json"

	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"

	"github.com/keyhaven-io/wallet-agent/connect"
	"github.com/keyhaven-io/wallet-agent/events"
	"github.com/keyhaven-io/wallet-agent/metrics"
	"github.com/keyhaven-io/wallet-agent/prompt"
	"github.com/keyhaven-io/wallet-agent/registry"
	"github.com/keyhaven-io/wallet-agent/types"
)

var log = logging.Logger("api")

// IAgentAPI is the full RPC surface of the agent daemon.
type IAgentAPI interface {
	// app surface
	Connect(ctx context.Context, params *types.ConnectParams) (*types.ConnectResult, error)
	Disconnect(ctx context.Context) error
	WalletInfo(ctx context.Context) (*types.WalletInfo, error)
	ListenEvents(ctx context.Context, eventNames []string) (<-chan *types.AgentEvent, error)

	// prompt UI surface
	AttachPromptChannel(ctx context.Context) (<-chan *types.PromptRequest, error)
	ResponsePromptEvent(ctx context.Context, resp *types.PromptResponse) error

	// wallet-internal / operator surface
	ListAccounts(ctx context.Context) ([]*types.Account, error)
	AddAccount(ctx context.Context, acc *types.Account) error
	RemoveAccount(ctx context.Context, id string) error
	SetAccountLabel(ctx context.Context, id string, label string) error
	ListSessionInfo(ctx context.Context) ([]*types.SessionDetail, error)
	ListSessionInfoByApp(ctx context.Context, appID string) (*types.SessionDetail, error)
	RevokeApp(ctx context.Context, appID string) error
}

var _ IAgentAPI = (*AgentAPIImpl)(nil)

// AgentAPIImpl aggregates the negotiation core behind one RPC object.
type AgentAPIImpl struct {
	negotiator *connect.Negotiator
	registry   *registry.Registry
	prompts    *prompt.Stream
	bus        *events.Bus
	queueSize  int
}

func NewAgentAPIImpl(negotiator *connect.Negotiator, reg *registry.Registry, prompts *prompt.Stream, bus *events.Bus, queueSize int) *AgentAPIImpl {
	return &AgentAPIImpl{
		negotiator: negotiator,
		registry:   reg,
		prompts:    prompts,
		bus:        bus,
		queueSize:  queueSize,
	}
}

func (a *AgentAPIImpl) Connect(ctx context.Context, params *types.ConnectParams) (*types.ConnectResult, error) {
	return a.negotiator.Connect(ctx, params)
}

func (a *AgentAPIImpl) Disconnect(ctx context.Context) error {
	return a.negotiator.Disconnect(ctx)
}

func (a *AgentAPIImpl) WalletInfo(ctx context.Context) (*types.WalletInfo, error) {
	return a.negotiator.WalletInfo(ctx)
}

// ListenEvents forwards bus notifications to the subscriber until its
// context ends. An empty eventNames subscribes to every event.
func (a *AgentAPIImpl) ListenEvents(ctx context.Context, eventNames []string) (<-chan *types.AgentEvent, error) {
	if len(eventNames) == 0 {
		eventNames = []string{events.AccountsChanged, events.ChainsChanged, events.HasMoreAccountsChanged}
	}

	out := make(chan *types.AgentEvent, a.queueSize)
	var unsubs []func()
	for _, name := range eventNames {
		name := name
		unsubs = append(unsubs, a.bus.On(name, func(payload interface{}) {
			data, err := json.Marshal(payload)
			if err != nil {
				log.Errorf("encode %s payload: %v", name, err)
				return
			}
			select {
			case out <- &types.AgentEvent{Event: name, Payload: data}:
			default:
				log.Warnf("dropping %s notification, subscriber queue full", name)
			}
		}))
	}

	go func() {
		<-ctx.Done()
		for _, unsub := range unsubs {
			unsub()
		}
		close(out)
	}()

	return out, nil
}

func (a *AgentAPIImpl) AttachPromptChannel(ctx context.Context) (<-chan *types.PromptRequest, error) {
	return a.prompts.AttachUI(ctx)
}

func (a *AgentAPIImpl) ResponsePromptEvent(ctx context.Context, resp *types.PromptResponse) error {
	return a.prompts.ResponsePromptEvent(ctx, resp)
}

func (a *AgentAPIImpl) ListAccounts(ctx context.Context) ([]*types.Account, error) {
	return a.registry.List(nil, nil)
}

func (a *AgentAPIImpl) AddAccount(ctx context.Context, acc *types.Account) error {
	if err := a.registry.Add(acc); err != nil {
		return err
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.ChainKey, string(acc.Chain)))
	stats.Record(ctx, metrics.AccountAdd.M(1))
	return nil
}

func (a *AgentAPIImpl) RemoveAccount(ctx context.Context, id string) error {
	accountID, err := types.ParseAccountID(id)
	if err != nil {
		return err
	}
	acc, err := a.registry.Get(accountID)
	if err != nil {
		return err
	}
	if err := a.registry.Remove(accountID); err != nil {
		return err
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.ChainKey, string(acc.Chain)))
	stats.Record(ctx, metrics.AccountRemove.M(1))
	return nil
}

func (a *AgentAPIImpl) SetAccountLabel(ctx context.Context, id string, label string) error {
	accountID, err := types.ParseAccountID(id)
	if err != nil {
		return err
	}
	return a.registry.SetLabel(accountID, label)
}

func (a *AgentAPIImpl) ListSessionInfo(ctx context.Context) ([]*types.SessionDetail, error) {
	return a.negotiator.ListSessionInfo(ctx)
}

func (a *AgentAPIImpl) ListSessionInfoByApp(ctx context.Context, appID string) (*types.SessionDetail, error) {
	return a.negotiator.ListSessionInfoByApp(ctx, appID)
}

func (a *AgentAPIImpl) RevokeApp(ctx context.Context, appID string) error {
	return a.negotiator.Disconnect(types.CtxWithApp(ctx, appID))
}
