// Package testhelper provides account fixtures and a scripted prompt UI
// for exercising the negotiation core without a real wallet frontend.
package testhelper

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keyhaven-io/wallet-agent/capability"
	"github.com/keyhaven-io/wallet-agent/connect"
	"github.com/keyhaven-io/wallet-agent/prompt"
	"github.com/keyhaven-io/wallet-agent/types"
)

// Feature builds a minimal capability descriptor for tests.
func Feature(name string) *capability.Descriptor {
	return &capability.Descriptor{Name: name, Version: "1.0.0"}
}

// NewAccount builds an account with random key material on the given
// chain, supporting the named capabilities.
func NewAccount(t *testing.T, chain types.ChainID, featureNames ...string) *types.Account {
	pub := make([]byte, 32)
	_, err := rand.Read(pub)
	require.NoError(t, err)

	features := make(map[string]*capability.Descriptor, len(featureNames))
	for _, name := range featureNames {
		features[name] = Feature(name)
	}

	return &types.Account{
		Address:   append([]byte{}, pub[:20]...),
		PublicKey: pub,
		Chain:     chain,
		Ciphers:   []types.Cipher{"x25519-xsalsa20-poly1305"},
		Features:  features,
	}
}

// Decision scripts one UI answer: the subset of candidate identities to
// approve. Returning nil declines the prompt.
type Decision func(p *types.AuthorizationPrompt) []types.AccountID

// ApproveAll approves every candidate.
func ApproveAll(p *types.AuthorizationPrompt) []types.AccountID {
	ids := make([]types.AccountID, len(p.Candidates))
	for i, acc := range p.Candidates {
		ids[i] = acc.ID()
	}
	return ids
}

// DenyAll declines every prompt.
func DenyAll(p *types.AuthorizationPrompt) []types.AccountID {
	return nil
}

// ApproveOnly approves the candidates whose identity is in ids.
func ApproveOnly(ids ...types.AccountID) Decision {
	want := make(map[types.AccountID]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	return func(p *types.AuthorizationPrompt) []types.AccountID {
		var out []types.AccountID
		for _, acc := range p.Candidates {
			if _, ok := want[acc.ID()]; ok {
				out = append(out, acc.ID())
			}
		}
		return out
	}
}

// ScriptedUI attaches to a prompt stream and answers authorization
// prompts with a scripted decision, counting every prompt it serves.
type ScriptedUI struct {
	t       *testing.T
	stream  *prompt.Stream
	decide  Decision
	prompts atomic.Int64
	done    chan struct{}
}

func NewScriptedUI(t *testing.T, stream *prompt.Stream, decide Decision) *ScriptedUI {
	return &ScriptedUI{
		t:      t,
		stream: stream,
		decide: decide,
		done:   make(chan struct{}),
	}
}

// Start attaches the UI and serves prompts until ctx ends.
func (u *ScriptedUI) Start(ctx context.Context) {
	requestCh, err := u.stream.AttachUI(ctx)
	require.NoError(u.t, err)

	go func() {
		defer close(u.done)
		for req := range requestCh {
			u.serve(ctx, req)
		}
	}()
}

// PromptCount reports how many prompts the UI has answered.
func (u *ScriptedUI) PromptCount() int64 {
	return u.prompts.Load()
}

// WaitClose blocks until the request channel has been torn down.
func (u *ScriptedUI) WaitClose() {
	<-u.done
}

func (u *ScriptedUI) serve(ctx context.Context, req *types.PromptRequest) {
	if req.Method != connect.RequestAuthorization {
		_ = u.stream.ResponsePromptEvent(ctx, &types.PromptResponse{
			ID:    req.ID,
			Error: fmt.Sprintf("unexpected prompt method %s", req.Method),
		})
		return
	}

	u.prompts.Add(1)

	var p types.AuthorizationPrompt
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		_ = u.stream.ResponsePromptEvent(ctx, &types.PromptResponse{ID: req.ID, Error: err.Error()})
		return
	}

	payload, err := json.Marshal(&types.ApprovalResult{Approved: u.decide(&p)})
	if err != nil {
		_ = u.stream.ResponsePromptEvent(ctx, &types.PromptResponse{ID: req.ID, Error: err.Error()})
		return
	}
	_ = u.stream.ResponsePromptEvent(ctx, &types.PromptResponse{ID: req.ID, Payload: payload})
}
