// Package prompt is the suspending half of interactive resolution. A UI
// process attaches a request channel; the negotiator pushes
// authorization prompts onto it and blocks until the UI answers, the
// caller cancels, or the sweeper times the request out. Rendering is the
// UI's business entirely.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/modern-go/reflect2"

	"github.com/keyhaven-io/wallet-agent/types"
)

var log = logging.Logger("prompt_stream")

// ErrClosedChannel reports a send on a UI channel torn down mid-request.
var ErrClosedChannel = fmt.Errorf("recover send on closed prompt channel")

// ErrRequestExpired reports a prompt the user never answered within the
// configured timeout. Callers treat it as the user walking away, not as
// a fault.
var ErrRequestExpired = fmt.Errorf("prompt request expired")

// Stream owns the pending-request map and the single attached UI
// channel. Requests carry a UUID; responses resolve them by ID.
type Stream struct {
	reqLk     sync.RWMutex
	idRequest map[uuid.UUID]*types.PromptRequest

	uiLk sync.RWMutex
	ui   *types.UIChannelInfo

	cfg *types.RequestConfig
}

func NewStream(ctx context.Context, cfg *types.RequestConfig) *Stream {
	stream := &Stream{
		idRequest: make(map[uuid.UUID]*types.PromptRequest),
		cfg:       cfg,
	}
	go stream.cleanRequests(ctx)
	return stream
}

// AttachUI registers the prompt UI and returns its request channel. The
// channel closes when ctx ends. A newly attached UI replaces the
// previous one; in-flight requests on the old channel still resolve
// through ResponsePromptEvent.
func (s *Stream) AttachUI(ctx context.Context) (<-chan *types.PromptRequest, error) {
	out := make(chan *types.PromptRequest, s.cfg.RequestQueueSize)
	channel := types.NewUIChannelInfo(out)

	s.uiLk.Lock()
	if s.ui != nil {
		log.Warnf("replacing prompt UI channel %s with %s", s.ui.ChannelID, channel.ChannelID)
	}
	s.ui = channel
	s.uiLk.Unlock()

	log.Infof("prompt UI %s attached", channel.ChannelID)

	go func() {
		<-ctx.Done()
		s.uiLk.Lock()
		if s.ui == channel {
			s.ui = nil
		}
		s.uiLk.Unlock()
		close(out)
		log.Infof("prompt UI %s detached", channel.ChannelID)
	}()

	return out, nil
}

// HasUI reports whether a prompt channel is currently attached.
func (s *Stream) HasUI() bool {
	s.uiLk.RLock()
	defer s.uiLk.RUnlock()
	return s.ui != nil
}

// SendRequest pushes one request to the attached UI and blocks for its
// response. Returns types.ErrPromptUnavailable when no UI is attached
// and the context error when the caller gives up.
func (s *Stream) SendRequest(ctx context.Context, method string, payload []byte, result interface{}) error {
	s.uiLk.RLock()
	channel := s.ui
	s.uiLk.RUnlock()
	if channel == nil {
		return types.ErrPromptUnavailable
	}

	resp, err := s.sendOnce(ctx, channel, method, payload)
	if err != nil {
		return err
	}
	if len(resp.Error) > 0 {
		if resp.Error == ErrRequestExpired.Error() {
			return ErrRequestExpired
		}
		return errors.New(resp.Error)
	}
	if !reflect2.IsNil(result) {
		return json.Unmarshal(resp.Payload, result)
	}
	return nil
}

func (s *Stream) sendOnce(ctx context.Context, channel *types.UIChannelInfo, method string, payload []byte) (response *types.PromptResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrClosedChannel
		}
	}()

	id := uuid.New()
	resultCh := make(chan *types.PromptResponse, 1)
	request := &types.PromptRequest{
		ID:         id,
		Method:     method,
		Payload:    payload,
		CreateTime: time.Now(),
		Result:     resultCh,
	}
	s.reqLk.Lock()
	s.idRequest[id] = request
	s.reqLk.Unlock()

	select {
	case channel.OutBound <- request: // may panic on a torn-down channel, caught above
		log.Debugf("sent %s request %s to UI %s", method, id, channel.ChannelID)
	case <-ctx.Done():
		s.dropRequest(id)
		return nil, fmt.Errorf("send prompt request cancelled: %w", ctx.Err())
	}

	select {
	case <-ctx.Done():
		s.dropRequest(id)
		return nil, fmt.Errorf("prompt abandoned: %w", ctx.Err())
	case respEvent := <-resultCh:
		return respEvent, nil
	}
}

func (s *Stream) dropRequest(id uuid.UUID) {
	s.reqLk.Lock()
	delete(s.idRequest, id)
	s.reqLk.Unlock()
}

// ResponsePromptEvent resolves a pending request by ID. Unknown IDs are
// an error: either the request timed out or the UI answered twice.
func (s *Stream) ResponsePromptEvent(ctx context.Context, resp *types.PromptResponse) error {
	s.reqLk.Lock()
	event, ok := s.idRequest[resp.ID]
	if ok {
		delete(s.idRequest, resp.ID)
	}
	s.reqLk.Unlock()
	if !ok {
		return fmt.Errorf("prompt request %s not found", resp.ID)
	}
	event.Result <- resp
	return nil
}

// cleanRequests sweeps requests older than the configured timeout so an
// ignored prompt does not pin its caller forever.
func (s *Stream) cleanRequests(ctx context.Context) {
	tm := time.NewTicker(s.cfg.ClearInterval)
	defer tm.Stop()
	for {
		select {
		case <-tm.C:
			s.reqLk.Lock()
			for id, request := range s.idRequest {
				if time.Since(request.CreateTime) > s.cfg.RequestTimeout {
					delete(s.idRequest, id)
					log.Warnf("expiring %s request %s created %s", request.Method, id, request.CreateTime)
					// non-blocking: the caller may have raced a response
					select {
					case request.Result <- &types.PromptResponse{
						ID:    id,
						Error: ErrRequestExpired.Error(),
					}:
					default:
					}
				}
			}
			s.reqLk.Unlock()
		case <-ctx.Done():
			log.Warn("prompt request sweeper stopped")
			return
		}
	}
}
