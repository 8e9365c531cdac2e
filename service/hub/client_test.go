package hub

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

type fakeHub struct {
	events   []*hubpb.HubEvent
	lastSub  chan *hubpb.SubscribeRequest
	maxFid   uint64
	failFids bool
}

func (h *fakeHub) Subscribe(req *hubpb.SubscribeRequest, stream EventSender) error {
	h.lastSub <- req
	from := uint64(0)
	if req.FromId != nil {
		from = *req.FromId
	}
	for _, e := range h.events {
		if e.Id <= from {
			continue
		}
		if err := stream.Send(e); err != nil {
			return err
		}
	}
	return nil
}

func (h *fakeHub) page(req *hubpb.FidRequest, kind hubpb.MessageType) (*hubpb.MessagesResponse, error) {
	if req.PageToken == nil {
		return &hubpb.MessagesResponse{
			Messages:      []*hubpb.Message{{Data: &hubpb.MessageData{Type: kind, Fid: req.Fid}, Hash: []byte{1}}},
			NextPageToken: []byte("p2"),
		}, nil
	}
	return &hubpb.MessagesResponse{
		Messages: []*hubpb.Message{{Data: &hubpb.MessageData{Type: kind, Fid: req.Fid}, Hash: []byte{2}}},
	}, nil
}

func (h *fakeHub) GetAllCastMessagesByFid(_ context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return h.page(req, hubpb.MessageTypeCastAdd)
}

func (h *fakeHub) GetAllReactionMessagesByFid(_ context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return h.page(req, hubpb.MessageTypeReactionAdd)
}

func (h *fakeHub) GetAllLinkMessagesByFid(_ context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return h.page(req, hubpb.MessageTypeLinkAdd)
}

func (h *fakeHub) GetAllVerificationMessagesByFid(_ context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return nil, status.Error(codes.Unavailable, "verifications store offline")
}

func (h *fakeHub) GetAllUserDataMessagesByFid(_ context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return h.page(req, hubpb.MessageTypeUserDataAdd)
}

func (h *fakeHub) GetFids(_ context.Context, req *hubpb.FidsRequest) (*hubpb.FidsResponse, error) {
	if h.failFids {
		return nil, status.Error(codes.Internal, "boom")
	}
	if req.Reverse != nil && *req.Reverse {
		return &hubpb.FidsResponse{Fids: []uint64{h.maxFid}}, nil
	}
	return &hubpb.FidsResponse{Fids: []uint64{1}}, nil
}

func startHub(t *testing.T, h *fakeHub) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(ServerOption())
	Register(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewClient(Config{Host: "passthrough:///bufnet"}, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWaitForReady(t *testing.T) {
	c := startHub(t, &fakeHub{lastSub: make(chan *hubpb.SubscribeRequest, 1)})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitForReady(ctx))
}

func TestSubscribeResumesAfterFromID(t *testing.T) {
	h := &fakeHub{
		lastSub: make(chan *hubpb.SubscribeRequest, 1),
		events: []*hubpb.HubEvent{
			{Type: hubpb.HubEventTypeMergeMessage, Id: 100, Body: &hubpb.MergeMessageBody{Message: &hubpb.Message{Hash: []byte("a")}}},
			{Type: hubpb.HubEventTypePruneMessage, Id: 101, Body: &hubpb.PruneMessageBody{Message: &hubpb.Message{Hash: []byte("b")}}},
			{Type: hubpb.HubEventTypeRevokeMessage, Id: 102, Body: &hubpb.RevokeMessageBody{Message: &hubpb.Message{Hash: []byte("c")}}},
		},
	}
	c := startHub(t, h)

	stream, err := c.Subscribe(context.Background(), &hubpb.SubscribeRequest{
		EventTypes:  hubpb.DefaultEventTypes,
		FromId:      hubpb.Uint64(100),
		TotalShards: hubpb.Uint64(4),
		ShardIndex:  hubpb.Uint64(0),
	})
	require.NoError(t, err)

	var got []uint64
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, evt.Id)
	}
	assert.Equal(t, []uint64{101, 102}, got)

	req := <-h.lastSub
	assert.Equal(t, uint64(4), *req.TotalShards)
	assert.Equal(t, hubpb.DefaultEventTypes, req.EventTypes)
}

func TestPaginatedCalls(t *testing.T) {
	c := startHub(t, &fakeHub{lastSub: make(chan *hubpb.SubscribeRequest, 1), maxFid: 900})
	ctx := context.Background()

	resp, err := c.GetAllReactionMessagesByFid(ctx, &hubpb.FidRequest{Fid: 42, PageSize: hubpb.Uint32(3000)})
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, hubpb.MessageTypeReactionAdd, resp.Messages[0].Type())
	assert.Equal(t, []byte("p2"), resp.NextPageToken)

	resp, err = c.GetAllReactionMessagesByFid(ctx, &hubpb.FidRequest{Fid: 42, PageToken: resp.NextPageToken})
	require.NoError(t, err)
	assert.Empty(t, resp.NextPageToken)

	fids, err := c.GetFids(ctx, &hubpb.FidsRequest{PageSize: hubpb.Uint32(1), Reverse: hubpb.Bool(true)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{900}, fids.Fids)
}

func TestRequestErrorCarriesUpstreamMessage(t *testing.T) {
	c := startHub(t, &fakeHub{lastSub: make(chan *hubpb.SubscribeRequest, 1)})

	_, err := c.GetAllVerificationMessagesByFid(context.Background(), &hubpb.FidRequest{Fid: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrHubRequest))
	assert.Contains(t, err.Error(), "verifications store offline")
	assert.Equal(t, codes.Unavailable, status.Code(errs.Unwrap(err)))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.True(t, errors.Is(err, errs.ErrConfig))
}

func TestClientLogsThroughGivenLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c, err := NewClient(Config{Host: "passthrough:///bufnet"}, zap.New(core))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	entries := logs.FilterMessage("closing hub channel").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "passthrough:///bufnet", entries[0].ContextMap()["host"])
}
