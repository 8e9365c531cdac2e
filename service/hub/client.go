package hub

import (
	"context"
	"crypto/tls"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"shuttle/service/hub/hubpb"
	"shuttle/tools/errs"
)

const maxRecvMsgSize = 64 << 20

type Config struct {
	Host string // hub address host:port
	SSL  bool
}

// Client wraps one grpc channel to a hub. All results come back as explicit errors.
type Client struct {
	host string
	conn *grpc.ClientConn
	log  *zap.Logger
}

// EventStream is the receive side of a subscription.
type EventStream interface {
	Recv() (*hubpb.HubEvent, error)
}

func NewClient(cfg Config, log *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	if cfg.Host == "" {
		return nil, errs.ErrConfig.WrapMsg("hub host is empty")
	}
	creds := insecure.NewCredentials()
	if cfg.SSL {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(hubpb.Codec{}),
			grpc.MaxCallRecvMsgSize(maxRecvMsgSize),
		),
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Host, dialOpts...)
	if err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "dial hub", "host", cfg.Host)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		host: cfg.Host,
		conn: conn,
		log:  log.With(zap.String("host", cfg.Host)),
	}, nil
}

func (c *Client) Host() string { return c.host }

// WaitForReady blocks until the channel is READY or ctx is done.
func (c *Client) WaitForReady(ctx context.Context) error {
	c.conn.Connect()
	for {
		state := c.conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return errs.ErrConnection.WrapCause(ctx.Err(), "hub not ready", "host", c.host, "state", state)
		}
	}
}

func (c *Client) Subscribe(ctx context.Context, req *hubpb.SubscribeRequest) (EventStream, error) {
	desc := &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, method("Subscribe"))
	if err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "subscribe", "host", c.host)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "subscribe send", "host", c.host)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, errs.ErrConnection.WrapCause(err, "subscribe close send", "host", c.host)
	}
	return &eventStream{stream: stream}, nil
}

type eventStream struct {
	stream grpc.ClientStream
}

// Recv returns io.EOF when the hub ends the stream cleanly.
func (s *eventStream) Recv() (*hubpb.HubEvent, error) {
	evt := &hubpb.HubEvent{}
	if err := s.stream.RecvMsg(evt); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if status.Code(err) == codes.Canceled {
			return nil, errs.ErrConnection.WrapCause(context.Canceled, "stream cancelled")
		}
		return nil, errs.ErrConnection.WrapCause(err, "stream recv")
	}
	return evt, nil
}

func (c *Client) GetAllCastMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return c.messagesByFid(ctx, "GetAllCastMessagesByFid", req)
}

func (c *Client) GetAllReactionMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return c.messagesByFid(ctx, "GetAllReactionMessagesByFid", req)
}

func (c *Client) GetAllLinkMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return c.messagesByFid(ctx, "GetAllLinkMessagesByFid", req)
}

func (c *Client) GetAllVerificationMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return c.messagesByFid(ctx, "GetAllVerificationMessagesByFid", req)
}

func (c *Client) GetAllUserDataMessagesByFid(ctx context.Context, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	return c.messagesByFid(ctx, "GetAllUserDataMessagesByFid", req)
}

func (c *Client) GetFids(ctx context.Context, req *hubpb.FidsRequest) (*hubpb.FidsResponse, error) {
	resp := &hubpb.FidsResponse{}
	if err := c.conn.Invoke(ctx, method("GetFids"), req, resp); err != nil {
		return nil, c.requestError("GetFids", err)
	}
	return resp, nil
}

func (c *Client) messagesByFid(ctx context.Context, name string, req *hubpb.FidRequest) (*hubpb.MessagesResponse, error) {
	resp := &hubpb.MessagesResponse{}
	if err := c.conn.Invoke(ctx, method(name), req, resp); err != nil {
		return nil, c.requestError(name, err, "fid", req.Fid)
	}
	return resp, nil
}

// requestError carries the upstream status message so callers can log it verbatim.
func (c *Client) requestError(name string, err error, kv ...any) error {
	st := status.Convert(err)
	kv = append([]any{"method", name, "code", st.Code()}, kv...)
	return errs.ErrHubRequest.WrapCause(err, st.Message(), kv...)
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.log.Info("closing hub channel")
	return c.conn.Close()
}
