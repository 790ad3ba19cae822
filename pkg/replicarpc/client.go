package replicarpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client is a thin wrapper around a gRPC client connection to one
// replica, selecting the JSON codec for every call.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(codecName)}
}

func (c *Client) PushPart(ctx context.Context, req *PushPartRequest) (*PushPartResponse, error) {
	resp := new(PushPartResponse)
	if err := c.cc.Invoke(ctx, fullMethod("PushPart"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) CommitHead(ctx context.Context, req *CommitHeadRequest) (*CommitHeadResponse, error) {
	resp := new(CommitHeadResponse)
	if err := c.cc.Invoke(ctx, fullMethod("CommitHead"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) FetchHead(ctx context.Context, req *FetchHeadRequest) (*FetchHeadResponse, error) {
	resp := new(FetchHeadResponse)
	if err := c.cc.Invoke(ctx, fullMethod("FetchHead"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) FetchPart(ctx context.Context, req *FetchPartRequest) (*FetchPartResponse, error) {
	resp := new(FetchPartResponse)
	if err := c.cc.Invoke(ctx, fullMethod("FetchPart"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) BucketDigest(ctx context.Context, req *BucketDigestRequest) (*BucketDigestResponse, error) {
	resp := new(BucketDigestResponse)
	if err := c.cc.Invoke(ctx, fullMethod("BucketDigest"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) BucketList(ctx context.Context, req *BucketListRequest) (*BucketListResponse, error) {
	resp := new(BucketListResponse)
	if err := c.cc.Invoke(ctx, fullMethod("BucketList"), req, resp, callOpts()...); err != nil {
		return nil, errorFromStatus(err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, method)
}
