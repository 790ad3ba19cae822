package replicarpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/flaneur2020/amberio/pkg/errs"
)

type fakeServer struct {
	commitResp *CommitHeadResponse
	commitErr  error
}

func (f *fakeServer) PushPart(ctx context.Context, req *PushPartRequest) (*PushPartResponse, error) {
	return &PushPartResponse{OK: true}, nil
}

func (f *fakeServer) CommitHead(ctx context.Context, req *CommitHeadRequest) (*CommitHeadResponse, error) {
	if f.commitErr != nil {
		return nil, statusFor(f.commitErr)
	}
	return f.commitResp, nil
}

func (f *fakeServer) FetchHead(ctx context.Context, req *FetchHeadRequest) (*FetchHeadResponse, error) {
	return &FetchHeadResponse{Found: false}, nil
}

func (f *fakeServer) FetchPart(ctx context.Context, req *FetchPartRequest) (*FetchPartResponse, error) {
	return nil, statusFor(errs.ErrNotFound)
}

func (f *fakeServer) BucketDigest(ctx context.Context, req *BucketDigestRequest) (*BucketDigestResponse, error) {
	return &BucketDigestResponse{Digests: map[uint32]uint64{0: 42}}, nil
}

func (f *fakeServer) BucketList(ctx context.Context, req *BucketListRequest) (*BucketListResponse, error) {
	return &BucketListResponse{Heads: []HeadSummaryWire{{Path: "a", Kind: "meta", Generation: 1}}}, nil
}

func dialBufconn(t *testing.T, srv Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	RegisterServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewClient(cc)
}

func TestPushPartRoundTrip(t *testing.T) {
	client := dialBufconn(t, &fakeServer{})
	resp, err := client.PushPart(context.Background(), &PushPartRequest{SlotID: 1, Path: "a", SHA256: "abc", Length: 3, Data: []byte("xyz")})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestCommitHeadReturnsApplied(t *testing.T) {
	client := dialBufconn(t, &fakeServer{commitResp: &CommitHeadResponse{Applied: true, Generation: 1}})
	resp, err := client.CommitHead(context.Background(), &CommitHeadRequest{SlotID: 1, Path: "a"})
	require.NoError(t, err)
	assert.True(t, resp.Applied)
	assert.Equal(t, uint64(1), resp.Generation)
}

func TestFetchPartNotFoundMapsToErrNotFound(t *testing.T) {
	client := dialBufconn(t, &fakeServer{})
	_, err := client.FetchPart(context.Background(), &FetchPartRequest{SlotID: 1, Path: "a", SHA256: "abc"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestBucketDigestRoundTrip(t *testing.T) {
	client := dialBufconn(t, &fakeServer{})
	resp, err := client.BucketDigest(context.Background(), &BucketDigestRequest{SlotID: 1, PrefixLen: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), resp.Digests[0])
}

func TestBucketListRoundTrip(t *testing.T) {
	client := dialBufconn(t, &fakeServer{})
	resp, err := client.BucketList(context.Background(), &BucketListRequest{SlotID: 1, Prefix: 0})
	require.NoError(t, err)
	require.Len(t, resp.Heads, 1)
	assert.Equal(t, "a", resp.Heads[0].Path)
}

func TestCommitHeadSurfacesConflictAsAborted(t *testing.T) {
	client := dialBufconn(t, &fakeServer{commitErr: errs.ErrConflict})
	_, err := client.CommitHead(context.Background(), &CommitHeadRequest{SlotID: 1, Path: "a"})
	assert.True(t, errors.Is(err, errs.ErrConflict))
}
