package clients

import (
	"context"
	"net"
	"testing"

	spyv1 "github.com/certusone/wormhole/node/pkg/proto/spy/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeSpyServer struct {
	spyv1.UnimplementedSpyRPCServiceServer
	requests chan *spyv1.SubscribeSignedVAARequest
	vaas     [][]byte
}

func (s *fakeSpyServer) SubscribeSignedVAA(req *spyv1.SubscribeSignedVAARequest, stream spyv1.SpyRPCService_SubscribeSignedVAAServer) error {
	s.requests <- req
	for _, b := range s.vaas {
		if err := stream.Send(&spyv1.SubscribeSignedVAAResponse{VaaBytes: b}); err != nil {
			return err
		}
	}
	<-stream.Context().Done()
	return nil
}

func startFakeSpy(t *testing.T, vaas [][]byte) (*fakeSpyServer, *SpyClient) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	server := grpc.NewServer()
	fake := &fakeSpyServer{requests: make(chan *spyv1.SubscribeSignedVAARequest, 1), vaas: vaas}
	spyv1.RegisterSpyRPCServiceServer(server, fake)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	client, err := NewSpyClient(zap.NewNop(), "passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return fake, client
}

func TestSpySubscribeForwardsEmitterFilter(t *testing.T) {
	fake, client := startFakeSpy(t, [][]byte{{1, 2, 3}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.SubscribeSignedVAA(ctx, EmitterFilter{ChainID: 2, EmitterAddress: "00ab"})
	require.NoError(t, err)

	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, resp.VaaBytes)

	req := <-fake.requests
	require.Len(t, req.Filters, 1)
	emitter := req.Filters[0].GetEmitterFilter()
	require.NotNil(t, emitter)
	assert.Equal(t, int32(2), int32(emitter.ChainId))
	assert.Equal(t, "00ab", emitter.EmitterAddress)
}

func TestSpySubscribeWithoutFilters(t *testing.T) {
	fake, client := startFakeSpy(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := client.SubscribeSignedVAA(ctx)
	require.NoError(t, err)

	req := <-fake.requests
	assert.Empty(t, req.Filters)
}
