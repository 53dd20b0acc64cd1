package challenge

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"codearena/internal/judge/model"
	appErr "codearena/pkg/errors"
)

const (
	serviceName         = "codearena.challenge.v1.ChallengeService"
	getChallengeMethod  = "/" + serviceName + "/GetChallenge"
	codecName           = "json"
	defaultGRPCDeadline = 5 * time.Second
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec carries challenge messages as JSON so the challenge owner does
// not need generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

// GetChallengeRequest is the request message of GetChallenge.
type GetChallengeRequest struct {
	ChallengeID string `json:"challengeId"`
}

// GetChallengeResponse is the response message of GetChallenge.
type GetChallengeResponse struct {
	Challenge *model.Challenge `json:"challenge"`
}

// GRPCSource fetches challenges from a remote challenge service.
type GRPCSource struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCSource creates a source over an established connection. A zero
// timeout uses the default per-call deadline.
func NewGRPCSource(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCSource {
	if timeout <= 0 {
		timeout = defaultGRPCDeadline
	}
	return &GRPCSource{conn: conn, timeout: timeout}
}

// GetChallenge implements Source.
func (s *GRPCSource) GetChallenge(ctx context.Context, id string) (*model.Challenge, error) {
	if id == "" {
		return nil, appErr.ValidationError("challenge_id", "required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var resp GetChallengeResponse
	err := s.conn.Invoke(ctx, getChallengeMethod, &GetChallengeRequest{ChallengeID: id}, &resp,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
		}
		return nil, appErr.Wrapf(err, appErr.ServiceUnavailable, "fetch challenge %s failed", id)
	}
	if resp.Challenge == nil {
		return nil, appErr.New(appErr.ChallengeNotFound).WithDetail("challenge_id", id)
	}
	if err := resp.Challenge.Validate(); err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseInvalid, "challenge %s is not judgeable", id)
	}
	return resp.Challenge, nil
}

// ChallengeServer is the server side of the challenge service.
type ChallengeServer interface {
	GetChallenge(ctx context.Context, req *GetChallengeRequest) (*GetChallengeResponse, error)
}

// RegisterChallengeServer registers srv on s.
func RegisterChallengeServer(s grpc.ServiceRegistrar, srv ChallengeServer) {
	s.RegisterService(&challengeServiceDesc, srv)
}

var challengeServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ChallengeServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetChallenge",
		Handler:    getChallengeHandler,
	}},
	Streams: []grpc.StreamDesc{},
}

func getChallengeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetChallengeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChallengeServer).GetChallenge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getChallengeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ChallengeServer).GetChallenge(ctx, req.(*GetChallengeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// SourceServer exposes any Source over gRPC.
type SourceServer struct {
	Source Source
}

// GetChallenge implements ChallengeServer.
func (s SourceServer) GetChallenge(ctx context.Context, req *GetChallengeRequest) (*GetChallengeResponse, error) {
	c, err := s.Source.GetChallenge(ctx, req.ChallengeID)
	if err != nil {
		if appErr.Is(err, appErr.ChallengeNotFound) {
			return nil, status.Error(codes.NotFound, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &GetChallengeResponse{Challenge: c}, nil
}
