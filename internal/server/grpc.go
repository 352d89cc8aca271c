package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"NeuroVault/internal/access"
	"NeuroVault/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

const ServiceName = "neurovault.v1.Vault"

// unary builds a method descriptor around a typed Service method.
func unary[Req, Resp any](name string, call func(*Service, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", name, err)
			}
			svc := srv.(*Service)
			handler := func(ctx context.Context, req any) (any, error) {
				resp, err := call(svc, ctx, req.(*Req))
				if err != nil {
					return nil, toStatus(err).Err()
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the vault service for grpc.Server.RegisterService.
// Messages are JSON; see CodecName.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		unary[access.SignedRequest, MutationResponse]("Initialize", (*Service).Initialize),
		unary[access.SignedRequest, MutationResponse]("Deposit", (*Service).Deposit),
		unary[access.SignedRequest, MutationResponse]("Withdraw", (*Service).Withdraw),
		unary[access.SignedRequest, MutationResponse]("Rebalance", (*Service).Rebalance),
		unary[access.SignedRequest, MutationResponse]("SetPaused", (*Service).SetPaused),
		unary[access.SignedRequest, MutationResponse]("EmergencyPause", (*Service).EmergencyPause),
		unary[access.SignedRequest, MutationResponse]("SetTvlCap", (*Service).SetTvlCap),
		unary[access.SignedRequest, MutationResponse]("SetUserDepositCap", (*Service).SetUserDepositCap),
		unary[access.SignedRequest, MutationResponse]("SetLimits", (*Service).SetLimits),
		unary[access.SignedRequest, MutationResponse]("ReportAssets", (*Service).ReportAssets),
		unary[access.SignedRequest, MutationResponse]("Upgrade", (*Service).Upgrade),
		unary[BalanceRequest, BalanceResponse]("GetBalance", (*Service).GetBalance),
		unary[Empty, TotalDepositsResponse]("GetTotalDeposits", (*Service).GetTotalDeposits),
		unary[Empty, AgentResponse]("GetAgent", (*Service).GetAgent),
		unary[Empty, PausedResponse]("IsPaused", (*Service).IsPaused),
		unary[Empty, ConfigResponse]("GetConfig", (*Service).GetConfig),
		unary[ListEventsRequest, ListEventsResponse]("ListEvents", (*Service).ListEvents),
	},
	// No generated descriptor backs the JSON codec, so there is no proto file
	// for reflection to resolve.
	Metadata: "",
}

// Server wraps the gRPC server and the HTTP/JSON gateway.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	service       *Service
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
	metrics       *observability.Metrics
}

type Config struct {
	GRPCAddr      string
	HTTPAddr      string
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
	Metrics       *observability.Metrics
}

// New creates the gRPC server with the vault, health and reflection
// services registered.
func New(svc *Service, cfg Config) *Server {
	s := &Server{
		grpcAddr:      cfg.GRPCAddr,
		httpAddr:      cfg.HTTPAddr,
		service:       svc,
		healthChecker: cfg.HealthChecker,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observeUnary))
	s.grpcServer.RegisterService(&ServiceDesc, svc)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)

	return s
}

// GRPCServer exposes the underlying server, e.g. for in-process listeners
// in tests.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcServer }

func (s *Server) observeUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)

	if s.metrics != nil {
		s.metrics.APIRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
		s.metrics.APIDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
	}
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Error().Str("method", info.FullMethod).Err(err).Msg("request failed")
	}
	return resp, err
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is cancelled.
func (s *Server) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
