package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"censustwin/config"
	"censustwin/contract"
	core "censustwin/gateway/service/core"
	"censustwin/internal/censushash"
	"censustwin/ledger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name. Requests and responses of every method
// are google.protobuf.Struct messages carrying the same fields as the REST API.
const ServiceName = "censustwin.v1.CensusLedger"

// FullMethod returns the gRPC method path for a method name
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// CensusLedgerServer is implemented by Server; it is the handler type of the service descriptor.
type CensusLedgerServer interface {
	Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error)

var methods = map[string]methodFunc{
	contract.FnInitializeRecord: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		md, err := metadataField(req)
		if err != nil {
			return nil, err
		}
		return s.svc.InitializeRecord(ctx, caller, str(req, "record_id"), str(req, "data_hash"), md)
	},
	"AnchorRecord": func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		record := recordField(req, "record")
		if record == nil {
			return nil, fmt.Errorf("%w: record is required", contract.ErrInvalidArgument)
		}
		return s.svc.AnchorRecord(ctx, caller, record)
	},
	contract.FnReviewRecord: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		id, reviewer, decision := str(req, "record_id"), str(req, "reviewer_id"), str(req, "decision")
		if updated := recordField(req, "updated_record"); updated != nil {
			return s.svc.SubmitReview(ctx, caller, id, reviewer, decision, updated)
		}
		return s.svc.ReviewRecord(ctx, caller, id, reviewer, decision, str(req, "new_hash"))
	},
	contract.FnVerifyIntegrity: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		if record := recordField(req, "record"); record != nil {
			return s.svc.VerifyRecord(ctx, caller, str(req, "record_id"), record)
		}
		return s.svc.VerifyIntegrity(ctx, caller, str(req, "record_id"), str(req, "provided_hash"))
	},
	contract.FnLogAccess: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		return s.svc.LogAccess(ctx, caller, str(req, "record_id"), str(req, "accessor_id"), str(req, "reason"))
	},
	contract.FnGetRecord: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		return s.svc.GetRecord(ctx, caller, str(req, "record_id"))
	},
	contract.FnRecordExists: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		id := str(req, "record_id")
		exists, err := s.svc.RecordExists(ctx, caller, id)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record_id": id, "exists": exists}, nil
	},
	contract.FnGetRecordHistory: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		history, err := s.svc.GetRecordHistory(ctx, caller, str(req, "record_id"))
		return items(history, err)
	},
	contract.FnGetAccessLogs: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		logs, err := s.svc.GetAccessLogs(ctx, caller, str(req, "record_id"))
		return items(logs, err)
	},
	contract.FnQueryByStatus: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		records, err := s.svc.QueryByStatus(ctx, caller, str(req, "status"))
		return items(records, err)
	},
	contract.FnQueryByFlagStatus: func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		records, err := s.svc.QueryByFlagStatus(ctx, caller, str(req, "flag_status"))
		return items(records, err)
	},
	"LedgerStatus": func(s *Server, ctx context.Context, caller contract.Identity, _ *structpb.Struct) (any, error) {
		return s.svc.LedgerStatus(ctx, caller)
	},
	"Enqueue": func(s *Server, ctx context.Context, caller contract.Identity, req *structpb.Struct) (any, error) {
		args := make(map[string]string)
		for k, v := range req.GetFields()["args"].GetStructValue().GetFields() {
			args[k] = v.GetStringValue()
		}
		return s.svc.Enqueue(ctx, caller, str(req, "function"), args)
	},
}

// Server serves the census ledger over gRPC
type Server struct {
	svc      *core.Service
	identity config.IdentityConfig
	logger   *log.Logger
}

// NewServer creates a new gRPC Server instance
func NewServer(s *core.Service, identity config.IdentityConfig, l *log.Logger) *Server {
	return &Server{svc: s, identity: identity, logger: l}
}

// Register adds the service to gs
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(ServiceDesc(), s)
}

// ServiceDesc describes the service; each method decodes a Struct and dispatches through Handle.
func ServiceDesc() *grpc.ServiceDesc {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*CensusLedgerServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "censustwin/v1/census_ledger.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return desc
}

func unaryHandler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return srv.(CensusLedgerServer).Handle(ctx, method, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, handler)
	}
}

// Handle resolves the caller from request metadata and runs method
func (s *Server) Handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	fn, ok := methods[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}

	caller, err := s.callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	result, err := fn(s, ctx, caller, req)
	if err != nil {
		return nil, s.toStatus(method, err)
	}

	resp, err := toStruct(result)
	if err != nil {
		s.logger.Printf("gRPC Server: failed to encode %s response: %v", method, err)
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return resp, nil
}

func (s *Server) callerFrom(ctx context.Context) (contract.Identity, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(header string) string {
		if vals := md.Get(strings.ToLower(header)); len(vals) > 0 {
			return strings.TrimSpace(vals[0])
		}
		return ""
	}

	caller := contract.Identity{
		AuthorityID: first(s.identity.AuthorityHeader),
		IdentityID:  first(s.identity.IdentityHeader),
	}
	if caller.AuthorityID == "" {
		caller.AuthorityID = s.identity.DefaultAuthorityID
	}
	if err := caller.Validate(); err != nil {
		return contract.Identity{}, status.Errorf(codes.Unauthenticated, "caller identity required (%s, %s metadata)",
			strings.ToLower(s.identity.IdentityHeader), strings.ToLower(s.identity.AuthorityHeader))
	}
	return caller, nil
}

// toStatus maps contract and runtime errors onto gRPC codes
func (s *Server) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, contract.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, contract.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, contract.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrMVCCConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, core.ErrQueueDisabled):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.Printf("gRPC Server: %s failed: %v", method, err)
		return status.Error(codes.Internal, "internal ledger error")
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func items[T any](list []T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []T{}
	}
	return map[string]any{"items": list, "count": len(list)}, nil
}

func str(req *structpb.Struct, field string) string {
	return req.GetFields()[field].GetStringValue()
}

func recordField(req *structpb.Struct, field string) censushash.Record {
	st := req.GetFields()[field].GetStructValue()
	if st == nil {
		return nil
	}
	return censushash.Record(st.AsMap())
}

// metadataField accepts metadata as a string or as a nested struct
func metadataField(req *structpb.Struct) (string, error) {
	v, ok := req.GetFields()["metadata"]
	if !ok {
		return "", nil
	}
	if st := v.GetStructValue(); st != nil {
		b, err := json.Marshal(st.AsMap())
		if err != nil {
			return "", fmt.Errorf("%w: metadata: %v", contract.ErrInvalidArgument, err)
		}
		return string(b), nil
	}
	return v.GetStringValue(), nil
}

var _ CensusLedgerServer = (*Server)(nil)
