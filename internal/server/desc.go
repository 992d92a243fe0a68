package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName          = "docanalysis.v1.AnalysisService"
	AnalyzeFullMethod    = "/" + ServiceName + "/Analyze"
	ExportJobsFullMethod = "/" + ServiceName + "/ExportJobs"
	MetadataContentType  = "x-content-type"
	MetadataFileName     = "x-file-name"
	MetadataJobID        = "x-job-id"
	MetadataRequestID    = "x-request-id"
)

// AnalysisServer is the server API for the analysis service. Messages are
// protobuf well-known types so clients need no generated stubs.
type AnalysisServer interface {
	// Analyze takes the document bytes; content type and file name travel in
	// metadata. The reply is the analysis result as a Struct.
	Analyze(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	// ExportJobs returns the job ledger as an XLSX workbook. Optional filter
	// fields: status, since (RFC 3339), limit.
	ExportJobs(context.Context, *structpb.Struct) (*wrapperspb.BytesValue, error)
}

var AnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: analyzeHandler},
		{MethodName: "ExportJobs", Handler: exportJobsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "docanalysis/v1/analysis.proto",
}

func RegisterAnalysisServer(s grpc.ServiceRegistrar, srv AnalysisServer) {
	s.RegisterService(&AnalysisServiceDesc, srv)
}

func analyzeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Analyze(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AnalyzeFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).Analyze(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func exportJobsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).ExportJobs(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExportJobsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalysisServer).ExportJobs(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
