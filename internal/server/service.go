package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/docanalysis/constants"
	"github.com/joseph-ayodele/docanalysis/internal/analyzer"
	"github.com/joseph-ayodele/docanalysis/internal/common"
	"github.com/joseph-ayodele/docanalysis/internal/entity"
	"github.com/joseph-ayodele/docanalysis/internal/export"
	"github.com/joseph-ayodele/docanalysis/internal/repository"
)

// Analyzer runs one document analysis.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request, ep analyzer.EndpointConfig) (*entity.AnalysisResult, error)
}

type AnalysisService struct {
	analyzer Analyzer
	endpoint analyzer.EndpointConfig
	exporter *export.Service
	logger   *slog.Logger
}

// NewAnalysisService builds the gRPC handler. exporter may be nil, in which
// case ExportJobs reports Unimplemented.
func NewAnalysisService(a Analyzer, ep analyzer.EndpointConfig, exporter *export.Service, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{analyzer: a, endpoint: ep, exporter: exporter, logger: logger}
}

func (s *AnalysisService) Analyze(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	fileName := firstValue(md, MetadataFileName)
	contentType := firstValue(md, MetadataContentType)
	if contentType == "" && fileName != "" {
		contentType = constants.ContentTypeForExt(filepath.Ext(fileName))
	}

	res, err := s.analyzer.Analyze(ctx, analyzer.Request{
		File:        req.GetValue(),
		ContentType: contentType,
		FileName:    fileName,
	}, s.endpoint)
	if err != nil {
		return nil, toStatus(err)
	}
	if res.Metadata.JobID != "" {
		if err := grpc.SetHeader(ctx, metadata.Pairs(MetadataJobID, res.Metadata.JobID)); err != nil {
			s.logger.Warn("server.analyze.set_header_failed", "error", err)
		}
	}

	out, err := resultStruct(res)
	if err != nil {
		s.logger.Error("server.analyze.encode_failed", "job_id", res.Metadata.JobID, "error", err)
		return nil, status.Error(codes.Internal, "encode result")
	}
	return out, nil
}

func (s *AnalysisService) ExportJobs(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error) {
	if s.exporter == nil {
		return nil, status.Error(codes.Unimplemented, "no job ledger configured")
	}
	filter, err := jobFilter(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	b, err := s.exporter.ExportJobsXLSX(ctx, filter)
	if err != nil {
		s.logger.Error("server.export_jobs.failed", "error", err)
		return nil, status.Error(codes.Internal, "export jobs failed")
	}
	return wrapperspb.Bytes(b), nil
}

// toStatus maps analysis errors onto gRPC codes with a user-facing message.
func toStatus(err error) error {
	if kind := common.KindOf(err); kind != "" {
		return status.Error(common.GRPCCode(kind), common.UserMessage(err))
	}
	if ctxErr := common.FromContext(err); ctxErr != err {
		return toStatus(ctxErr)
	}
	return status.Error(codes.Internal, "analysis failed")
}

// resultStruct round-trips through JSON so the Struct carries the same
// snake_case shape as the CLI output.
func resultStruct(res *entity.AnalysisResult) (*structpb.Struct, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func jobFilter(req *structpb.Struct) (repository.JobFilter, error) {
	var f repository.JobFilter
	fields := req.GetFields()
	if v, ok := fields["status"]; ok {
		st, ok := constants.ParseJobStatus(v.GetStringValue())
		if !ok {
			return f, fmt.Errorf("unknown status %q", v.GetStringValue())
		}
		f.Status = st
	}
	if v, ok := fields["since"]; ok {
		t, err := time.Parse(time.RFC3339, v.GetStringValue())
		if err != nil {
			return f, fmt.Errorf("since must be RFC 3339: %w", err)
		}
		f.Since = t
	}
	if v, ok := fields["limit"]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != float64(int(n)) {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = int(n)
	}
	return f, nil
}

func firstValue(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return strings.TrimSpace(vs[0])
	}
	return ""
}
