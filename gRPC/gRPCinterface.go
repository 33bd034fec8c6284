package proto

import (
	"CheatDetServer/annotate"
	"CheatDetServer/logger"
	"CheatDetServer/monitor"
	"CheatDetServer/pipeline"
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Byte64ToMat decodes an encoded image into a gocv.Mat.
var Byte64ToMat = annotate.DecodeImage

type JobPackage struct {
	worker *pipeline.Pipeline
	image  []byte
	Result chan JobResult
}

type JobResult struct {
	Result pipeline.Result
	// Image is the annotated frame as JPEG.
	Image []byte
	Err   error
}

var JobQueue chan JobPackage

var CloseChannel chan bool

var closeOnce sync.Once

// Submit queues one encoded frame and waits for its result.
func Submit(ctx context.Context, p *pipeline.Pipeline, image []byte) (JobResult, error) {
	if JobQueue == nil {
		return JobResult{}, errors.New("job queue is not initialized")
	}
	job := JobPackage{
		worker: p,
		image:  image,
		Result: make(chan JobResult, 1),
	}
	select {
	case JobQueue <- job:
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
	select {
	case res := <-job.Result:
		return res, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

func StartWorker(workerNum int) {
	for i := 0; i < workerNum; i++ {
		go runWorker(i)
	}
}

func runWorker(workerID int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			time.Sleep(1 * time.Second)
			go runWorker(workerID)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Info("worker created", zap.Int("worker", workerID))
	for job := range JobQueue {
		job.Result <- handle(workerID, job)
	}
}

func handle(workerID int, job JobPackage) JobResult {
	imgData, err := Byte64ToMat(job.image)
	defer func() {
		if err := imgData.Close(); err != nil {
			logger.Log().Error("error closing imgData", zap.Int("worker", workerID), zap.Error(err))
		}
	}()
	if err != nil {
		return JobResult{Err: err}
	}
	res := job.worker.Process(&imgData)
	encoded, err := annotate.EncodeJPEG(imgData)
	if err != nil {
		return JobResult{Result: res, Err: err}
	}
	return JobResult{Result: res, Image: encoded}
}

type Server struct {
	UnimplementedCheatDetectServiceServer
	Pipeline *pipeline.Pipeline
	Workers  int
}

func (s *Server) Detect(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	if len(req.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "image data cannot be empty")
	}
	res, err := Submit(ctx, s.Pipeline, req.GetValue())
	if err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if res.Err != nil {
		if errors.Is(res.Err, annotate.ErrEmptyImage) {
			return nil, status.Error(codes.InvalidArgument, res.Err.Error())
		}
		logger.Log().Error("detect failed", zap.Error(res.Err))
		return nil, status.Error(codes.Internal, res.Err.Error())
	}
	summary := res.Result.Summary()
	summary["image"] = res.Image
	out, err := structpb.NewStruct(summary)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) CheckEngine(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	monitor.GRPCTotal.Inc()
	cfg := s.Pipeline.Classifier().CheckConfig()
	rule := s.Pipeline.Rule()
	labels := make([]any, 0, len(cfg.Labels))
	for _, l := range cfg.Labels {
		labels = append(labels, l)
	}
	out, err := structpb.NewStruct(map[string]any{
		"modelPath":           cfg.ModelPath,
		"labels":              labels,
		"useGPU":              cfg.UseGPU,
		"dominanceFactor":     rule.DominanceFactor,
		"separateNotCheating": rule.SeparateNotCheating,
		"workers":             s.Workers,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	monitor.GRPCTotal.Inc()
	logger.Log().Warn("shutdown requested over gRPC")
	closeOnce.Do(func() {
		if CloseChannel != nil {
			close(CloseChannel)
		}
	})
	return &emptypb.Empty{}, nil
}

// Serve registers srv on a new grpc.Server and serves lis in the background.
func Serve(lis net.Listener, srv *Server) *grpc.Server {
	s := grpc.NewServer()
	RegisterCheatDetectServiceServer(s, srv)
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(addr int, srv *Server) (*grpc.Server, error) {
	CloseChannel = make(chan bool)
	closeOnce = sync.Once{}
	port := fmt.Sprintf(":%d", addr)
	lis, err := net.Listen("tcp", port)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", port, err)
	}
	return Serve(lis, srv), nil
}
