package main

import (
	adhoc "CheatDetServer/Adhoc"
	"CheatDetServer/annotate"
	"CheatDetServer/config"
	"CheatDetServer/decision"
	"CheatDetServer/engine"
	backend "CheatDetServer/gRPC"
	"CheatDetServer/logger"
	"CheatDetServer/monitor"
	"CheatDetServer/pipeline"
	"CheatDetServer/stream"
	"CheatDetServer/web"
	"context"
	"flag"
	"fmt"
	"image/color"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 是 Google DNS，这里只是为了建立路由路径得到本地出口 IP
	// 实际并没有真正的物理连接，所以不需要联网也可以（只要有路由表）
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

func buildPipeline(cfg config.Config) (*pipeline.Pipeline, error) {
	var persons *engine.PersonBoxDetector
	if cfg.Person.Enabled() {
		var err error
		if persons, err = engine.NewPersonBoxDetector(cfg.Person); err != nil {
			return nil, fmt.Errorf("person model: %w", err)
		}
	}
	detector, err := engine.NewPoseDetector(cfg.Pose, persons)
	if err != nil {
		if persons != nil {
			persons.Destroy()
		}
		return nil, fmt.Errorf("pose model: %w", err)
	}
	names := engine.NamesConf{IsFile: false, Data: cfg.Classifier.Labels}
	if cfg.Classifier.LabelsFile != "" {
		names = engine.NamesConf{IsFile: true, Data: cfg.Classifier.LabelsFile}
	}
	classifier, err := engine.NewClassifier(cfg.Classifier.Model, names, cfg.Classifier.UseGPU)
	if err != nil {
		detector.Destroy()
		return nil, fmt.Errorf("classifier model: %w", err)
	}
	rule := decision.Rule{
		DominanceFactor:     cfg.Decision.DominanceFactor,
		SeparateNotCheating: cfg.Decision.SeparateNotCheating,
		Labels:              classifier.CheckConfig().Labels,
	}
	c := cfg.Annotation.Color
	style := annotate.Style{Color: color.RGBA{R: c[0], G: c[1], B: c[2]}, Thickness: cfg.Annotation.Thickness}
	return pipeline.New(detector, classifier, rule, style, logger.Log()), nil
}

// warmUp runs three black frames through the pipeline.
func warmUp(p *pipeline.Pipeline) {
	warmMat := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer warmMat.Close()
	for i := 0; i < 3; i++ {
		p.Process(&warmMat)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to load config file:", err)
		os.Exit(1)
	}
	if err = logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()

	ip, err := GetOutboundIP()
	if err != nil {
		log.Warn("Failed to get outbound IP", zap.Error(err))
		ip = "127.0.0.1"
	}

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	runtime.GOMAXPROCS(CPUNum)
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println("Outbound IP:", ip)
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" Adhoc Port:", cfg.AdhocPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.WorkersNum <= 0 {
		cfg.WorkersNum = 1
		log.Warn("Invalid workersNum in config, defaulting to 1")
	} else if cfg.WorkersNum > CPUNum {
		log.Warn("workersNum exceeds CPU cores, which may lead to performance degradation", zap.Int("workersNum", cfg.WorkersNum))
	}

	p, err := buildPipeline(cfg)
	if err != nil {
		log.Error("Failed to load models", zap.Error(err))
		os.Exit(1)
	}
	defer p.Close()
	if cfg.Pose.UseGPU || cfg.Person.UseGPU || cfg.Classifier.UseGPU {
		log.Info("Using GPU, warming up")
		warmUp(p)
	}

	instanceClass, ok := adhoc.InstanceClassOf(cfg.InstanceClass)
	if !ok {
		log.Warn("Invalid instanceClass in config, defaulting to Cpu", zap.String("instanceClass", cfg.InstanceClass))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	backend.JobQueue = make(chan backend.JobPackage, cfg.WorkersNum)
	backend.StartWorker(cfg.WorkersNum)
	server, err := backend.StartGRPCServer(cfg.RPCPort, &backend.Server{Pipeline: p, Workers: cfg.WorkersNum})
	if err != nil {
		log.Error("Failed to start gRPC server", zap.Error(err))
		cancel()
		os.Exit(1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		httpSrv := web.NewServer(p, time.Duration(cfg.SessionIdleMs)*time.Millisecond, log)
		if err := httpSrv.Run(ctx, cfg.HTTPPort); err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	go monitor.StartMon(cfg.AdhocPort, ctx)

	if cfg.UseRegServer {
		adhoc.RegServerCfg = adhoc.RegServerConfig{}
		adhoc.RegServerCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(adhoc.Node{
			IP:            ip,
			Port:          cfg.RPCPort,
			HTTPPort:      cfg.HTTPPort,
			InstanceClass: instanceClass,
			Labels:        p.Rule().Labels,
		}, ctx, &wg)
	} else {
		log.Info("UseRegServer is set to false, skipping registration")
	}

	if cfg.Stream.Enabled {
		if err := startStream(ctx, &wg, cfg, p); err != nil {
			log.Error("Failed to start stream worker", zap.Error(err))
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-backend.CloseChannel:
		log.Warn("Shutdown requested")
	case s := <-sig:
		log.Warn("Signal received, shutting down", zap.String("signal", s.String()))
	}
	cancel()
	server.GracefulStop()
	close(backend.JobQueue)
	wg.Wait()
	log.Info("Safely exited")
}

func startStream(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, p *pipeline.Pipeline) error {
	store, err := stream.NewRedisStore(cfg.Stream.RedisAddr, cfg.Stream.RedisPassword, cfg.Stream.RedisDB)
	if err != nil {
		return err
	}
	consumer, partConsumer, producer, err := stream.Connect(cfg.Stream)
	if err != nil {
		_ = store.Close()
		return err
	}
	w := stream.NewWorker(p, store, partConsumer, producer, cfg.Stream.VerdictTopic, cfg.WorkersNum, logger.Log())
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.Run(ctx)
		_ = partConsumer.Close()
		_ = consumer.Close()
		_ = producer.Close()
		_ = store.Close()
		logger.Log().Info("stream worker stopped", zap.Any("stats", w.Stats()))
	}()
	return nil
}
