package main

import (
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/MirrorBytes/slimweb"
	"github.com/MirrorBytes/slimweb/internal/obs"
)

type config struct {
	Addr            string `yaml:"addr"`
	CertFile        string `yaml:"cert_file"`
	KeyFile         string `yaml:"key_file"`
	DeadlineSeconds int    `yaml:"deadline_seconds"`
	Compression     bool   `yaml:"compression"`
	MaxBodySize     int    `yaml:"max_body_size"`
}

func loadConfig(path string) (config, error) {
	cfg := config{Addr: "127.0.0.1:8080", DeadlineSeconds: 30}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	srv, err := slimweb.NewServer(cfg.Addr)
	if err != nil {
		log.Fatalf("bind %s: %v", cfg.Addr, err)
	}
	if cfg.CertFile != "" {
		if err := srv.TLS(cfg.CertFile, cfg.KeyFile); err != nil {
			log.Fatalf("load keypair: %v", err)
		}
	}
	if cfg.Compression {
		srv.EnableCompression()
	}
	if cfg.DeadlineSeconds > 0 {
		srv.SetRequestDeadline(time.Duration(cfg.DeadlineSeconds) * time.Second)
	}
	srv.SetLogger(obs.NewLogrus(log))
	srv.SetMeter(obs.NewPromMeter(nil))

	srv.AddHandler("POST", "/echo", func(req *slimweb.ServerRequest) (*slimweb.ServerResponse, error) {
		resp, err := slimweb.NewServerResponse(200)
		if err != nil {
			return nil, err
		}
		resp.SetBody(slimweb.BytesBody(req.Body))
		if ct, ok := req.Header("Content-Type"); ok {
			resp.SetHeader("Content-Type", ct)
		}
		return resp, nil
	})
	srv.AddHandler("GET", "/healthz", func(req *slimweb.ServerRequest) (*slimweb.ServerResponse, error) {
		resp, err := slimweb.NewServerResponse(200)
		if err != nil {
			return nil, err
		}
		resp.SetBody(slimweb.TextBody("ok"))
		return resp, nil
	})
	if cfg.MaxBodySize > 0 {
		srv.AddExpectation(func(info *slimweb.GeneralInfo) (int, string) {
			if v, ok := info.Header("Content-Length"); ok && len(v) > 0 {
				var n int
				for _, c := range v {
					if c < '0' || c > '9' {
						return 400, "bad Content-Length"
					}
					n = n*10 + int(c-'0')
				}
				if n > cfg.MaxBodySize {
					return 417, "body too large"
				}
			}
			return 100, ""
		})
	}

	log.Infof("listening on %s", srv.Addr())
	if err := srv.Run(); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
