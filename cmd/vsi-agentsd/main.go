package main

import (
	"log"
	"os"

	"github.com/zoernert/vsi-sub004/config"
	"github.com/zoernert/vsi-sub004/internal/server"
)

func main() {
	cfg := config.LoadConfig(os.Getenv("VSI_CONFIG"))

	s, err := server.New(cfg)
	if err != nil {
		log.Fatalf("server init error: %v", err)
	}
	if err := s.Run(os.Getenv("VSI_HTTP_ADDR")); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
