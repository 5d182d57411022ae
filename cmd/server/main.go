package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexuschat/relay/internal/server"
)

func main() {
	fmt.Println("Starting relay chat server...")

	config := server.NewConfigFromEnv()
	server.SetConfig(config)

	service := server.NewService()
	service.Start()

	mux := service.SetupRoutes()
	httpServer := server.CreateServer(config.Port, mux)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received signal %s, shutting down", sig)
	}

	if err := server.ShutdownServer(httpServer, 10*time.Second); err != nil {
		log.Printf("HTTP shutdown did not complete cleanly: %v", err)
	}
	if err := service.Hub().Shutdown(5 * time.Second); err != nil {
		log.Printf("Hub shutdown did not complete cleanly: %v", err)
	}
}
