package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"mercurial/app/server"
	"mercurial/types"

	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on process environment")
	}
}

func main() {
	s := server.NewServer(types.LoadConfig())

	go func() {
		if err := s.Run(); err != nil {
			log.Fatal("server error: ", err)
		}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	<-sigch
	log.Println("Received shutdown signal, shutting down server...")
	s.Stop()
}
