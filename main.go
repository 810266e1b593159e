package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/wxlim/dealbroker/agentclient"
	"github.com/wxlim/dealbroker/broker"
	"github.com/wxlim/dealbroker/config"
	"github.com/wxlim/dealbroker/counterparty"
	"github.com/wxlim/dealbroker/guard"
	"github.com/wxlim/dealbroker/inventory"
	"github.com/wxlim/dealbroker/llm"
	"github.com/wxlim/dealbroker/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting dealbroker...")
	log.Printf("Broker Port: %d", cfg.BrokerPort)
	log.Printf("Buyer Port: %d", cfg.BuyerPort)
	log.Printf("Seller Port: %d", cfg.SellerPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("LLM URL: %s", cfg.LLMBaseURL)

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize LLM decider
	llmClient := llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.ConnectTimeout)
	decider := llm.NewDecider(llmClient, cfg.LLMModel, cfg.LLMTemperature, cfg.LLMMaxTokens)

	// Initialize guard engine
	ctx := context.Background()
	guardEngine, err := guard.NewEngine(ctx, guard.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize guard engine: %v", err)
	}

	// Initialize counterparty services
	buyerBook := inventory.NewBuyerBook(cfg.BuyerInventoryPath)
	sellerBook := inventory.NewSellerBook(cfg.SellerPricingPath)

	buyerService := counterparty.NewService("buyer", counterparty.NewBuyerPolicy(decider, buyerBook), guardEngine)
	sellerService := counterparty.NewService("seller", counterparty.NewSellerPolicy(decider, sellerBook), guardEngine)

	// Initialize broker
	agents := agentclient.NewClient(cfg.AgentTimeout, cfg.ConnectTimeout)
	negotiator := broker.NewNegotiator(cfg, agents, decider, db, broker.NewRegistry())

	// Create the three Echo servers
	brokerServer := newServer()
	broker.NewHandler(negotiator).RegisterRoutes(brokerServer)

	buyerServer := newServer()
	counterparty.NewHandler(buyerService).RegisterRoutes(buyerServer)

	sellerServer := newServer()
	counterparty.NewHandler(sellerService).RegisterRoutes(sellerServer)

	servers := []struct {
		name string
		port int
		e    *echo.Echo
	}{
		{"broker", cfg.BrokerPort, brokerServer},
		{"buyer", cfg.BuyerPort, buyerServer},
		{"seller", cfg.SellerPort, sellerServer},
	}

	for _, s := range servers {
		s := s
		go func() {
			addr := fmt.Sprintf(":%d", s.port)
			if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start %s server: %v", s.name, err)
			}
		}()
		log.Printf("%s API started on port %d", s.name, s.port)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down dealbroker...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, s := range servers {
		if err := s.e.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown %s server gracefully: %v", s.name, err)
		}
	}

	log.Println("Dealbroker stopped")
}

func newServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	return e
}
