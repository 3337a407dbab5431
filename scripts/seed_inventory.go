package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"orderhub/internal/config"
	"orderhub/internal/database"
	"orderhub/internal/model"
	"orderhub/internal/repository"
	"orderhub/internal/service"

	"github.com/shopspring/decimal"
)

// Seeds the inventory database with a small catalogue for local testing.
// Reads the same environment as the inventory service.
//
//	go run ./scripts
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadInventory()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logger, "seed-inventory")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, database.InventorySchema, logger); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	inventory := service.NewInventoryService(repository.NewProductRepository(pool, logger), logger)

	catalogue := []model.CreateProductRequest{
		{Name: "Laptop", Price: decimal.RequireFromString("450.00"), StockQuantity: 50},
		{Name: "Wireless Mouse", Price: decimal.RequireFromString("15.00"), StockQuantity: 200},
		{Name: "Mechanical Keyboard", Price: decimal.RequireFromString("60.00"), StockQuantity: 80},
		{Name: "27in Monitor", Price: decimal.RequireFromString("220.00"), StockQuantity: 25},
		{Name: "USB-C Dock", Price: decimal.RequireFromString("95.50"), StockQuantity: 5},
	}

	for i := range catalogue {
		product, err := inventory.CreateProduct(ctx, &catalogue[i])
		if err != nil {
			return fmt.Errorf("failed to seed %s: %w", catalogue[i].Name, err)
		}
		fmt.Printf("  %-4d %-22s %8s  stock %d\n",
			product.ID, product.Name, product.Price.StringFixed(2), product.StockQuantity)
	}

	fmt.Printf("\nSeeded %d products\n", len(catalogue))
	return nil
}
