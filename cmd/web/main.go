package main

import (
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/satsduel/satsduel/internal/db"
	"github.com/satsduel/satsduel/internal/gateway"
	"github.com/satsduel/satsduel/internal/service"
	"github.com/satsduel/satsduel/internal/store"
	"github.com/satsduel/satsduel/internal/wager"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	database := db.InitDB()
	defer database.Close()

	if err := db.RunMigrations(database.DB); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	gw := gateway.NewClient(
		os.Getenv("LNBITS_URL"),
		os.Getenv("LNBITS_INVOICE_KEY"),
		os.Getenv("LNBITS_ADMIN_KEY"),
	)

	refundTimeout := wager.DefaultRefundTimeout
	if hours := os.Getenv("REFUND_TIMEOUT_HOURS"); hours != "" {
		h, err := strconv.Atoi(hours)
		if err != nil || h <= 0 {
			log.Fatalf("Invalid REFUND_TIMEOUT_HOURS %q", hours)
		}
		refundTimeout = time.Duration(h) * time.Hour
	}

	settlements := service.NewSettlementService(store.NewMatchStore(database), gw, refundTimeout)

	scheduler, err := service.StartSweeps(settlements)
	if err != nil {
		log.Fatal("Failed to start sweep scheduler:", err)
	}
	defer scheduler.Shutdown()

	router := newRouter(settlements)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Println("Server starting on http://localhost:" + port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal(err)
	}
}
