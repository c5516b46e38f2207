package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	serverAddress = "http://localhost:8080"
	numOrders     = 25
	numWorkers    = 5
)

var symbols = []string{"BTC", "ETH", "SOL"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

type apiResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// main drives the trading ledger API end to end: authenticate, fund
// the account, settle the deposit, execute concurrent orders with
// idempotency-key replays, and finish with a reconciliation pass.
func main() {
	client := resty.New().
		SetBaseURL(serverAddress).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetTimeout(10 * time.Second)

	token := authenticate(client)
	client.SetAuthToken(token)

	transferID := createDeposit(client, "USD", "1000000")
	settleTransfer(client, transferID)

	btcTransfer := createDeposit(client, "BTC", "5")
	settleTransfer(client, btcTransfer)

	runOrders(client)

	// Replay: the same idempotency key twice must produce one trade
	key := uuid.New().String()
	first := executeOrder(client, "BTC", "BUY", "0.1", "50000", key)
	second := executeOrder(client, "BTC", "BUY", "0.1", "50000", key)
	if first != second {
		log.Error().
			Str("first", first).
			Str("second", second).
			Msg("idempotency replay returned a different trade")
	} else {
		log.Info().Str("trade_id", first).Msg("idempotency replay verified")
	}

	corrected := reconcile(client)
	log.Info().Int("corrected", corrected).Msg("reconciliation pass complete")

	showPortfolio(client)
}

func authenticate(client *resty.Client) string {
	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	resp, err := client.R().
		SetBody(map[string]string{
			"api_key":    "test-api-key",
			"api_secret": "test-api-secret",
		}).
		SetResult(&result).
		Post("/api/v1/auth/token")
	if err != nil || !resp.IsSuccess() {
		log.Fatal().Err(err).Str("status", resp.Status()).Msg("authentication failed")
	}
	log.Info().Msg("authenticated")
	return result.Data.Token
}

func createDeposit(client *resty.Client, symbol, amount string) string {
	var result apiResponse
	resp, err := client.R().
		SetBody(map[string]string{
			"symbol": symbol,
			"type":   "DEPOSIT",
			"amount": amount,
		}).
		SetResult(&result).
		Post("/api/v1/transfers")
	if err != nil || !resp.IsSuccess() {
		log.Fatal().Err(err).Str("status", resp.Status()).Msg("deposit creation failed")
	}
	transferID, _ := result.Data["transfer_id"].(string)
	log.Info().Str("transfer_id", transferID).Str("symbol", symbol).Str("amount", amount).Msg("deposit created")
	return transferID
}

func settleTransfer(client *resty.Client, transferID string) {
	resp, err := client.R().
		Post(fmt.Sprintf("/api/v1/internal/transfers/%s/settle", transferID))
	if err != nil || !resp.IsSuccess() {
		log.Fatal().Err(err).Str("status", resp.Status()).Msg("transfer settlement failed")
	}
	log.Info().Str("transfer_id", transferID).Msg("transfer settled")
}

// runOrders fires a batch of randomized orders from a small worker
// pool, tolerating business-rule rejections.
func runOrders(client *resty.Client) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				symbol := symbols[rand.Intn(len(symbols))]
				side := "BUY"
				if rand.Intn(2) == 1 {
					side = "SELL"
				}
				quantity := fmt.Sprintf("0.%03d", rand.Intn(999)+1)
				price := fmt.Sprintf("%d", rand.Intn(40000)+10000)
				executeOrder(client, symbol, side, quantity, price, uuid.New().String())
			}
		}()
	}

	for i := 0; i < numOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	log.Info().Int("orders", numOrders).Msg("order batch complete")
}

func executeOrder(client *resty.Client, symbol, side, quantity, price, idempotencyKey string) string {
	now := time.Now().UTC().Format(time.RFC3339)
	var result apiResponse
	resp, err := client.R().
		SetHeader("Idempotency-Key", idempotencyKey).
		SetBody(map[string]interface{}{
			"symbol":       symbol,
			"side":         side,
			"order_kind":   "MARKET",
			"quantity":     quantity,
			"price":        price,
			"price_source": "simulation",
			"price_as_of":  now,
		}).
		SetResult(&result).
		Post("/api/v1/orders/execute")
	if err != nil {
		log.Error().Err(err).Msg("order request failed")
		return ""
	}
	if !resp.IsSuccess() {
		code := ""
		if result.Error != nil {
			code = result.Error.Code
		}
		log.Warn().
			Str("status", resp.Status()).
			Str("code", code).
			Str("symbol", symbol).
			Str("side", side).
			Msg("order rejected")
		return ""
	}

	trade, _ := result.Data["trade"].(map[string]interface{})
	tradeID, _ := trade["trade_id"].(string)
	log.Info().
		Str("trade_id", tradeID).
		Str("symbol", symbol).
		Str("side", side).
		Str("quantity", quantity).
		Msg("order executed")
	return tradeID
}

func reconcile(client *resty.Client) int {
	var result apiResponse
	resp, err := client.R().
		SetResult(&result).
		Post("/api/v1/internal/reconcile")
	if err != nil || !resp.IsSuccess() {
		log.Error().Err(err).Str("status", resp.Status()).Msg("reconciliation failed")
		return 0
	}
	corrected, _ := result.Data["corrected"].(float64)
	return int(corrected)
}

func showPortfolio(client *resty.Client) {
	var result apiResponse
	resp, err := client.R().
		SetResult(&result).
		Get("/api/v1/portfolio")
	if err != nil || !resp.IsSuccess() {
		log.Error().Err(err).Msg("portfolio fetch failed")
		return
	}
	log.Info().
		Interface("portfolio", result.Data).
		Msg("final portfolio")
}
