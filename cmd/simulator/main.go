package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// apiClient talks to the fleet API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

// apiError is a non-2xx response.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Body)
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	c.token = resp.Token
	return nil
}

// vehicle is the simulator's view of one asset.
type vehicle struct {
	AssetID string
	Plate   string
	Kind    string // "distance" or "duration"
	Reading float64
}

var categories = []struct {
	Category string
	Kind     string
	Names    []string
}{
	{"car", "distance", []string{"Corolla", "Gol", "Onix", "Civic"}},
	{"truck", "distance", []string{"Hilux", "S10", "Actros", "Constellation"}},
	{"machine", "duration", []string{"Backhoe 416", "Excavator 320", "Tractor 6110"}},
}

func randomPlate(rng *rand.Rand) string {
	letters := make([]byte, 3)
	for i := range letters {
		letters[i] = byte('A' + rng.Intn(26))
	}
	return fmt.Sprintf("%s-%04d", letters, rng.Intn(10000))
}

func (c *apiClient) createVehicle(ctx context.Context, rng *rand.Rand) (*vehicle, error) {
	model := categories[rng.Intn(len(categories))]
	initial := float64(rng.Intn(50000))
	if model.Kind == "duration" {
		initial = float64(rng.Intn(3000))
	}
	req := map[string]any{
		"plate":           randomPlate(rng),
		"name":            model.Names[rng.Intn(len(model.Names))],
		"category":        model.Category,
		"meter_kind":      model.Kind,
		"initial_reading": initial,
		"year":            2015 + rng.Intn(10),
	}

	var asset struct {
		ID    string `json:"id"`
		Plate string `json:"plate"`
	}
	if err := c.do(ctx, http.MethodPost, "/assets", req, &asset); err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	if asset.ID == "" {
		return nil, fmt.Errorf("invalid asset ID in response")
	}

	log.WithFields(log.Fields{
		"asset_id": asset.ID,
		"plate":    asset.Plate,
		"kind":     model.Kind,
	}).Info("Created asset")
	return &vehicle{AssetID: asset.ID, Plate: asset.Plate, Kind: model.Kind, Reading: initial}, nil
}

// tripLength returns how far the meter advances on one trip: km for distance meters,
// hours for duration meters. Always strictly positive.
func tripLength(rng *rand.Rand, kind string) float64 {
	if kind == "duration" {
		return float64(1 + rng.Intn(8))
	}
	return float64(5 + rng.Intn(200))
}

var (
	destinations = []string{"Depot", "Warehouse", "North site", "Client visit", "Quarry", "Airport"}
	fuelLevels   = []string{"empty", "quarter", "half", "three-quarter", "full"}
)

// runCycle drives one departure, return and possibly a refuel for v.
func (c *apiClient) runCycle(ctx context.Context, rng *rand.Rand, v *vehicle) error {
	departure := map[string]any{
		"start_value": v.Reading + 1,
		"destination": destinations[rng.Intn(len(destinations))],
		"fuel_level":  fuelLevels[rng.Intn(len(fuelLevels))],
	}
	if err := c.do(ctx, http.MethodPost, "/assets/"+v.AssetID+"/departure", departure, nil); err != nil {
		return fmt.Errorf("departure: %w", err)
	}
	start := v.Reading + 1

	end := start + tripLength(rng, v.Kind)
	if err := c.do(ctx, http.MethodPost, "/assets/"+v.AssetID+"/return", map[string]any{"end_value": end}, nil); err != nil {
		return fmt.Errorf("return: %w", err)
	}
	v.Reading = end

	log.WithFields(log.Fields{
		"asset_id": v.AssetID,
		"start":    start,
		"end":      end,
	}).Info("Completed trip")

	if rng.Intn(3) == 0 {
		refuel := map[string]any{
			"asset_id":  v.AssetID,
			"amount":    fmt.Sprintf("%.2f", 50+rng.Float64()*250),
			"tank_fill": []string{"partial", "full"}[rng.Intn(2)],
		}
		if err := c.do(ctx, http.MethodPost, "/fuel", refuel, nil); err != nil {
			return fmt.Errorf("refuel: %w", err)
		}
		log.WithField("asset_id", v.AssetID).Info("Logged refuel")
	}
	return nil
}

// simulateVehicle runs cycles for v until ctx is done or cycles is reached (0 = forever).
func (c *apiClient) simulateVehicle(ctx context.Context, rng *rand.Rand, v *vehicle, interval time.Duration, cycles int) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for n := 0; cycles == 0 || n < cycles; n++ {
		if err := c.runCycle(ctx, rng, v); err != nil {
			log.WithField("asset_id", v.AssetID).WithError(err).Warn("Cycle failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func main() {
	apiURL := pflag.String("api-url", getEnv("API_BASE_URL", "http://localhost:8080/api"), "fleet API base URL")
	email := pflag.String("email", os.Getenv("SIM_EMAIL"), "login email of a manager-tier account")
	password := pflag.String("password", os.Getenv("SIM_PASSWORD"), "login password")
	fleetSize := pflag.Int("fleet-size", 5, "number of assets to create")
	cycles := pflag.Int("cycles", 0, "trips per asset (0 runs until interrupted)")
	interval := pflag.Duration("interval", 2*time.Second, "pause between trips of one asset")
	seed := pflag.Int64("seed", time.Now().UnixNano(), "random seed")
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"fleet_size": *fleetSize,
		"api_url":    *apiURL,
		"interval":   *interval,
	}).Info("Starting fleet simulation")

	client := newAPIClient(*apiURL)
	if err := client.login(ctx, *email, *password); err != nil {
		log.WithError(err).Fatal("Cannot authenticate; set --email and --password")
	}

	rng := rand.New(rand.NewSource(*seed))
	vehicles := make([]*vehicle, 0, *fleetSize)
	for i := 0; i < *fleetSize; i++ {
		v, err := client.createVehicle(ctx, rng)
		if err != nil {
			log.WithError(err).Error("Failed to create asset")
			continue
		}
		vehicles = append(vehicles, v)
	}
	log.WithField("created_assets", len(vehicles)).Info("Asset creation completed")
	if len(vehicles) == 0 {
		log.Error("No assets created. Ensure the account is manager tier and the API is reachable. Exiting.")
		return
	}

	var wg sync.WaitGroup
	for _, v := range vehicles {
		wg.Add(1)
		go func(v *vehicle, seed int64) {
			defer wg.Done()
			client.simulateVehicle(ctx, rand.New(rand.NewSource(seed)), v, *interval, *cycles)
		}(v, rng.Int63())
	}
	wg.Wait()
	log.Info("Simulation finished")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
