package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ConsoleConfig holds the terminal client settings.
type ConsoleConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8080"),
		// Generation streams stay open well past a normal request timeout.
		Timeout: 5 * time.Minute,
	}

	api := newAPIClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.Timeout})

	if !api.healthy() {
		fmt.Fprintf(os.Stderr, "Could not connect to API at %s. Please ensure the API is running.\n", cfg.APIBaseURL)
		os.Exit(1)
	}

	stdin := bufio.NewReader(os.Stdin)

	fmt.Println("CRASH")
	fmt.Println("  1 - Start a new story")
	fmt.Println("  2 - Load a saved story")
	fmt.Print("\nSelect an option: ")

	choice := readLine(stdin)

	var ui *ConsoleUI
	switch choice {
	case "1":
		ui = startNewGame(api, cfg, stdin)
	case "2":
		ui = loadSavedGame(api, cfg, stdin)
	default:
		fmt.Fprintln(os.Stderr, "Invalid selection")
		os.Exit(1)
	}

	p := tea.NewProgram(ui, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func startNewGame(api *apiClient, cfg *ConsoleConfig, stdin *bufio.Reader) *ConsoleUI {
	seed, err := api.randomSetup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to fetch a random setup: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nA story about %s, set in %s, featuring %s.\n", seed.Theme, seed.Timeframe, seed.Details)
	fmt.Print("Press enter to accept, or type your own theme: ")

	if theme := readLine(stdin); theme != "" {
		seed.Theme = theme
		fmt.Print("Timeframe: ")
		seed.Timeframe = readLine(stdin)
		fmt.Print("Details to include: ")
		seed.Details = readLine(stdin)
	}

	session, err := api.createSession()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create game: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nYour save key is %s - press ctrl+s in game to copy it.\n", session.SaveKey)
	fmt.Println("Generating your story...")

	return NewConsoleUI(cfg, api, session.GameID, session.SaveKey, *seed)
}

func loadSavedGame(api *apiClient, cfg *ConsoleConfig, stdin *bufio.Reader) *ConsoleUI {
	fmt.Print("Save key: ")
	saveKey := readLine(stdin)

	g, err := api.loadGame(saveKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load game: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nLoading %q, %d turns in...\n", g.Title, g.Turns)
	return NewResumedConsoleUI(cfg, api, g.ID, saveKey, g.Title, g.Turns)
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
