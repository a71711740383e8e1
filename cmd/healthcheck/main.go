// Package main is a minimal HTTP probe for the tally server, for use in
// distroless containers where no shell or curl exists. It exits 0 when the
// health endpoint answers HTTP 200 and 1 otherwise, which makes a degraded
// service (dead counter store, still 200) pass while a dead ledger (503)
// fails. Compile with CGO_ENABLED=0 for a fully static binary.
package main

import (
	"net/http"
	"os"
)

const defaultURL = "http://localhost:8080/health"

func main() {
	url := os.Getenv("TALLY_HEALTH_URL")
	if url == "" {
		url = defaultURL
	}

	resp, err := http.Get(url)
	if err != nil {
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
