package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sing3demons/instance-identity/pkg/jwks"
)

// Relying-party smoke check: fetches the issuer's JWKS and verifies an identity token.
//
//	go run ./test -issuer http://localhost:8001 -audience openstack -token "$TOKEN"
func main() {
	issuer := flag.String("issuer", "http://localhost:8001", "token issuer")
	audience := flag.String("audience", "openstack", "expected aud claim")
	token := flag.String("token", "", "compact JWS to verify")
	flag.Parse()

	if *token == "" {
		fmt.Fprintln(os.Stderr, "missing -token")
		os.Exit(2)
	}

	set, err := fetchJWKS(strings.TrimRight(*issuer, "/") + "/.well-known/jwks.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch jwks: %v\n", err)
		os.Exit(1)
	}

	claims, err := set.Verify(*token,
		jwt.WithIssuer(*issuer),
		jwt.WithAudience(*audience),
		jwt.WithExpirationRequired())
	if err != nil {
		fmt.Fprintf(os.Stderr, "token rejected: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(claims, "", "  ")
	fmt.Println(string(out))
}

func fetchJWKS(url string) (jwks.JWKS, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return jwks.JWKS{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jwks.JWKS{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var set jwks.JWKS
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return jwks.JWKS{}, err
	}
	return set, nil
}
