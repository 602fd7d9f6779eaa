package config

import (
	"log"
	"os"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

var (
	weaviateClient *weaviate.Client
)

// GetWeaviate returns the similarity-index client, or nil when Weaviate is not
// configured. Callers must degrade to the brute-force DB scan when nil.
func GetWeaviate() *weaviate.Client {
	return weaviateClient
}

// ConnectWeaviate initializes the Weaviate client from env. Non-blocking:
// WEAVIATE_URL unset leaves the client nil and the engine falls back to
// exact in-database similarity.
func ConnectWeaviate() {
	url := strings.TrimSpace(os.Getenv("WEAVIATE_URL"))
	if url == "" {
		log.Printf("WEAVIATE_URL not set; similarity index falls back to exact DB scan")
		return
	}

	cfg := weaviate.Config{
		Host:   url,
		Scheme: "http",
	}
	if strings.HasPrefix(url, "https://") {
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		cfg.Host = strings.TrimPrefix(url, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		log.Printf("failed to init weaviate client (host=%s): %v; falling back to exact DB scan", cfg.Host, err)
		return
	}
	weaviateClient = client
	log.Printf("weaviate client ready (host=%s)", cfg.Host)
}
