package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// GatewayConfig holds the API gateway configuration.
type GatewayConfig struct {
	Server ServerConfig
	Logger LoggerConfig

	// Routes maps the {service} segment of /api/v1/{service}/... to a backend base URL.
	Routes map[string]string

	// WebSocketURL is the ws:// base URL that /ws/{client_id} is tunneled to.
	WebSocketURL string

	UpstreamTimeout  time.Duration
	HandshakeTimeout time.Duration
}

// LoadGateway loads the gateway configuration from environment variables.
//
// GATEWAY_ROUTES ("orders=http://order-service:8000,inventory=http://...")
// overrides individual entries of the default table built from the
// per-service variables.
func LoadGateway() (*GatewayConfig, error) {
	orderService := getEnv("ORDER_SERVICE", "http://order-service:8000")
	inventoryService := getEnv("INVENTORY_SERVICE", "http://inventory-service:8000")

	routes := map[string]string{
		"auth":      getEnv("AUTH_SERVICE", "http://auth-service:8000"),
		"inventory": inventoryService,
		"suppliers": inventoryService,
		"orders":    orderService,
		"analytics": getEnv("ANALYTICS_SERVICE", "http://analytics-service:8000"),
		"ai":        getEnv("AI_SERVICE", "http://ai-service:8000"),
	}

	overrides, err := parseRoutes(getEnv("GATEWAY_ROUTES", ""))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	for service, base := range overrides {
		routes[service] = base
	}

	cfg := &GatewayConfig{
		Server:           loadServer(),
		Logger:           loadLogger(),
		Routes:           routes,
		WebSocketURL:     getEnv("WEBSOCKET_SERVICE", httpToWS(orderService)),
		UpstreamTimeout:  getEnvAsDuration("GATEWAY_UPSTREAM_TIMEOUT", 60*time.Second),
		HandshakeTimeout: getEnvAsDuration("GATEWAY_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the gateway configuration.
func (c *GatewayConfig) Validate() error {
	if err := c.Server.validate(); err != nil {
		return err
	}

	if err := c.Logger.validate(); err != nil {
		return err
	}

	if len(c.Routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}

	for service, base := range c.Routes {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL for service %s: %q", service, base)
		}
	}

	u, err := url.Parse(c.WebSocketURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("invalid websocket URL: %q (must be ws:// or wss://)", c.WebSocketURL)
	}

	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}

	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("websocket handshake timeout must be positive")
	}

	return nil
}

// parseRoutes parses "service=baseURL" pairs separated by commas.
func parseRoutes(raw string) (map[string]string, error) {
	routes := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return routes, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		service, base, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || service == "" || base == "" {
			return nil, fmt.Errorf("invalid route entry: %q (expected service=url)", pair)
		}
		routes[strings.TrimSpace(service)] = strings.TrimRight(strings.TrimSpace(base), "/")
	}

	return routes, nil
}

// httpToWS rewrites an http(s) base URL to its ws(s) equivalent.
func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
