package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// wireDevice is the JSON shape returned by the device-configurations API; it
// is decoded then split into the three cache partitions by Protocol/OPCUAMode.
type wireDevice Device

// Loader fetches the device catalog over HTTP and seeds the cache partitions.
// A bare *http.Client doing bearer-authenticated JSON calls, no retry
// framework beyond a small bounded backoff loop.
type Loader struct {
	baseURL   string
	gatewayID string
	tokens    *TokenCache
	client    *http.Client
	cache     *Cache
	ttl       time.Duration
	log       *zap.Logger
}

// NewLoader builds a catalog loader for the given gateway id.
func NewLoader(baseURL, gatewayID string, tokens *TokenCache, cache *Cache, ttl time.Duration, log *zap.Logger) *Loader {
	return &Loader{
		baseURL:   strings.TrimRight(baseURL, "/"),
		gatewayID: gatewayID,
		tokens:    tokens,
		client:    &http.Client{Timeout: 15 * time.Second},
		cache:     cache,
		ttl:       ttl,
		log:       log,
	}
}

type catalogResponse struct {
	Success bool         `json:"success"`
	Data    []wireDevice `json:"data"`
	Error   string       `json:"error"`
}

// Refresh fetches the catalog, making up to 3 attempts in all with a fixed
// 2s pause between them (any error is retried), then partitions devices
// into the cache. A
// persistent failure is returned to the caller, who decides whether that is
// fatal (startup) or merely deferred to the next scheduled refresh.
func (l *Loader) Refresh() error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		devices, err := l.fetchOnce(false)
		if err == nil {
			l.partition(devices)
			return nil
		}
		lastErr = err
		l.log.Warn("catalog fetch attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < 3 {
			time.Sleep(2 * time.Second)
		}
	}
	return fmt.Errorf("catalog refresh failed after 3 attempts: %w", lastErr)
}

func (l *Loader) fetchOnce(forceToken bool) ([]wireDevice, error) {
	token, err := l.tokens.Token(forceToken)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	url := fmt.Sprintf("%s/api/devices/configurations/gateway/%s", l.baseURL, l.gatewayID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && !forceToken {
		return l.fetchOnce(true)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint returned %s", resp.Status)
	}

	var body catalogResponse
	if err := decodeJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if !body.Success {
		return nil, fmt.Errorf("catalog endpoint reported failure: %s", body.Error)
	}

	return body.Data, nil
}

// partition splits devices by protocol/mode into the three named cache
// partitions, each valid for the loader's configured TTL.
func (l *Loader) partition(devices []wireDevice) {
	var modbus, opcuaPoll, opcuaSub []Device

	for _, wd := range devices {
		d := Device(wd)
		switch d.Protocol {
		case ProtocolModbus:
			modbus = append(modbus, d)
		case ProtocolOPCUA:
			switch d.OPCUAMode {
			case OPCUAModePubSub:
				opcuaSub = append(opcuaSub, d)
			default:
				opcuaPoll = append(opcuaPoll, d)
			}
		}
	}

	l.cache.Set(PartitionModbusDevices, modbus, l.ttl)
	l.cache.Set(PartitionOPCUAPollingDevices, opcuaPoll, l.ttl)
	l.cache.Set(PartitionOPCUASubDevices, opcuaSub, l.ttl)
}

// Run refreshes the catalog once immediately, then on every tick until done
// is closed. Failures are logged; the last-good cache entries remain in
// place until their TTL lapses.
func (l *Loader) Run(done <-chan struct{}, tick <-chan time.Time) {
	if err := l.Refresh(); err != nil {
		l.log.Error("initial catalog load failed, starting with empty catalog", zap.Error(err))
	}
	for {
		select {
		case <-done:
			return
		case <-tick:
			if err := l.Refresh(); err != nil {
				l.log.Error("catalog refresh failed, keeping last-good catalog", zap.Error(err))
			}
		}
	}
}

func decodeJSON(resp *http.Response, out interface{}) error {
	dec := json.NewDecoder(resp.Body)
	return dec.Decode(out)
}
