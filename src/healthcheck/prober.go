package healthcheck

import (
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/helpers"
	"gitlab.com/crypto_project/core/resourcepool_service/src/resource"
)

const DefaultProbeTimeout = 10 * time.Second

// Prober is the injected synthetic-check capability. The engine has no
// idea what a probe actually does; adapters decide (fetch an IP check
// page through a proxy, load a neutral page with an identity, ...).
type Prober interface {
	Probe(r *resource.Resource) (ok bool, latencyMs int64, err error)
}

type ipCheckResponse struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	CC      string `json:"cc"`
}

// HTTPProber fetches a lightweight endpoint through the resource. A
// resource carrying a `url` attribute is treated as an outbound proxy
// endpoint; anything else is probed over the default transport. One
// http.Client per resource, reused for the service lifespan.
type HTTPProber struct {
	ProbeURL string
	Timeout  time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

func NewHTTPProber() *HTTPProber {
	probeURL := os.Getenv("PROBE_URL")
	if probeURL == "" {
		probeURL = "https://api.myip.com"
	}
	return &HTTPProber{
		ProbeURL: probeURL,
		Timeout:  DefaultProbeTimeout,
		clients:  map[string]*http.Client{},
	}
}

func (hp *HTTPProber) Probe(r *resource.Resource) (bool, int64, error) {
	client, err := hp.clientFor(r)
	if err != nil {
		return false, 0, err
	}

	start := time.Now()
	resp, err := client.Get(hp.ProbeURL)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return false, latency, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return false, latency, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, latency, nil
	}

	// Best effort: the default probe endpoint reports the observed
	// exit IP and country, worth keeping on the resource for filters.
	check := ipCheckResponse{}
	if jsonErr := json.Unmarshal(body, &check); jsonErr == nil && check.IP != "" {
		r.SetAttr("exit_ip", check.IP)
		if check.Country != "" {
			r.SetAttr("country", check.Country)
		}
	}

	return true, latency, nil
}

func (hp *HTTPProber) clientFor(r *resource.Resource) (*http.Client, error) {
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if client, exists := hp.clients[r.ID]; exists {
		return client, nil
	}

	transport := &http.Transport{
		// options for establishing a connection
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,

		MaxIdleConns:          200,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxConnsPerHost: 3,
	}

	if endpoint := r.Attr("url"); endpoint != "" {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			loggly_client.GetInstance().Infof("Resource %s endpoint parse error (%s): %s", r.ID, helpers.FindIP(endpoint), err.Error())
			return nil, err
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	timeout := hp.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	client := &http.Client{
		Transport: transport,
		// total probe round-trip budget
		Timeout: timeout,
	}
	hp.clients[r.ID] = client
	return client, nil
}

// Forget drops the cached client for a removed resource.
func (hp *HTTPProber) Forget(resourceID string) {
	hp.mu.Lock()
	delete(hp.clients, resourceID)
	hp.mu.Unlock()
}
