package sources

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/cactus/go-statsd-client/statsd"
)

type StatsdClient struct {
	Client *statsd.Statter
}

var statsdInstance *StatsdClient
var statsdOnce sync.Once

// GetStatsdInstance returns the process-wide metrics client. Without a
// reachable statsd host every call is a no-op, so callers never guard.
func GetStatsdInstance() *StatsdClient {
	statsdOnce.Do(func() {
		statsdInstance = &StatsdClient{}
		statsdInstance.init()
	})
	return statsdInstance
}

func (sd *StatsdClient) init() {
	host := os.Getenv("STATSD_HOST")
	if host == "" {
		log.Printf("Warning. Hostname for statsd is empty. Metrics are disabled.")
		return
	}
	port := os.Getenv("STATSD_PORT")
	if port == "" {
		port = "8125"
	}

	log.Printf("Statsd connecting to %s:%s...", host, port)

	config := &statsd.ClientConfig{
		Address: fmt.Sprintf("%s:%s", host, port),
		Prefix:  "resource_pool",
	}

	client, err := statsd.NewClientWithConfig(config)
	if err != nil {
		log.Println("Error on Statsd init:" + err.Error())
		return
	}

	sd.Client = &client

	log.Println("Statsd init successful")
}

func (sd *StatsdClient) Inc(statName string) {
	if sd.Client != nil {
		err := (*sd.Client).Inc(statName, 1, 1.0)
		if err != nil {
			log.Println("Error on Statsd Inc:" + err.Error())
		}
	}
}

func (sd *StatsdClient) Timing(statName string, value int64) {
	if sd.Client != nil {
		err := (*sd.Client).Timing(statName, value, 1.0)
		if err != nil {
			log.Println("Error on Statsd Timing:" + err.Error())
		}
	}
}

func (sd *StatsdClient) Gauge(statName string, value int64) {
	if sd.Client != nil {
		err := (*sd.Client).Gauge(statName, value, 1.0)
		if err != nil {
			log.Println("Error on Statsd Gauge:" + err.Error())
		}
	}
}
