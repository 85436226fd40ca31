package loggly_client

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/segmentio/go-loggly"
)

type LogglyClient struct {
	Client *loggly.Client
}

var instance *LogglyClient
var once sync.Once

// GetInstance returns the process-wide logger. Messages always go to
// stdout; they are mirrored to loggly only when LOGGLY_TOKEN is set.
func GetInstance() *LogglyClient {
	once.Do(func() {
		instance = &LogglyClient{}
		instance.init()
	})
	return instance
}

func (lc *LogglyClient) init() {
	token := os.Getenv("LOGGLY_TOKEN")
	if token == "" {
		return
	}

	environment := os.Getenv("ENVIRONMENT")

	lc.Client = loggly.New(token, "resourcepool-service", environment)
	log.Println("Loggly client init successful")
}

func (lc *LogglyClient) Info(a ...interface{}) {
	msg := fmt.Sprint(a...)
	log.Println(msg)
	lc.send(msg)
}

func (lc *LogglyClient) Infof(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	log.Println(msg)
	lc.send(msg)
}

func (lc *LogglyClient) Fatal(a ...interface{}) {
	msg := fmt.Sprint(a...)
	lc.send(msg)
	log.Fatal(msg)
}

func (lc *LogglyClient) send(msg string) {
	if lc.Client == nil {
		return
	}
	if err := lc.Client.Info(msg); err != nil {
		log.Println("Loggly send error:", err)
		return
	}
	lc.Client.Flush()
}
