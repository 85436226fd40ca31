package sources

import (
	"os"
	"time"

	loggly_client "gitlab.com/crypto_project/core/resourcepool_service/src/sources/loggly"

	"gitlab.com/crypto_project/core/resourcepool_service/src/helpers"
)

// Prometheus AlertManager APIv2 methods:
// https://petstore.swagger.io/?url=https://raw.githubusercontent.com/prometheus/alertmanager/master/api/v2/openapi.yaml

var paManager = promAlertManager{}

var serviceName = "resourcepool-service"
var generatorURL = "http://resourcepool-service.resourcepool-service.svc.cluster.local"

type promAlertManager struct {
	Url     string
	ApiPath string
}

// StartsAt and EndsAt date format - 2020-09-16T15:15:56.070Z
type alert struct {
	StartsAt     string            `json:"startsAt"`
	EndsAt       string            `json:"endsAt"`
	Annotations  map[string]string `json:"annotations"`
	Labels       map[string]string `json:"labels"`
	GeneratorURL string            `json:"generatorURL"`
}

func GetPrometheusNotifierInstance() *promAlertManager {
	if paManager.Url == "" {
		paManager.Url = os.Getenv("ALERT_MANAGER")
		if paManager.Url == "" {
			paManager.Url = "http://prom-operator-prometheus-o-alertmanager.infra.svc.cluster.local:9093"
		}

		paManager.ApiPath = "/api/v2"
	}

	return &paManager
}

// Notify fires an alert into Alertmanager. The engine itself never
// alerts; only the schedulers feed this from aggregated pool health.
func (am *promAlertManager) Notify(message string, source string) {

	startDate := time.Now().Format(time.RFC3339)
	endDate := time.Now().Add(5 * time.Minute).Format(time.RFC3339)

	requestParams := []alert{
		{
			StartsAt: startDate,
			EndsAt:   endDate,
			Annotations: map[string]string{
				"message": message,
			},
			Labels: map[string]string{
				"service": serviceName,
				"source":  source,
			},
			GeneratorURL: generatorURL,
		},
	}

	// Alertmanager replies with an empty body on success, so the JSON
	// decode error from the helper is expected and ignored.
	_, _ = helpers.MakePostRequest(am.Url+am.ApiPath, "alerts", requestParams)

	loggly_client.GetInstance().Infof("[Notify] Message sent from %s", source)
}

func (am *promAlertManager) GetStatus() {
	result, err := helpers.MakeGetRequest(am.Url+am.ApiPath, "status", nil)
	if err != nil {
		loggly_client.GetInstance().Infof("Error: %s", err.Error())
	}
	loggly_client.GetInstance().Infof("%v", result)
}
