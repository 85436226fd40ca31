package helpers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"
)

// shared client for the small JSON exchanges with sibling services
// (alertmanager and friends); probe traffic has its own transports
var httpClient = &http.Client{Timeout: 15 * time.Second}

// MakeGetRequest GETs baseURL/apiMethod with params as a query string
// and decodes the JSON response.
func MakeGetRequest(baseURL string, apiMethod string, params map[string]string) (interface{}, error) {
	target := baseURL + "/" + apiMethod
	if len(params) > 0 {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		target = target + "?" + query.Encode()
	}

	resp, err := httpClient.Get(target)
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// MakePostRequest POSTs data as JSON to baseURL/apiMethod and decodes
// the JSON response.
func MakePostRequest(baseURL string, apiMethod string, data interface{}) (interface{}, error) {
	target := baseURL + "/" + apiMethod
	jsonStr, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Post(target, "application/json", bytes.NewBuffer(jsonStr))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (interface{}, error) {
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request returned %d", resp.StatusCode)
	}

	var response interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, err
	}
	return response, nil
}
