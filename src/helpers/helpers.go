package helpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DecodeENV reads a base64-encoded JSON document from the named env
// var into out. Used for the RESOURCELIST seed list, the same way the
// proxy list used to ship in deployments.
func DecodeENV(envName string, out interface{}) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%s base64 decode: %s", envName, err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s json decode: %s", envName, err.Error())
	}
	return nil
}

// LoadYAMLFile reads a yaml document into out. Used for POOLS_FILE.
func LoadYAMLFile(path string, out interface{}) error {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(raw, out)
}

// FindIP extracts the bare IPv4 from a resource endpoint so logs never
// carry embedded credentials.
func FindIP(input string) string {
	numBlock := "(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])"
	regexPattern := numBlock + "\\." + numBlock + "\\." + numBlock + "\\." + numBlock
	regEx := regexp.MustCompile(regexPattern)
	return regEx.FindString(input)
}
