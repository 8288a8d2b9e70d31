// internal/appconfig/schema.go
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema describes the accepted shape of config.json.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "provider": {"type": "string", "enum": ["ollama", "openai"]},
    "host": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "url": {"type": "string"},
        "model": {"type": "string"}
      }
    },
    "apiKey": {"type": "string"},
    "systemPrompt": {"type": "string"},
    "maxTokens": {"type": "integer", "minimum": 1},
    "parameters": {"type": "object"},
    "maxLength": {"type": "integer", "minimum": 1},
    "fencePolicy": {"type": "string", "enum": ["", "reopen", "separate"]},
    "errorReply": {"type": "string"},
    "botId": {"type": "string"},
    "history": {
      "type": "object",
      "properties": {
        "backend": {"type": "string", "enum": ["memory", "redis"]},
        "keep": {"type": "integer", "minimum": 1},
        "trimAt": {"type": "integer", "minimum": 1},
        "redisAddr": {"type": "string"},
        "redisDb": {"type": "integer", "minimum": 0},
        "redisPrefix": {"type": "string"},
        "ttl": {"type": "integer", "minimum": 0}
      }
    },
    "discord": {
      "type": "object",
      "properties": {
        "webhookURL": {"type": "string"},
        "username": {"type": "string"}
      }
    },
    "server": {
      "type": "object",
      "properties": {
        "addr": {"type": "string"},
        "maxBodyBytes": {"type": "integer", "minimum": 1}
      }
    },
    "debug": {"type": "boolean"},
    "metrics": {"type": "boolean"},
    "timeout": {"type": "integer", "minimum": 0},
    "logFile": {"type": "string"}
  }
}`

// ErrInvalidConfig wraps schema violations.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateDocument checks a raw config.json document against the schema.
func ValidateDocument(data []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(configSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if result.Valid() {
		return nil
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(details, "; "))
}

// ValidateFile validates the document at path. A missing file is not an error.
func ValidateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return ValidateDocument(data)
}
