// internal/engine/model/schema.go
package model

import "document-eligibility/internal/common/validation"

// configSchema is the structural shape of an extraction configuration.
// Semantic checks (references, cycles, operators) happen in Prepare.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["extractionStrategy"],
  "properties": {
    "documentMatchingStrategy": {
      "type": "object",
      "properties": {
        "matchBy": {"type": "string"},
        "referenceKeyType": {"type": "string"},
        "metadataFields": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "extractionStrategy": {
      "type": "array",
      "items": {"$ref": "#/definitions/dataSource"}
    },
    "inclusionRules": {"$ref": "#/definitions/rule"},
    "outputMapping": {
      "type": "object",
      "properties": {
        "documentReferenceKey": {"type": "string"},
        "documentMetadata": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "executionRules": {
      "type": "object",
      "properties": {
        "executionMode": {"type": "string"},
        "stopOnError": {"type": "boolean"},
        "errorHandling": {
          "type": "object",
          "properties": {
            "strategy": {"type": "string"},
            "defaultResponse": {"type": "object"}
          }
        },
        "circuitBreaker": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "failureThreshold": {"type": "integer", "minimum": 1},
            "resetTimeoutMs": {"type": "integer", "minimum": 1},
            "halfOpenRequests": {"type": "integer", "minimum": 1}
          }
        }
      }
    }
  },
  "definitions": {
    "dataSource": {
      "type": "object",
      "required": ["id", "endpoint"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "endpoint": {
          "type": "object",
          "required": ["url"],
          "properties": {
            "url": {"type": "string", "minLength": 1},
            "method": {"type": "string"},
            "headers": {"type": "object", "additionalProperties": {"type": "string"}},
            "queryParams": {"type": "object", "additionalProperties": {"type": "string"}},
            "timeout": {"type": "integer", "minimum": 0},
            "retryPolicy": {
              "type": "object",
              "properties": {
                "maxAttempts": {"type": "integer", "minimum": 0},
                "backoffStrategy": {"type": "string"},
                "initialDelayMs": {"type": "integer", "minimum": 0},
                "maxDelayMs": {"type": "integer", "minimum": 0},
                "retryOn": {"type": "array", "items": {"type": "integer"}}
              }
            }
          }
        },
        "cache": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "ttl": {"type": "integer", "minimum": 0},
            "keyPattern": {"type": "string"},
            "invalidateOn": {"type": "array", "items": {"type": "string"}}
          }
        },
        "responseMapping": {
          "type": "object",
          "properties": {
            "extract": {"type": "object", "additionalProperties": {"type": "string"}},
            "transform": {"type": "object", "additionalProperties": {"type": "object", "required": ["type"]}},
            "validate": {"type": "object", "additionalProperties": {"type": "object"}},
            "returnFields": {"type": "array", "items": {"type": "string"}}
          }
        },
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "nextCalls": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["targetDataSource"],
            "properties": {
              "targetDataSource": {"type": "string", "minLength": 1},
              "dependsOn": {"type": "string"},
              "condition": {"type": "object"}
            }
          }
        },
        "errorHandling": {"type": "object"}
      }
    },
    "rule": {
      "type": "object",
      "properties": {
        "ruleType": {"type": "string"},
        "logicOperator": {"type": "string"},
        "eligibilityCriteria": {
          "type": "object",
          "additionalProperties": {"$ref": "#/definitions/criteria"}
        },
        "rules": {"type": "array", "items": {"$ref": "#/definitions/rule"}}
      }
    },
    "criteria": {
      "type": "object",
      "required": ["operator"],
      "properties": {
        "operator": {"type": "string", "minLength": 1},
        "dataType": {"type": "string"},
        "values": {"type": "array"},
        "unit": {"type": "string"},
        "compareField": {"type": "string"}
      }
    }
  }
}`

var documentSchema = validation.MustSchema(configSchema)
