package plugin

// DescriptorSchema is the JSON Schema used for structural validation of
// plugin descriptors
const DescriptorSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "type"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9][a-z0-9-]*$",
      "description": "Unique plugin identifier"
    },
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable plugin name"
    },
    "version": {
      "type": "string",
      "pattern": "^\\d+\\.\\d+\\.\\d+(-[0-9A-Za-z.-]+)?$",
      "description": "Semver version"
    },
    "type": {
      "type": "string",
      "enum": [
        "server",
        "client",
        "universal",
        "adapter",
        "middleware",
        "auth-provider",
        "database",
        "ui-component",
        "extension"
      ]
    },
    "priority": {
      "type": "string",
      "enum": ["lowest", "low", "normal", "high", "highest"]
    },
    "description": {
      "type": "string"
    },
    "author": {
      "type": "string"
    },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    },
    "categories": {
      "type": "array",
      "items": { "type": "string" }
    },
    "dependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {
            "type": "string",
            "minLength": 1
          },
          "version": {
            "type": "string",
            "description": "Semver constraint (e.g. ^1.0.0)"
          }
        }
      }
    },
    "peerDependencies": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {
            "type": "string",
            "minLength": 1
          },
          "version": {
            "type": "string"
          }
        }
      }
    },
    "hooks": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "middleware": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": { "type": "string", "minLength": 1 },
          "path": { "type": "string" },
          "methods": {
            "type": "array",
            "items": { "type": "string" }
          },
          "priority": { "type": "integer" }
        }
      }
    },
    "routes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["method", "path"],
        "properties": {
          "method": { "type": "string", "minLength": 1 },
          "path": { "type": "string", "minLength": 1 }
        }
      }
    }
  }
}`
