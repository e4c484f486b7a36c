package manifest

// Schema is the JSON Schema every plugin manifest must satisfy
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "pluginId", "version", "description", "author", "main"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1,
      "description": "Human-readable plugin name"
    },
    "pluginId": {
      "type": "string",
      "minLength": 1,
      "description": "Stable plugin identifier"
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semantic version"
    },
    "description": {
      "type": "string",
      "minLength": 1
    },
    "author": {
      "type": "string",
      "minLength": 1
    },
    "main": {
      "type": "string",
      "minLength": 1,
      "description": "Entry module path relative to the plugin directory"
    },
    "extensionPoints": {
      "type": "object",
      "properties": {
        "graphql": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "type", "file"],
            "properties": {
              "name": { "type": "string", "minLength": 1 },
              "type": { "type": "string", "enum": ["query", "mutation", "subscription", "type"] },
              "resolver": { "type": "string" },
              "file": { "type": "string", "minLength": 1 },
              "returns": { "type": "string" },
              "description": { "type": "string" }
            }
          }
        },
        "database": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["name", "type", "file"],
            "properties": {
              "name": { "type": "string", "minLength": 1 },
              "type": { "type": "string", "enum": ["table", "enum"] },
              "file": { "type": "string", "minLength": 1 }
            }
          }
        },
        "hooks": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type", "event", "handler", "file"],
            "properties": {
              "type": { "type": "string", "enum": ["pre", "post"] },
              "event": { "type": "string", "minLength": 1 },
              "handler": { "type": "string", "minLength": 1 },
              "file": { "type": "string", "minLength": 1 }
            }
          }
        }
      }
    }
  }
}`
