package validate

// Schemas for the JSON agent files. They only constrain the fields
// agentsync writes; everything else in a user's file is left open.

const claudeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "env": {
      "type": "object",
      "additionalProperties": {"type": "string"},
      "properties": {
        "ANTHROPIC_BASE_URL": {"type": "string", "pattern": "^(https?://.+)?$"},
        "ANTHROPIC_AUTH_TOKEN": {"type": "string"},
        "ANTHROPIC_MODEL": {"type": "string"},
        "API_TIMEOUT_MS": {"type": "string", "pattern": "^[0-9]+$"}
      }
    }
  }
}`

const ampSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "amp.url": {"type": "string", "pattern": "^(https?://.+)?$"},
    "amp.apiKey": {"type": "string"},
    "amp.defaultModel": {"type": "string"},
    "amp.agentsync.mode": {"enum": ["local", "remote"]},
    "amp.dangerouslyAllowAll": {"type": "boolean"}
  }
}`

const opencodeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "$schema": {"type": "string"},
    "model": {"type": "string"},
    "small_model": {"type": "string"},
    "provider": {
      "type": "object",
      "additionalProperties": {"type": "object"},
      "properties": {
        "agentsync": {
          "type": "object",
          "required": ["options"],
          "properties": {
            "npm": {"type": "string"},
            "name": {"type": "string"},
            "options": {
              "type": "object",
              "properties": {
                "baseURL": {"type": "string", "pattern": "^(https?://.+)?$"},
                "apiKey": {"type": "string"}
              }
            },
            "models": {
              "type": "object",
              "additionalProperties": {"type": "object"}
            }
          }
        }
      }
    }
  }
}`

const droidSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "custom_models": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "model_display_name": {"type": "string"},
          "model": {"type": "string"},
          "base_url": {"type": "string"},
          "api_key": {"type": "string"},
          "provider": {"type": "string"},
          "max_tokens": {"type": "integer"}
        }
      }
    }
  }
}`
