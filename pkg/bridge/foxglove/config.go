package foxglove

const SummarySchema = `{
  "type": "object",
  "properties": {
    "session": { "type": "string" },
    "seq": { "type": "integer" },
    "ts": { "type": "string" },
    "elapsed_ms": { "type": "number" },
    "transmit_timestamp": { "type": "number" },
    "packets": { "type": "integer" },
    "discarded": { "type": "integer" },
    "payload_bytes": { "type": "integer" },
    "channels": { "type": "object", "additionalProperties": true }
  },
  "required": ["session", "seq", "packets"]
}`

const LogSchema = `{
  "type": "object",
  "properties": {
    "timestamp": {
      "type": "object",
      "properties": {
        "sec": { "type": "integer" },
        "nsec": { "type": "integer" }
      }
    },
    "level": { "type": "integer" },
    "message": { "type": "string" },
    "name": { "type": "string" },
    "file": { "type": "string" },
    "line": { "type": "integer" }
  }
}`

type Config struct {
	WSAddr         string
	Name           string
	Topic          string
	ChannelID      uint64
	SchemaName     string
	SchemaEncoding string
	Schema         string
	Encoding       string
	GpsTopic       string
	GpsChannelID   uint64
	GpsSchemaName  string
	GpsSchema      string
	SendBuf        int
}

func DefaultConfig() Config {
	return Config{
		WSAddr:         "127.0.0.1:8765",
		Name:           "qstream",
		Topic:          "qstream/summary",
		ChannelID:      1,
		SchemaName:     "qstream.Summary",
		SchemaEncoding: "jsonschema",
		Schema:         SummarySchema,
		Encoding:       "json",
		GpsTopic:       "qstream/gps",
		GpsChannelID:   2,
		GpsSchemaName:  "foxglove.Log",
		GpsSchema:      LogSchema,
		SendBuf:        256,
	}
}

func (cfg *Config) applyDefaults() {
	def := DefaultConfig()
	if cfg.WSAddr == "" {
		cfg.WSAddr = def.WSAddr
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.ChannelID == 0 {
		cfg.ChannelID = def.ChannelID
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = def.SchemaName
	}
	if cfg.SchemaEncoding == "" {
		cfg.SchemaEncoding = def.SchemaEncoding
	}
	if cfg.Schema == "" {
		cfg.Schema = def.Schema
	}
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.GpsTopic == "" {
		cfg.GpsTopic = def.GpsTopic
	}
	if cfg.GpsChannelID == 0 {
		cfg.GpsChannelID = def.GpsChannelID
	}
	if cfg.GpsChannelID == cfg.ChannelID {
		cfg.GpsChannelID = cfg.ChannelID + 1
	}
	if cfg.GpsSchemaName == "" {
		cfg.GpsSchemaName = def.GpsSchemaName
	}
	if cfg.GpsSchema == "" {
		cfg.GpsSchema = def.GpsSchema
	}
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = def.SendBuf
	}
}
