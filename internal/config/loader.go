package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

// LoadFile loads and validates a warden.hcl configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadBytes(path, data)
}

// LoadBytes decodes and validates configuration from bytes.
// The filename is used only for diagnostics.
func LoadBytes(filename string, data []byte) (*Config, error) {
	var cfg Config
	if err := hclsimple.Decode(filename, data, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to path as formatted HCL.
// Generated output loses any hand-written comments; callers that care
// should edit the file directly instead.
func (c *Config) Save(path string) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	body.SetAttributeValue("schema_version", cty.StringVal(c.SchemaVersion))
	body.AppendNewline()

	if c.Environment != nil {
		env := body.AppendNewBlock("environment", nil).Body()
		if c.Environment.Timezone != "" {
			env.SetAttributeValue("timezone", cty.StringVal(c.Environment.Timezone))
		}
		if len(c.Environment.SelfAddresses) > 0 {
			env.SetAttributeValue("self_addresses", stringList(c.Environment.SelfAddresses))
		}
		body.AppendNewline()
	}

	if c.Logging != nil {
		lg := body.AppendNewBlock("logging", nil).Body()
		if c.Logging.Level != "" {
			lg.SetAttributeValue("level", cty.StringVal(c.Logging.Level))
		}
		if c.Logging.JSON {
			lg.SetAttributeValue("json", cty.BoolVal(true))
		}
		body.AppendNewline()
	}

	if c.State != nil && c.State.Path != "" {
		st := body.AppendNewBlock("state", nil).Body()
		st.SetAttributeValue("path", cty.StringVal(c.State.Path))
		body.AppendNewline()
	}

	if c.Metrics != nil && (c.Metrics.Enabled || c.Metrics.Listen != "") {
		m := body.AppendNewBlock("metrics", nil).Body()
		m.SetAttributeValue("enabled", cty.BoolVal(c.Metrics.Enabled))
		if c.Metrics.Listen != "" {
			m.SetAttributeValue("listen", cty.StringVal(c.Metrics.Listen))
		}
		body.AppendNewline()
	}

	for _, tt := range c.TagTypes {
		b := body.AppendNewBlock("tag_type", []string{tt.Name}).Body()
		b.SetAttributeValue("prefix", cty.StringVal(tt.Prefix))
		b.SetAttributeValue("alarm_id_field", cty.StringVal(tt.AlarmIDField))
		body.AppendNewline()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, f.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func stringList(vals []string) cty.Value {
	list := make([]cty.Value, len(vals))
	for i, v := range vals {
		list[i] = cty.StringVal(v)
	}
	return cty.ListVal(list)
}
