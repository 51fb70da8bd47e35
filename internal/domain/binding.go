package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// BindingType says whether a binding yields a record collection or a single value.
type BindingType string

const (
	BindingCollection BindingType = "collection"
	BindingValue      BindingType = "value"
)

// BindingSource selects which resolver source backs a binding.
type BindingSource string

const (
	SourceStatic  BindingSource = "static"
	SourceAPI     BindingSource = "api"
	SourceManaged BindingSource = "managed"
)

// Record is one normalized row produced by a binding.
type Record = map[string]any

// BindingDescriptor describes where an element's dynamic content comes from.
// Config is source specific; see StaticConfig, APIConfig and ManagedConfig.
type BindingDescriptor struct {
	Type     BindingType    `json:"type"`
	Source   BindingSource  `json:"source"`
	Config   map[string]any `json:"config"`
	Fallback []Record       `json:"fallback,omitempty"`
	Refresh  string         `json:"refresh,omitempty"` // cron expression
}

// ErrInvalidBinding marks configuration errors: the descriptor is incomplete
// or malformed and no resolution was attempted.
var ErrInvalidBinding = errors.New("invalid binding")

// StaticConfig carries inline data.
type StaticConfig struct {
	Data any `json:"data"`
}

// DataMapping locates the result array inside a response body.
type DataMapping struct {
	ResultPath string `json:"resultPath,omitempty"`
}

// APIConfig configures a remote HTTP endpoint.
type APIConfig struct {
	BaseURL     string            `json:"baseUrl"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Params      map[string]any    `json:"params,omitempty"`
	Body        any               `json:"body,omitempty"`
	DataMapping DataMapping       `json:"dataMapping,omitempty"`
}

// OrderBy is one ordering term of a managed query.
type OrderBy struct {
	Column    string `json:"column"`
	Ascending bool   `json:"ascending"`
}

// ManagedConfig configures a managed-table query. Projection, ordering and
// the row limit are applied by the backend.
type ManagedConfig struct {
	Backend string    `json:"backend,omitempty"`
	Table   string    `json:"table"`
	Columns []string  `json:"columns,omitempty"`
	OrderBy []OrderBy `json:"orderBy,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

func decodeConfig(cfg map[string]any, target any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// StaticConfig decodes and validates the static source config.
func (d BindingDescriptor) StaticConfig() (StaticConfig, error) {
	c := StaticConfig{}
	if d.Config != nil {
		c.Data = d.Config["data"]
	}
	if c.Data == nil {
		return c, fmt.Errorf("%w: static source requires config.data", ErrInvalidBinding)
	}
	if k := reflect.TypeOf(c.Data).Kind(); k != reflect.Slice && k != reflect.Array {
		return c, fmt.Errorf("%w: static config.data must be an array", ErrInvalidBinding)
	}
	return c, nil
}

// APIConfig decodes and validates the api source config.
func (d BindingDescriptor) APIConfig() (APIConfig, error) {
	var c APIConfig
	if err := decodeConfig(d.Config, &c); err != nil {
		return c, fmt.Errorf("%w: api config: %v", ErrInvalidBinding, err)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return c, fmt.Errorf("%w: api source requires config.baseUrl", ErrInvalidBinding)
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return c, fmt.Errorf("%w: api source requires config.endpoint", ErrInvalidBinding)
	}
	if c.Method == "" {
		c.Method = "GET"
	}
	c.Method = strings.ToUpper(c.Method)
	return c, nil
}

// ManagedConfig decodes and validates the managed source config.
func (d BindingDescriptor) ManagedConfig() (ManagedConfig, error) {
	var c ManagedConfig
	if err := decodeConfig(d.Config, &c); err != nil {
		return c, fmt.Errorf("%w: managed config: %v", ErrInvalidBinding, err)
	}
	if strings.TrimSpace(c.Table) == "" {
		return c, fmt.Errorf("%w: managed source requires config.table", ErrInvalidBinding)
	}
	if c.Limit < 0 {
		return c, fmt.Errorf("%w: managed config.limit must not be negative", ErrInvalidBinding)
	}
	return c, nil
}

// Validate checks that exactly one known source is selected and that its
// required fields are present.
func (d BindingDescriptor) Validate() error {
	switch d.Source {
	case SourceStatic:
		_, err := d.StaticConfig()
		return err
	case SourceAPI:
		_, err := d.APIConfig()
		return err
	case SourceManaged:
		_, err := d.ManagedConfig()
		return err
	case "":
		return fmt.Errorf("%w: source is required", ErrInvalidBinding)
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidBinding, d.Source)
	}
}
