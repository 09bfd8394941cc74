// Package config loads the server configuration document and builds the
// validated ServerConfig consumed by the server.
//
// Validation failures never abort construction: they accumulate into a
// problem list so the caller can report every issue at once before
// refusing to start.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Document is the pre-parsed configuration document. Recognized keys:
// "listen" ([host|null, port]), "devices" (array of specs), "color"
// (opaque, forwarded to devices) and "verbose" (bool).
type Document map[string]any

// DeviceSpec is one entry of the "devices" array. Its keys are
// interpreted by the device family it matches; only "type" is common.
// A nil spec matches nothing.
type DeviceSpec map[string]any

// Load reads and parses a configuration document. YAML is used for
// .yaml/.yml files, JSON otherwise.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &doc)
	default:
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// ServerConfig is the immutable server configuration. Construct it with
// NewServerConfig and check Problems before use.
type ServerConfig struct {
	// ListenAddr is the resolved OPC listen endpoint. Nil when the
	// "listen" key was missing, malformed or failed to resolve.
	ListenAddr *net.TCPAddr
	// Verbose gates non-essential device lifecycle logging.
	Verbose bool
	// Color is the opaque color-correction spec applied to every matched
	// device. May be nil.
	Color any
	// Devices is the ordered device match list. First match wins.
	Devices []DeviceSpec

	problems []string
}

// NewServerConfig validates doc and builds a ServerConfig. It never
// returns an error: every validation failure is appended to the problem
// list instead, and the caller decides whether a non-empty list is fatal.
func NewServerConfig(doc Document) *ServerConfig {
	cfg := &ServerConfig{}
	cfg.parseListen(doc["listen"])
	cfg.parseDevices(doc["devices"])
	cfg.Color = doc["color"]
	cfg.Verbose, _ = doc["verbose"].(bool)
	return cfg
}

// Problems returns the accumulated validation failures, in the order
// they were detected. An empty result means the configuration is usable.
func (c *ServerConfig) Problems() []string {
	return c.problems
}

func (c *ServerConfig) problemf(format string, args ...any) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *ServerConfig) parseListen(v any) {
	entry, ok := v.([]any)
	if !ok || len(entry) != 2 {
		c.problemf("the required 'listen' configuration key must be a [host, port] list")
		return
	}

	host := ""
	switch h := entry[0].(type) {
	case nil:
		// null host: listen on any interface
	case string:
		host = h
	default:
		c.problemf("hostname in 'listen' must be null (any) or a hostname string")
	}

	port, ok := asPort(entry[1])
	if !ok {
		c.problemf("the 'listen' port must be an integer")
		return
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		c.problemf("failed to resolve hostname %q", host)
		return
	}
	c.ListenAddr = addr
}

func (c *ServerConfig) parseDevices(v any) {
	entries, ok := v.([]any)
	if !ok {
		c.problemf("the required 'devices' configuration key must be an array")
		return
	}
	c.Devices = make([]DeviceSpec, len(entries))
	for i, entry := range entries {
		// Non-map entries stay nil and never match; this is the only
		// validation the device list gets, the rest is up to each family.
		if m, ok := entry.(map[string]any); ok {
			c.Devices[i] = DeviceSpec(m)
		}
	}
}

// asPort coerces JSON (float64) and YAML (int) numbers to a valid port.
func asPort(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return validPort(int(n))
	case int:
		return validPort(n)
	case uint64:
		return validPort(int(n))
	default:
		return 0, false
	}
}

func validPort(n int) (int, bool) {
	if n < 0 || n > 65535 {
		return 0, false
	}
	return n, true
}
