package mockserver

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/modbus-toolkit/umdt/client"
	"github.com/modbus-toolkit/umdt/internal/umdterr"
)

// fileConfig is the on-disk YAML shape for a mock server's initial state,
// grounded on the original implementation's MockServerConfig/load_config
// (original_source/umdt/mock_server/config.py), adapted to Go's yaml.v3
// unmarshalling instead of a hand-rolled dict walk.
type fileConfig struct {
	UnitID     uint8                 `yaml:"unit_id"`
	Groups     []groupConfig         `yaml:"groups"`
	Rules      map[string]ruleConfig `yaml:"rules"`
	LatencyMS  int                   `yaml:"latency_ms"`
	Faults     faultConfig           `yaml:"faults"`
	RandomSeed int64                 `yaml:"random_seed"`
}

type groupConfig struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Start       uint16 `yaml:"start"`
	Length      uint16 `yaml:"length"`
	Writable    bool   `yaml:"writable"`
	Description string `yaml:"description"`
}

type ruleConfig struct {
	Mode          string `yaml:"mode"`
	ForcedValue   uint16 `yaml:"forced_value"`
	ExceptionCode uint8  `yaml:"exception_code"`
}

type faultConfig struct {
	LatencyMS        int     `yaml:"latency_ms"`
	LatencyJitterPct float64 `yaml:"latency_jitter_pct"`
	DropRate         float64 `yaml:"drop_rate"`
	BitFlipRate      float64 `yaml:"bit_flip_rate"`
	ForcedException  *uint8  `yaml:"forced_exception"`
}

// LoadConfig parses a YAML config file and applies it to the device: groups
// are added (additively — call on an empty Device to fully replace state),
// rules are installed, and the fault profile is swapped in (spec §4.5
// "State API" load_config).
func (d *Device) LoadConfig(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return umdterr.Config(path, err.Error())
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return umdterr.Config(path, err.Error())
	}

	for _, g := range cfg.Groups {
		dt, err := parseDataType(g.Type)
		if err != nil {
			return umdterr.Config(path, err.Error())
		}
		d.AddGroup(Group{
			Name:        g.Name,
			DataType:    dt,
			Start:       g.Start,
			Length:      g.Length,
			Writable:    g.Writable,
			Description: g.Description,
		})
	}

	for addrKey, rc := range cfg.Rules {
		addr, dt, err := parseRuleKey(addrKey)
		if err != nil {
			return umdterr.Config(path, err.Error())
		}
		d.AddRule(dt, addr, Rule{
			Mode:          parseResponseMode(rc.Mode),
			ForcedValue:   rc.ForcedValue,
			ExceptionCode: rc.ExceptionCode,
		})
	}

	d.UpdateFaults(FaultProfile{
		LatencyMS:        cfg.Faults.LatencyMS,
		LatencyJitterPct: cfg.Faults.LatencyJitterPct,
		DropRate:         cfg.Faults.DropRate,
		BitFlipRate:      cfg.Faults.BitFlipRate,
		ForcedException:  cfg.Faults.ForcedException,
		RandomSeed:       cfg.RandomSeed,
	})

	return nil
}

func parseDataType(s string) (client.DataType, error) {
	switch s {
	case "coil":
		return client.DataTypeCoil, nil
	case "discrete_input":
		return client.DataTypeDiscreteInput, nil
	case "holding", "holding_register", "":
		return client.DataTypeHoldingRegister, nil
	case "input", "input_register":
		return client.DataTypeInputRegister, nil
	default:
		return "", umdterr.InvalidArgument("mockserver: unknown data type %q", s)
	}
}

// parseRuleKey parses a "<type>:<address>" rule key, e.g. "holding:100".
// A bare address defaults to holding_register, the most common target.
func parseRuleKey(key string) (address uint16, dataType client.DataType, err error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) == 1 {
		addr, convErr := strconv.ParseUint(parts[0], 10, 16)
		if convErr != nil {
			return 0, "", umdterr.InvalidArgument("mockserver: bad rule key %q", key)
		}
		return uint16(addr), client.DataTypeHoldingRegister, nil
	}

	dt, err := parseDataType(parts[0])
	if err != nil {
		return 0, "", err
	}
	addr, convErr := strconv.ParseUint(parts[1], 10, 16)
	if convErr != nil {
		return 0, "", umdterr.InvalidArgument("mockserver: bad rule key %q", key)
	}
	return uint16(addr), dt, nil
}

func parseResponseMode(s string) ResponseMode {
	switch s {
	case "exception":
		return ModeException
	case "ignore-write", "ignore_write":
		return ModeIgnoreWrite
	case "frozen-value", "frozen_value":
		return ModeFrozenValue
	default:
		return ModeNormal
	}
}
