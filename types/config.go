package types

// Names of the execution configurations a test is probed under.
const (
	ConfigTieredOn  = "tiered-on"
	ConfigMinOpts   = "minopts"
	ConfigTieredOff = "tiered-off"
)

// Environment variables toggling the JIT strategies.
const (
	EnvMinOpts           = "COMPlus_JitMinOpts"
	EnvTieredCompilation = "COMPlus_TieredCompilation"
	EnvJitOrder          = "COMPlus_JitOrder"
	EnvCoreRoot          = "CORE_ROOT"
)

// Configurations maps a configuration name to the overlay that selects it.
type Configurations map[string]Overlay

// DefaultConfigurations returns the stock presets: the base environment,
// minimum optimizations, and tiered compilation disabled.
func DefaultConfigurations() Configurations {
	return Configurations{
		ConfigTieredOn:  {},
		ConfigMinOpts:   {EnvMinOpts: "1"},
		ConfigTieredOff: {EnvTieredCompilation: "0"},
	}
}

// Overlay returns the preset for name, or an empty overlay when unknown.
func (c Configurations) Overlay(name string) Overlay {
	if o, ok := c[name]; ok {
		return o.Clone()
	}
	return Overlay{}
}

// With returns a copy of c with the given presets replacing the defaults.
func (c Configurations) With(overrides Configurations) Configurations {
	out := make(Configurations, len(c)+len(overrides))
	for k, v := range c {
		out[k] = v.Clone()
	}
	for k, v := range overrides {
		out[k] = v.Clone()
	}
	return out
}
