// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package plugin

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

type PluginType int

const (
	PluginTypeMetadata PluginType = 1
	PluginTypeBlob     PluginType = 2
)

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeMetadata:
		return "metadata"
	case PluginTypeBlob:
		return "blob"
	default:
		return ""
	}
}

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = 1
	PluginOptionTypeBool   PluginOptionType = 2
	PluginOptionTypeInt    PluginOptionType = 3
	PluginOptionTypeUint   PluginOptionType = 4
)

// PluginOption describes a single configurable value of a plugin. Dest must be
// a pointer of the type matching Type (*string, *bool, *int or *uint64).
type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	// CustomEnvVar is an additional environment variable consulted when the
	// prefixed one is not set
	CustomEnvVar string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func() Plugin
	Name               string
	Description        string
	Options            []PluginOption
	Type               PluginType
}

var (
	pluginEntries  []PluginEntry
	cmdlineFlags   *pflag.FlagSet
	cmdlineFlagsMu sync.Mutex
)

// Register adds a plugin to the registry. It is meant to be called from the
// init() function of the plugin package.
func Register(pluginEntry PluginEntry) {
	pluginEntries = append(pluginEntries, pluginEntry)
}

// GetPlugins returns the registered plugins of the given type
func GetPlugins(pluginType PluginType) []PluginEntry {
	ret := []PluginEntry{}
	for _, plugin := range pluginEntries {
		if plugin.Type == pluginType {
			ret = append(ret, plugin)
		}
	}
	return ret
}

// GetPlugin returns a new instance of the named plugin, or nil if no such
// plugin is registered
func GetPlugin(pluginType PluginType, pluginName string) Plugin {
	for _, plugin := range pluginEntries {
		if plugin.Type != pluginType || plugin.Name != pluginName {
			continue
		}
		if plugin.NewFromOptionsFunc == nil {
			return nil
		}
		return plugin.NewFromOptionsFunc()
	}
	return nil
}

func optionFlagName(
	pluginType PluginType,
	pluginName string,
	optionName string,
) string {
	return fmt.Sprintf(
		"%s-%s-%s",
		PluginTypeName(pluginType),
		pluginName,
		optionName,
	)
}

// PopulateCmdlineOptions adds a flag for every registered plugin option to the
// provided FlagSet. Flags write straight into the option destinations.
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	cmdlineFlagsMu.Lock()
	cmdlineFlags = fs
	cmdlineFlagsMu.Unlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			flagName := optionFlagName(p.Type, p.Name, opt.Name)
			if err := addOptionFlag(fs, flagName, opt); err != nil {
				return fmt.Errorf(
					"%s plugin '%s': %w",
					PluginTypeName(p.Type),
					p.Name,
					err,
				)
			}
		}
	}
	return nil
}

func addOptionFlag(fs *pflag.FlagSet, flagName string, opt PluginOption) error {
	switch opt.Type {
	case PluginOptionTypeString:
		dest, ok := opt.Dest.(*string)
		if !ok || dest == nil {
			return fmt.Errorf("invalid destination for option %s", opt.Name)
		}
		def, _ := opt.DefaultValue.(string)
		fs.StringVar(dest, flagName, def, opt.Description)
	case PluginOptionTypeBool:
		dest, ok := opt.Dest.(*bool)
		if !ok || dest == nil {
			return fmt.Errorf("invalid destination for option %s", opt.Name)
		}
		def, _ := opt.DefaultValue.(bool)
		fs.BoolVar(dest, flagName, def, opt.Description)
	case PluginOptionTypeInt:
		dest, ok := opt.Dest.(*int)
		if !ok || dest == nil {
			return fmt.Errorf("invalid destination for option %s", opt.Name)
		}
		def, _ := opt.DefaultValue.(int)
		fs.IntVar(dest, flagName, def, opt.Description)
	case PluginOptionTypeUint:
		dest, ok := opt.Dest.(*uint64)
		if !ok || dest == nil {
			return fmt.Errorf("invalid destination for option %s", opt.Name)
		}
		def, _ := opt.DefaultValue.(uint64)
		fs.Uint64Var(dest, flagName, def, opt.Description)
	default:
		return fmt.Errorf(
			"unknown plugin option type %d for option %s",
			opt.Type,
			opt.Name,
		)
	}
	return nil
}

// flagChanged reports whether the option was explicitly set on the command
// line, in which case config file and environment values must not override it
func flagChanged(flagName string) bool {
	cmdlineFlagsMu.Lock()
	defer cmdlineFlagsMu.Unlock()
	if cmdlineFlags == nil {
		return false
	}
	f := cmdlineFlags.Lookup(flagName)
	return f != nil && f.Changed
}

// ProcessConfig applies plugin options from a config file section. The map is
// keyed by plugin type name, then plugin name, then option name.
func ProcessConfig(pluginConfig map[string]map[string]map[string]any) error {
	for _, p := range pluginEntries {
		typeConfig, ok := pluginConfig[PluginTypeName(p.Type)]
		if !ok {
			continue
		}
		pluginOpts, ok := typeConfig[p.Name]
		if !ok {
			continue
		}
		for _, opt := range p.Options {
			value, ok := pluginOpts[opt.Name]
			if !ok {
				continue
			}
			if flagChanged(optionFlagName(p.Type, p.Name, opt.Name)) {
				continue
			}
			if err := setOptionValue(opt, value); err != nil {
				return fmt.Errorf(
					"%s plugin '%s': %w",
					PluginTypeName(p.Type),
					p.Name,
					err,
				)
			}
		}
	}
	return nil
}

// ProcessEnvVars applies plugin options from environment variables named
// <PREFIX>_DATABASE_<TYPE>_<PLUGIN>_<OPTION>, with dashes replaced by
// underscores. An option's CustomEnvVar is used as a fallback.
func ProcessEnvVars(prefix string) error {
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			envName := strings.ToUpper(
				strings.ReplaceAll(
					fmt.Sprintf(
						"%s_database_%s_%s_%s",
						prefix,
						PluginTypeName(p.Type),
						p.Name,
						opt.Name,
					),
					"-",
					"_",
				),
			)
			value, ok := os.LookupEnv(envName)
			if !ok && opt.CustomEnvVar != "" {
				envName = opt.CustomEnvVar
				value, ok = os.LookupEnv(envName)
			}
			if !ok {
				continue
			}
			if flagChanged(optionFlagName(p.Type, p.Name, opt.Name)) {
				continue
			}
			if err := setOptionValue(opt, value); err != nil {
				return fmt.Errorf("%s: %w", envName, err)
			}
		}
	}
	return nil
}
