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
	"strconv"
)

type Plugin interface {
	Start() error
	Stop() error
}

// ErrorPlugin is a plugin that always returns an error on Start()
type ErrorPlugin struct {
	Err error
}

func (e *ErrorPlugin) Start() error {
	return e.Err
}

func (e *ErrorPlugin) Stop() error {
	return nil
}

// NewErrorPlugin creates a new error plugin that returns the given error on Start()
func NewErrorPlugin(err error) Plugin {
	return &ErrorPlugin{Err: err}
}

// StartPlugin gets a plugin from the registry and starts it
func StartPlugin(pluginType PluginType, pluginName string) (Plugin, error) {
	p := GetPlugin(pluginType, pluginName)
	if p == nil {
		return nil, fmt.Errorf(
			"%s plugin '%s' not found",
			PluginTypeName(pluginType),
			pluginName,
		)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf(
			"failed to start %s plugin '%s': %w",
			PluginTypeName(pluginType),
			pluginName,
			err,
		)
	}
	return p, nil
}

// SetPluginOption sets the value of a named option for a plugin entry. Setting
// an option the plugin does not have is not an error, so callers can set
// options such as data-dir without knowing which backend is selected.
// It must be called before the plugin is instantiated.
func SetPluginOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value any,
) error {
	for i := range pluginEntries {
		p := &pluginEntries[i]
		if p.Type != pluginType || p.Name != pluginName {
			continue
		}
		for _, opt := range p.Options {
			if opt.Name != optionName {
				continue
			}
			if _, isString := value.(string); isString &&
				opt.Type != PluginOptionTypeString {
				return fmt.Errorf(
					"invalid type for option %s: expected %s",
					optionName,
					optionTypeName(opt.Type),
				)
			}
			return setOptionValue(opt, value)
		}
		return nil
	}
	return fmt.Errorf(
		"plugin %s of type %s not found",
		pluginName,
		PluginTypeName(pluginType),
	)
}

func optionTypeName(t PluginOptionType) string {
	switch t {
	case PluginOptionTypeString:
		return "string"
	case PluginOptionTypeBool:
		return "bool"
	case PluginOptionTypeInt:
		return "int"
	case PluginOptionTypeUint:
		return "uint64"
	default:
		return "unknown"
	}
}

// setOptionValue performs a type-checked assignment into the option
// destination. String values are parsed for non-string options, which is how
// environment variables arrive.
func setOptionValue(opt PluginOption, value any) error {
	if opt.Dest == nil {
		return fmt.Errorf("nil destination for option %s", opt.Name)
	}
	switch opt.Type {
	case PluginOptionTypeString:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf(
				"invalid type for option %s: expected string",
				opt.Name,
			)
		}
		dest, ok := opt.Dest.(*string)
		if !ok || dest == nil {
			return fmt.Errorf(
				"invalid destination type for option %s: expected *string",
				opt.Name,
			)
		}
		*dest = v
	case PluginOptionTypeBool:
		var v bool
		switch tv := value.(type) {
		case bool:
			v = tv
		case string:
			parsed, err := strconv.ParseBool(tv)
			if err != nil {
				return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
			}
			v = parsed
		default:
			return fmt.Errorf(
				"invalid type for option %s: expected bool",
				opt.Name,
			)
		}
		dest, ok := opt.Dest.(*bool)
		if !ok || dest == nil {
			return fmt.Errorf(
				"invalid destination type for option %s: expected *bool",
				opt.Name,
			)
		}
		*dest = v
	case PluginOptionTypeInt:
		var v int
		switch tv := value.(type) {
		case int:
			v = tv
		case string:
			parsed, err := strconv.Atoi(tv)
			if err != nil {
				return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
			}
			v = parsed
		default:
			return fmt.Errorf(
				"invalid type for option %s: expected int",
				opt.Name,
			)
		}
		dest, ok := opt.Dest.(*int)
		if !ok || dest == nil {
			return fmt.Errorf(
				"invalid destination type for option %s: expected *int",
				opt.Name,
			)
		}
		*dest = v
	case PluginOptionTypeUint:
		var v uint64
		switch tv := value.(type) {
		case uint64:
			v = tv
		case int:
			if tv < 0 {
				return fmt.Errorf(
					"invalid value for option %s: negative int",
					opt.Name,
				)
			}
			v = uint64(tv)
		case string:
			parsed, err := strconv.ParseUint(tv, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
			}
			v = parsed
		default:
			return fmt.Errorf(
				"invalid type for option %s: expected uint64 or int",
				opt.Name,
			)
		}
		dest, ok := opt.Dest.(*uint64)
		if !ok || dest == nil {
			return fmt.Errorf(
				"invalid destination type for option %s: expected *uint64",
				opt.Name,
			)
		}
		*dest = v
	default:
		return fmt.Errorf(
			"unknown plugin option type %d for option %s",
			opt.Type,
			opt.Name,
		)
	}
	return nil
}
