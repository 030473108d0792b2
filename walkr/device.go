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

package walkr

import (
	"net/http"
	"net/url"
	"strings"
)

const (
	DefaultClientVersion = "7.2.2.4"
	DefaultIOSVersion    = "17.4.1"
	DefaultDeviceModel   = "iPhone13,2"
	DefaultCountryCode   = "RU"
	DefaultLocale        = "en"
	DefaultTimezone      = "2"
)

// Device describes the phone the bot pretends to be. Every request carries
// it both as headers and as request parameters.
type Device struct {
	ClientVersion string
	IOSVersion    string
	Model         string
	CountryCode   string
	Locale        string
	Timezone      string
}

// DefaultDevice returns the device profile used when none is configured
func DefaultDevice() Device {
	return Device{
		ClientVersion: DefaultClientVersion,
		IOSVersion:    DefaultIOSVersion,
		Model:         DefaultDeviceModel,
		CountryCode:   DefaultCountryCode,
		Locale:        DefaultLocale,
		Timezone:      DefaultTimezone,
	}
}

// UserAgent builds the header value the game client sends. Only the first
// three parts of the client version appear in it.
func (d Device) UserAgent() string {
	version := d.ClientVersion
	if parts := strings.Split(version, "."); len(parts) > 3 {
		version = strings.Join(parts[:3], ".")
	}
	return "Walkr/" + version + " (iPhone; iOS " + d.IOSVersion + "; Scale/3.00)"
}

// Params returns the device parameters in the form the API expects
func (d Device) Params() map[string]string {
	return map[string]string{
		"locale":         d.Locale,
		"client_version": d.ClientVersion,
		"platform":       "ios",
		"timezone":       d.Timezone,
		"os_version":     "iOS " + d.IOSVersion,
		"country_code":   d.CountryCode,
		"device_model":   d.Model,
	}
}

func (d Device) query(extra map[string]string) url.Values {
	values := url.Values{}
	for k, v := range d.Params() {
		values.Set(k, v)
	}
	for k, v := range extra {
		values.Set(k, v)
	}
	return values
}

func (d Device) setHeaders(h http.Header, token string) {
	h.Set("Accept", "*/*")
	h.Set("User-Agent", d.UserAgent())
	h.Set("Accept-Language", "en-US;q=1, ru-RU;q=0.9")
	h.Set("Authorization", "Bearer "+token)
}
