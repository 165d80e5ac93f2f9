/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service/keys for OS keyring.
const (
	keyringService = "LiveCanvas"
	SecretOpenAI   = "openai_api_key"
	SecretFal      = "fal_key"
	SecretGemini   = "gemini_api_key"
)

// ErrUnknownSecret is returned by SetSecret/DeleteSecret for names outside the known set.
var ErrUnknownSecret = errors.New("unknown secret")

// TokenStore abstracts keyring, so we can stub in tests.
type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

var tokenStore TokenStore = osKeyring{}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

var secretEnv = map[string]string{
	SecretOpenAI: EnvOpenAIKey,
	SecretFal:    EnvFalKey,
	SecretGemini: EnvGeminiKey,
}

// loadSecrets resolves each secret from its env var first, then from the keyring.
// A missing keyring (headless CI, no DBus) just leaves the secret empty.
func loadSecrets() Secrets {
	return Secrets{
		OpenAIKey: lookupSecret(SecretOpenAI),
		FalKey:    lookupSecret(SecretFal),
		GeminiKey: lookupSecret(SecretGemini),
	}
}

func lookupSecret(name string) string {
	if v := strings.TrimSpace(os.Getenv(secretEnv[name])); v != "" {
		return v
	}
	v, err := tokenStore.Get(keyringService, name)
	if err != nil {
		return ""
	}
	return v
}

// SetSecret stores a provider secret in the OS keychain.
func SetSecret(name, value string) error {
	if _, ok := secretEnv[name]; !ok {
		return ErrUnknownSecret
	}
	return tokenStore.Set(keyringService, name, value)
}

// DeleteSecret removes a provider secret from the OS keychain. Missing entries are not an error.
func DeleteSecret(name string) error {
	if _, ok := secretEnv[name]; !ok {
		return ErrUnknownSecret
	}
	if err := tokenStore.Delete(keyringService, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// Has reports which secrets are present without exposing them.
func (s Secrets) Has() map[string]bool {
	return map[string]bool{
		SecretOpenAI: s.OpenAIKey != "",
		SecretFal:    s.FalKey != "",
		SecretGemini: s.GeminiKey != "",
	}
}
