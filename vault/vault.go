/*
 * Copyright 2023 Comcast Cable Communications Management, LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/hashicorp/vault/api/auth/approle"
	"go.uber.org/zap"
)

// loginRetryWait is how long RenewToken waits before re-attempting an
// approle login after a failure.
const loginRetryWait = 10 * time.Second

var ErrBadTLSConfig = errors.New("bad TLS configuration")

// Parameters carries everything needed to reach a vault instance and
// authenticate against its approle backend.
type Parameters struct {
	Address         string
	ApproleRoleID   string
	ApproleSecretID string
	CACertBytes     []byte
}

// SecretProperties describes where an agent credential secret lives and
// which fields inside it hold the username and password.
type SecretProperties struct {
	MountPath     string
	Path          string
	SecretName    string
	UserField     string
	PasswordField string
}

// Vault wraps an authenticated client together with the parameters to
// log back in once the current token can no longer be renewed.
type Vault struct {
	mu         sync.RWMutex
	client     *vault.Client
	Parameters Parameters
	isLoggedIn bool
}

// NewVaultAppRoleClient builds a client for the given vault instance.
// The approle login itself happens later, inside RenewToken.
func NewVaultAppRoleClient(ctx context.Context, parameters Parameters) (*Vault, error) {
	config := vault.DefaultConfig()
	config.Address = parameters.Address
	if len(parameters.CACertBytes) > 0 {
		if err := config.ConfigureTLS(&vault.TLSConfig{
			CACertBytes: parameters.CACertBytes,
		}); err != nil {
			return nil, fmt.Errorf("%w - %v", ErrBadTLSConfig, err)
		}
	}

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("unable to build vault client: %w", err)
	}

	return &Vault{
		client:     client,
		Parameters: parameters,
	}, nil
}

// login authenticates with the role id and secret id pair. Parameters
// are re-read on every attempt, a rotated secret id takes effect on the
// next retry.
func (v *Vault) login(ctx context.Context) (*vault.Secret, error) {
	v.mu.RLock()
	roleId := v.Parameters.ApproleRoleID
	secretId := v.Parameters.ApproleSecretID
	v.mu.RUnlock()

	appRoleAuth, err := approle.NewAppRoleAuth(roleId, &approle.SecretID{
		FromString: secretId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to build approle auth method: %w", err)
	}

	authInfo, err := v.client.Auth().Login(ctx, appRoleAuth)
	if err != nil {
		return nil, fmt.Errorf("approle login failed: %w", err)
	}

	return authInfo, nil
}

// GetKVSecret fetches the latest version of a secret from kv-v1 or kv-v2.
// A SecretName pinned on the properties wins over the caller supplied
// secret name, which lets one profile share a single credential across
// every target it covers.
func (v *Vault) GetKVSecret(ctx context.Context, props *SecretProperties, secret string) (*vault.KVSecret, error) {
	name := secret
	if props.SecretName != "" {
		name = props.SecretName
	}
	secretPath := name
	if props.Path != "" {
		secretPath = fmt.Sprintf("%s/%s", props.Path, name)
	}

	var kvSecret *vault.KVSecret
	var err error

	// a mount named kv2 is served by the KV version 2 engine, any other
	// mount is read through the KV version 1 API
	switch props.MountPath {
	case "kv2":
		kvSecret, err = v.client.KVv2(props.MountPath).Get(ctx, secretPath)
	default:
		kvSecret, err = v.client.KVv1(props.MountPath).Get(ctx, secretPath)
	}
	if err != nil {
		return kvSecret, fmt.Errorf("unable to read secret %s from mount %s: %w", secretPath, props.MountPath, err)
	}

	return kvSecret, nil
}

func (v *Vault) IsLoggedIn() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.isLoggedIn
}

func (v *Vault) setLoggedIn(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isLoggedIn = b
}

// RenewToken loops forever logging in and babysitting the resulting
// token until doneRenew fires. Failed logins are retried on a fixed
// cadence rather than crashing, agents keep getting scraped with
// whatever credentials are already cached.
func (v *Vault) RenewToken(ctx context.Context, doneRenew, tokenLifecycle chan bool, wg *sync.WaitGroup) {
	log := zap.L()
	defer wg.Done()

	retry := make(chan bool, 1)
	retry <- true

	for {
		select {
		case <-doneRenew:
			log.Info("stopping vault login loop")
			return
		case <-retry:
			authInfo, err := v.login(ctx)
			if err != nil {
				log.Error("unable to authenticate to vault", zap.Error(err))
				v.setLoggedIn(false)
				time.AfterFunc(loginRetryWait, func() { retry <- true })
				continue
			}

			v.setLoggedIn(true)
			wg.Add(1)
			if err := v.manageTokenLifecycle(ctx, authInfo, tokenLifecycle, wg); err != nil {
				log.Error("unable to start managing token lifecycle", zap.Error(err))
			}
		}
	}
}

// manageTokenLifecycle renews the auth token until it expires, is
// revoked, or the watcher is told to stop. Only watcher setup failures
// come back as errors.
func (v *Vault) manageTokenLifecycle(ctx context.Context, token *vault.Secret, done chan bool, wg *sync.WaitGroup) error {
	log := zap.L()

	if token.Auth != nil && !token.Auth.Renewable {
		log.Info("token is not renewable, keeping it until it expires")
		return nil
	}

	watcher, err := v.client.NewLifetimeWatcher(&vault.LifetimeWatcherInput{
		Secret:    token,
		Increment: token.LeaseDuration / 2,
	})
	if err != nil {
		return fmt.Errorf("unable to start a lifetime watcher for the auth token: %w", err)
	}

	go watcher.Start()
	defer wg.Done()
	defer func() {
		log.Info("revoking auth token before shutdown")
		if err := v.client.Auth().Token().RevokeSelfWithContext(ctx, v.client.Token()); err != nil {
			log.Error("unable to revoke token", zap.Error(err))
		}
	}()
	defer watcher.Stop()

	for {
		select {
		case <-done:
			log.Info("stopping token watcher")
			return nil

		// DoneCh fires when renewal fails or the remaining lease is
		// below the watcher's threshold and cannot be extended further.
		case err := <-watcher.DoneCh():
			if err != nil {
				log.Error("token renewal failed", zap.Error(err))
				return nil
			}
			log.Info("token reached its maximum TTL and can no longer be renewed")
			return nil

		case renewal := <-watcher.RenewCh():
			v.client.SetToken(renewal.Secret.Auth.ClientToken)
			log.Info("renewed auth token", zap.Int("lease_duration", renewal.Secret.LeaseDuration))
		}
	}
}
