/*
 * Copyright 2019 The CovenantSQL Authors.
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

package types

import (
	"fmt"

	"github.com/google/uuid"
)

// RootKeyType is the scheme used to wrap the VRF key at rest.
type RootKeyType int16

const (
	// SymmetricRootKey wraps the VRF key directly under a symmetric root key.
	SymmetricRootKey RootKeyType = 0
	// RSARootKey wraps a fresh content key under an RSA root key.
	RSARootKey RootKeyType = 1
)

func (t RootKeyType) String() string {
	switch t {
	case SymmetricRootKey:
		return "symmetric"
	case RSARootKey:
		return "rsa"
	default:
		return fmt.Sprintf("RootKeyType(%d)", int16(t))
	}
}

// VrfKeyRecord is the persisted, encrypted form of the VRF private key.
type VrfKeyRecord struct {
	RootKeyHash  []byte
	RootKeyType  RootKeyType
	EncSymKey    []byte
	SymEncVrfKey []byte
	Nonce        []byte
}

// QueueItem is one pending label/value write awaiting the next epoch.
type QueueItem struct {
	ID       uuid.UUID
	RawLabel []byte
	RawValue []byte
}
