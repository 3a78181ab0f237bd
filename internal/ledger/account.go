package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeParticipant AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Participant sub-types
	SubTypeToken AccountSubType = iota
	SubTypeQuote
	SubTypePendingPurchase

	// System sub-types
	SubTypeSystemPoolReserve
	SubTypeSystemTokenSupply
	SubTypeSystemUbiPool
	SubTypeSystemValidatorPool
	SubTypeSystemTreasury
	SubTypeSystemFees

	// External sub-types
	SubTypeExternalPurchases
	SubTypeExternalFees
	SubTypeExternalPayouts
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"ADA": 1,
		"ECO": 2,
	}
	idToAsset = map[AssetID]string{
		1: "ADA",
		2: "ECO",
	}
)

// Quote and token asset IDs used throughout the engine.
const (
	QuoteAsset AssetID = 1
	TokenAsset AssetID = 2
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for participants, name bytes for scoped system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewParticipantAccountKey creates a key for participant accounts
func NewParticipantAccountKey(participantID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeParticipant,
		EntityID: participantID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts. The name scopes
// accounts that exist per bioregion (e.g. ubi_pool); global accounts pass "".
func NewSystemAccountKey(name string, subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(name))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging.
// Bioregion-scoped system accounts carry the scope name so distinct pools
// never collapse to the same path.
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeParticipant:
		pid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("participant:%s:%s:%s", pid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		if name := k.entityName(); name != "" {
			return fmt.Sprintf("system:%s:%s:%s", k.subTypeName(), name, assetName)
		}
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

// EntityUUID returns the participant id for participant-scoped keys.
func (k AccountKey) EntityUUID() uuid.UUID {
	return uuid.UUID(k.EntityID)
}

// entityName decodes the scope name from a system key's entity bytes.
func (k AccountKey) entityName() string {
	end := 0
	for end < len(k.EntityID) && k.EntityID[end] != 0 {
		end++
	}
	return string(k.EntityID[:end])
}

// MarshalText encodes the key as its account path, so maps keyed by
// AccountKey serialize cleanly in snapshots.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

// UnmarshalText parses an account path back into a key.
func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseAccountPath inverts AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) < 3 {
		return AccountKey{}, fmt.Errorf("malformed account path: %q", path)
	}

	assetID, ok := GetAssetID(parts[len(parts)-1])
	if !ok {
		return AccountKey{}, fmt.Errorf("unknown asset in account path: %q", path)
	}

	switch parts[0] {
	case "participant":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed participant path: %q", path)
		}
		pid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("bad participant id in %q: %w", path, err)
		}
		subType, ok := subTypeByName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in %q", path)
		}
		return NewParticipantAccountKey(pid, subType, assetID), nil

	case "system":
		subType, ok := subTypeByName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in %q", path)
		}
		name := ""
		if len(parts) == 4 {
			name = parts[2]
		} else if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed system path: %q", path)
		}
		return NewSystemAccountKey(name, subType, assetID), nil

	case "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed external path: %q", path)
		}
		subType, ok := subTypeByName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in %q", path)
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unknown account scope in %q", path)
}

func subTypeByName(name string) (AccountSubType, bool) {
	for st := SubTypeToken; st <= SubTypeExternalPayouts; st++ {
		if (AccountKey{SubType: st}).subTypeName() == name {
			return st, true
		}
	}
	return 0, false
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeToken:
		return "token"
	case SubTypeQuote:
		return "quote"
	case SubTypePendingPurchase:
		return "pending_purchase"
	case SubTypeSystemPoolReserve:
		return "pool_reserve"
	case SubTypeSystemTokenSupply:
		return "token_supply"
	case SubTypeSystemUbiPool:
		return "ubi_pool"
	case SubTypeSystemValidatorPool:
		return "validator_pool"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeSystemFees:
		return "fees"
	case SubTypeExternalPurchases:
		return "purchases"
	case SubTypeExternalFees:
		return "fees_in"
	case SubTypeExternalPayouts:
		return "payouts"
	default:
		return "unknown"
	}
}
