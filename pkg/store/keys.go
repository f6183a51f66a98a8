package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Tier is a retention class.
type Tier int

const (
	// Durable records never expire: configuration, id counters, roles,
	// recipient lists and recurring schedules.
	Durable Tier = iota
	// Persistent records expire unless touched: proposals and reputation.
	Persistent
	// Temporary records are allowed to lapse: spending buckets, velocity history.
	Temporary
)

func (t Tier) String() string {
	switch t {
	case Durable:
		return "durable"
	case Persistent:
		return "persistent"
	case Temporary:
		return "temporary"
	default:
		return "unknown"
	}
}

const day = 24 * time.Hour

// Lifetimes derived from the configuration bounds. A proposal record outlives
// the longest allowed proposal lifetime by 30 days so its expiry is always
// observed; a velocity history outlives the longest allowed window by a day.
var (
	proposalTTL = time.Duration(contracts.MaxProposalTTL/contracts.LedgersPerDay)*day + 30*day
	velocityTTL = time.Duration(contracts.MaxVelocityWindow)*time.Second + day
)

// Kind tags a key. The set is closed; every kind has exactly one parameter shape.
type Kind uint8

const (
	KindConfig Kind = iota + 1
	KindRole
	KindProposal
	KindNextProposalID
	KindPriorityQueue
	KindDailySpent
	KindWeeklySpent
	KindVelocity
	KindRecurring
	KindNextRecurringID
	KindReputation
	KindListMode
	KindWhitelist
	KindBlacklist
	KindInsuranceConfig
	KindInsuranceTotals
	KindBridgeConfig
	KindCrossChainProposal
	KindNextCrossChainID
	KindCrossChainAsset
	KindNextAssetID
	KindNotificationPrefs
)

type param int

const (
	paramNone param = iota
	paramID
	paramAddr
)

type kindInfo struct {
	name  string
	tier  Tier
	ttl   time.Duration
	param param
}

var kinds = map[Kind]kindInfo{
	KindConfig:             {"config", Durable, 0, paramNone},
	KindNextProposalID:     {"next_proposal_id", Durable, 0, paramNone},
	KindNextRecurringID:    {"next_recurring_id", Durable, 0, paramNone},
	KindNextCrossChainID:   {"next_crosschain_id", Durable, 0, paramNone},
	KindNextAssetID:        {"next_asset_id", Durable, 0, paramNone},
	KindListMode:           {"list_mode", Durable, 0, paramNone},
	KindInsuranceConfig:    {"insurance_config", Durable, 0, paramNone},
	KindInsuranceTotals:    {"insurance_totals", Durable, 0, paramNone},
	KindBridgeConfig:       {"bridge_config", Durable, 0, paramNone},
	KindRole:               {"role", Durable, 0, paramAddr},
	KindWhitelist:          {"whitelist", Durable, 0, paramAddr},
	KindBlacklist:          {"blacklist", Durable, 0, paramAddr},
	KindRecurring:          {"recurring", Durable, 0, paramID},
	KindNotificationPrefs:  {"notification_prefs", Durable, 0, paramAddr},
	KindPriorityQueue:      {"priority_queue", Durable, 0, paramID},
	KindProposal:           {"proposal", Persistent, proposalTTL, paramID},
	KindCrossChainProposal: {"crosschain_proposal", Persistent, proposalTTL, paramID},
	KindCrossChainAsset:    {"crosschain_asset", Persistent, 30 * day, paramID},
	KindReputation:         {"reputation", Persistent, 30 * day, paramAddr},
	KindDailySpent:         {"daily_spent", Temporary, 2 * day, paramID},
	KindWeeklySpent:        {"weekly_spent", Temporary, 14 * day, paramID},
	KindVelocity:           {"velocity", Temporary, velocityTTL, paramAddr},
}

// Key addresses one record. Build keys with the constructors below.
type Key struct {
	kind Kind
	id   uint64
	addr string
}

func ConfigKey() Key { return Key{kind: KindConfig} }
func NextProposalIDKey() Key { return Key{kind: KindNextProposalID} }
func NextRecurringIDKey() Key { return Key{kind: KindNextRecurringID} }
func NextCrossChainIDKey() Key { return Key{kind: KindNextCrossChainID} }
func NextAssetIDKey() Key { return Key{kind: KindNextAssetID} }
func ListModeKey() Key { return Key{kind: KindListMode} }
func InsuranceConfigKey() Key { return Key{kind: KindInsuranceConfig} }
func InsuranceTotalsKey() Key { return Key{kind: KindInsuranceTotals} }
func BridgeConfigKey() Key { return Key{kind: KindBridgeConfig} }
func ProposalKey(id uint64) Key { return Key{kind: KindProposal, id: id} }
func RecurringKey(id uint64) Key { return Key{kind: KindRecurring, id: id} }
func CrossChainKey(id uint64) Key { return Key{kind: KindCrossChainProposal, id: id} }
func AssetKey(id uint64) Key { return Key{kind: KindCrossChainAsset, id: id} }
func DailySpentKey(d uint64) Key { return Key{kind: KindDailySpent, id: d} }
func WeeklySpentKey(wk uint64) Key { return Key{kind: KindWeeklySpent, id: wk} }

// Address keys hold the NFC form of the address.

func RoleKey(addr string) Key       { return addrKey(KindRole, addr) }
func ReputationKey(addr string) Key { return addrKey(KindReputation, addr) }
func WhitelistKey(addr string) Key  { return addrKey(KindWhitelist, addr) }
func BlacklistKey(addr string) Key  { return addrKey(KindBlacklist, addr) }
func VelocityKey(addr string) Key   { return addrKey(KindVelocity, addr) }

func NotificationPrefsKey(addr string) Key { return addrKey(KindNotificationPrefs, addr) }

func addrKey(kind Kind, addr string) Key {
	return Key{kind: kind, addr: contracts.NormalizeAddress(addr)}
}

func PriorityQueueKey(p contracts.Priority) Key {
	return Key{kind: KindPriorityQueue, id: uint64(p)}
}

// Kind returns the key's tag.
func (k Key) Kind() Kind { return k.kind }

// Tier returns the retention class of the key's kind.
func (k Key) Tier() Tier { return kinds[k.kind].tier }

// TTL is how long a write or touch keeps the record alive; zero for Durable.
func (k Key) TTL() time.Duration { return kinds[k.kind].ttl }

// String renders the key as "<kind>" or "<kind>/<param>". Kind names contain
// no slash, so distinct keys never render the same.
func (k Key) String() string {
	info, ok := kinds[k.kind]
	if !ok {
		return fmt.Sprintf("unknown_%d", k.kind)
	}
	switch info.param {
	case paramID:
		return info.name + "/" + strconv.FormatUint(k.id, 10)
	case paramAddr:
		return info.name + "/" + k.addr
	default:
		return info.name
	}
}
