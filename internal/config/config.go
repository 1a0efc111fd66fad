package config

import (
	"math/big"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/matrixise/holder-snapshot/internal/holders"
	"github.com/matrixise/holder-snapshot/internal/scheduler"
)

// Venue kinds
const (
	KindLedger    = "ledger"
	KindShares    = "shares"
	KindPortfolio = "portfolio"
	KindTransfers = "transfers"
)

// Config represents the application configuration
type Config struct {
	RPCUrl          string        `mapstructure:"rpc_url" validate:"omitempty,url"`
	RPCUrls         []string      `mapstructure:"rpc_urls" validate:"required,min=1,dive,url"`
	Token           TokenConfig   `mapstructure:"token"`
	Blacklist       []string      `mapstructure:"blacklist" validate:"dive,eth_addr"`
	Venues          []VenueConfig `mapstructure:"venues" validate:"required,min=1,unique=Name,dive"`
	Rates           []RateConfig  `mapstructure:"rates" validate:"unique=Unit,dive"`
	GraphAPIKey     string        `mapstructure:"graph_api_key"`
	GraphMaxRetries int           `mapstructure:"graph_max_retries" validate:"omitempty,min=1,max=10"`
	SnapshotTimeout string        `mapstructure:"snapshot_timeout" validate:"omitempty,duration"`
	Confirmations   uint64        `mapstructure:"confirmations" validate:"max=1000"`
	Interval        string        `mapstructure:"interval" validate:"omitempty,schedule"`
	Timezone        string        `mapstructure:"timezone" validate:"omitempty,timezone"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
	LogLevel        string        `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTPPort        int           `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`
}

// TokenConfig describes the tracked token
type TokenConfig struct {
	Symbol           string `mapstructure:"symbol" validate:"max=32"`
	Address          string `mapstructure:"address" validate:"required,eth_addr"`
	FallbackDecimals uint8  `mapstructure:"fallback_decimals" validate:"max=77"`
}

// VenueConfig describes one liquidity venue and the indexer serving it
type VenueConfig struct {
	Name       string `mapstructure:"name" validate:"required,min=1,max=64"`
	Kind       string `mapstructure:"kind" validate:"required,oneof=ledger shares portfolio transfers"`
	Endpoint   string `mapstructure:"endpoint" validate:"required,url"`
	Unit       string `mapstructure:"unit" validate:"omitempty,max=64"`
	Collection string `mapstructure:"collection" validate:"required_if=Kind shares"`
	Query      string `mapstructure:"query" validate:"required_if=Kind shares"`
	Asset      string `mapstructure:"asset" validate:"omitempty,eth_addr"`
	// HolderField names the entity field carrying the holder address for
	// shares venues whose entity id is not the address itself
	HolderField string `mapstructure:"holder_field" validate:"omitempty,alphanum"`
}

// NeedsAsset reports whether the venue kind is scoped to one asset contract.
func (v VenueConfig) NeedsAsset() bool {
	return v.Kind == KindPortfolio || v.Kind == KindTransfers
}

// RateConfig describes how a native unit converts to base units: either a
// view method on a contract or a fixed integer value
type RateConfig struct {
	Unit     string `mapstructure:"unit" validate:"required,ne=base"`
	Contract string `mapstructure:"contract" validate:"required_without=Fixed,omitempty,eth_addr"`
	Method   string `mapstructure:"method" validate:"required_with=Contract"`
	Fixed    string `mapstructure:"fixed" validate:"omitempty,uint_string"`
	Decimals uint8  `mapstructure:"decimals" validate:"max=77"`
}

// VenueUnit returns the native unit of a venue, base by default.
func (v VenueConfig) VenueUnit() holders.Unit {
	if v.Unit == "" {
		return holders.UnitBase
	}
	return holders.Unit(v.Unit)
}

// FixedValue returns the parsed fixed rate, or nil when the rate is read on-chain.
func (r RateConfig) FixedValue() *big.Int {
	if r.Fixed == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(r.Fixed, 10)
	if !ok {
		return nil
	}
	return v
}

// Normalize folds the single rpc_url into rpc_urls
func (c *Config) Normalize() error {
	if len(c.RPCUrls) == 0 && c.RPCUrl != "" {
		c.RPCUrls = []string{c.RPCUrl}
	}
	c.RPCUrl = ""
	if len(c.RPCUrls) == 0 {
		return errors.New("rpc_url or rpc_urls is required")
	}
	return nil
}

// CheckUnits verifies every non-base venue unit has a rate.
func (c *Config) CheckUnits() error {
	rates := make(map[string]bool, len(c.Rates))
	for _, r := range c.Rates {
		rates[r.Unit] = true
	}
	for _, v := range c.Venues {
		if unit := v.VenueUnit(); unit != holders.UnitBase && !rates[string(unit)] {
			return errors.Errorf("venue %q uses unit %q which has no rate", v.Name, unit)
		}
	}
	return nil
}

// GetTimezone returns the configured location, UTC by default
func (c *Config) GetTimezone() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetSnapshotTimeout returns the snapshot deadline, zero meaning none
func (c *Config) GetSnapshotTimeout() time.Duration {
	if c.SnapshotTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.SnapshotTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ethAddressValidator validates Ethereum addresses
func ethAddressValidator(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// durationValidator validates duration strings
func durationValidator(fl validator.FieldLevel) bool {
	if fl.Field().String() == "" {
		return true
	}
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// scheduleValidator accepts clock-aligned durations and cron expressions
func scheduleValidator(fl validator.FieldLevel) bool {
	return scheduler.ValidateScheduleInterval(fl.Field().String()) == nil
}

// uintStringValidator validates non-negative base-10 integers of any size
func uintStringValidator(fl validator.FieldLevel) bool {
	v, ok := new(big.Int).SetString(fl.Field().String(), 10)
	return ok && v.Sign() >= 0
}

// venueStructValidator requires an asset for per-contract venue kinds
func venueStructValidator(sl validator.StructLevel) {
	v := sl.Current().Interface().(VenueConfig)
	if v.NeedsAsset() && v.Asset == "" {
		sl.ReportError(v.Asset, "Asset", "Asset", "required_for_kind", v.Kind)
	}
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("eth_addr", ethAddressValidator)
	validate.RegisterValidation("duration", durationValidator)
	validate.RegisterValidation("schedule", scheduleValidator)
	validate.RegisterValidation("uint_string", uintStringValidator)
	validate.RegisterStructValidation(venueStructValidator, VenueConfig{})
	return validate
}
