package snapshot

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/matrixise/holder-snapshot/internal/blockchain"
	"github.com/matrixise/holder-snapshot/internal/config"
	"github.com/matrixise/holder-snapshot/internal/graph"
	"github.com/matrixise/holder-snapshot/internal/holders"
	"github.com/matrixise/holder-snapshot/internal/venues"
)

// Endpoints returns the distinct graph endpoints of cfg in venue order.
func Endpoints(cfg *config.Config) []string {
	seen := make(map[string]bool, len(cfg.Venues))
	var endpoints []string
	for _, v := range cfg.Venues {
		if !seen[v.Endpoint] {
			seen[v.Endpoint] = true
			endpoints = append(endpoints, v.Endpoint)
		}
	}
	return endpoints
}

// GraphClients creates one GraphQL client per distinct endpoint.
func GraphClients(cfg *config.Config) (map[string]graph.Querier, error) {
	clientCfg := graph.ClientConfig{MaxRetries: cfg.GraphMaxRetries}
	if cfg.GraphAPIKey != "" {
		clientCfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.GraphAPIKey}
	}

	clients := make(map[string]graph.Querier)
	for _, endpoint := range Endpoints(cfg) {
		c, err := graph.NewClient(endpoint, clientCfg)
		if err != nil {
			return nil, err
		}
		clients[endpoint] = c
	}
	return clients, nil
}

// BuildVenues creates the configured venues, querying through the client
// registered for each venue's endpoint.
func BuildVenues(cfg *config.Config, queriers map[string]graph.Querier) ([]venues.Venue, error) {
	blacklist := holders.NewBlacklist(cfg.Blacklist...)

	vs := make([]venues.Venue, 0, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		q, ok := queriers[vc.Endpoint]
		if !ok {
			return nil, errors.Errorf("venue %q: no client for endpoint %s", vc.Name, vc.Endpoint)
		}

		switch vc.Kind {
		case config.KindLedger:
			if vc.VenueUnit() != holders.UnitBase {
				slog.Warn("Ledger venue always reports base units, ignoring unit", "venue", vc.Name, "unit", vc.Unit)
			}
			vs = append(vs, venues.NewLedger(vc.Name, q, blacklist))
		case config.KindShares:
			vs = append(vs, venues.NewShares(venues.SharesConfig{
				Name:        vc.Name,
				Query:       vc.Query,
				Collection:  vc.Collection,
				Unit:        vc.VenueUnit(),
				HolderField: vc.HolderField,
				Asset:       vc.Asset,
			}, q))
		case config.KindPortfolio:
			vs = append(vs, venues.NewPortfolio(vc.Name, vc.Asset, vc.VenueUnit(), q))
		case config.KindTransfers:
			vs = append(vs, venues.NewTransfers(vc.Name, vc.Asset, vc.VenueUnit(), q))
		default:
			return nil, errors.Errorf("venue %q: unknown kind %q", vc.Name, vc.Kind)
		}
	}
	return vs, nil
}

// BuildRates creates one rate source per configured unit. Fixed rates take
// precedence over contract rates.
func BuildRates(cfg *config.Config, caller blockchain.ContractCaller) (map[holders.Unit]holders.RateSource, error) {
	rates := make(map[holders.Unit]holders.RateSource, len(cfg.Rates))
	for _, rc := range cfg.Rates {
		unit := holders.Unit(rc.Unit)
		if fixed := rc.FixedValue(); fixed != nil {
			rates[unit] = holders.FixedRate(fixed, rc.Decimals)
			continue
		}
		src, err := blockchain.NewContractRate(caller, rc.Contract, rc.Method, rc.Decimals)
		if err != nil {
			return nil, errors.Wrapf(err, "rate %q", rc.Unit)
		}
		rates[unit] = src
	}
	return rates, nil
}

// FromConfig wires a Service from configuration over the given graph
// clients. decimals is the resolved token decimals used for log output.
func FromConfig(cfg *config.Config, queriers map[string]graph.Querier, caller blockchain.ContractCaller, decimals uint8) (*Service, error) {
	vs, err := BuildVenues(cfg, queriers)
	if err != nil {
		return nil, err
	}
	rates, err := BuildRates(cfg, caller)
	if err != nil {
		return nil, err
	}

	return NewService(vs, rates,
		WithBlacklist(holders.NewBlacklist(cfg.Blacklist...)),
		WithDecimals(decimals),
	), nil
}
