// Package catalog reads the reference listings that sit next to the store
// listing: the commercial districts (store zones) of a sub-region and the
// three-level industry classification.
package catalog

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upstream endpoints.
const (
	StoreZoneEndpoint      = "/storeZoneInAdmi"
	LargeIndustryEndpoint  = "/largeUpjongList"
	MiddleIndustryEndpoint = "/middleUpjongList"
	SmallIndustryEndpoint  = "/smallUpjongList"
)

// Industry field names.
const (
	FieldLargeCode  = "indsLclsCd"
	FieldLargeName  = "indsLclsNm"
	FieldMiddleCode = "indsMclsCd"
	FieldMiddleName = "indsMclsNm"
	FieldSmallCode  = "indsSclsCd"
	FieldSmallName  = "indsSclsNm"
)

// Executor is the subset of *client.Client the catalog needs.
type Executor interface {
	Execute(ctx context.Context, endpoint string, params url.Values) (*client.Response, error)
}

// Resolver maps region names to codes.
type Resolver interface {
	Resolve(ctx context.Context, topLevelName, subLevelName string) (model.RegionCode, error)
}

// Zone is one commercial district. Coords is the district outline as WKT.
type Zone struct {
	Number string `json:"trar_no"`
	Name   string `json:"main_trar_nm"`
	Area   string `json:"trar_area"`
	Coords string `json:"coords"`
}

// Industry is one row of an industry classification level.
type Industry struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Catalog reads zone and industry listings.
type Catalog struct {
	exec     Executor
	resolver Resolver
	logger   zerolog.Logger
}

// New creates a catalog backed by exec. resolver is only needed for Zones.
func New(exec Executor, resolver Resolver) *Catalog {
	return &Catalog{
		exec:     exec,
		resolver: resolver,
		logger:   log.With().Str("component", "catalog").Logger(),
	}
}

// Zones lists the commercial districts whose center lies in the named
// sub-region. An unknown region yields a KindNotFound error; a region
// without districts yields an empty list.
func (c *Catalog) Zones(ctx context.Context, topLevelName, subLevelName string) ([]Zone, error) {
	if c.resolver == nil {
		return nil, fmt.Errorf("zones of %s %s: no region resolver", topLevelName, subLevelName)
	}
	code, err := c.resolver.Resolve(ctx, topLevelName, subLevelName)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("divId", model.FieldSubLevelCode)
	params.Set("key", code.SubLevelCode)

	rows, err := c.fetch(ctx, StoreZoneEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch zones of %s %s: %w", topLevelName, subLevelName, err)
	}

	zones := make([]Zone, 0, len(rows))
	for _, row := range rows {
		zones = append(zones, Zone{
			Number: row["trarNo"],
			Name:   row["mainTrarNm"],
			Area:   row["trarArea"],
			Coords: row["coords"],
		})
	}

	c.logger.Debug().
		Str("top_level", topLevelName).
		Str("sub_level", subLevelName).
		Int("zones", len(zones)).
		Msg("Fetched store zones")
	return zones, nil
}

// LargeIndustries lists the top classification level.
func (c *Catalog) LargeIndustries(ctx context.Context) ([]Industry, error) {
	return c.industries(ctx, LargeIndustryEndpoint, url.Values{}, FieldLargeCode, FieldLargeName)
}

// MiddleIndustries lists the middle level, narrowed to largeCode when set.
func (c *Catalog) MiddleIndustries(ctx context.Context, largeCode string) ([]Industry, error) {
	params := url.Values{}
	if largeCode != "" {
		params.Set(FieldLargeCode, largeCode)
	}
	return c.industries(ctx, MiddleIndustryEndpoint, params, FieldMiddleCode, FieldMiddleName)
}

// SmallIndustries lists the bottom level, narrowed by whichever parent codes
// are set.
func (c *Catalog) SmallIndustries(ctx context.Context, largeCode, middleCode string) ([]Industry, error) {
	params := url.Values{}
	if largeCode != "" {
		params.Set(FieldLargeCode, largeCode)
	}
	if middleCode != "" {
		params.Set(FieldMiddleCode, middleCode)
	}
	return c.industries(ctx, SmallIndustryEndpoint, params, FieldSmallCode, FieldSmallName)
}

func (c *Catalog) industries(ctx context.Context, endpoint string, params url.Values, codeField, nameField string) ([]Industry, error) {
	rows, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch industries from %s: %w", endpoint, err)
	}
	out := make([]Industry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Industry{Code: row[codeField], Name: row[nameField]})
	}
	return out, nil
}

func (c *Catalog) fetch(ctx context.Context, endpoint string, params url.Values) ([]model.RawRecord, error) {
	resp, err := c.exec.Execute(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	var rows []model.RawRecord
	if err := resp.DecodeItems(&rows); err != nil {
		return nil, &client.Error{Kind: client.KindClient, Endpoint: endpoint, Message: "decode items", Err: err}
	}
	return rows, nil
}
