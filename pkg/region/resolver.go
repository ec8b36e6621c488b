// Package region resolves human-readable region names to the hierarchical
// codes the store listing API requires.
package region

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/sdsc-collector/pkg/client"
	"github.com/Sternrassler/sdsc-collector/pkg/model"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CatalogEndpoint serves both catalog levels.
const CatalogEndpoint = "/baroApi"

// Executor is the subset of *client.Client the resolver needs.
type Executor interface {
	Execute(ctx context.Context, endpoint string, params url.Values) (*client.Response, error)
}

// Entry is one catalog row.
type Entry struct {
	Name string
	Code string
}

// Resolver maps region names to codes. Matching is exact and case-sensitive;
// no normalization is applied to either side.
type Resolver struct {
	exec   Executor
	logger zerolog.Logger
}

// NewResolver creates a resolver backed by exec.
func NewResolver(exec Executor) *Resolver {
	return &Resolver{
		exec:   exec,
		logger: log.With().Str("component", "region-resolver").Logger(),
	}
}

// Resolve returns the code pair for (topLevelName, subLevelName). A name
// absent from its catalog yields a KindNotFound error naming the level.
func (r *Resolver) Resolve(ctx context.Context, topLevelName, subLevelName string) (model.RegionCode, error) {
	topCode, err := r.topLevelCode(ctx, topLevelName)
	if err != nil {
		return model.RegionCode{}, err
	}

	subs, err := r.subLevels(ctx, topCode)
	if err != nil {
		return model.RegionCode{}, err
	}
	subCode, ok := find(subs, subLevelName)
	if !ok {
		return model.RegionCode{}, client.NewError(client.KindNotFound, "sub-level %q not found in %q", subLevelName, topLevelName)
	}

	r.logger.Debug().
		Str("top_level", topLevelName).
		Str("sub_level", subLevelName).
		Str("code", subCode).
		Msg("Resolved region")

	return model.RegionCode{TopLevelCode: topCode, SubLevelCode: subCode}, nil
}

// TopLevels lists the top-level catalog.
func (r *Resolver) TopLevels(ctx context.Context) ([]Entry, error) {
	params := url.Values{}
	params.Set("resId", "dong")
	params.Set("catId", "mega")

	return r.catalog(ctx, params, model.FieldTopLevelName, model.FieldTopLevelCode)
}

// SubLevels lists the sub-levels of the named top-level region.
func (r *Resolver) SubLevels(ctx context.Context, topLevelName string) ([]Entry, error) {
	topCode, err := r.topLevelCode(ctx, topLevelName)
	if err != nil {
		return nil, err
	}
	return r.subLevels(ctx, topCode)
}

func (r *Resolver) topLevelCode(ctx context.Context, name string) (string, error) {
	tops, err := r.TopLevels(ctx)
	if err != nil {
		return "", err
	}
	code, ok := find(tops, name)
	if !ok {
		return "", client.NewError(client.KindNotFound, "top-level %q not found", name)
	}
	return code, nil
}

func (r *Resolver) subLevels(ctx context.Context, topCode string) ([]Entry, error) {
	params := url.Values{}
	params.Set("resId", "dong")
	params.Set("catId", "cty")
	params.Set(model.FieldTopLevelCode, topCode)

	return r.catalog(ctx, params, model.FieldSubLevelName, model.FieldSubLevelCode)
}

func (r *Resolver) catalog(ctx context.Context, params url.Values, nameField, codeField string) ([]Entry, error) {
	resp, err := r.exec.Execute(ctx, CatalogEndpoint, params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s catalog: %w", params.Get("catId"), err)
	}

	var rows []model.RawRecord
	if err := resp.DecodeItems(&rows); err != nil {
		return nil, &client.Error{Kind: client.KindClient, Endpoint: CatalogEndpoint, Message: "decode catalog", Err: err}
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{Name: row[nameField], Code: row[codeField]})
	}
	return entries, nil
}

func find(entries []Entry, name string) (string, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Code, true
		}
	}
	return "", false
}
