package cli

import (
	"context"

	"github.com/tansive/catalogsync/internal/catalog"
	"github.com/tansive/catalogsync/internal/common/httpclient"
	"github.com/tansive/catalogsync/internal/config"
	"github.com/tansive/catalogsync/internal/source"
	"github.com/tansive/catalogsync/internal/synccache"
)

func newSourceClient(c *config.Config) *source.Client {
	h := httpclient.NewClient(source.Config{
		URL:   c.Source.URL,
		OrgID: c.Source.OrgID,
		Token: c.Source.Token,
	}, c.HTTP.ClientOptions())
	return source.NewClient(h, synccache.New())
}

func newCatalogClient(c *config.Config) *catalog.Client {
	return catalog.NewClient(catalog.Config{
		URL:          c.Catalog.URL,
		ClientID:     c.Catalog.ClientID,
		ClientSecret: c.Catalog.ClientSecret,
	}, c.HTTP.ClientOptions())
}

// authenticatedCatalog returns a catalog client that already holds a token.
func authenticatedCatalog(ctx context.Context, c *config.Config) (*catalog.Client, error) {
	cat := newCatalogClient(c)
	if err := cat.Authenticate(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}
