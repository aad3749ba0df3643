package sourceconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"CatalogHarvester/internal/domain"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) ShowGroup(ctx context.Context, ref string) (domain.Group, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(domain.Group), args.Error(1)
}

func (m *mockLookup) ShowUser(ctx context.Context, ref string) error {
	args := m.Called(ctx, ref)
	return args.Error(0)
}

func configErrors(t *testing.T, err error) domain.ConfigErrors {
	t.Helper()
	var errs domain.ConfigErrors
	require.True(t, errors.As(err, &errs), "expected ConfigErrors, got %v", err)
	return errs
}

func TestParseFullConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Parse(`{
		"api_version": 3,
		"default_tags": [{"name": "london"}],
		"default_groups": ["environment"],
		"default_extras": {"source_note": "From {harvest_source_title}", "boost": 2},
		"remote_orgs": "create",
		"remote_groups": "only_local",
		"organizations_filter_include": ["gla"],
		"harvest_private_datasets": true,
		"override_extras": true,
		"datapress_api_key": "secret"
	}`)
	require.NoError(t, err)

	require.NotNil(t, cfg.APIVersion)
	assert.Equal(t, 3, *cfg.APIVersion)
	assert.Equal(t, "/api/3/action/", cfg.APIPath())
	assert.Equal(t, []domain.Tag{{Name: "london"}}, cfg.DefaultTags)
	assert.Equal(t, RemoteCreate, cfg.RemoteOrgs)
	assert.True(t, cfg.HarvestPrivateDatasets)
	assert.True(t, cfg.OverrideExtras)

	extras := cfg.DefaultExtraValues()
	assert.Equal(t, domain.Extras{
		{Key: "boost", Value: "2"},
		{Key: "source_note", Value: "From {harvest_source_title}"},
	}, extras)
}

func TestParseEmptyIsZeroConfig(t *testing.T) {
	t.Parallel()

	cfg, err := Parse("  ")
	require.NoError(t, err)
	assert.Nil(t, cfg.APIVersion)
	assert.Equal(t, "/api/action/", cfg.APIPath())
}

func TestParseRejectsWrongTypes(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"api_version": "two"}`:       "api_version",
		`{"default_tags": ["london"]}`: "default_tags",
		`{"default_extras": [1, 2]}`:   "default_extras",
		`{"read_only": "yes"}`:         "read_only",
		`{"override_extras": 1}`:       "override_extras",
	}
	for raw, field := range cases {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		errs := configErrors(t, err)
		require.Len(t, errs, 1)
		assert.Equal(t, field, errs[0].Field, raw)
	}
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := Parse(`{"api_version": `)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestParseRejectsBadEnumAndExclusiveFilters(t *testing.T) {
	t.Parallel()

	_, err := Parse(`{"remote_orgs": "always"}`)
	errs := configErrors(t, err)
	assert.Equal(t, "remote_orgs", errs[0].Field)
	assert.Contains(t, errs[0].Message, "only_local, create")

	_, err = Parse(`{"organizations_filter_include": ["a"], "organizations_filter_exclude": ["b"]}`)
	errs = configErrors(t, err)
	assert.Equal(t, "organizations_filter_include", errs[0].Field)
	assert.Contains(t, errs[0].Message, "organizations_filter_exclude")

	_, err = Parse(`{"groups_filter_include": ["a"], "groups_filter_exclude": ["b"]}`)
	errs = configErrors(t, err)
	assert.Equal(t, "groups_filter_include", errs[0].Field)
}

func TestResolveChecksGroupsAndUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lookup := new(mockLookup)
	lookup.On("ShowGroup", ctx, "environment").Return(domain.Group{ID: "g1", Name: "environment"}, nil)
	lookup.On("ShowGroup", ctx, "missing").Return(domain.Group{}, &domain.NotFoundError{Kind: "group", Ref: "missing"})
	lookup.On("ShowUser", ctx, "harvester").Return(nil)
	lookup.On("ShowUser", ctx, "ghost").Return(&domain.NotFoundError{Kind: "user", Ref: "ghost"})

	ok := Config{DefaultGroups: []string{"environment"}, User: "harvester"}
	groups, err := ok.Resolve(ctx, lookup)
	require.NoError(t, err)
	assert.Equal(t, []domain.Group{{ID: "g1", Name: "environment"}}, groups)

	bad := Config{DefaultGroups: []string{"missing"}, User: "ghost"}
	_, err = bad.Resolve(ctx, lookup)
	errs := configErrors(t, err)
	require.Len(t, errs, 2)
	assert.Equal(t, "default_groups", errs[0].Field)
	assert.Equal(t, "user", errs[1].Field)

	lookup.AssertExpectations(t)
}

func TestResolvePropagatesCatalogOutage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	lookup := new(mockLookup)
	lookup.On("ShowGroup", ctx, "environment").Return(domain.Group{}, errors.New("connection refused"))

	_, err := Config{DefaultGroups: []string{"environment"}}.Resolve(ctx, lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
