package common

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_CollectsEveryFailure(t *testing.T) {
	v := NewValidator().
		Field("org_id", "", Required, Identifier).
		Field("file_id", "bad id!", Required, Identifier).
		Field("page_number", -1, NonNegative).
		Field("version", 0, Positive).
		Field("thickness_mm", 18.0, Positive)

	require.True(t, v.HasErrors())
	var fields []string
	for _, f := range v.Failures() {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"org_id", "file_id", "page_number", "version"}, fields)

	err := ValidateAndReturnError(v)
	assert.Equal(t, CodeValidation, ErrorCode(err))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "org_id is required")
	assert.Contains(t, err.Error(), "page_number must not be negative (got -1)")
}

func TestValidator_Passes(t *testing.T) {
	name := "Kitchen"
	v := NewValidator().
		Field("org_id", "acme:shop-1", Required, Identifier).
		Field("project", &name, Required).
		Field("page_number", 0, NonNegative).
		Field("note", "ignored", Fail("custom"))
	assert.Len(t, v.Failures(), 1)
	assert.Equal(t, "note custom (got ignored)", v.Failures()[0].Error())

	assert.NoError(t, ValidateAndReturnError(NewValidator().Field("x", 3, Positive)))
	assert.NotNil(t, Positive("x", "3"))
	assert.NotNil(t, Required("p", (*string)(nil)))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, LogAttrs(ctx))

	ctx, id := EnsureRequestID(ctx)
	require.NotEmpty(t, id)
	again, same := EnsureRequestID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)

	ctx = WithUserID(WithOrgID(ctx, "acme"), "u1")
	assert.Equal(t, "acme", OrgIDFromContext(ctx))
	assert.Equal(t, "u1", UserIDFromContext(ctx))
	assert.Equal(t, []any{"req_id", id, "org_id", "acme", "user_id", "u1"}, LogAttrs(ctx))

	// a plain string key must not collide with ours
	ctx = context.WithValue(context.Background(), "org_id", "other")
	assert.Empty(t, OrgIDFromContext(ctx))
}

func TestDSNRedacted(t *testing.T) {
	d := DatabaseConfig{DSN: "postgres://cut:s3cret@db:5432/cutlist?sslmode=disable"}
	assert.Equal(t, "postgres://cut:xxxxx@db:5432/cutlist?sslmode=disable", d.DSNRedacted())
	assert.Equal(t, "postgres://db/cutlist", DatabaseConfig{DSN: "postgres://db/cutlist"}.DSNRedacted())
	assert.Equal(t, "(dsn with password)", DatabaseConfig{DSN: "host=db user=cut password=x"}.DSNRedacted())
}
