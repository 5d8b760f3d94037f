package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
)

type exportBody struct {
	FromMs *int64 `json:"fromMs"`
	Name   string `json:"name" validate:"required,min=3"`
}

func TestDecodeJSONBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fromMs":10,"name":"abc"}`))
	var body exportBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.NotNil(t, body.FromMs)
	assert.Equal(t, int64(10), *body.FromMs)
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"abc","extra":1}`))
	var body exportBody
	err := DecodeJSONBody(req, &body)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ab"}`))
	var body exportBody
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be at least 3", details["name"])
}

func TestParseQueryInt64Ptr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?fromMs=1700000000000&bad=x", nil)

	v, err := ParseQueryInt64Ptr(req, "fromMs")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, int64(1700000000000), *v)

	v, err = ParseQueryInt64Ptr(req, "toMs")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseQueryInt64Ptr(req, "bad")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 50, 1, 200)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	v, err := ParseQueryInt(req, "missing", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, v)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", tok)

	_, err = BearerToken("Bearer ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"abc"}{"name":"def"}`))
	var body exportBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details["body"], "unexpected data")
}

func TestDecodeJSONBodyDescribesOneOf(t *testing.T) {
	type stateBody struct {
		Action string `json:"action" validate:"omitempty,oneof=activate suspend resume"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"delete"}`))
	var body stateBody
	err := DecodeJSONBody(req, &body)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be one of: activate, suspend, resume", details["action"])
}
